package playback

import "time"

// EventType names an engine notification.
type EventType string

// Event types
const (
	EventSongChange   EventType = "songChange"
	EventQueueChange  EventType = "queueChange"
	EventPlay         EventType = "play"
	EventPause        EventType = "pause"
	EventStop         EventType = "stop"
	EventEnd          EventType = "end"
	EventLoad         EventType = "load"
	EventLoadError    EventType = "loadError"
	EventProgress     EventType = "progress"
	EventVolumeChange EventType = "volumeChange"
	EventModeChange   EventType = "modeChange"
)

// Event is a single engine notification. Only the fields relevant to Type are set.
type Event struct {
	Seq   uint64
	Type  EventType
	State State // Engine state right after the event

	Track    *Track     // songChange (nil = no current track), play
	Queue    []Track    // queueChange
	Err      *LoadError // loadError
	Position time.Duration
	Duration time.Duration
	Volume   float64 // volumeChange
	Muted    bool    // volumeChange
	Mode     Mode    // modeChange
}

// Listener receives engine events in emission order.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent calls f(ev).
func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

// Callbacks adapts per-event callbacks to Listener. Nil callbacks are skipped.
type Callbacks struct {
	OnSongChange   func(track *Track)
	OnQueueChange  func(queue []Track)
	OnPlay         func(track Track)
	OnPause        func()
	OnStop         func()
	OnEnd          func()
	OnLoad         func()
	OnLoadError    func(err *LoadError)
	OnProgress     func(position, duration time.Duration)
	OnVolumeChange func(volume float64)
	OnModeChange   func(mode Mode)
}

// OnEvent dispatches ev to the matching callback.
func (c Callbacks) OnEvent(ev Event) {
	switch ev.Type {
	case EventSongChange:
		if c.OnSongChange != nil {
			c.OnSongChange(ev.Track)
		}
	case EventQueueChange:
		if c.OnQueueChange != nil {
			c.OnQueueChange(ev.Queue)
		}
	case EventPlay:
		if c.OnPlay != nil && ev.Track != nil {
			c.OnPlay(*ev.Track)
		}
	case EventPause:
		if c.OnPause != nil {
			c.OnPause()
		}
	case EventStop:
		if c.OnStop != nil {
			c.OnStop()
		}
	case EventEnd:
		if c.OnEnd != nil {
			c.OnEnd()
		}
	case EventLoad:
		if c.OnLoad != nil {
			c.OnLoad()
		}
	case EventLoadError:
		if c.OnLoadError != nil {
			c.OnLoadError(ev.Err)
		}
	case EventProgress:
		if c.OnProgress != nil {
			c.OnProgress(ev.Position, ev.Duration)
		}
	case EventVolumeChange:
		if c.OnVolumeChange != nil {
			c.OnVolumeChange(ev.Volume)
		}
	case EventModeChange:
		if c.OnModeChange != nil {
			c.OnModeChange(ev.Mode)
		}
	}
}
