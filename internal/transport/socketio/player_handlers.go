package socketio

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"

	"github.com/tasselx/taimusic/internal/domain/playback"
)

// registerPlayerHandlers registers player and queue commands.
func (s *Server) registerPlayerHandlers(client *socket.Socket, clientID string) {
	on := func(event string, handle func(args []any) error) {
		client.On(event, func(args ...any) {
			log.Debug().Str("id", clientID).Interface("data", args).Msg(event)
			if err := handle(args); err != nil {
				log.Warn().Err(err).Str("id", clientID).Str("event", event).Msg("Command failed")
				client.Emit("pushError", ErrorPayload{Kind: "request", Message: err.Error()})
			}
		})
	}

	on("play", s.handlePlay)
	on("pause", func([]any) error { s.engine.Pause(); return nil })
	on("resume", func([]any) error { s.engine.Resume(); return nil })
	on("stop", func([]any) error { s.engine.Stop(); return nil })
	on("next", func([]any) error { go s.engine.Next(s.ctx); return nil })
	on("prev", func([]any) error { go s.engine.Previous(s.ctx); return nil })
	on("seek", s.handleSeek)
	on("volume", s.handleVolume)
	on("mute", s.handleMute)
	on("setMode", s.handleSetMode)
	on("setQueue", s.handleSetQueue)
	on("addToQueue", s.handleAddToQueue)
	on("removeFromQueue", s.handleRemoveFromQueue)
	on("clearQueue", func([]any) error { s.engine.ClearQueue(); return nil })
	on("activate", s.handleActivate)
}

// handlePlay starts playback without blocking the socket: loads can take as
// long as a download.
func (s *Server) handlePlay(args []any) error {
	var req playRequest
	if err := decodeArg(args, &req); err != nil && !errors.Is(err, errMissingArgument) {
		return err
	}

	switch {
	case req.Track != nil:
		t := req.Track.toTrack()
		if t.ID == "" {
			return fmt.Errorf("track needs an id")
		}
		go func() {
			if err := s.engine.Play(s.ctx, &t); err != nil {
				log.Warn().Err(err).Str("track", t.ID).Msg("Play failed")
			}
		}()
	case req.Index != nil:
		go s.engine.PlayIndex(s.ctx, *req.Index)
	default:
		go s.engine.Play(s.ctx, nil)
	}
	return nil
}

func (s *Server) handleSeek(args []any) error {
	secs, ok := numberArg(args)
	if !ok {
		return fmt.Errorf("seek needs a position in seconds")
	}
	s.engine.Seek(time.Duration(secs * float64(time.Second)))
	return nil
}

func (s *Server) handleVolume(args []any) error {
	v, ok := numberArg(args)
	if !ok {
		return fmt.Errorf("volume needs a level between 0 and 1")
	}
	s.engine.SetVolume(v)
	return nil
}

// handleMute toggles mute, or sets it when given {value: bool}.
func (s *Server) handleMute(args []any) error {
	var req valueRequest
	if err := decodeArg(args, &req); err == nil {
		if muted, ok := req.Value.(bool); ok {
			s.engine.SetMute(muted)
			return nil
		}
	}
	s.engine.ToggleMute()
	return nil
}

func (s *Server) handleSetMode(args []any) error {
	var req valueRequest
	if err := decodeArg(args, &req); err != nil {
		return err
	}
	name, _ := req.Value.(string)
	mode, err := playback.ParseMode(name)
	if err != nil {
		return err
	}
	return s.engine.SetMode(mode)
}

func (s *Server) handleSetQueue(args []any) error {
	var req setQueueRequest
	if err := decodeArg(args, &req); err != nil {
		return err
	}
	tracks := make([]playback.Track, len(req.Tracks))
	for i, p := range req.Tracks {
		tracks[i] = p.toTrack()
	}
	s.engine.SetQueue(tracks, req.StartIndex)
	return nil
}

func (s *Server) handleAddToQueue(args []any) error {
	var req addToQueueRequest
	if err := decodeArg(args, &req); err != nil {
		return err
	}
	if req.Track.ID == "" {
		return fmt.Errorf("track needs an id")
	}
	index := -1
	if req.Index != nil {
		index = *req.Index
	}
	s.engine.AddToQueue(req.Track.toTrack(), index)
	return nil
}

func (s *Server) handleRemoveFromQueue(args []any) error {
	var req indexRequest
	if err := decodeArg(args, &req); err != nil {
		if n, ok := numberArg(args); ok {
			s.engine.RemoveFromQueue(int(n))
			return nil
		}
		return err
	}
	if req.Index == nil {
		return fmt.Errorf("removeFromQueue needs an index")
	}
	s.engine.RemoveFromQueue(*req.Index)
	return nil
}

// handleActivate satisfies the output's activation requirement and retries
// the current entry if it failed because the output was not ready.
func (s *Server) handleActivate([]any) error {
	if s.activator == nil {
		return nil
	}
	s.activator.Activate()

	if s.engine.Snapshot().State == playback.StateError {
		go s.engine.Play(s.ctx, nil)
	}
	return nil
}
