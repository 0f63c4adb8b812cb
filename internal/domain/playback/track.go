// Package playback provides the playback engine: queue navigation, play modes,
// the play/pause/stop state machine, volume handling and event notification.
package playback

import "time"

// Track is a playable item in the queue. Tracks are compared by ID.
type Track struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration,omitempty"` // Hint only, the backend reports the real value
	URL      string        `json:"url"`
	CoverURL string        `json:"coverUrl,omitempty"`
	Quality  string        `json:"quality,omitempty"`
}

// Queue is an ordered list of tracks plus the current position.
// CurrentIndex is -1 iff Tracks is empty.
type Queue struct {
	Tracks       []Track `json:"tracks"`
	CurrentIndex int     `json:"currentIndex"`
}

// NewQueue returns a queue over a copy of tracks positioned at start.
// start is clamped into range.
func NewQueue(tracks []Track, start int) Queue {
	q := Queue{Tracks: append([]Track(nil), tracks...)}
	q.CurrentIndex = clampIndex(start, len(q.Tracks))
	return q
}

// Len returns the number of tracks.
func (q *Queue) Len() int {
	return len(q.Tracks)
}

// Current returns the current track, or nil if the queue is empty.
func (q *Queue) Current() *Track {
	if q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Tracks) {
		return nil
	}
	t := q.Tracks[q.CurrentIndex]
	return &t
}

// IndexOf returns the position of the track with the given ID, or -1.
func (q *Queue) IndexOf(id string) int {
	for i := range q.Tracks {
		if q.Tracks[i].ID == id {
			return i
		}
	}
	return -1
}

// Insert places t at index, appending when index is negative or past the end.
// Inserting at or before the current position shifts CurrentIndex so the
// current track stays the same. Returns the index actually used.
func (q *Queue) Insert(t Track, index int) int {
	if index < 0 || index > len(q.Tracks) {
		index = len(q.Tracks)
	}
	q.Tracks = append(q.Tracks, Track{})
	copy(q.Tracks[index+1:], q.Tracks[index:])
	q.Tracks[index] = t

	switch {
	case q.CurrentIndex < 0:
		q.CurrentIndex = 0
	case index <= q.CurrentIndex:
		q.CurrentIndex++
	}
	return index
}

// Remove deletes the track at index. It reports whether the removed track was
// the current one. Out-of-range indexes are ignored.
func (q *Queue) Remove(index int) (removed bool, wasCurrent bool) {
	if index < 0 || index >= len(q.Tracks) {
		return false, false
	}
	q.Tracks = append(q.Tracks[:index], q.Tracks[index+1:]...)

	wasCurrent = index == q.CurrentIndex
	switch {
	case len(q.Tracks) == 0:
		q.CurrentIndex = -1
	case index < q.CurrentIndex:
		q.CurrentIndex--
	case q.CurrentIndex >= len(q.Tracks):
		q.CurrentIndex = len(q.Tracks) - 1
	}
	return true, wasCurrent
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.Tracks = nil
	q.CurrentIndex = -1
}

// Snapshot returns a copy of the track list.
func (q *Queue) Snapshot() []Track {
	return append([]Track(nil), q.Tracks...)
}

func clampIndex(i, n int) int {
	if n == 0 {
		return -1
	}
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}
