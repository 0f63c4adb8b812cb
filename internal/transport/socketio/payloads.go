package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tasselx/taimusic/internal/domain/playback"
)

// TrackPayload is a track as exchanged with clients. Durations are seconds.
type TrackPayload struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Artist   string  `json:"artist"`
	Album    string  `json:"album,omitempty"`
	URL      string  `json:"url,omitempty"`
	CoverURL string  `json:"albumart,omitempty"`
	Quality  string  `json:"quality,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func (p TrackPayload) toTrack() playback.Track {
	return playback.Track{
		ID:       p.ID,
		Title:    p.Title,
		Artist:   p.Artist,
		Album:    p.Album,
		URL:      p.URL,
		CoverURL: p.CoverURL,
		Quality:  p.Quality,
		Duration: time.Duration(p.Duration * float64(time.Second)),
	}
}

func trackPayload(t playback.Track) TrackPayload {
	return TrackPayload{
		ID:       t.ID,
		Title:    t.Title,
		Artist:   t.Artist,
		Album:    t.Album,
		URL:      t.URL,
		CoverURL: t.CoverURL,
		Quality:  t.Quality,
		Duration: t.Duration.Seconds(),
	}
}

func queuePayload(tracks []playback.Track) []TrackPayload {
	out := make([]TrackPayload, len(tracks))
	for i, t := range tracks {
		out[i] = trackPayload(t)
	}
	return out
}

// ProgressPayload is sent with pushProgress.
type ProgressPayload struct {
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
}

// ErrorPayload is sent with pushError.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	TrackID string `json:"trackId,omitempty"`
}

func errorPayload(err *playback.LoadError) ErrorPayload {
	p := ErrorPayload{Kind: string(err.Kind), Message: err.Error()}
	if err.Track != nil {
		p.TrackID = err.Track.ID
	}
	return p
}

// playRequest is the argument of the play command. Either field may be set;
// with neither the engine resumes or replays the current entry.
type playRequest struct {
	Track *TrackPayload `json:"track"`
	Index *int          `json:"index"`
}

type setQueueRequest struct {
	Tracks     []TrackPayload `json:"tracks"`
	StartIndex int            `json:"startIndex"`
}

type addToQueueRequest struct {
	Track TrackPayload `json:"track"`
	Index *int         `json:"index"`
}

type indexRequest struct {
	Index *int `json:"index"`
}

type urlRequest struct {
	URL string `json:"url"`
}

type limitRequest struct {
	Limit int `json:"limit"`
}

type valueRequest struct {
	Value any `json:"value"`
}

var errMissingArgument = errors.New("missing argument")

// decodeArg converts the first Socket.IO argument into v.
func decodeArg(args []any, v any) error {
	if len(args) == 0 || args[0] == nil {
		return errMissingArgument
	}
	data, err := json.Marshal(args[0])
	if err != nil {
		return fmt.Errorf("invalid argument: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid argument: %w", err)
	}
	return nil
}

// numberArg accepts a bare number or an object with a numeric "value".
func numberArg(args []any) (float64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	switch v := args[0].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case map[string]interface{}:
		if f, ok := v["value"].(float64); ok {
			return f, true
		}
	}
	return 0, false
}
