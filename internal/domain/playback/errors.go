package playback

import (
	"errors"
	"fmt"
)

var (
	// ErrNotResolvable means a track has no playable URL.
	ErrNotResolvable = errors.New("track not resolvable")

	// ErrBackendNotReady means the audio output cannot be started yet, for
	// example because the platform requires a user gesture first.
	ErrBackendNotReady = errors.New("audio backend not ready")

	// ErrDecode means the backend could not decode the payload.
	ErrDecode = errors.New("audio payload not decodable")
)

// ErrorKind classifies load failures so hosts can pick an actionable message.
type ErrorKind string

// Load error kinds
const (
	KindResolution ErrorKind = "resolution"
	KindNetwork    ErrorKind = "network"
	KindDecode     ErrorKind = "decode"
	KindBackend    ErrorKind = "backend"
)

// LoadError describes a failed attempt to load a track.
type LoadError struct {
	Kind    ErrorKind
	Attempt string // Correlates log lines of one load attempt
	Track   *Track
	Err     error
}

func (e *LoadError) Error() string {
	if e.Track != nil {
		return fmt.Sprintf("%s error loading %q: %v", e.Kind, e.Track.ID, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// classifyBackendError maps an error from Backend.Ready or Backend.Load to a kind.
func classifyBackendError(err error) ErrorKind {
	if errors.Is(err, ErrBackendNotReady) {
		return KindBackend
	}
	return KindDecode
}
