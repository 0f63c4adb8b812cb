// Package audio provides payload probing, output status tracking and a
// software clock backend for the playback engine.
package audio

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// OutputFormat describes what the output is currently rendering.
type OutputFormat struct {
	SampleRate int    `json:"sampleRate"` // Hz (44100, 96000, 192000, etc.)
	BitDepth   int    `json:"bitDepth"`   // 16, 24, 32; 0 if unknown
	Channels   int    `json:"channels"`
	Format     string `json:"format"` // "PCM", "DSD64", ...
	Codec      string `json:"codec,omitempty"`
}

// Status is the output status pushed to clients.
type Status struct {
	Locked bool          `json:"locked"` // True while a track is playing
	Format *OutputFormat `json:"format"` // Nil when nothing is loaded
}

// Controller tracks output lock state and format. Backends feed it; the
// transport reads it.
type Controller struct {
	mu            sync.RWMutex
	isLocked      bool
	currentFormat *OutputFormat
}

// NewController creates a new audio controller.
func NewController() *Controller {
	return &Controller{}
}

// GetStatus returns the current audio status.
func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var format *OutputFormat
	if c.currentFormat != nil {
		f := *c.currentFormat
		format = &f
	}
	return Status{
		Locked: c.isLocked,
		Format: format,
	}
}

// UpdateFromProbe records the format of a freshly loaded payload.
func (c *Controller) UpdateFromProbe(f *Format) (changed bool) {
	var next *OutputFormat
	if f != nil {
		next = &OutputFormat{
			SampleRate: f.SampleRate,
			BitDepth:   f.BitDepth,
			Channels:   f.Channels,
			Format:     detectFormatType(f.SampleRate),
			Codec:      f.Codec,
		}
	}
	return c.setFormat(next)
}

// UpdateFromMPDStatus updates the status from MPD status fields.
// mpdState is "play", "pause" or "stop"; audio is "samplerate:bits:channels"
// (e.g. "192000:24:2").
func (c *Controller) UpdateFromMPDStatus(mpdState, audio string) (changed bool) {
	c.mu.Lock()
	wasLocked := c.isLocked
	c.isLocked = mpdState == "play"
	c.mu.Unlock()

	var next *OutputFormat
	if audio != "" {
		next = parseMPDAudio(audio)
	}
	formatChanged := c.setFormat(next)
	return formatChanged || wasLocked != (mpdState == "play")
}

func (c *Controller) setFormat(next *OutputFormat) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if formatEqual(c.currentFormat, next) {
		return false
	}
	c.currentFormat = next

	log.Debug().
		Bool("locked", c.isLocked).
		Interface("format", next).
		Msg("Audio format changed")
	return true
}

// OnPlaybackStart marks the output as locked.
func (c *Controller) OnPlaybackStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isLocked = true
}

// OnPlaybackStop releases the output lock.
func (c *Controller) OnPlaybackStop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isLocked = false
}

// parseMPDAudio parses MPD's "samplerate:bits:channels" string.
// DSD is indicated by its sample rate (DSD64 = 2822400 Hz, etc.).
func parseMPDAudio(audio string) *OutputFormat {
	parts := strings.Split(audio, ":")
	if len(parts) < 2 {
		return nil
	}

	sampleRate, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil
	}

	// MPD reports "f" for float samples and "dsd" for native DSD.
	bitDepth, err := strconv.Atoi(parts[1])
	if err != nil {
		bitDepth = 0
	}

	channels := 2
	if len(parts) >= 3 {
		if ch, err := strconv.Atoi(parts[2]); err == nil {
			channels = ch
		}
	}

	return &OutputFormat{
		SampleRate: sampleRate,
		BitDepth:   bitDepth,
		Channels:   channels,
		Format:     detectFormatType(sampleRate),
	}
}

// detectFormatType returns "PCM" or the DSD multiple for DSD rates.
func detectFormatType(sampleRate int) string {
	switch sampleRate {
	case 2822400:
		return "DSD64"
	case 5644800:
		return "DSD128"
	case 11289600:
		return "DSD256"
	case 22579200:
		return "DSD512"
	default:
		return "PCM"
	}
}

// FormatSampleRate returns a human-readable sample rate string.
func FormatSampleRate(sampleRate int) string {
	if sampleRate >= 1000000 {
		return detectFormatType(sampleRate)
	}
	if sampleRate >= 1000 {
		return strconv.FormatFloat(float64(sampleRate)/1000, 'f', -1, 64) + "kHz"
	}
	return strconv.Itoa(sampleRate) + "Hz"
}

// FormatBitDepth returns a human-readable bit depth string.
func FormatBitDepth(bitDepth int) string {
	return strconv.Itoa(bitDepth) + "-bit"
}

func formatEqual(a, b *OutputFormat) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
