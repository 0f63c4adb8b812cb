package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/rs/zerolog/log"
	"github.com/tcolgate/mp3"
)

// ErrUnsupportedFormat is returned when a payload is not a recognised, decodable
// audio stream.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Container names returned by Probe.
const (
	ContainerMP3  = "mp3"
	ContainerFLAC = "flac"
	ContainerWAV  = "wav"
	ContainerOgg  = "ogg"
	ContainerM4A  = "m4a"
)

// Format is what Probe learned about a payload.
type Format struct {
	Container  string        `json:"container"`
	Codec      string        `json:"codec"`
	SampleRate int           `json:"sampleRate,omitempty"`
	BitDepth   int           `json:"bitDepth,omitempty"`
	Channels   int           `json:"channels,omitempty"`
	Duration   time.Duration `json:"duration"` // Zero if it could not be determined

	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

// Probe identifies the container of data, checks that it carries decodable
// audio and reads its stream parameters and tags.
func Probe(data []byte) (*Format, error) {
	container := sniff(data)
	if container == "" {
		return nil, fmt.Errorf("%w: unrecognised header", ErrUnsupportedFormat)
	}

	var (
		f   *Format
		err error
	)
	switch container {
	case ContainerMP3:
		f, err = probeMP3(data)
	case ContainerFLAC:
		f, err = probeFLAC(data)
	case ContainerWAV:
		f, err = probeWAV(data)
	case ContainerOgg:
		f, err = probeOgg(data)
	case ContainerM4A:
		f, err = probeM4A(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, container, err)
	}
	f.Container = container

	readTags(f, data)
	return f, nil
}

// readTags fills in title, artist and album when the payload carries tags.
// Tag parsers see untrusted bytes, so a panic is treated as "no tags".
func readTags(f *Format, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("container", f.Container).Msg("Tag reader panicked")
		}
	}()

	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("container", f.Container).Msg("No tags in payload")
		return
	}
	f.Title = m.Title()
	f.Artist = m.Artist()
	f.Album = m.Album()
}

// sniff recognises a container by its magic bytes.
func sniff(data []byte) string {
	switch {
	case len(data) < 4:
		return ""
	case bytes.HasPrefix(data, []byte("ID3")):
		return ContainerMP3
	case bytes.HasPrefix(data, []byte("fLaC")):
		return ContainerFLAC
	case len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WAVE":
		return ContainerWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return ContainerOgg
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return ContainerM4A
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return ContainerMP3
	}
	return ""
}

// probeMP3 decodes every frame header to sum the duration.
func probeMP3(data []byte) (*Format, error) {
	dec := mp3.NewDecoder(bytes.NewReader(data))

	var (
		total   time.Duration
		skipped int
		frames  int
	)
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			return nil, err
		}
		total += fr.Duration()
		frames++
	}
	if frames == 0 {
		return nil, errors.New("no mpeg frames")
	}

	return &Format{Codec: "mp3", Duration: total}, nil
}

// probeFLAC reads the STREAMINFO block.
func probeFLAC(data []byte) (*Format, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	si := stream.Info
	if si == nil || si.SampleRate == 0 {
		return nil, errors.New("flac stream missing sample info")
	}

	f := &Format{
		Codec:      "flac",
		SampleRate: int(si.SampleRate),
		BitDepth:   int(si.BitsPerSample),
		Channels:   int(si.NChannels),
	}
	if si.NSamples > 0 {
		f.Duration = time.Duration(float64(si.NSamples) / float64(si.SampleRate) * float64(time.Second))
	}
	return f, nil
}

// probeWAV reads the fmt chunk and derives the duration from the PCM size.
func probeWAV(data []byte) (*Format, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return nil, errors.New("invalid wav header")
	}

	f := &Format{
		Codec:      "pcm",
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Channels:   int(dec.NumChans),
	}

	const headerSize = 44
	pcmBytes := int64(len(data)) - headerSize
	frameBytes := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if pcmBytes > 0 && frameBytes > 0 {
		frames := pcmBytes / frameBytes
		f.Duration = time.Duration(float64(frames) / float64(dec.SampleRate) * float64(time.Second))
	}
	return f, nil
}

// probeOgg reads the identification header of the first logical stream and
// takes the duration from the granule position of the last page.
func probeOgg(data []byte) (*Format, error) {
	if len(data) < 27 {
		return nil, errors.New("short ogg page")
	}
	segments := int(data[26])
	start := 27 + segments
	if len(data) < start+19 {
		return nil, errors.New("short ogg packet")
	}
	packet := data[start:]

	f := &Format{}
	var granuleRate int
	switch {
	case len(packet) >= 16 && packet[0] == 0x01 && string(packet[1:7]) == "vorbis":
		f.Codec = "vorbis"
		f.Channels = int(packet[11])
		f.SampleRate = int(binary.LittleEndian.Uint32(packet[12:16]))
		granuleRate = f.SampleRate
	case string(packet[0:8]) == "OpusHead":
		f.Codec = "opus"
		f.Channels = int(packet[9])
		f.SampleRate = int(binary.LittleEndian.Uint32(packet[12:16]))
		// Opus granules always count 48kHz samples.
		granuleRate = 48000
	default:
		return nil, errors.New("unknown ogg codec")
	}

	if last := bytes.LastIndex(data, []byte("OggS")); last >= 0 && len(data) >= last+14 && granuleRate > 0 {
		granule := int64(binary.LittleEndian.Uint64(data[last+6 : last+14]))
		if granule > 0 {
			f.Duration = time.Duration(float64(granule) / float64(granuleRate) * float64(time.Second))
		}
	}
	return f, nil
}

// probeM4A scans the top-level atoms for moov/mvhd.
func probeM4A(data []byte) (*Format, error) {
	r := bytes.NewReader(data)
	for {
		head := make([]byte, 8)
		if _, err := io.ReadFull(r, head); err != nil {
			return nil, errors.New("mvhd atom not found")
		}
		size := binary.BigEndian.Uint32(head[0:4])
		atom := string(head[4:8])
		if size < 8 {
			return nil, errors.New("invalid atom size")
		}

		if atom != "moov" {
			if _, err := r.Seek(int64(size)-8, io.SeekCurrent); err != nil {
				return nil, err
			}
			continue
		}

		limit := int64(size) - 8
		for read := int64(0); read < limit; {
			sub := make([]byte, 8)
			if _, err := io.ReadFull(r, sub); err != nil {
				return nil, err
			}
			subSize := binary.BigEndian.Uint32(sub[0:4])
			if string(sub[4:8]) == "mvhd" {
				return readMVHD(r)
			}
			if subSize < 8 {
				return nil, errors.New("invalid sub-atom size")
			}
			if _, err := r.Seek(int64(subSize)-8, io.SeekCurrent); err != nil {
				return nil, err
			}
			read += int64(subSize)
		}
		return nil, errors.New("mvhd atom not found")
	}
}

func readMVHD(r io.ReadSeeker) (*Format, error) {
	version := make([]byte, 1)
	if _, err := io.ReadFull(r, version); err != nil {
		return nil, err
	}

	// flags, then creation and modification times
	skip := int64(3 + 4 + 4)
	if version[0] == 1 {
		skip = 3 + 8 + 8
	}
	if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
		return nil, err
	}

	var timescale uint32
	if err := binary.Read(r, binary.BigEndian, &timescale); err != nil {
		return nil, err
	}
	if timescale == 0 {
		return nil, errors.New("invalid timescale")
	}

	var units uint64
	if version[0] == 1 {
		if err := binary.Read(r, binary.BigEndian, &units); err != nil {
			return nil, err
		}
	} else {
		var u32 uint32
		if err := binary.Read(r, binary.BigEndian, &u32); err != nil {
			return nil, err
		}
		units = uint64(u32)
	}

	return &Format{
		Codec:    "aac",
		Duration: time.Duration(float64(units) / float64(timescale) * float64(time.Second)),
	}, nil
}

// EstimateDuration guesses a duration from the payload size for streams whose
// headers carry none.
func EstimateDuration(size int, bitrate int) time.Duration {
	if bitrate <= 0 || size <= 0 {
		return 0
	}
	return time.Duration(float64(size*8) / float64(bitrate) * float64(time.Second))
}
