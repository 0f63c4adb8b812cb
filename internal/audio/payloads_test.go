package audio_test

import (
	"bytes"
	"encoding/binary"
)

// mp3Payload returns n silent MPEG-1 Layer III frames (128kbps, 44.1kHz),
// each 417 bytes and 1152 samples long.
func mp3Payload(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		frame := make([]byte, 417)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})
		buf.Write(frame)
	}
	return buf.Bytes()
}

// flacPayload returns a FLAC signature plus a lone STREAMINFO block.
func flacPayload(sampleRate uint32, channels, bps uint8, samples uint64) []byte {
	var buf bytes.Buffer
	buf.WriteString("fLaC")

	// Last metadata block, type 0 (STREAMINFO), 34 bytes.
	buf.Write([]byte{0x80, 0x00, 0x00, 34})

	si := make([]byte, 34)
	binary.BigEndian.PutUint16(si[0:2], 4096)
	binary.BigEndian.PutUint16(si[2:4], 4096)
	// si[4:10] frame sizes left unknown

	// 20 bits sample rate, 3 bits channels-1, 5 bits bps-1, 36 bits samples.
	packed := uint64(sampleRate)<<44 |
		uint64(channels-1)<<41 |
		uint64(bps-1)<<36 |
		samples&(1<<36-1)
	binary.BigEndian.PutUint64(si[10:18], packed)
	buf.Write(si)
	return buf.Bytes()
}

// wavPayload returns a canonical 44-byte PCM header followed by dataLen bytes.
func wavPayload(sampleRate uint32, channels, bitDepth uint16, dataLen int) []byte {
	var buf bytes.Buffer
	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * uint32(blockAlign)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, bitDepth)

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

// oggVorbisPayload returns a first page carrying a Vorbis identification
// header and a last page with the given granule position.
func oggVorbisPayload(sampleRate uint32, channels uint8, lastGranule uint64) []byte {
	ident := make([]byte, 30)
	ident[0] = 0x01
	copy(ident[1:7], "vorbis")
	ident[11] = channels
	binary.LittleEndian.PutUint32(ident[12:16], sampleRate)

	var buf bytes.Buffer
	buf.Write(oggPage(0, ident))
	buf.Write(oggPage(lastGranule, make([]byte, 10)))
	return buf.Bytes()
}

func oggPage(granule uint64, packet []byte) []byte {
	header := make([]byte, 27)
	copy(header, "OggS")
	binary.LittleEndian.PutUint64(header[6:14], granule)
	header[26] = 1

	var buf bytes.Buffer
	buf.Write(header)
	buf.WriteByte(byte(len(packet)))
	buf.Write(packet)
	return buf.Bytes()
}

// m4aPayload returns ftyp and moov atoms with a version 0 mvhd.
func m4aPayload(timescale, units uint32) []byte {
	var ftyp bytes.Buffer
	binary.Write(&ftyp, binary.BigEndian, uint32(16))
	ftyp.WriteString("ftypM4A ")
	binary.Write(&ftyp, binary.BigEndian, uint32(0))

	var mvhd bytes.Buffer
	binary.Write(&mvhd, binary.BigEndian, uint32(8+1+3+4+4+4+4))
	mvhd.WriteString("mvhd")
	mvhd.WriteByte(0)
	mvhd.Write(make([]byte, 3+4+4))
	binary.Write(&mvhd, binary.BigEndian, timescale)
	binary.Write(&mvhd, binary.BigEndian, units)

	var moov bytes.Buffer
	binary.Write(&moov, binary.BigEndian, uint32(8+mvhd.Len()))
	moov.WriteString("moov")
	moov.Write(mvhd.Bytes())

	return append(ftyp.Bytes(), moov.Bytes()...)
}
