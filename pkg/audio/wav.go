package audio

import (
	"bytes"
	"encoding/binary"
)

// NewWavBuffer wraps raw PCM in a canonical WAV header. channels and
// bytesPerSample describe the PCM layout (1/2 and 2 for mono/stereo 16-bit,
// matching orchestrator.Config's Channels/BytesPerSamp); bytesPerSample <= 0
// falls back to 16-bit, channels <= 0 falls back to mono.
func NewWavBuffer(pcm []byte, sampleRate int, channels int, bytesPerSample int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if bytesPerSample <= 0 {
		bytesPerSample = 2
	}

	blockAlign := channels * bytesPerSample
	byteRate := sampleRate * blockAlign

	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bytesPerSample*8))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// NewMonoWavBuffer is the common case: mono, 16-bit PCM.
func NewMonoWavBuffer(pcm []byte, sampleRate int) []byte {
	return NewWavBuffer(pcm, sampleRate, 1, 2)
}
