package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestNewWavBuffer(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	sampleRate := 44100
	wav := NewWavBuffer(pcm, sampleRate, 1, 2)

	if !bytes.HasPrefix(wav, []byte("RIFF")) {
		t.Errorf("Expected RIFF prefix")
	}

	if !bytes.Contains(wav, []byte("WAVE")) {
		t.Errorf("Expected WAVE format identifier")
	}

	expectedLen := 44 + len(pcm)
	if len(wav) != expectedLen {
		t.Errorf("Expected length %d, got %d", expectedLen, len(wav))
	}
}

func TestNewWavBufferStereo(t *testing.T) {
	pcm := make([]byte, 16)
	wav := NewWavBuffer(pcm, 48000, 2, 2)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected header+pcm length, got %d", len(wav))
	}
	numChannels := binary.LittleEndian.Uint16(wav[22:24])
	if numChannels != 2 {
		t.Errorf("expected 2 channels in fmt chunk, got %d", numChannels)
	}
	blockAlign := binary.LittleEndian.Uint16(wav[32:34])
	if blockAlign != 4 {
		t.Errorf("expected block align 4 (2 channels * 2 bytes), got %d", blockAlign)
	}
}

func TestNewMonoWavBufferMatchesExplicitMono(t *testing.T) {
	pcm := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if !bytes.Equal(NewMonoWavBuffer(pcm, 16000), NewWavBuffer(pcm, 16000, 1, 2)) {
		t.Error("expected NewMonoWavBuffer to match NewWavBuffer(pcm, sr, 1, 2)")
	}
}
