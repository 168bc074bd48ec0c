package orchestrator

import "testing"

func TestStreamBufferShouldStartPlayback(t *testing.T) {
	// 16kHz mono 16-bit -> 32 bytes/ms
	buf := NewStreamBuffer(16000, 1, 2, 100, 5000)

	if buf.ShouldStartPlayback() {
		t.Fatal("expected no playback before threshold reached")
	}

	buf.Push(make([]byte, 32*50)) // 50ms
	if buf.ShouldStartPlayback() {
		t.Fatal("expected no playback at 50ms with 100ms threshold")
	}

	buf.Push(make([]byte, 32*60)) // +60ms = 110ms total
	if !buf.ShouldStartPlayback() {
		t.Fatal("expected playback to start once threshold crossed")
	}
}

func TestStreamBufferStaysStartedOnceTriggered(t *testing.T) {
	buf := NewStreamBuffer(16000, 1, 2, 100, 5000)
	buf.Push(make([]byte, 32*150))
	if !buf.ShouldStartPlayback() {
		t.Fatal("expected playback to start")
	}
	buf.Drain(-1) // drain everything
	if !buf.ShouldStartPlayback() {
		t.Fatal("expected started latch to remain true after drain empties buffer")
	}
}

func TestStreamBufferCapTrimsOldest(t *testing.T) {
	buf := NewStreamBuffer(16000, 1, 2, 0, 100) // 100ms cap
	buf.Push(make([]byte, 32*200)) // 200ms worth, should trim to 100ms
	if ms := buf.BufferedMs(); ms > 100 {
		t.Fatalf("expected buffer capped at 100ms, got %dms", ms)
	}
}

func TestStreamBufferResetClearsLatch(t *testing.T) {
	buf := NewStreamBuffer(16000, 1, 2, 50, 5000)
	buf.Push(make([]byte, 32*60))
	if !buf.ShouldStartPlayback() {
		t.Fatal("expected playback started")
	}
	buf.Reset()
	if buf.ShouldStartPlayback() {
		t.Fatal("expected playback latch cleared after Reset with empty buffer")
	}
}

func TestEstimateSpeechDuration(t *testing.T) {
	d := EstimateSpeechDuration("one two three four five", 150)
	if d <= 0 {
		t.Fatal("expected positive duration estimate")
	}
	if EstimateSpeechDuration("", 150) != 0 {
		t.Fatal("expected zero duration for empty text")
	}
}
