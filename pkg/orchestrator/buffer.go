package orchestrator

import (
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/metrics"
)

// StreamBuffer accumulates streamed TTS PCM and decides when enough audio
// has been buffered to start playback without an audible stutter, trading
// a short startup delay for fewer underruns.
//
// Grounded on the teacher's rolling audioBuf pattern in ManagedStream.Write
// (bytes.Buffer trimmed to a duration budget via sample-rate arithmetic),
// generalized into its own testable type with an early-start threshold
// instead of the fixed budget ManagedStream uses for its mic-side buffer.
type StreamBuffer struct {
	mu sync.Mutex
	buf []byte

	sampleRate   int
	bytesPerSamp int
	channels     int

	// minBufferedMs is the early-start threshold: should_start_playback
	// returns true once this many milliseconds of audio are buffered.
	minBufferedMs int
	// capMs bounds how much audio the buffer ever holds; push drops the
	// oldest bytes once exceeded, favoring latency over completeness —
	// a stalled producer shouldn't grow this buffer unbounded.
	capMs int

	started bool
}

// NewStreamBuffer creates a buffer for the given PCM format. minBufferedMs
// is the "early start" threshold and capMs the maximum retained duration.
func NewStreamBuffer(sampleRate, channels, bytesPerSamp, minBufferedMs, capMs int) *StreamBuffer {
	if minBufferedMs <= 0 {
		minBufferedMs = 200
	}
	if capMs <= 0 {
		capMs = 5000
	}
	return &StreamBuffer{
		sampleRate:    sampleRate,
		channels:      channels,
		bytesPerSamp:  bytesPerSamp,
		minBufferedMs: minBufferedMs,
		capMs:         capMs,
	}
}

func (b *StreamBuffer) bytesPerMs() float64 {
	return float64(b.sampleRate*b.channels*b.bytesPerSamp) / 1000.0
}

// Push appends a chunk of PCM audio, trimming from the front if the buffer
// exceeds its configured duration cap.
func (b *StreamBuffer) Push(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, chunk...)

	capBytes := int(float64(b.capMs) * b.bytesPerMs())
	if capBytes > 0 && len(b.buf) > capBytes {
		b.buf = b.buf[len(b.buf)-capBytes:]
	}
}

// BufferedMs returns how many milliseconds of audio are currently buffered,
// estimated from sample rate rather than measured wall-clock time — a
// WPM-independent duration estimate over the PCM actually buffered. The
// text-only estimate (words / WPM) in EstimateSpeechDuration is separate
// and is not consulted by StreamBuffer.
func (b *StreamBuffer) BufferedMs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	bpms := b.bytesPerMs()
	if bpms == 0 {
		return 0
	}
	return int(float64(len(b.buf)) / bpms)
}

// ShouldStartPlayback reports whether enough audio has buffered to begin
// playback. Once playback has started for this buffer instance it always
// returns true — we don't want to pause mid-utterance just because the
// buffer briefly drained below the threshold again.
func (b *StreamBuffer) ShouldStartPlayback() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return true
	}
	bpms := b.bytesPerMs()
	if bpms == 0 {
		return false
	}
	bufferedMs := float64(len(b.buf)) / bpms
	if bufferedMs >= float64(b.minBufferedMs) {
		b.started = true
		return true
	}
	return false
}

// Drain removes and returns up to maxBytes of buffered audio, FIFO order. A
// caller requesting a real chunk size (not 0) that exceeds what's currently
// buffered is the underrun condition this counts — the player asked for a
// full chunk and the producer hasn't kept up.
func (b *StreamBuffer) Drain(maxBytes int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if maxBytes > 0 && maxBytes > len(b.buf) {
		metrics.BufferUnderrun.Inc()
	}
	if maxBytes <= 0 || maxBytes > len(b.buf) {
		maxBytes = len(b.buf)
	}
	out := make([]byte, maxBytes)
	copy(out, b.buf[:maxBytes])
	b.buf = b.buf[maxBytes:]
	return out
}

// Len reports how many bytes are currently buffered.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Reset clears the buffer and its playback-started latch, for reuse across turns.
func (b *StreamBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = nil
	b.started = false
}

// EstimateSpeechDuration estimates how long text will take to speak at wpm
// words-per-minute (150 when wpm <= 0). The early-start threshold does not
// use it: StreamBuffer starts playback on minBufferedMs of real PCM.
func EstimateSpeechDuration(text string, wpm int) time.Duration {
	if wpm <= 0 {
		wpm = 150
	}
	words := countWords(text)
	if words == 0 {
		return 0
	}
	minutes := float64(words) / float64(wpm)
	return time.Duration(minutes * float64(time.Minute))
}
