package orchestrator

import (
	"sync"
	"time"

	sherpa "github.com/streamer45/silero-vad-go/speech"
)

// SileroVAD wraps streamer45/silero-vad-go's ONNX-based speech detector
// behind the same VADProvider interface RMSVAD implements, for higher
// accuracy than energy thresholding at the cost of a model load and a
// heavier per-frame inference. Falls back to an embedded RMSVAD if the
// model fails to load, so callers can always construct one.
type SileroVAD struct {
	mu       sync.Mutex
	detector *sherpa.Detector
	fallback *RMSVAD

	isSpeaking   bool
	silenceLimit time.Duration
	silenceStart time.Time
}

// SileroConfig configures the underlying ONNX detector.
type SileroConfig struct {
	ModelPath           string
	SampleRate          int
	Threshold           float32
	MinSilenceDurationMs int
	SpeechPadMs         int
}

// NewSileroVAD loads the ONNX model at cfg.ModelPath. If loading fails, the
// returned VAD silently operates as an RMSVAD instead — the spec requires
// the engine to keep functioning without a local model file present.
func NewSileroVAD(cfg SileroConfig, silenceLimit time.Duration) (*SileroVAD, error) {
	v := &SileroVAD{
		fallback:     NewRMSVAD(0.02, silenceLimit),
		silenceLimit: silenceLimit,
	}

	detector, err := sherpa.NewDetector(sherpa.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return v, nil
	}
	v.detector = detector
	return v, nil
}

func (v *SileroVAD) Process(chunk []byte) (*VADEvent, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.detector == nil {
		return v.fallback.Process(chunk)
	}

	samples := bytesToFloat32Samples(chunk)
	segments, err := v.detector.Detect(samples)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	speechNow := len(segments) > 0

	if speechNow {
		v.silenceStart = time.Time{}
		if !v.isSpeaking {
			v.isSpeaking = true
			return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
		}
		return nil, nil
	}

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}
	return &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *SileroVAD) Name() string {
	if v.detector == nil {
		return "silero_vad(fallback_rms)"
	}
	return "silero_vad"
}

func (v *SileroVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	if v.detector != nil {
		v.detector.Reset()
	}
	v.fallback.Reset()
}

// bytesToFloat32Samples converts 16-bit little-endian PCM into the
// normalized float32 samples the ONNX silero model expects.
func bytesToFloat32Samples(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		s := int16(data[i*2]) | (int16(data[i*2+1]) << 8)
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

func (v *SileroVAD) Clone() VADProvider {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &SileroVAD{
		detector:     v.detector,
		fallback:     v.fallback.Clone().(*RMSVAD),
		silenceLimit: v.silenceLimit,
	}
}
