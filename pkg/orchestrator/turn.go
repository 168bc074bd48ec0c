package orchestrator

import (
	"time"

	"github.com/google/uuid"
)

// Transport identifies where run_turn's audio capture actually happens.
type Transport string

const (
	// TransportLocal captures via the process's own audio device / C7 PTT
	// controller — the default.
	TransportLocal Transport = "local"
	// TransportLiveKit marks capture as owned by an external LiveKit session;
	// C7 (push-to-talk) does not apply: run_turn's listen step ignores
	// PTTEnabled and runs the VAD-driven recorder over the audio the caller
	// feeds on audioIn. This package makes no LiveKit connection itself.
	TransportLiveKit Transport = "livekit"
	// TransportAuto is not resolved by run_turn, which handles it like
	// TransportLocal.
	TransportAuto Transport = "auto"
)

// AudioFormat is the wire encoding of a turn's captured/synthesized audio.
type AudioFormat string

const (
	AudioFormatPCM  AudioFormat = "pcm"
	AudioFormatOpus AudioFormat = "opus"
	AudioFormatMP3  AudioFormat = "mp3"
	AudioFormatWAV  AudioFormat = "wav"
)

// Outcome classifies how a turn ended. no_speech is a normal outcome, not an
// error — the caller asked to listen and nobody spoke before the grace
// period elapsed.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeNoSpeech  Outcome = "no_speech"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// TurnRequest describes one request to run_turn: optionally speak Message
// via TTS, then — unless WaitForResponse is false — listen for a reply via
// C5 (VAD-driven SilenceRecorder) or C7 (PTT controller) and transcribe it.
// The engine never generates the reply itself; that's the caller's job.
type TurnRequest struct {
	TurnID    string
	SessionID string

	// Message, if non-empty, is spoken via TTS before run_turn starts
	// listening. An empty Message skips straight to the listen step.
	Message string

	WaitForResponse    bool
	ListenDurationMaxS float64 // hard cap on the listen step, any recorder phase
	ListenDurationMinS float64 // floor below which a stop is deferred, not honored
	VADAggressiveness  int     // 1-3 sets the C4 RMSVAD threshold when C5 drives the listen step; 0 keeps the configured threshold

	PTTEnabled bool
	Transport  Transport

	AudioFormat AudioFormat
	Voice       Voice
	Language    Language

	VoiceHint       string
	TTSProviderHint string
	STTProviderHint string
}

// NewTurnRequest stamps a fresh turn with a generated ID, grounded on the
// teacher's session-ID convention in conversation.go ("conv_" + unixnano)
// but using a real UUID instead of a timestamp to stay collision-free
// across concurrently queued turns. WaitForResponse defaults to true and
// the listen window defaults to the spec's 120s/0s bounds — callers narrow
// these as needed.
func NewTurnRequest(sessionID, message string) TurnRequest {
	return TurnRequest{
		TurnID:             uuid.NewString(),
		SessionID:          sessionID,
		Message:            message,
		WaitForResponse:    true,
		ListenDurationMaxS: 120,
		AudioFormat:        AudioFormatPCM,
		Transport:          TransportLocal,
	}
}

// AudioChunk is one piece of raw PCM moving through the capture pipeline,
// stamped with a monotonic sequence number for ordering diagnostics.
type AudioChunk struct {
	Seq       uint64
	Data      []byte
	Timestamp time.Time
}

// TTSChunk is one piece of synthesized audio moving through the playback
// pipeline, tagged with the endpoint that produced it (for mixed-provider
// failover mid-stream diagnostics).
type TTSChunk struct {
	Seq      uint64
	Data     []byte
	Provider string
	Final    bool
}

// StreamMetrics is built incrementally by the C3 TTS stream player over the
// course of one synthesis call and is read-only once playback terminates.
type StreamMetrics struct {
	TTFAS           float64 // time to first audio, seconds
	GenerationS     float64 // time from request start to synthesis completion
	PlaybackS       float64 // wall-clock spent emitting chunks to the caller
	Chunks          int
	BufferUnderruns int
	ProviderID      string
}

// STTMetrics is the transcription-side counterpart of StreamMetrics.
type STTMetrics struct {
	LatencyS float64
}

// SelectedProviders names which endpoint actually served each half of a turn.
type SelectedProviders struct {
	TTS string
	STT string
}

// TurnTimings breaks a turn down into its three phases, in seconds.
type TurnTimings struct {
	SpeakS      float64
	ListenS     float64
	TranscribeS float64
	TotalS      float64
}

// TurnResult is the outcome of one run_turn call.
type TurnResult struct {
	TurnID string

	Outcome Outcome

	// TranscribedText is populated when Outcome is OutcomeOK; empty for
	// no_speech/cancelled/failed.
	TranscribedText string

	Timings          TurnTimings
	TTSMetrics       StreamMetrics
	STTMetrics       STTMetrics
	SelectedProviders SelectedProviders

	// Reason carries a human-readable explanation for cancelled/failed
	// outcomes; empty for ok/no_speech.
	Reason string

	Err error
}
