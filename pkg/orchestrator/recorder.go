package orchestrator

import (
	"sync"
	"time"
)

// RecorderPhase is the three-phase state of a SilenceRecorder.
type RecorderPhase string

const (
	WaitingForSpeech   RecorderPhase = "WAITING_FOR_SPEECH"
	SpeechActive       RecorderPhase = "SPEECH_ACTIVE"
	SilenceAfterSpeech RecorderPhase = "SILENCE_AFTER_SPEECH"
)

// SilenceRecorder extracts the WAITING_FOR_SPEECH / SPEECH_ACTIVE /
// SILENCE_AFTER_SPEECH phase tracking that the teacher's ManagedStream.Write
// handled inline via its isSpeaking bool plus the VAD's own silence timer.
// Splitting it into a standalone type lets both the always-on VAD path and
// run_turn's discrete listen step drive the same recorder.
//
// Two silence knobs are tracked separately because they bound different
// phases: initialSilenceGrace bounds WAITING_FOR_SPEECH (giving up with no
// speech at all is a normal ending, not a forced stop), silenceThreshold
// bounds SILENCE_AFTER_SPEECH (the pause that actually ends an utterance).
// minDuration floors every non-forced stop so a single short noise burst
// can't produce a sub-floor "utterance"; maxRecording hard-caps total
// elapsed time in any phase, overriding minDuration when it's hit.
type SilenceRecorder struct {
	mu sync.Mutex

	phase RecorderPhase

	initialSilenceGrace time.Duration
	silenceThreshold    time.Duration
	minDuration         time.Duration
	maxRecording        time.Duration

	recordingStartedAt time.Time
	speechStartedAt     time.Time
	silenceStartedAt    time.Time

	buf []byte
}

// NewSilenceRecorder creates a recorder. initialSilenceGrace bounds how long
// the recorder waits for speech to begin at all (default 1.5s, matching
// INITIAL_SILENCE_GRACE_PERIOD); silenceThreshold bounds how long silence
// may persist after speech before the utterance is considered finished
// (default 1000ms, matching SILENCE_THRESHOLD_MS); minDuration floors any
// natural stop (default 0, no floor); maxRecording hard-caps the whole
// recording regardless of phase (default 120s, matching listen_duration_max_s).
func NewSilenceRecorder(initialSilenceGrace, silenceThreshold, minDuration, maxRecording time.Duration) *SilenceRecorder {
	if initialSilenceGrace <= 0 {
		initialSilenceGrace = 1500 * time.Millisecond
	}
	if silenceThreshold <= 0 {
		silenceThreshold = 1000 * time.Millisecond
	}
	if maxRecording <= 0 {
		maxRecording = 120 * time.Second
	}
	return &SilenceRecorder{
		phase:               WaitingForSpeech,
		initialSilenceGrace: initialSilenceGrace,
		silenceThreshold:    silenceThreshold,
		minDuration:         minDuration,
		maxRecording:        maxRecording,
		recordingStartedAt:  time.Now(),
	}
}

// Phase returns the current recorder phase.
func (r *SilenceRecorder) Phase() RecorderPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// RecorderOutcome is returned by Feed to tell the caller what happened to
// the frame just fed in.
type RecorderOutcome struct {
	Phase        RecorderPhase
	TurnComplete bool // a stop condition was reached; Audio/SpeechDetected are valid
	Forced       bool // true if TurnComplete was caused by maxRecording, not natural silence
	// SpeechDetected is false only for a WAITING_FOR_SPEECH timeout (nobody
	// spoke at all) — every other TurnComplete outcome implies speech happened.
	SpeechDetected bool
	Audio          []byte // populated only when TurnComplete is true
}

// Feed processes one VAD event + its associated audio chunk, advancing the
// phase machine and accumulating audio while SPEECH_ACTIVE or within the
// silence threshold following it.
func (r *SilenceRecorder) Feed(event *VADEvent, chunk []byte) RecorderOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if event != nil {
		now = time.UnixMilli(event.Timestamp)
	}

	if r.phase != WaitingForSpeech && now.Sub(r.recordingStartedAt) >= r.maxRecording {
		out := RecorderOutcome{Phase: r.phase, TurnComplete: true, Forced: true, SpeechDetected: true, Audio: r.buf}
		r.resetLocked()
		return out
	}

	switch r.phase {
	case WaitingForSpeech:
		if event != nil && event.Type == VADSpeechStart {
			r.phase = SpeechActive
			r.speechStartedAt = now
			r.buf = append(r.buf[:0], chunk...)
			return RecorderOutcome{Phase: r.phase}
		}
		if now.Sub(r.recordingStartedAt) >= r.initialSilenceGrace || now.Sub(r.recordingStartedAt) >= r.maxRecording {
			// Nobody spoke within the grace period (or the hard cap, if that
			// is shorter): a normal no-speech ending, not a forced stop.
			out := RecorderOutcome{Phase: r.phase, TurnComplete: true, SpeechDetected: false}
			r.resetLocked()
			return out
		}
		return RecorderOutcome{Phase: r.phase}

	case SpeechActive:
		r.buf = append(r.buf, chunk...)
		if event != nil && event.Type == VADSpeechEnd {
			r.phase = SilenceAfterSpeech
			r.silenceStartedAt = now
			return RecorderOutcome{Phase: r.phase}
		}
		return RecorderOutcome{Phase: r.phase}

	case SilenceAfterSpeech:
		if event != nil && event.Type == VADSpeechStart {
			// Speech resumed within the silence threshold: back to active.
			r.phase = SpeechActive
			r.buf = append(r.buf, chunk...)
			return RecorderOutcome{Phase: r.phase}
		}
		r.buf = append(r.buf, chunk...)
		if now.Sub(r.silenceStartedAt) >= r.silenceThreshold {
			return r.finishLocked(now, false)
		}
		return RecorderOutcome{Phase: r.phase}
	}

	return RecorderOutcome{Phase: r.phase}
}

// finishLocked ends the recording, deferring any non-forced stop until
// minDuration has elapsed since recording started — a short noise burst
// that trips the VAD and immediately falls silent again shouldn't produce
// a sub-floor utterance. Forced stops (maxRecording) bypass the floor
// entirely since they're called directly from Feed, not through here.
func (r *SilenceRecorder) finishLocked(now time.Time, forced bool) RecorderOutcome {
	if !forced && now.Sub(r.recordingStartedAt) < r.minDuration {
		return RecorderOutcome{Phase: r.phase}
	}
	out := RecorderOutcome{Phase: r.phase, TurnComplete: true, Forced: forced, SpeechDetected: true, Audio: r.buf}
	r.resetLocked()
	return out
}

// Bytes returns the accumulated utterance audio since the last Reset.
func (r *SilenceRecorder) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

// Reset returns the recorder to WAITING_FOR_SPEECH and discards any
// buffered audio, for reuse on the next turn.
func (r *SilenceRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resetLocked()
}

func (r *SilenceRecorder) resetLocked() {
	r.phase = WaitingForSpeech
	r.buf = nil
	r.recordingStartedAt = time.Now()
	r.speechStartedAt = time.Time{}
	r.silenceStartedAt = time.Time{}
}
