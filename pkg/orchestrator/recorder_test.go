package orchestrator

import (
	"testing"
	"time"
)

func ms(base time.Time, offset time.Duration) *VADEvent {
	return &VADEvent{Timestamp: base.Add(offset).UnixMilli()}
}

func TestSilenceRecorderHappyPath(t *testing.T) {
	r := NewSilenceRecorder(1500*time.Millisecond, 200*time.Millisecond, 0, 2*time.Second)
	base := time.Now()

	start := *ms(base, 0)
	start.Type = VADSpeechStart
	out := r.Feed(&start, []byte{1, 2})
	if out.Phase != SpeechActive {
		t.Fatalf("expected SPEECH_ACTIVE, got %s", out.Phase)
	}

	silence := *ms(base, 50*time.Millisecond)
	silence.Type = VADSilence
	out = r.Feed(&silence, []byte{3, 4})
	if out.Phase != SpeechActive || out.TurnComplete {
		t.Fatalf("expected still SPEECH_ACTIVE, got %+v", out)
	}

	end := *ms(base, 100*time.Millisecond)
	end.Type = VADSpeechEnd
	out = r.Feed(&end, []byte{5, 6})
	if out.Phase != SilenceAfterSpeech {
		t.Fatalf("expected SILENCE_AFTER_SPEECH, got %s", out.Phase)
	}

	afterThreshold := *ms(base, 350*time.Millisecond) // 250ms after speech end > 200ms threshold
	afterThreshold.Type = VADSilence
	out = r.Feed(&afterThreshold, nil)
	if !out.TurnComplete || out.Forced {
		t.Fatalf("expected natural turn completion after silence threshold, got %+v", out)
	}
	if !out.SpeechDetected {
		t.Fatal("expected speech detected true for a completed utterance")
	}
	if len(out.Audio) == 0 {
		t.Fatal("expected accumulated audio to be returned on turn completion")
	}

	if r.Phase() != WaitingForSpeech {
		t.Fatalf("expected recorder reset to WAITING_FOR_SPEECH, got %s", r.Phase())
	}
}

func TestSilenceRecorderResumesOnSpeechWithinThreshold(t *testing.T) {
	r := NewSilenceRecorder(1500*time.Millisecond, 500*time.Millisecond, 0, 2*time.Second)
	base := time.Now()

	start := *ms(base, 0)
	start.Type = VADSpeechStart
	r.Feed(&start, []byte{1})

	end := *ms(base, 100*time.Millisecond)
	end.Type = VADSpeechEnd
	r.Feed(&end, []byte{2})

	resume := *ms(base, 200*time.Millisecond)
	resume.Type = VADSpeechStart
	out := r.Feed(&resume, []byte{3})
	if out.Phase != SpeechActive {
		t.Fatalf("expected speech resumption to return to SPEECH_ACTIVE, got %s", out.Phase)
	}
}

func TestSilenceRecorderForcedByMaxRecording(t *testing.T) {
	r := NewSilenceRecorder(1500*time.Millisecond, 500*time.Millisecond, 0, 50*time.Millisecond)
	base := time.Now()

	start := *ms(base, 0)
	start.Type = VADSpeechStart
	r.Feed(&start, []byte{1})

	tooLong := *ms(base, 100*time.Millisecond)
	tooLong.Type = VADSilence // still speaking per VAD, but the hard cap applies regardless of phase
	out := r.Feed(&tooLong, []byte{2})
	if !out.TurnComplete || !out.Forced {
		t.Fatalf("expected forced completion at max recording duration, got %+v", out)
	}
	if !out.SpeechDetected {
		t.Fatal("a forced stop mid-utterance still had speech")
	}
}

func TestSilenceRecorderNoSpeechEndsAfterInitialGrace(t *testing.T) {
	r := NewSilenceRecorder(100*time.Millisecond, 1000*time.Millisecond, 0, 120*time.Second)
	base := time.Now()

	silence := *ms(base, 50*time.Millisecond)
	silence.Type = VADSilence
	out := r.Feed(&silence, []byte{1})
	if out.TurnComplete {
		t.Fatalf("expected recorder still waiting within grace, got %+v", out)
	}

	stillQuiet := *ms(base, 150*time.Millisecond) // past the 100ms grace
	stillQuiet.Type = VADSilence
	out = r.Feed(&stillQuiet, []byte{2})
	if !out.TurnComplete || out.Forced {
		t.Fatalf("expected a normal no_speech completion, got %+v", out)
	}
	if out.SpeechDetected {
		t.Fatal("expected SpeechDetected false when nobody spoke")
	}
	if len(out.Audio) != 0 {
		t.Fatal("expected no audio for a no-speech ending")
	}
}

func TestSilenceRecorderEnforcesMinimumDuration(t *testing.T) {
	r := NewSilenceRecorder(1500*time.Millisecond, 100*time.Millisecond, 300*time.Millisecond, 2*time.Second)
	base := time.Now()

	start := *ms(base, 0)
	start.Type = VADSpeechStart
	r.Feed(&start, []byte{1})

	end := *ms(base, 50*time.Millisecond)
	end.Type = VADSpeechEnd
	r.Feed(&end, []byte{2})

	// 150ms elapsed, past the 100ms silence threshold but under the 300ms floor.
	pastThreshold := *ms(base, 150*time.Millisecond)
	pastThreshold.Type = VADSilence
	out := r.Feed(&pastThreshold, []byte{3})
	if out.TurnComplete {
		t.Fatalf("expected the stop deferred until the minimum duration floor, got %+v", out)
	}

	// 400ms elapsed, past both the threshold and the floor.
	pastFloor := *ms(base, 400*time.Millisecond)
	pastFloor.Type = VADSilence
	out = r.Feed(&pastFloor, []byte{4})
	if !out.TurnComplete || out.Forced {
		t.Fatalf("expected a natural completion once past the minimum duration, got %+v", out)
	}
}

// TestSilenceRecorderMatchesListenScenario exercises the turn-level listen
// scenario: ~2.0s of speech followed by ~1.2s of silence with a 1000ms
// silence threshold and a 300ms minimum duration should stop between 3.0s
// and 3.1s of total elapsed recording.
func TestSilenceRecorderMatchesListenScenario(t *testing.T) {
	r := NewSilenceRecorder(1500*time.Millisecond, 1000*time.Millisecond, 300*time.Millisecond, 120*time.Second)
	base := time.Now()

	start := *ms(base, 0)
	start.Type = VADSpeechStart
	r.Feed(&start, make([]byte, 320))

	end := *ms(base, 2000*time.Millisecond)
	end.Type = VADSpeechEnd
	out := r.Feed(&end, make([]byte, 320))
	if out.Phase != SilenceAfterSpeech {
		t.Fatalf("expected SILENCE_AFTER_SPEECH after 2.0s of speech, got %s", out.Phase)
	}

	stillSilent := *ms(base, 2950*time.Millisecond) // 950ms of silence, under the 1000ms threshold
	stillSilent.Type = VADSilence
	out = r.Feed(&stillSilent, nil)
	if out.TurnComplete {
		t.Fatalf("expected recording to continue before the silence threshold elapses, got %+v", out)
	}

	stopped := *ms(base, 3050*time.Millisecond) // 1050ms of silence, past the 1000ms threshold
	stopped.Type = VADSilence
	out = r.Feed(&stopped, nil)
	if !out.TurnComplete || out.Forced {
		t.Fatalf("expected a natural stop around 3.0-3.1s elapsed, got %+v", out)
	}
	if !out.SpeechDetected {
		t.Fatal("expected speech detected for a completed utterance")
	}
}
