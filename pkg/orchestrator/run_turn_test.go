package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ptt"
)

func TestRunTurnSpeaksThenListensViaVADWithNoInternalLLMCall(t *testing.T) {
	stt := &MockSTTProvider{transcribeResult: "turn it off and on again"}
	llm := &MockLLMProvider{completeResult: "should never be called"}
	tts := &MockTTSProvider{synthesizeResult: []byte{0xAA, 0xBB}}
	vad := NewRMSVAD(0.1, 50*time.Millisecond)

	cfg := DefaultConfig()
	cfg.InitialSilenceGrace = 200 * time.Millisecond
	cfg.SilenceThreshold = 50 * time.Millisecond
	cfg.MaxRecording = time.Second

	orch := NewWithVAD(stt, llm, tts, vad, cfg)
	session := orch.NewSessionWithDefaults("turn_test")

	audioIn := make(chan []byte, 16)
	var spoken [][]byte
	req := NewTurnRequest(session.ID, "hi there")

	loud := make([]byte, 64)
	for i := 0; i < len(loud); i += 2 {
		val := int16(32767)
		loud[i] = byte(val & 0xFF)
		loud[i+1] = byte(val >> 8)
	}
	quiet := make([]byte, 64)

	go func() {
		for i := 0; i < 10; i++ {
			audioIn <- loud
			time.Sleep(5 * time.Millisecond)
		}
		for i := 0; i < 10; i++ {
			audioIn <- quiet
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := orch.RunTurn(ctx, session, req, audioIn, func(chunk []byte) error {
		spoken = append(spoken, chunk)
		return nil
	})

	if result.Err != nil {
		t.Fatalf("expected no error, got %v", result.Err)
	}
	if result.Outcome != OutcomeOK {
		t.Fatalf("expected outcome ok, got %s", result.Outcome)
	}
	if result.TranscribedText != "turn it off and on again" {
		t.Fatalf("expected transcribed text from STT, got %q", result.TranscribedText)
	}
	if len(spoken) == 0 {
		t.Fatal("expected req.Message to have been spoken via TTS before listening")
	}
	if result.SelectedProviders.STT != "MockSTT" {
		t.Fatalf("expected SelectedProviders.STT to be set, got %q", result.SelectedProviders.STT)
	}
}

func TestRunTurnWithoutWaitForResponseSkipsListen(t *testing.T) {
	stt := &MockSTTProvider{transcribeResult: "unused"}
	llm := &MockLLMProvider{}
	tts := &MockTTSProvider{synthesizeResult: []byte{0x01}}

	orch := New(stt, llm, tts, DefaultConfig())
	session := orch.NewSessionWithDefaults("no_wait")

	req := NewTurnRequest(session.ID, "goodbye")
	req.WaitForResponse = false

	result := orch.RunTurn(context.Background(), session, req, nil, func([]byte) error { return nil })

	if result.Err != nil {
		t.Fatalf("expected no error, got %v", result.Err)
	}
	if result.Outcome != OutcomeOK {
		t.Fatalf("expected outcome ok, got %s", result.Outcome)
	}
	if result.TranscribedText != "" {
		t.Fatalf("expected no transcription when wait_for_response is false, got %q", result.TranscribedText)
	}
}

func TestRunTurnNoSpeechOutcome(t *testing.T) {
	stt := &MockSTTProvider{transcribeResult: "should not be reached"}
	llm := &MockLLMProvider{}
	tts := &MockTTSProvider{synthesizeResult: []byte{0x01}}
	vad := NewRMSVAD(0.5, 20*time.Millisecond)

	cfg := DefaultConfig()
	cfg.InitialSilenceGrace = 30 * time.Millisecond

	orch := NewWithVAD(stt, llm, tts, vad, cfg)
	session := orch.NewSessionWithDefaults("no_speech")

	req := NewTurnRequest(session.ID, "")
	audioIn := make(chan []byte, 8)
	quiet := make([]byte, 32)
	go func() {
		for i := 0; i < 5; i++ {
			audioIn <- quiet
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result := orch.RunTurn(ctx, session, req, audioIn, func([]byte) error { return nil })

	if result.Outcome != OutcomeNoSpeech {
		t.Fatalf("expected no_speech outcome, got %s (err=%v)", result.Outcome, result.Err)
	}
}

func TestRunTurnBusyReturnsErrBusy(t *testing.T) {
	stt := &MockSTTProvider{}
	llm := &MockLLMProvider{}
	tts := &MockTTSProvider{synthesizeResult: []byte{0x01}}

	orch := New(stt, llm, tts, DefaultConfig())
	session := orch.NewSessionWithDefaults("busy_test")

	orch.audioBusy.Lock()
	defer orch.audioBusy.Unlock()

	req := NewTurnRequest(session.ID, "")
	result := orch.RunTurn(context.Background(), session, req, nil, nil)

	if result.Outcome != OutcomeFailed || result.Err != ErrBusy {
		t.Fatalf("expected OutcomeFailed/ErrBusy, got %s / %v", result.Outcome, result.Err)
	}
}

func TestRunTurnViaPTTUsesRecorder(t *testing.T) {
	stt := &MockSTTProvider{transcribeResult: "ptt transcript"}
	llm := &MockLLMProvider{}
	tts := &MockTTSProvider{synthesizeResult: []byte{0x01}}

	orch := New(stt, llm, tts, DefaultConfig())
	session := orch.NewSessionWithDefaults("ptt_test")

	controller := ptt.NewController(ptt.ModeHold, 0, 0)
	recorder := ptt.NewRecorder(controller)
	orch.WithPTT(recorder)

	events := make(chan ptt.Event, 2)
	base := time.Now()
	events <- ptt.Event{Kind: ptt.KeyDown, Timestamp: base}
	events <- ptt.Event{Kind: ptt.KeyUp, Timestamp: base.Add(100 * time.Millisecond)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.Run(ctx, events, "")

	req := NewTurnRequest(session.ID, "")
	req.PTTEnabled = true

	result := orch.RunTurn(ctx, session, req, nil, nil)

	if result.Err != nil {
		t.Fatalf("expected no error, got %v", result.Err)
	}
	if result.Outcome != OutcomeOK {
		t.Fatalf("expected outcome ok, got %s", result.Outcome)
	}
	if result.TranscribedText != "ptt transcript" {
		t.Fatalf("expected transcribed text, got %q", result.TranscribedText)
	}
}
