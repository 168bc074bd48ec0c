package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ptt"
)


type Orchestrator struct {
	stt    STTProvider
	llm    LLMProvider
	tts    TTSProvider
	vad    VADProvider
	config Config
	logger Logger
	mu     sync.RWMutex

	registry *Registry

	// pttRecorder backs run_turn's listen step when a request sets
	// PTTEnabled; nil unless WithPTT was called.
	pttRecorder *ptt.Recorder

	// audioBusy is the process-wide exclusive audio-operation lock: at most
	// one run_turn may hold the microphone/speaker at a time.
	audioBusy sync.Mutex
}

// WithRegistry attaches a provider Registry (C8) so RunTurn fails over
// across STT and TTS endpoints instead of calling the single fixed
// provider set passed to New (RunTurn makes no LLM call).
func (o *Orchestrator) WithRegistry(r *Registry) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registry = r
	return o
}

// WithPTT attaches the C7 recorder run_turn's listen step uses when a
// TurnRequest sets PTTEnabled.
func (o *Orchestrator) WithPTT(r *ptt.Recorder) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pttRecorder = r
	return o
}

// RunTurn executes one run_turn call: speak req.Message (if any), then —
// unless WaitForResponse is false — listen for the user's reply via C5
// (always-on VAD) or C7 (push-to-talk) and transcribe it. RunTurn never
// calls an LLM; generating the next thing to say is entirely up to the
// caller, which is why TurnRequest carries a Message instead of RunTurn
// pulling one out of the session itself. Returns ErrBusy immediately
// (never blocking) if another turn already holds the audio-operation lock.
func (o *Orchestrator) RunTurn(ctx context.Context, session *ConversationSession, req TurnRequest, audioIn <-chan []byte, onTTSChunk func([]byte) error) (result TurnResult) {
	start := time.Now()
	result = TurnResult{TurnID: req.TurnID}
	defer func() {
		if result.Reason != "" {
			return
		}
		switch {
		case result.Err != nil:
			result.Reason = result.Err.Error()
		case result.Outcome == OutcomeCancelled:
			result.Reason = "listen step cancelled"
		}
	}()

	if !o.audioBusy.TryLock() {
		result.Outcome = OutcomeFailed
		result.Err = ErrBusy
		return result
	}
	defer o.audioBusy.Unlock()

	if strings.TrimSpace(req.Message) != "" {
		speakStart := time.Now()
		ttsMetrics, err := o.speakFor(ctx, req, session, req.Message, onTTSChunk)
		result.Timings.SpeakS = time.Since(speakStart).Seconds()
		result.TTSMetrics = ttsMetrics
		result.SelectedProviders.TTS = ttsMetrics.ProviderID
		if err != nil {
			result.Outcome = OutcomeFailed
			result.Err = fmt.Errorf("%w: %v", ErrTTSFailed, err)
			result.Timings.TotalS = time.Since(start).Seconds()
			return result
		}
	}

	if !req.WaitForResponse {
		result.Outcome = OutcomeOK
		result.Timings.TotalS = time.Since(start).Seconds()
		return result
	}

	// Brief pause before opening the mic so it doesn't immediately pick up
	// the tail of the TTS playback that just finished.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		result.Outcome = OutcomeCancelled
		result.Err = ctx.Err()
		result.Timings.TotalS = time.Since(start).Seconds()
		return result
	}

	listenStart := time.Now()
	audio, speechDetected, cancelled, err := o.listen(ctx, req, audioIn)
	result.Timings.ListenS = time.Since(listenStart).Seconds()
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err
		result.Timings.TotalS = time.Since(start).Seconds()
		return result
	}
	if cancelled {
		result.Outcome = OutcomeCancelled
		result.Timings.TotalS = time.Since(start).Seconds()
		return result
	}
	if !speechDetected {
		result.Outcome = OutcomeNoSpeech
		result.Timings.TotalS = time.Since(start).Seconds()
		return result
	}

	transcribeStart := time.Now()
	transcript, sttName, err := o.transcribeFor(ctx, req, session, audio)
	result.Timings.TranscribeS = time.Since(transcribeStart).Seconds()
	result.SelectedProviders.STT = sttName
	result.STTMetrics = STTMetrics{LatencyS: result.Timings.TranscribeS}
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
		result.Timings.TotalS = time.Since(start).Seconds()
		return result
	}
	if strings.TrimSpace(transcript) == "" {
		result.Outcome = OutcomeNoSpeech
		result.Timings.TotalS = time.Since(start).Seconds()
		return result
	}

	result.Outcome = OutcomeOK
	result.TranscribedText = transcript
	result.Timings.TotalS = time.Since(start).Seconds()
	return result
}

// listen dispatches the turn's listen step to C7 (push-to-talk) or C5
// (VAD-driven silence recorder) per req.PTTEnabled. PTT does not apply to a
// TransportLiveKit request, which always takes the VAD path over audioIn.
func (o *Orchestrator) listen(ctx context.Context, req TurnRequest, audioIn <-chan []byte) (audio []byte, speechDetected, cancelled bool, err error) {
	if req.PTTEnabled && req.Transport != TransportLiveKit {
		return o.listenViaPTT(ctx)
	}
	return o.listenViaVAD(ctx, req, audioIn)
}

// listenViaPTT blocks until the PTT controller reports a completed (or
// cancelled) recording. speechDetected is always true for a natural PTT
// stop — the user chose to release/cancel the key, there is no WAITING_FOR_
// SPEECH timeout in this path.
func (o *Orchestrator) listenViaPTT(ctx context.Context) (audio []byte, speechDetected, cancelled bool, err error) {
	if o.pttRecorder == nil {
		return nil, false, false, fmt.Errorf("ptt_enabled set but no PTT recorder configured, see WithPTT")
	}
	return o.pttRecorder.ListenOnce(ctx)
}

// listenViaVAD drives a fresh SilenceRecorder off audioIn until a turn
// ending condition is reached. req.ListenDurationMaxS/MinS override the
// orchestrator's configured maxRecording/minDuration when set, and a
// positive req.VADAggressiveness (1-3) overrides the cloned VAD's threshold
// for this turn only when that VAD is an RMSVAD; 0 keeps the configured
// threshold. The orchestrator's shared VAD (used by ManagedStream) is untouched.
func (o *Orchestrator) listenViaVAD(ctx context.Context, req TurnRequest, audioIn <-chan []byte) (audio []byte, speechDetected, cancelled bool, err error) {
	if audioIn == nil {
		return nil, false, false, fmt.Errorf("vad-driven listen requires a non-nil audio input channel")
	}
	if o.vad == nil {
		return nil, false, false, fmt.Errorf("VAD provider not configured")
	}

	vad := o.vad.Clone()
	if req.VADAggressiveness > 0 {
		if rms, ok := vad.(*RMSVAD); ok {
			rms.SetThreshold(AggressivenessThreshold(req.VADAggressiveness))
		}
	}

	maxRecording := o.config.MaxRecording
	if req.ListenDurationMaxS > 0 {
		maxRecording = time.Duration(req.ListenDurationMaxS * float64(time.Second))
	}
	minDuration := o.config.MinRecordingDuration
	if req.ListenDurationMinS > 0 {
		minDuration = time.Duration(req.ListenDurationMinS * float64(time.Second))
	}
	rec := NewSilenceRecorder(o.config.InitialSilenceGrace, o.config.SilenceThreshold, minDuration, maxRecording)

	for {
		select {
		case <-ctx.Done():
			return nil, false, true, nil
		case chunk, ok := <-audioIn:
			if !ok {
				return nil, false, false, fmt.Errorf("audio input closed before the listen step completed")
			}
			event, verr := vad.Process(chunk)
			if verr != nil {
				return nil, false, false, verr
			}
			outcome := rec.Feed(event, chunk)
			if outcome.TurnComplete {
				return outcome.Audio, outcome.SpeechDetected, false, nil
			}
		}
	}
}

// transcribeFor runs STT over recorded audio, honoring req.STTProviderHint
// when a registry is attached.
func (o *Orchestrator) transcribeFor(ctx context.Context, req TurnRequest, session *ConversationSession, audio []byte) (string, string, error) {
	lang := req.Language
	if lang == "" {
		lang = session.GetCurrentLanguage()
	}
	if o.registry != nil {
		return o.registry.Transcribe(ctx, audio, lang, req.STTProviderHint)
	}
	text, err := o.stt.Transcribe(ctx, audio, lang)
	return text, o.stt.Name(), err
}

// speakFor streams req.Message/text through TTS with req.Voice (falling back
// to the session's voice), honoring req.TTSProviderHint when a registry is
// attached, and reports basic stream metrics for the caller's observability.
// req.VoiceHint is not read.
func (o *Orchestrator) speakFor(ctx context.Context, req TurnRequest, session *ConversationSession, text string, onTTSChunk func([]byte) error) (StreamMetrics, error) {
	voice := req.Voice
	if voice == "" {
		voice = session.GetCurrentVoice()
	}
	lang := req.Language
	if lang == "" {
		lang = session.GetCurrentLanguage()
	}
	if onTTSChunk == nil {
		onTTSChunk = func([]byte) error { return nil }
	}

	start := time.Now()
	var chunks int
	var firstChunkAt time.Time
	wrapped := func(chunk []byte) error {
		chunks++
		if firstChunkAt.IsZero() {
			firstChunkAt = time.Now()
		}
		return onTTSChunk(chunk)
	}

	var providerID string
	var err error
	if o.registry != nil {
		providerID, err = o.registry.StreamSynthesize(ctx, text, voice, lang, wrapped, req.TTSProviderHint)
	} else {
		providerID = o.tts.Name()
		err = o.tts.StreamSynthesize(ctx, text, voice, lang, wrapped)
	}

	metrics := StreamMetrics{
		GenerationS: time.Since(start).Seconds(),
		Chunks:      chunks,
		ProviderID:  providerID,
	}
	if !firstChunkAt.IsZero() {
		metrics.TTFAS = firstChunkAt.Sub(start).Seconds()
	}
	return metrics, err
}



func New(stt STTProvider, llm LLMProvider, tts TTSProvider, config Config) *Orchestrator {
	return NewWithLogger(stt, llm, tts, nil, config, &NoOpLogger{})
}


func NewWithVAD(stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, config Config) *Orchestrator {
	return NewWithLogger(stt, llm, tts, vad, config, &NoOpLogger{})
}


func NewWithLogger(stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, config Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Orchestrator{
		stt:    stt,
		llm:    llm,
		tts:    tts,
		vad:    vad,
		config: config,
		logger: logger,
	}
}


func (o *Orchestrator) PushAudio(sessionID string, chunk []byte) (*VADEvent, error) {
	if o.vad == nil {
		return nil, fmt.Errorf("VAD provider not configured")
	}
	return o.vad.Process(chunk)
}


func (o *Orchestrator) ProcessAudio(ctx context.Context, session *ConversationSession, audioData []byte) (string, []byte, error) {
	
	transcript, err := o.Transcribe(ctx, audioData, session.GetCurrentLanguage())
	if err != nil {
		return "", nil, fmt.Errorf("transcription failed: %w", err)
	}

	if strings.TrimSpace(transcript) == "" {
		o.logger.Warn("empty transcription received", "sessionID", session.ID)
		return "", nil, ErrEmptyTranscription
	}

	o.logger.Info("transcription completed", "sessionID", session.ID, "length", len(transcript))
	session.AddMessage("user", transcript)

	
	response, err := o.GenerateResponse(ctx, session)
	if err != nil {
		o.logger.Error("LLM generation failed", "sessionID", session.ID, "error", err)
		return transcript, nil, fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}

	o.logger.Info("LLM response generated", "sessionID", session.ID, "length", len(response))
	session.AddMessage("assistant", response)

	
	audioBytes, err := o.Synthesize(ctx, response, session.GetCurrentVoice(), session.GetCurrentLanguage())
	if err != nil {
		o.logger.Error("TTS synthesis failed", "sessionID", session.ID, "error", err)
		return transcript, nil, fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	o.logger.Info("TTS synthesis completed", "sessionID", session.ID, "audioSize", len(audioBytes))
	return transcript, audioBytes, nil
}


func (o *Orchestrator) ProcessAudioStream(ctx context.Context, session *ConversationSession, audioData []byte, onAudioChunk func([]byte) error) (string, error) {
	
	transcript, err := o.Transcribe(ctx, audioData, session.GetCurrentLanguage())
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	if strings.TrimSpace(transcript) == "" {
		o.logger.Warn("empty transcription received", "sessionID", session.ID)
		return "", ErrEmptyTranscription
	}

	o.logger.Info("transcription completed", "sessionID", session.ID, "length", len(transcript))
	session.AddMessage("user", transcript)

	
	response, err := o.GenerateResponse(ctx, session)
	if err != nil {
		o.logger.Error("LLM generation failed", "sessionID", session.ID, "error", err)
		return transcript, fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}

	o.logger.Info("LLM response generated", "sessionID", session.ID, "length", len(response))
	session.AddMessage("assistant", response)

	
	err = o.SynthesizeStream(ctx, response, session.GetCurrentVoice(), session.GetCurrentLanguage(), onAudioChunk)
	if err != nil {
		o.logger.Error("TTS streaming failed", "sessionID", session.ID, "error", err)
		return transcript, fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	o.logger.Info("TTS streaming completed", "sessionID", session.ID)
	return transcript, nil
}


func (o *Orchestrator) Transcribe(ctx context.Context, audioData []byte, lang Language) (string, error) {
	return o.stt.Transcribe(ctx, audioData, lang)
}


func (o *Orchestrator) GenerateResponse(ctx context.Context, session *ConversationSession) (string, error) {
	return o.llm.Complete(ctx, session.GetContextCopy())
}


func (o *Orchestrator) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return o.tts.Synthesize(ctx, text, voice, lang)
}


func (o *Orchestrator) SynthesizeStream(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	return o.tts.StreamSynthesize(ctx, text, voice, lang, onChunk)
}


func (o *Orchestrator) HandleInterruption(session *ConversationSession) {
	o.logger.Info("conversation interrupted", "sessionID", session.ID)
	
}


func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}


func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}


func (o *Orchestrator) GetProviders() map[string]string {
	return map[string]string{
		"stt": o.stt.Name(),
		"llm": o.llm.Name(),
		"tts": o.tts.Name(),
	}
}



func (o *Orchestrator) NewSessionWithDefaults(userID string) *ConversationSession {
	session := NewConversationSession(userID)
	session.MaxMessages = o.config.MaxContextMessages
	session.CurrentVoice = o.config.VoiceStyle
	session.CurrentLanguage = o.config.Language
	return session
}



func (o *Orchestrator) SetSystemPrompt(session *ConversationSession, prompt string) {
	session.AddMessage("system", prompt)
}



func (o *Orchestrator) SetVoice(session *ConversationSession, voice Voice) {
	session.CurrentVoice = voice
}



func (o *Orchestrator) SetLanguage(session *ConversationSession, lang Language) {
	session.CurrentLanguage = lang
}



func (o *Orchestrator) ResetSession(session *ConversationSession) {
	session.ClearContext()
}



func (o *Orchestrator) NewManagedStream(ctx context.Context, session *ConversationSession) *ManagedStream {
	return NewManagedStream(ctx, o, session)
}
