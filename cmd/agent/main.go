package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/obslog"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/lokutor-orchestrator/pkg/providers/tts"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/ptt"
)

var envFile string

func main() {
	root := &cobra.Command{
		Use:   "agent",
		Short: "Lokutor voice-conversation engine",
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file to load before reading CHATTA_* environment variables")

	root.AddCommand(converseCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func converseCmd() *cobra.Command {
	var pttEnabled bool

	cmd := &cobra.Command{
		Use:   "converse",
		Short: "Start a live voice conversation over the default audio device",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConverse(pttEnabled)
		},
	}
	cmd.Flags().BoolVar(&pttEnabled, "ptt", false, "require push-to-talk instead of always-on VAD listening")
	return cmd
}

func runConverse(pttEnabled bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := obslog.New(cfg.LogLevel)

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	registry.SetLocalityPolicy(cfg.PreferLocal, cfg.AlwaysTryLocal)

	sttEndpoint, err := registry.Select(orchestrator.RoleSTT, "")
	if err != nil {
		return fmt.Errorf("no STT provider configured: %w", err)
	}
	llmEndpoint, err := registry.Select(orchestrator.RoleLLM, "")
	if err != nil {
		return fmt.Errorf("no LLM provider configured: %w", err)
	}
	ttsEndpoint, err := registry.Select(orchestrator.RoleTTS, "")
	if err != nil {
		return fmt.Errorf("no TTS provider configured: %w", err)
	}

	vad := orchestrator.NewRMSVADFromAggressiveness(cfg.VADAggressiveness, cfg.SilenceThreshold)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.SampleRate = cfg.SampleRate
	orchCfg.Channels = cfg.Channels
	orchCfg.Language = orchestrator.Language(cfg.Language)
	orchCfg.InitialSilenceGrace = cfg.InitialSilenceGrace
	orchCfg.SilenceThreshold = cfg.SilenceThreshold
	orchCfg.MinRecordingDuration = cfg.MinRecordingDuration
	orchCfg.MaxRecording = cfg.MaxRecording
	orchCfg.StreamChunkBytes = cfg.StreamChunkBytes

	// ManagedStream's always-on VAD pipeline talks to the top-priority
	// endpoint of each role directly; the Registry attached via WithRegistry
	// additionally lets RunTurn (used by the PTT path) fail over across all
	// registered endpoints instead of just this fixed triplet.
	orch := orchestrator.NewWithLogger(sttEndpoint.STT, llmEndpoint.LLM, ttsEndpoint.TTS, vad, orchCfg, logger).WithRegistry(registry)

	session := orch.NewSessionWithDefaults("user_123")
	systemPrompt := "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	orch.SetSystemPrompt(session, systemPrompt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pttRecorder *ptt.Recorder
	if pttEnabled {
		pttRecorder, err = setupPTT(ctx, cfg)
		if err != nil {
			return fmt.Errorf("ptt setup: %w", err)
		}
		orch.WithPTT(pttRecorder)
	}

	var stream *orchestrator.ManagedStream
	if !pttEnabled {
		stream = orch.NewManagedStream(ctx, session)
		defer stream.Close()
	}

	dev, err := audio.Open(audio.Config{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		OnCapture: func(pcm []byte) {
			if pttEnabled {
				pttRecorder.Feed(pcm)
				return
			}
			_ = stream.Write(pcm)
		},
	})
	if err != nil {
		return fmt.Errorf("audio device: %w", err)
	}
	defer dev.Close()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("starting audio device: %w", err)
	}

	if pttEnabled {
		go runPTTConversation(ctx, orch, registry, session, dev, logger)
	} else {
		go consumeEvents(stream, dev)
	}

	logger.Info("voice agent started", "stt", cfg.STTProvider, "llm", cfg.LLMProvider, "tts", cfg.TTSProvider, "sampleRate", cfg.SampleRate, "ptt", pttEnabled)
	fmt.Println("Listening. Press Ctrl+C to exit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")
	return nil
}

// runPTTConversation drives the spec's discrete turn loop for the
// push-to-talk transport: run_turn speaks the previous response (if any),
// then listens for the user's press-to-talk utterance, transcribes it, and
// this loop generates the next reply itself — run_turn never calls an LLM.
func runPTTConversation(ctx context.Context, orch *orchestrator.Orchestrator, registry *orchestrator.Registry, session *orchestrator.ConversationSession, dev *audio.Device, logger orchestrator.Logger) {
	message := ""
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req := orchestrator.NewTurnRequest(session.ID, message)
		req.PTTEnabled = true

		result := orch.RunTurn(ctx, session, req, nil, func(chunk []byte) error {
			dev.QueuePlayback(chunk)
			return nil
		})

		if ctx.Err() != nil {
			return
		}
		if result.Err != nil {
			logger.Error("run_turn failed", "outcome", result.Outcome, "error", result.Err)
			message = ""
			continue
		}
		if result.Outcome != orchestrator.OutcomeOK {
			message = ""
			continue
		}

		session.AddMessage("user", result.TranscribedText)
		fmt.Printf("\r\033[K[TRANSCRIPT] %s\n", result.TranscribedText)

		response, _, err := registry.Complete(ctx, session.GetContextCopy(), "")
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("llm generation failed", "error", err)
			message = ""
			continue
		}
		session.AddMessage("assistant", response)
		message = response
	}
}

// buildRegistry wires every configured STT/LLM/TTS credential into the
// provider registry (C8), generalizing the teacher's single-provider
// environment-variable switch in the original cmd/agent/main.go into a
// priority-ordered, health-tracked set per role.
func buildRegistry(cfg *config.Config, logger orchestrator.Logger) (*orchestrator.Registry, error) {
	reg := orchestrator.NewRegistry(cfg.ProviderUnhealthyStreak, cfg.ProviderUnhealthyTTL, logger)

	priority := 0
	if cfg.GroqKey != "" {
		groqModel := "whisper-large-v3-turbo"
		reg.RegisterSTT("groq", sttProvider.NewGroqSTT(cfg.GroqKey, groqModel), priority, false)
		reg.RegisterLLM("groq", llmProvider.NewGroqLLM(cfg.GroqKey, "llama-3.3-70b-versatile"), priority, false)
		priority++
	}
	if cfg.OpenAIKey != "" {
		reg.RegisterSTT("openai", sttProvider.NewOpenAISTT(cfg.OpenAIKey, "whisper-1"), priority, false)
		reg.RegisterLLM("openai", llmProvider.NewOpenAILLM(cfg.OpenAIKey, "gpt-4o"), priority, false)
		priority++
	}
	if cfg.DeepgramKey != "" {
		reg.RegisterSTT("deepgram", sttProvider.NewDeepgramSTT(cfg.DeepgramKey), priority, false)
		priority++
	}
	if cfg.AssemblyAIKey != "" {
		reg.RegisterSTT("assemblyai", sttProvider.NewAssemblyAISTT(cfg.AssemblyAIKey), priority, false)
		priority++
	}
	if cfg.AnthropicKey != "" {
		reg.RegisterLLM("anthropic", llmProvider.NewAnthropicLLM(cfg.AnthropicKey, ""), priority, false)
		priority++
	}
	if cfg.GoogleKey != "" {
		reg.RegisterLLM("google", llmProvider.NewGoogleLLM(cfg.GoogleKey, ""), priority, false)
		priority++
	}
	if cfg.LokutorKey != "" {
		reg.RegisterTTS("lokutor", ttsProvider.NewLokutorTTS(cfg.LokutorKey), 0, false)
	}
	if cfg.OpenAIKey != "" {
		reg.RegisterTTS("openai-http", ttsProvider.NewStreamingHTTPTTS(cfg.OpenAIKey, "https://api.openai.com/v1/audio/speech", "tts-1", ttsProvider.FormatPCM, cfg.SampleRate, cfg.Channels), 1, false)
	}

	return reg, nil
}

// setupPTT wires the C6 keyboard handler into a C7 controller and wraps it
// in a ptt.Recorder, returning the recorder that feeds run_turn's PTT listen
// step (see runPTTConversation). The controller's own event loop runs for
// the lifetime of ctx.
func setupPTT(ctx context.Context, cfg *config.Config) (*ptt.Recorder, error) {
	if err := ptt.CheckPermission(); err != nil {
		return nil, err
	}

	handler, err := ptt.NewHandler(cfg.PTTCombo, cfg.PTTCancelCombo, 100, 50*time.Millisecond)
	if err != nil {
		return nil, err
	}
	go handler.Start()

	controller := ptt.NewController(ptt.Mode(cfg.PTTMode), cfg.PTTMinDuration, cfg.PTTKeyTimeout,
		ptt.WithOnError(func(err error) {}),
	)
	recorder := ptt.NewRecorder(controller)

	go controller.Run(ctx, handler.Events(), cfg.PTTCancelCombo)
	return recorder, nil
}

func consumeEvents(stream *orchestrator.ManagedStream, dev *audio.Device) {
	for event := range stream.Events() {
		switch event.Type {
		case orchestrator.UserSpeaking:
			fmt.Printf("\r\033[K[USER] speaking...\n")
		case orchestrator.UserStopped:
			fmt.Printf("\r\033[K[STT] processing...\n")
		case orchestrator.TranscriptFinal:
			fmt.Printf("\r\033[K[TRANSCRIPT] %s\n", event.Data.(string))
		case orchestrator.BotThinking:
			fmt.Printf("\r\033[K[LLM] thinking...\n")
		case orchestrator.BotSpeaking:
			fmt.Printf("\r\033[K[TTS] speaking...\n")
		case orchestrator.AudioChunk:
			dev.QueuePlayback(event.Data.([]byte))
		case orchestrator.Interrupted:
			fmt.Printf("\r\033[K[INTERRUPTED] user started talking.\n")
			dev.FlushPlayback()
		case orchestrator.ErrorEvent:
			fmt.Printf("\r\033[K[ERROR] %v\n", event.Data)
		}
	}
}
