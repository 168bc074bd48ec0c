// Package config loads the CHATTA_*-prefixed runtime configuration,
// layering environment variables (via spf13/viper) over an optional .env
// file (via joho/godotenv, the teacher's existing loader).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the immutable, fully-resolved runtime configuration. It is
// constructed once at startup with Load and passed by reference — never
// mutated afterward and never stored as a package-level global, so tests
// can construct independent instances freely.
type Config struct {
	SampleRate int
	Channels   int
	Language   string

	STTProvider string
	LLMProvider string
	TTSProvider string

	OpenAIKey     string
	AnthropicKey  string
	GoogleKey     string
	GroqKey       string
	DeepgramKey   string
	AssemblyAIKey string
	LokutorKey    string

	PTTMode        string
	PTTCombo       string
	PTTCancelCombo string
	PTTMinDuration time.Duration
	PTTKeyTimeout  time.Duration

	VADAggressiveness int

	// InitialSilenceGrace/SilenceThreshold/MinRecordingDuration/MaxRecording
	// configure the C5 silence-detection recorder — see
	// orchestrator.SilenceRecorder for what each phase bounds.
	InitialSilenceGrace  time.Duration
	SilenceThreshold     time.Duration
	MinRecordingDuration time.Duration
	MaxRecording         time.Duration

	StreamChunkBytes int

	ProviderUnhealthyStreak int
	ProviderUnhealthyTTL    time.Duration

	// PreferLocal sorts locally-hosted provider endpoints ahead of remote
	// ones during C8 selection; AlwaysTryLocal lets a local endpoint be
	// selected even while marked unhealthy, in its normal place in the
	// candidate order (ahead of any healthy endpoint ranked after it).
	PreferLocal    bool
	AlwaysTryLocal bool

	LogLevel string
}

// Load reads .env (if present, ignoring a missing file the way the
// teacher's cmd/agent/main.go does) and then resolves every CHATTA_*
// environment key through viper, applying the defaults below.
func Load(envFilePath string) (*Config, error) {
	if envFilePath == "" {
		envFilePath = ".env"
	}
	if err := godotenv.Load(envFilePath); err != nil {
		// Matches the teacher's tolerant behavior: system environment
		// variables remain usable even with no .env file on disk.
	}

	v := viper.New()
	v.SetEnvPrefix("CHATTA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("sample_rate", 24000)
	v.SetDefault("channels", 1)
	v.SetDefault("language", "en")
	v.SetDefault("stt_provider", "groq")
	v.SetDefault("llm_provider", "groq")
	v.SetDefault("tts_provider", "lokutor")
	v.SetDefault("ptt_mode", "hold")
	v.SetDefault("ptt_combo", "alt+space")
	v.SetDefault("ptt_cancel_combo", "esc")
	v.SetDefault("ptt_min_duration_ms", 200)
	v.SetDefault("ptt_key_timeout_s", 0)
	v.SetDefault("vad_aggressiveness", 1)
	v.SetDefault("initial_silence_grace_ms", 1500)
	v.SetDefault("silence_threshold_ms", 1000)
	v.SetDefault("min_recording_duration_ms", 0)
	v.SetDefault("max_recording_s", 120)
	v.SetDefault("stream_chunk_size", 4096)
	v.SetDefault("provider_unhealthy_streak", 3)
	v.SetDefault("provider_unhealthy_ttl_s", 30)
	v.SetDefault("prefer_local", false)
	v.SetDefault("always_try_local", false)
	v.SetDefault("log_level", "info")

	cfg := &Config{
		SampleRate:  v.GetInt("sample_rate"),
		Channels:    v.GetInt("channels"),
		Language:    v.GetString("language"),
		STTProvider: v.GetString("stt_provider"),
		LLMProvider: v.GetString("llm_provider"),
		TTSProvider: v.GetString("tts_provider"),

		OpenAIKey:     v.GetString("openai_api_key"),
		AnthropicKey:  v.GetString("anthropic_api_key"),
		GoogleKey:     v.GetString("google_api_key"),
		GroqKey:       v.GetString("groq_api_key"),
		DeepgramKey:   v.GetString("deepgram_api_key"),
		AssemblyAIKey: v.GetString("assemblyai_api_key"),
		LokutorKey:    v.GetString("lokutor_api_key"),

		PTTMode:        v.GetString("ptt_mode"),
		PTTCombo:       v.GetString("ptt_combo"),
		PTTCancelCombo: v.GetString("ptt_cancel_combo"),
		PTTMinDuration: time.Duration(v.GetInt("ptt_min_duration_ms")) * time.Millisecond,
		PTTKeyTimeout:  time.Duration(v.GetInt("ptt_key_timeout_s")) * time.Second,

		VADAggressiveness: v.GetInt("vad_aggressiveness"),

		InitialSilenceGrace:  time.Duration(v.GetInt("initial_silence_grace_ms")) * time.Millisecond,
		SilenceThreshold:     time.Duration(v.GetInt("silence_threshold_ms")) * time.Millisecond,
		MinRecordingDuration: time.Duration(v.GetInt("min_recording_duration_ms")) * time.Millisecond,
		MaxRecording:         time.Duration(v.GetInt("max_recording_s")) * time.Second,

		StreamChunkBytes: v.GetInt("stream_chunk_size"),

		ProviderUnhealthyStreak: v.GetInt("provider_unhealthy_streak"),
		ProviderUnhealthyTTL:    time.Duration(v.GetInt("provider_unhealthy_ttl_s")) * time.Second,

		PreferLocal:    v.GetBool("prefer_local"),
		AlwaysTryLocal: v.GetBool("always_try_local"),

		LogLevel: v.GetString("log_level"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.VADAggressiveness < 0 || c.VADAggressiveness > 3 {
		return fmt.Errorf("config: vad_aggressiveness must be 0-3, got %d", c.VADAggressiveness)
	}
	switch c.PTTMode {
	case "hold", "toggle", "hybrid":
	default:
		return fmt.Errorf("config: ptt_mode must be hold|toggle|hybrid, got %q", c.PTTMode)
	}
	return nil
}
