package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load("/nonexistent/.env")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SampleRate != 24000 {
		t.Errorf("expected default sample rate 24000, got %d", cfg.SampleRate)
	}
	if cfg.PTTMode != "hold" {
		t.Errorf("expected default ptt mode hold, got %s", cfg.PTTMode)
	}
}

func TestLoadRejectsBadVADAggressiveness(t *testing.T) {
	os.Clearenv()
	os.Setenv("CHATTA_VAD_AGGRESSIVENESS", "9")
	defer os.Clearenv()

	if _, err := Load("/nonexistent/.env"); err == nil {
		t.Fatal("expected error for out-of-range vad_aggressiveness")
	}
}

func TestLoadRejectsBadPTTMode(t *testing.T) {
	os.Clearenv()
	os.Setenv("CHATTA_PTT_MODE", "bogus")
	defer os.Clearenv()

	if _, err := Load("/nonexistent/.env"); err == nil {
		t.Fatal("expected error for invalid ptt_mode")
	}
}
