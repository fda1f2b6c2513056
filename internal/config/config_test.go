package config

import (
	stderrors "errors"
	"testing"
	"time"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Template != "cccd" || cfg.Mode != ModeCombined {
		t.Errorf("template/mode = %q/%q", cfg.Template, cfg.Mode)
	}
	if len(cfg.Scales) != 4 || cfg.Scales[3] != 4 {
		t.Errorf("Scales = %v", cfg.Scales)
	}
	if cfg.Threshold(idcard.FieldIDNumber) != 60 || cfg.Threshold(idcard.FieldDOB) != 50 {
		t.Errorf("Thresholds = %v", cfg.Thresholds)
	}
	if cfg.RemoteTimeout != 15*time.Second {
		t.Errorf("RemoteTimeout = %v", cfg.RemoteTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IDOCR_SCALES", "1, 3")
	t.Setenv("IDOCR_THRESHOLD_FULL_NAME", "72.5")
	t.Setenv("IDOCR_LANGUAGES", "vie+eng")
	t.Setenv("IDOCR_REMOTE_TIMEOUT", "12")
	t.Setenv("IDOCR_DEBUG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Scales) != 2 || cfg.Scales[1] != 3 {
		t.Errorf("Scales = %v", cfg.Scales)
	}
	if cfg.Threshold(idcard.FieldFullName) != 72.5 {
		t.Errorf("full_name threshold = %v", cfg.Threshold(idcard.FieldFullName))
	}
	if len(cfg.Languages) != 2 || cfg.Languages[0] != "vie" {
		t.Errorf("Languages = %v", cfg.Languages)
	}
	if cfg.RemoteTimeout != 12*time.Second {
		t.Errorf("RemoteTimeout = %v", cfg.RemoteTimeout)
	}
	if !cfg.Debug {
		t.Error("Debug not enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"remote timeout too long", func(c *Config) { c.RemoteTimeout = 30 * time.Second }},
		{"remote timeout too short", func(c *Config) { c.RemoteTimeout = 5 * time.Second }},
		{"empty scales", func(c *Config) { c.Scales = nil }},
		{"scale out of range", func(c *Config) { c.Scales = []int{1, 9} }},
		{"bad mode", func(c *Config) { c.Mode = "magic" }},
		{"zero concurrency", func(c *Config) { c.FieldConcurrency = 0 }},
		{"threshold above 100", func(c *Config) { c.Thresholds[idcard.FieldDOB] = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !stderrors.Is(err, ocrerrors.ErrConfigInvalid) {
				t.Errorf("Validate() = %v, want CONFIG_INVALID", err)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Default()
	b := Default()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("equal configs have different fingerprints")
	}
	b.Scales = []int{1, 2}
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("scale change did not change fingerprint")
	}
	// Connector settings do not affect the key.
	c := Default()
	c.RemoteEndpoint = "https://ocr.example.com"
	if a.Fingerprint() != c.Fingerprint() {
		t.Error("remote endpoint changed fingerprint")
	}
}

func TestValidateWorker(t *testing.T) {
	cfg := Default()
	if err := cfg.ValidateWorker(); err == nil {
		t.Error("missing REDIS_URL accepted")
	}
	cfg.RedisURL = "redis://localhost:6379"
	if err := cfg.ValidateWorker(); err != nil {
		t.Errorf("ValidateWorker() = %v", err)
	}
}
