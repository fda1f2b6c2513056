// Package config loads pipeline and worker configuration from the
// environment, after reading an optional .env file.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	ocrerrors "idcard-ocr/internal/errors"
	"idcard-ocr/internal/idcard"
)

// Region modes.
const (
	ModeTemplate = "template"
	ModeDetect   = "detect"
	ModeCombined = "combined"
)

// Config holds pipeline and worker configuration.
type Config struct {
	// OCR
	Languages        []string
	Template         string
	Scales           []int
	Thresholds       map[idcard.Field]float64
	FieldConcurrency int
	Mode             string
	LocalDisabled    bool

	// Debug artifacts
	Debug       bool
	DebugDir    string
	DebugBucket string

	// Custom HTTP connector
	RemoteEndpoint string
	RemoteAPIKey   string
	RemoteTimeout  time.Duration

	// Gemini connector
	VertexProject string
	VertexRegion  string
	VertexModel   string

	// Worker
	RedisURL          string
	DatabaseURL       string
	Queue             string
	WorkerConcurrency int
	ProcessingTimeout time.Duration
	GRPCAddr          string
	CacheTTL          time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads .env (if present) and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Languages:         getEnvAsListOrDefault("IDOCR_LANGUAGES", []string{"vie", "eng"}),
		Template:          getEnvOrDefault("IDOCR_TEMPLATE", "cccd"),
		FieldConcurrency:  getEnvAsIntOrDefault("IDOCR_FIELD_CONCURRENCY", 3),
		Mode:              strings.ToLower(getEnvOrDefault("IDOCR_MODE", ModeCombined)),
		LocalDisabled:     getEnvAsBoolOrDefault("IDOCR_LOCAL_DISABLED", false),
		Debug:             getEnvAsBoolOrDefault("IDOCR_DEBUG", false),
		DebugDir:          getEnvOrDefault("IDOCR_DEBUG_DIR", ""),
		DebugBucket:       getEnvOrDefault("IDOCR_DEBUG_BUCKET", ""),
		RemoteEndpoint:    getEnvOrDefault("IDOCR_REMOTE_ENDPOINT", ""),
		RemoteAPIKey:      getEnvOrDefault("IDOCR_REMOTE_API_KEY", ""),
		RemoteTimeout:     getEnvAsDurationOrDefault("IDOCR_REMOTE_TIMEOUT", 15*time.Second),
		VertexProject:     getEnvOrDefault("IDOCR_VERTEX_PROJECT", ""),
		VertexRegion:      getEnvOrDefault("IDOCR_VERTEX_REGION", "asia-southeast1"),
		VertexModel:       getEnvOrDefault("IDOCR_VERTEX_MODEL", "gemini-1.5-flash"),
		RedisURL:          getEnvOrDefault("REDIS_URL", ""),
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
		Queue:             getEnvOrDefault("IDOCR_QUEUE", "idcard"),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout: getEnvAsDurationOrDefault("PROCESSING_TIMEOUT", 2*time.Minute),
		GRPCAddr:          getEnvOrDefault("GRPC_ADDR", ":9090"),
		CacheTTL:          getEnvAsDurationOrDefault("IDOCR_CACHE_TTL", 24*time.Hour),
		LogLevel:          getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         getEnvOrDefault("LOG_FORMAT", "json"),
	}

	scales, err := parseScales(getEnvOrDefault("IDOCR_SCALES", "1,2,3,4"))
	if err != nil {
		return nil, ocrerrors.NewConfigError("IDOCR_SCALES", err)
	}
	cfg.Scales = scales

	cfg.Thresholds = DefaultThresholds()
	for _, f := range idcard.AllFields {
		key := "IDOCR_THRESHOLD_" + strings.ToUpper(string(f))
		cfg.Thresholds[f] = getEnvAsFloatOrDefault(key, cfg.Thresholds[f])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// DefaultThresholds returns the per-field confidence thresholds below
// which detected regions are tried.
func DefaultThresholds() map[idcard.Field]float64 {
	t := make(map[idcard.Field]float64, len(idcard.AllFields))
	for _, f := range idcard.AllFields {
		t[f] = 50
	}
	t[idcard.FieldIDNumber] = 60
	return t
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Languages:         []string{"vie", "eng"},
		Template:          "cccd",
		Scales:            []int{1, 2, 3, 4},
		Thresholds:        DefaultThresholds(),
		FieldConcurrency:  3,
		Mode:              ModeCombined,
		RemoteTimeout:     15 * time.Second,
		VertexRegion:      "asia-southeast1",
		VertexModel:       "gemini-1.5-flash",
		Queue:             "idcard",
		WorkerConcurrency: 4,
		ProcessingTimeout: 2 * time.Minute,
		GRPCAddr:          ":9090",
		CacheTTL:          24 * time.Hour,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Validate checks the pipeline settings.
func (c *Config) Validate() error {
	if len(c.Languages) == 0 {
		return ocrerrors.NewConfigError("IDOCR_LANGUAGES", fmt.Errorf("at least one language is required"))
	}
	if len(c.Scales) == 0 {
		return ocrerrors.NewConfigError("IDOCR_SCALES", fmt.Errorf("scale ladder is empty"))
	}
	for _, s := range c.Scales {
		if s < 1 || s > 8 {
			return ocrerrors.NewConfigError("IDOCR_SCALES", fmt.Errorf("scale must be between 1 and 8, got %d", s))
		}
	}
	if c.FieldConcurrency < 1 || c.FieldConcurrency > 32 {
		return ocrerrors.NewConfigError("IDOCR_FIELD_CONCURRENCY", fmt.Errorf("must be between 1 and 32, got %d", c.FieldConcurrency))
	}
	switch c.Mode {
	case ModeTemplate, ModeDetect, ModeCombined:
	default:
		return ocrerrors.NewConfigError("IDOCR_MODE", fmt.Errorf("unknown mode %q", c.Mode))
	}
	for f, v := range c.Thresholds {
		if v < 0 || v > 100 {
			return ocrerrors.NewConfigError("IDOCR_THRESHOLD_"+strings.ToUpper(string(f)), fmt.Errorf("must be between 0 and 100, got %v", v))
		}
	}
	if c.RemoteTimeout < 10*time.Second || c.RemoteTimeout > 15*time.Second {
		return ocrerrors.NewConfigError("IDOCR_REMOTE_TIMEOUT", fmt.Errorf("must be between 10s and 15s, got %v", c.RemoteTimeout))
	}
	return nil
}

// ValidateWorker checks the settings the queue worker needs on top of
// Validate.
func (c *Config) ValidateWorker() error {
	if c.RedisURL == "" {
		return ocrerrors.NewConfigError("REDIS_URL", fmt.Errorf("REDIS_URL is required"))
	}
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return ocrerrors.NewConfigError("WORKER_CONCURRENCY", fmt.Errorf("must be between 1 and 100, got %d", c.WorkerConcurrency))
	}
	if c.ProcessingTimeout <= 0 {
		return ocrerrors.NewConfigError("PROCESSING_TIMEOUT", fmt.Errorf("must be positive"))
	}
	return nil
}

// Threshold returns the confidence threshold for a field.
func (c *Config) Threshold(f idcard.Field) float64 {
	if v, ok := c.Thresholds[f]; ok {
		return v
	}
	return DefaultThresholds()[f]
}

// Fingerprint identifies the settings that change extraction output. It
// is part of the result cache key.
func (c *Config) Fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "lang=%s;tpl=%s;mode=%s;scales=", strings.Join(c.Languages, "+"), c.Template, c.Mode)
	for _, s := range c.Scales {
		fmt.Fprintf(&b, "%d,", s)
	}
	keys := make([]string, 0, len(c.Thresholds))
	for f := range c.Thresholds {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ";%s=%.2f", k, c.Thresholds[idcard.Field(k)])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

func parseScales(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid scale %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDurationOrDefault accepts Go durations ("15s") or whole seconds.
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.FieldsFunc(valueStr, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
