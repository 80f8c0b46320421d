package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Version is the vigil release, reported by the CLI and the liveness query.
const Version = "0.1.0"

// Config holds all vigil configuration.
type Config struct {
	Feed     FeedConfig
	Models   ModelConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

// FeedConfig holds vulnerability feed settings.
type FeedConfig struct {
	Endpoint    string // empty means the client's default NVD endpoint
	APIKey      string // raises the rate-limit profile when present
	HTTPTimeout time.Duration
}

// ModelConfig holds model artifact settings.
type ModelConfig struct {
	BundlePath string
}

// PipelineConfig holds orchestrator settings.
type PipelineConfig struct {
	Workers    int // batch scoring workers
	PreviewLen int // description preview budget in runes
}

// LogConfig holds logging and telemetry settings.
type LogConfig struct {
	Level string // "debug", "info", "warn", "error"
	Trace bool   // emit OpenTelemetry spans to stderr
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		Feed: FeedConfig{
			Endpoint:    os.Getenv("VIGIL_NVD_ENDPOINT"),
			APIKey:      os.Getenv("VIGIL_NVD_API_KEY"),
			HTTPTimeout: getenvDuration("VIGIL_HTTP_TIMEOUT", 30*time.Second),
		},
		Models: ModelConfig{
			BundlePath: getenv("VIGIL_MODEL_BUNDLE", "models/vigil.db"),
		},
		Pipeline: PipelineConfig{
			Workers:    getenvInt("VIGIL_WORKERS", 4),
			PreviewLen: getenvInt("VIGIL_PREVIEW_LEN", 120),
		},
		Log: LogConfig{
			Level: getenv("VIGIL_LOG_LEVEL", "info"),
			Trace: getenvBool("VIGIL_TRACE", false),
		},
	}
}

// Validate checks field ranges, collecting every problem into one error.
// Bundle existence is deliberately not checked here: `vigil models build`
// runs before the bundle exists, and the artifact store reports a missing
// bundle with proper error identity.
func (c Config) Validate() error {
	var errs []error
	if c.Models.BundlePath == "" {
		errs = append(errs, fmt.Errorf("config: VIGIL_MODEL_BUNDLE must not be empty"))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("config: workers must be >= 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.PreviewLen < 1 {
		errs = append(errs, fmt.Errorf("config: preview length must be >= 1, got %d", c.Pipeline.PreviewLen))
	}
	if c.Feed.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("config: http timeout must be positive, got %v", c.Feed.HTTPTimeout))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
