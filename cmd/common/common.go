// Package common provides shared configuration loading for TrafficFlo-Z
// binaries: YAML config files with flag overrides, logger construction, and
// attestation provider selection.
package common

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tplussbri/TrafficFlo-Z/crypto"
	"github.com/tplussbri/TrafficFlo-Z/services"
	"github.com/tplussbri/TrafficFlo-Z/tdx"
)

// AttestationConfig selects how oracle key registrations are verified.
type AttestationConfig struct {
	// UseTDX enables real DCAP quote verification. When false, the dummy
	// provider is used and any echo-style attestation passes.
	UseTDX bool `yaml:"use_tdx"`

	// RemoteURL points at a remote quote service, for processes without a
	// local TDX device.
	RemoteURL string `yaml:"remote_url"`

	// Disabled turns attestation off entirely; oracle keys install
	// unchecked. Development only.
	Disabled bool `yaml:"disabled"`
}

// PostgresConfig toggles persistence on top of the connection settings.
type PostgresConfig struct {
	Enabled                 bool `yaml:"enabled"`
	services.PostgresConfig `yaml:",inline"`
}

// Config holds all settings for the coordinator service.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	EnablePprof bool   `yaml:"enable_pprof"`
	LogJSON     bool   `yaml:"log_json"`

	// OracleKey pre-provisions the oracle's hex-encoded verifying key,
	// bypassing POST /oracle/key.
	OracleKey string `yaml:"oracle_key"`

	// AllowedOrigins configures CORS for the dashboard.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// EventsBuffer is how many recent events GET /events retains.
	EventsBuffer int `yaml:"events_buffer"`

	DrainDuration            time.Duration `yaml:"drain_duration"`
	GracefulShutdownDuration time.Duration `yaml:"graceful_shutdown_duration"`

	Attestation AttestationConfig `yaml:"attestation"`
	Postgres    PostgresConfig    `yaml:"postgres"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:                 ":8080",
		EventsBuffer:             256,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
	}
}

// LoadConfig reads a YAML config file, applying defaults for absent fields.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger.
func NewLogger(logJSON bool) *slog.Logger {
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// NewAttestationProvider selects the TEE provider for oracle key
// registration. Returns nil when attestation is disabled.
func NewAttestationProvider(cfg *AttestationConfig) services.TEEProvider {
	if cfg.Disabled {
		return nil
	}
	if cfg.UseTDX {
		if cfg.RemoteURL != "" {
			return &tdx.RemoteDCAPProvider{URL: cfg.RemoteURL, Timeout: 30 * time.Second}
		}
		return &tdx.TDXProvider{}
	}
	return &tdx.DummyProvider{}
}

// ParseOracleKey parses a pre-provisioned hex oracle key, or returns nil for
// an empty string.
func ParseOracleKey(hexKey string) (crypto.PublicKey, error) {
	if hexKey == "" {
		return nil, nil
	}
	return crypto.NewPublicKeyFromString(hexKey)
}
