package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Session
	if cfg.Session.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate must be positive, got %d", cfg.Session.SampleRate))
	}
	if cfg.Session.Channels != 1 && cfg.Session.Channels != 2 {
		errs = append(errs, fmt.Errorf("session.channels must be 1 or 2, got %d", cfg.Session.Channels))
	}
	if cfg.Sink.Kind != SinkWAV && cfg.Session.BitrateBps <= 0 {
		errs = append(errs, fmt.Errorf("session.bitrate_bps must be positive, got %d", cfg.Session.BitrateBps))
	}

	// Sink
	if cfg.Sink.Channels != 0 && cfg.Sink.Channels != 1 && cfg.Sink.Channels != 2 {
		errs = append(errs, fmt.Errorf("sink.channels must be 0, 1 or 2, got %d", cfg.Sink.Channels))
	}
	switch {
	case !cfg.Sink.Kind.IsValid():
		errs = append(errs, fmt.Errorf("sink.kind %q is invalid; valid values: wav, ogg, rtp", cfg.Sink.Kind))
	case cfg.Sink.Kind == SinkRTP:
		if cfg.Sink.Host == "" {
			errs = append(errs, errors.New("sink.host is required for the rtp sink"))
		}
		if cfg.Sink.Port < 0 || cfg.Sink.Port > 65535 {
			errs = append(errs, fmt.Errorf("sink.port %d out of range", cfg.Sink.Port))
		}
	default:
		if cfg.Sink.Path == "" {
			errs = append(errs, fmt.Errorf("sink.path is required for the %s sink", cfg.Sink.Kind))
		}
	}

	// Capture
	if cfg.Capture.BufferBytes < 0 {
		errs = append(errs, fmt.Errorf("capture.buffer_bytes must not be negative, got %d", cfg.Capture.BufferBytes))
	}

	return errors.Join(errs...)
}
