package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in implementations per provider kind.
// [Validate] warns about names outside this list.
var ValidProviderNames = map[string][]string{
	"engine":  {"deepgram", "whisper", "whisper-native"},
	"capture": {"malgo", "wav"},
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg is coherent. It returns every failure joined into
// one error and logs warnings for suspicious but usable values.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Engine
	if cfg.Engine.Name == "" {
		if len(cfg.Engine.Fallbacks) > 0 {
			errs = append(errs, errors.New("engine.fallbacks requires engine.name"))
		} else {
			slog.Warn("engine.name is empty; transcription will be unavailable")
		}
	}
	validateProviderName("engine", cfg.Engine.Name)
	seen := map[string]string{cfg.Engine.Name: "engine"}
	for i, fb := range cfg.Engine.Fallbacks {
		prefix := fmt.Sprintf("engine.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName("engine", fb.Name)
		if prev, ok := seen[fb.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
	}
	b := cfg.Engine.Breaker
	if b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("engine.breaker values must not be negative"))
	}

	// Capture
	if cfg.Capture.Name == "" {
		errs = append(errs, errors.New("capture.name is required"))
	}
	validateProviderName("capture", cfg.Capture.Name)
	if cfg.Capture.Name == "wav" {
		if p, _ := cfg.Capture.Options["path"].(string); p == "" {
			errs = append(errs, errors.New("capture.options.path is required for the wav device"))
		}
	}

	// Session
	s := cfg.Session
	if s.Permission != "" && !s.Permission.IsValid() {
		errs = append(errs, fmt.Errorf("session.permission %q is invalid; valid values: grant, deny", s.Permission))
	}
	if s.Permission == PermissionDeny {
		slog.Warn("session.permission is deny; every start request will be rejected")
	}
	if s.ConversionWorkers < 0 || s.QueueSize < 0 || s.StreamCapacity < 0 || s.FinalizeTimeout < 0 {
		errs = append(errs, errors.New("session: conversion_workers, queue_size, stream_capacity and finalize_timeout must not be negative"))
	}
	for i, kw := range s.Keywords {
		if strings.TrimSpace(kw.Keyword) == "" {
			errs = append(errs, fmt.Errorf("session.keywords[%d].keyword is required", i))
		}
	}
	if len(s.AnnotationDelimiter) > 0 && strings.TrimSpace(s.AnnotationDelimiter) == "" {
		errs = append(errs, errors.New("session.annotation_delimiter must not be whitespace"))
	}

	if cfg.Journal.Buffer < 0 {
		errs = append(errs, errors.New("journal.buffer must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is set but not a built-in name for
// kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
