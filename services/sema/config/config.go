// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the gateway configuration.
//
// Precedence, lowest first: DefaultConfig(), the YAML file, SEMAGATE_*
// environment variables, command-line flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/semagate/services/sema/telemetry"
)

// Backend names accepted in engine.backend.
const (
	BackendLSP          = "lsp"
	BackendSourceKitten = "sourcekitten"
	BackendNone         = "none"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Engine    EngineConfig     `yaml:"engine"`
	Settings  SettingsConfig   `yaml:"settings"`
	Signing   SigningConfig    `yaml:"signing"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Host is the interface to bind. Default: 127.0.0.1.
	Host string `yaml:"host"`

	// Port is the TCP port. 0 picks a free port, reported on stdout.
	Port int `yaml:"port"`

	// Debug switches gin to debug mode.
	Debug bool `yaml:"debug"`

	// MaxBodyBytes caps request bodies. Default: 1000 KiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit throttles requests before they reach the gate.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the token-bucket limiter.
type RateLimitConfig struct {
	// RPS is the sustained request rate. 0 disables limiting.
	RPS float64 `yaml:"rps"`

	// Burst is the bucket size. Defaults to 1 when RPS is set.
	Burst int `yaml:"burst"`
}

// EngineConfig selects and configures the engine backend.
type EngineConfig struct {
	// Backend is "lsp", "sourcekitten" or "none".
	Backend string `yaml:"backend"`

	// Command is the backend executable. Defaults per backend.
	Command string `yaml:"command"`

	// Args are extra process arguments.
	Args []string `yaml:"args"`

	// RootPath is the workspace root reported to a language server.
	RootPath string `yaml:"root_path"`

	// LanguageID is the language server document language.
	LanguageID string `yaml:"language_id"`

	// Flags are compiler arguments passed with every request. Empty
	// selects the macOS SDK defaults.
	Flags []string `yaml:"flags"`

	// CallTimeout bounds each engine call. 0 means unbounded: a hung
	// engine then holds the gate forever.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// StartTimeout bounds backend process startup.
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// SettingsConfig holds the engine settings defaults.
type SettingsConfig struct {
	Defaults map[string]any `yaml:"defaults"`
}

// SigningConfig configures error-response signatures.
type SigningConfig struct {
	// SecretFile is a JSON file {"hmac_secret": "<base64>"}.
	SecretFile string `yaml:"secret_file"`

	// Header is the response header carrying the signature.
	Header string `yaml:"header"`

	// KeepSecretFile leaves the secret file on disk after reading.
	KeepSecretFile bool `yaml:"keep_secret_file"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	// Level is DEBUG, INFO, WARN/WARNING or ERROR.
	Level string `yaml:"level"`

	// Dir enables JSON file logs in this directory.
	Dir string `yaml:"dir"`

	// JSON forces JSON console output.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns the configuration used without a file.
func DefaultConfig() Config {
	tel := telemetry.DefaultConfig()
	tel.TraceExporter = "none"
	tel.MetricExporter = "prometheus"

	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			MaxBodyBytes:    1000 * 1024,
			ShutdownTimeout: 5 * time.Second,
		},
		Engine: EngineConfig{
			Backend:      BackendLSP,
			LanguageID:   "swift",
			StartTimeout: 30 * time.Second,
		},
		Settings: SettingsConfig{
			Defaults: map[string]any{"case_insensitive_completion": ""},
		},
		Signing: SigningConfig{},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Telemetry: tel,
	}
}

// Load reads the YAML file at path over DefaultConfig and applies
// environment overrides.
//
// # Description
//
// An empty path skips the file. A path that does not exist is an error:
// a configuration the user named must not be silently ignored.
//
// # Outputs
//
//   - Config: Merged configuration, validated.
//   - error: Read, parse or validation failure.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SEMAGATE_* variables.
//
// # Inputs
//
//   - lookup: Variable lookup, os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SEMAGATE_HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := lookup("SEMAGATE_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SEMAGATE_PORT=%q: %v", ErrInvalidConfig, v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("SEMAGATE_BACKEND"); ok {
		c.Engine.Backend = v
	}
	if v, ok := lookup("SEMAGATE_ENGINE_COMMAND"); ok {
		c.Engine.Command = v
	}
	if v, ok := lookup("SEMAGATE_ENGINE_FLAGS"); ok {
		c.Engine.Flags = strings.Fields(v)
	}
	if v, ok := lookup("SEMAGATE_HMAC_SECRET_FILE"); ok {
		c.Signing.SecretFile = v
	}
	if v, ok := lookup("SEMAGATE_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be positive"))
	}
	if c.Server.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.rps must not be negative"))
	}
	switch c.Engine.Backend {
	case BackendLSP, BackendSourceKitten, BackendNone:
	default:
		errs = append(errs, fmt.Errorf("engine.backend %q is not one of lsp, sourcekitten, none", c.Engine.Backend))
	}
	if c.Engine.CallTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.call_timeout must not be negative"))
	}
	switch strings.ToUpper(c.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not recognized", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Address returns host:port for the listener.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
