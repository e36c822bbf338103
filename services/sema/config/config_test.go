// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8080", cfg.Address())
	assert.Equal(t, BackendLSP, cfg.Engine.Backend)
	assert.Equal(t, time.Duration(0), cfg.Engine.CallTimeout)
	assert.Equal(t, map[string]any{"case_insensitive_completion": ""}, cfg.Settings.Defaults)
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semagate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
engine:
  backend: sourcekitten
  call_timeout: 10s
  flags: ["-sdk", "/sdk", "-target", "arm64-apple-macosx13"]
signing:
  secret_file: /tmp/secret.json
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, BackendSourceKitten, cfg.Engine.Backend)
	assert.Equal(t, 10*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, []string{"-sdk", "/sdk", "-target", "arm64-apple-macosx13"}, cfg.Engine.Flags)
	assert.Equal(t, "/tmp/secret.json", cfg.Signing.SecretFile)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unterminated"), 0600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"SEMAGATE_HOST":             "0.0.0.0",
		"SEMAGATE_PORT":             "7000",
		"SEMAGATE_BACKEND":          "none",
		"SEMAGATE_ENGINE_FLAGS":     "-sdk /x  -target y",
		"SEMAGATE_HMAC_SECRET_FILE": "/run/s.json",
		"SEMAGATE_LOG_LEVEL":        "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7000", cfg.Address())
	assert.Equal(t, BackendNone, cfg.Engine.Backend)
	assert.Equal(t, []string{"-sdk", "/x", "-target", "y"}, cfg.Engine.Flags)
	assert.Equal(t, "/run/s.json", cfg.Signing.SecretFile)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_BadPort(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(envMap(map[string]string{"SEMAGATE_PORT": "eighty"}))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate_CollectsErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{"rate", func(c *Config) { c.Server.RateLimit.RPS = -1 }},
		{"backend", func(c *Config) { c.Engine.Backend = "jedi" }},
		{"timeout", func(c *Config) { c.Engine.CallTimeout = -time.Second }},
		{"log level", func(c *Config) { c.Logging.Level = "LOUD" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestAddress_IPv6(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Host = "::1"
	cfg.Server.Port = 1
	assert.Equal(t, "[::1]:1", cfg.Address())
}
