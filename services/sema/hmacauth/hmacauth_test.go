// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hmacauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/semagate/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceTag(secret, body []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func TestSigner_SignMatchesReference(t *testing.T) {
	body := []byte(`{"exception":"EngineError","message":"boom","traceback":""}`)

	signer, err := NewSigner([]byte("s3cret"), "")
	require.NoError(t, err)

	sig, err := signer.Sign(body)
	require.NoError(t, err)
	assert.Equal(t, referenceTag([]byte("s3cret"), body), sig)
	assert.Equal(t, DefaultHeader, signer.Header())
	assert.True(t, signer.Verify(body, sig))
	assert.True(t, Verify([]byte("s3cret"), body, sig))
}

func TestSigner_OneByteMutationFails(t *testing.T) {
	body := []byte(`{"message":"boom"}`)

	signer, err := NewSigner([]byte("key"), "X-Custom")
	require.NoError(t, err)
	sig, err := signer.Sign(body)
	require.NoError(t, err)

	mutated := append([]byte(nil), body...)
	mutated[3] ^= 0x01
	assert.False(t, signer.Verify(mutated, sig))
	assert.False(t, Verify([]byte("key"), mutated, sig))
	assert.False(t, Verify([]byte("other"), body, sig))
	assert.False(t, Verify([]byte("key"), body, "not base64!"))
	assert.Equal(t, "X-Custom", signer.Header())
}

func TestNewSigner_WipesCallerSecret(t *testing.T) {
	secret := []byte("wipe-me")
	_, err := NewSigner(secret, "")
	require.NoError(t, err)
	assert.Equal(t, make([]byte, len(secret)), secret)
}

func TestNewSigner_EmptySecret(t *testing.T) {
	_, err := NewSigner(nil, "")
	assert.ErrorIs(t, err, ErrEmptySecret)
}

func TestNilSigner(t *testing.T) {
	var signer *Signer
	_, err := signer.Sign([]byte("x"))
	assert.ErrorIs(t, err, ErrNoSigner)
	assert.False(t, signer.Verify([]byte("x"), "y"))
	assert.Equal(t, DefaultHeader, signer.Header())
}

func TestReadSecretFile_DeletesByDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, WriteSecretFile(path, []byte("abc")))

	secret, err := ReadSecretFile(path, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), secret)

	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "secret file must be removed")
}

func TestReadSecretFile_Keep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, WriteSecretFile(path, []byte("abc")))

	_, err := ReadSecretFile(path, true)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestReadSecretFile_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"bad json", `{`, ErrSecretFile},
		{"bad base64", `{"hmac_secret":"%%%"}`, ErrSecretFile},
		{"empty secret", `{"hmac_secret":""}`, ErrEmptySecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			_, err := ReadSecretFile(path, false)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := ReadSecretFile(filepath.Join(dir, "missing"), false)
	assert.ErrorIs(t, err, ErrSecretFile)
}

func TestLoad_DegradesToUnsigned(t *testing.T) {
	exporter := logging.NewBufferedExporter()
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Quiet: true, Exporter: exporter})
	defer logger.Close()

	assert.Nil(t, Load("", "", false, logger.Slog()))
	assert.Empty(t, exporter.Messages(logging.LevelWarn))

	assert.Nil(t, Load(filepath.Join(t.TempDir(), "missing.json"), "", false, logger.Slog()))
	assert.Len(t, exporter.Messages(logging.LevelWarn), 1)
}

func TestLoad_Enabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, WriteSecretFile(path, []byte("k")))

	signer := Load(path, "X-Sig", false, nil)
	require.NotNil(t, signer)
	sig, err := signer.Sign([]byte("body"))
	require.NoError(t, err)
	assert.Equal(t, Compute([]byte("k"), []byte("body")), sig)
}
