// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hmacauth signs response bodies with a shared secret.
//
// # Description
//
// The tag is base64(HMAC-SHA256(secret, body)), carried in a response
// header. A client holding the same secret recomputes it to check that an
// error body came from this process. Only the body is covered.
//
// The secret is handed to the process in a JSON file
// {"hmac_secret": "<base64>"} that is deleted once read, and kept in a
// memguard enclave (encrypted at rest in memory) afterwards.
//
// # Thread Safety
//
// Signer is safe for concurrent use.
package hmacauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/awnumar/memguard"
)

// DefaultHeader is the response header that carries the signature.
const DefaultHeader = "X-Semagate-Hmac"

var (
	// ErrEmptySecret is returned when the decoded secret has no bytes.
	ErrEmptySecret = errors.New("hmac secret is empty")

	// ErrSecretFile is returned when the secret file cannot be read or parsed.
	ErrSecretFile = errors.New("invalid hmac secret file")

	// ErrNoSigner is returned by a nil Signer.
	ErrNoSigner = errors.New("no hmac secret configured")
)

// secretFile is the on-disk format of the secret file.
type secretFile struct {
	HMACSecret string `json:"hmac_secret"`
}

// Signer computes signatures with a secret held in protected memory.
type Signer struct {
	enclave *memguard.Enclave
	header  string
}

// NewSigner creates a Signer.
//
// # Description
//
// The secret is moved into an enclave and the caller's slice is wiped.
//
// # Inputs
//
//   - secret: Raw secret bytes. Zeroed on return.
//   - header: Response header name. Empty selects DefaultHeader.
//
// # Outputs
//
//   - *Signer: Ready signer.
//   - error: ErrEmptySecret if secret is empty.
func NewSigner(secret []byte, header string) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if header == "" {
		header = DefaultHeader
	}
	return &Signer{
		enclave: memguard.NewEnclave(secret),
		header:  header,
	}, nil
}

// Header returns the header name the signature is sent in.
func (s *Signer) Header() string {
	if s == nil {
		return DefaultHeader
	}
	return s.header
}

// Sign returns base64(HMAC-SHA256(secret, body)).
//
// # Outputs
//
//   - string: Standard base64 encoding with padding.
//   - error: ErrNoSigner on a nil Signer, or an enclave failure.
func (s *Signer) Sign(body []byte) (string, error) {
	if s == nil || s.enclave == nil {
		return "", ErrNoSigner
	}
	key, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening hmac secret: %w", err)
	}
	defer key.Destroy()
	return base64.StdEncoding.EncodeToString(mac(key.Bytes(), body)), nil
}

// Verify reports whether signature is the tag of body under this
// Signer's secret.
func (s *Signer) Verify(body []byte, signature string) bool {
	if s == nil || s.enclave == nil {
		return false
	}
	key, err := s.enclave.Open()
	if err != nil {
		return false
	}
	defer key.Destroy()
	return verify(key.Bytes(), body, signature)
}

// Compute returns base64(HMAC-SHA256(secret, body)) for a plain secret.
// Intended for clients and tests.
func Compute(secret, body []byte) string {
	return base64.StdEncoding.EncodeToString(mac(secret, body))
}

// Verify checks signature against body in constant time.
func Verify(secret, body []byte, signature string) bool {
	return verify(secret, body, signature)
}

func mac(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}

func verify(secret, body []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, mac(secret, body))
}

// ReadSecretFile reads a base64 secret from a JSON secret file.
//
// # Description
//
// Parses {"hmac_secret": "<base64>"}. Unless keep is set, the file is
// removed after a successful read, so the secret only lives in this
// process.
//
// # Inputs
//
//   - path: Secret file path.
//   - keep: Leave the file in place.
//
// # Outputs
//
//   - []byte: Decoded secret.
//   - error: ErrSecretFile or ErrEmptySecret, wrapped with the cause.
func ReadSecretFile(path string, keep bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretFile, err)
	}
	defer memguard.WipeBytes(data)

	var sf secretFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSecretFile, err)
	}
	secret, err := base64.StdEncoding.DecodeString(sf.HMACSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: hmac_secret is not base64: %w", ErrSecretFile, err)
	}
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	if !keep {
		if err := os.Remove(path); err != nil {
			slog.Warn("Could not remove hmac secret file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	return secret, nil
}

// WriteSecretFile writes secret to path in the format ReadSecretFile
// expects, readable by the owner only. Used by launchers and tests.
func WriteSecretFile(path string, secret []byte) error {
	data, err := json.Marshal(secretFile{HMACSecret: base64.StdEncoding.EncodeToString(secret)})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Load builds a Signer from a secret file, degrading to unsigned.
//
// # Description
//
// An empty path means no secret was configured and returns nil without
// logging. Any failure to read or decode the secret is logged as a
// warning and also returns nil: responses then go out unsigned instead
// of the process refusing to start.
//
// # Inputs
//
//   - path: Secret file path. May be empty.
//   - header: Header name. Empty selects DefaultHeader.
//   - keep: Leave the secret file in place.
//   - logger: Warning destination. Nil selects slog.Default().
//
// # Outputs
//
//   - *Signer: Signer, or nil for unsigned responses.
func Load(path, header string, keep bool, logger *slog.Logger) *Signer {
	if path == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	secret, err := ReadSecretFile(path, keep)
	if err != nil {
		logger.Warn("HMAC secret unavailable, error responses will be unsigned",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil
	}
	signer, err := NewSigner(secret, header)
	if err != nil {
		logger.Warn("HMAC secret rejected, error responses will be unsigned",
			slog.String("error", err.Error()),
		)
		return nil
	}
	logger.Info("HMAC signing enabled for error responses",
		slog.String("header", signer.Header()),
	)
	return signer
}

// Purge wipes every protected buffer, including all Signer secrets.
// Call once during shutdown; Signers are unusable afterwards.
func Purge() {
	memguard.Purge()
}
