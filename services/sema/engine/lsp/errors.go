// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package lsp

import (
	"errors"
	"fmt"
)

var (
	// ErrServerNotRunning indicates the server is not in a ready state.
	ErrServerNotRunning = errors.New("lsp server not running")

	// ErrServerNotInstalled indicates the server binary was not found.
	ErrServerNotInstalled = errors.New("lsp server not installed")

	// ErrInitializeFailed indicates the initialize handshake failed.
	ErrInitializeFailed = errors.New("lsp initialize failed")

	// ErrRequestTimeout indicates the request context ended first.
	ErrRequestTimeout = errors.New("lsp request timeout")

	// ErrServerCrashed indicates the server process went away.
	ErrServerCrashed = errors.New("lsp server crashed")

	// ErrInvalidResponse indicates a result that could not be parsed.
	ErrInvalidResponse = errors.New("invalid lsp response")

	// ErrServerAlreadyStarted indicates Start was called twice.
	ErrServerAlreadyStarted = errors.New("server already started")
)

// JSON-RPC error codes the backend reacts to.
const (
	codeMethodNotFound       = -32601
	codeServerNotInitialized = -32002
	codeConnectionClosed     = -32099
)

// ResponseErr is an error answer from the server.
type ResponseErr struct {
	Code    int
	Message string
	Data    any
}

func (e *ResponseErr) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("lsp error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("lsp error %d: %s", e.Code, e.Message)
}

// IsMethodNotFound reports whether the server lacks the method.
func (e *ResponseErr) IsMethodNotFound() bool {
	return e.Code == codeMethodNotFound
}

// IsConnectionClosed reports whether the error was synthesized because
// the connection closed with the request in flight.
func (e *ResponseErr) IsConnectionClosed() bool {
	return e.Code == codeConnectionClosed
}

// isRestartable reports whether err means the process should be
// replaced before the call is tried again.
func isRestartable(err error) bool {
	if errors.Is(err, ErrServerCrashed) || errors.Is(err, ErrServerNotRunning) {
		return true
	}
	var re *ResponseErr
	if errors.As(err, &re) {
		return re.IsConnectionClosed() || re.Code == codeServerNotInitialized
	}
	return false
}
