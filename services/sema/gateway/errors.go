// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/AleutianAI/semagate/services/sema/settings"
)

// ErrRateLimited is returned when the request rate limiter rejects a request.
var ErrRateLimited = errors.New("rate limit exceeded")

// Exception names reported in ErrorBody.Exception.
const (
	ExceptionPanic     = "PanicError"
	ExceptionRequest   = "RequestError"
	ExceptionSettings  = "SettingsError"
	ExceptionTimeout   = "TimeoutError"
	ExceptionCancelled = "CancelledError"
	ExceptionEngine    = "EngineError"
	ExceptionRateLimit = "RateLimitError"
	ExceptionInternal  = "InternalError"
)

// RequestError is a request body that could not be decoded or validated.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: invalid request: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// EngineError is a failure reported by the engine backend.
type EngineError struct {
	Op     string
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: engine %s: %v", e.Op, e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// PanicError is a panic recovered while serving a request.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// exceptionName classifies err for ErrorBody.Exception.
func exceptionName(err error) string {
	var (
		panicErr   *PanicError
		requestErr *RequestError
		engineErr  *EngineError
	)
	switch {
	case errors.As(err, &panicErr):
		return ExceptionPanic
	case errors.Is(err, ErrRateLimited):
		return ExceptionRateLimit
	case errors.Is(err, settings.ErrInvalidSetting), errors.Is(err, settings.ErrEmptySettingName):
		return ExceptionSettings
	case errors.As(err, &requestErr):
		return ExceptionRequest
	case errors.Is(err, context.DeadlineExceeded):
		return ExceptionTimeout
	case errors.Is(err, context.Canceled):
		return ExceptionCancelled
	case errors.As(err, &engineErr):
		return ExceptionEngine
	default:
		return ExceptionInternal
	}
}

// statusFor returns the HTTP status of an error response. Everything but
// rate limiting is a 500, which is what clients check for.
func statusFor(err error) int {
	if errors.Is(err, ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// traceback renders err for ErrorBody.Traceback.
//
// A panic yields its goroutine stack. Any other error yields one line per
// wrapped error, outermost first; branches of errors.Join are indented.
func traceback(err error) string {
	var panicErr *PanicError
	if errors.As(err, &panicErr) && len(panicErr.Stack) > 0 {
		return string(panicErr.Stack)
	}
	var b strings.Builder
	writeChain(&b, err, 0)
	return b.String()
}

func writeChain(b *strings.Builder, err error, depth int) {
	indent := strings.Repeat("  ", depth)
	for err != nil {
		fmt.Fprintf(b, "%s%T: %s\n", indent, err, err.Error())
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				writeChain(b, inner, depth+1)
			}
			return
		case interface{ Unwrap() error }:
			err = x.Unwrap()
		default:
			return
		}
	}
}
