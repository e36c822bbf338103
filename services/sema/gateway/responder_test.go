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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/semagate/services/sema/settings"
)

func TestExceptionName(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"panic", &PanicError{Value: "x"}, ExceptionPanic},
		{"panic with error value", &PanicError{Value: io.EOF}, ExceptionPanic},
		{"rate limit", fmt.Errorf("route: %w", ErrRateLimited), ExceptionRateLimit},
		{"settings", &RequestError{Op: "names", Err: fmt.Errorf("x: %w", settings.ErrInvalidSetting)}, ExceptionSettings},
		{"empty setting name", &RequestError{Op: "names", Err: settings.ErrEmptySettingName}, ExceptionSettings},
		{"request", &RequestError{Op: "names", Err: errors.New("bad json")}, ExceptionRequest},
		{"timeout", &EngineError{Op: "usages", Engine: "lsp", Err: context.DeadlineExceeded}, ExceptionTimeout},
		{"cancelled", fmt.Errorf("waiting for engine gate: %w", context.Canceled), ExceptionCancelled},
		{"engine", &EngineError{Op: "usages", Engine: "lsp", Err: errors.New("crashed")}, ExceptionEngine},
		{"other", errors.New("what"), ExceptionInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exceptionName(tt.err))
		})
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, statusFor(ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&RequestError{Err: errors.New("x")}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

func TestTraceback_Chain(t *testing.T) {
	root := errors.New("pipe closed")
	err := &EngineError{Op: "usages", Engine: "lsp", Err: fmt.Errorf("reading reply: %w", root)}

	lines := strings.Split(strings.TrimRight(traceback(err), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "*gateway.EngineError: usages: engine lsp: reading reply: pipe closed", lines[0])
	assert.Equal(t, "*fmt.wrapError: reading reply: pipe closed", lines[1])
	assert.Equal(t, "*errors.errorString: pipe closed", lines[2])
}

func TestTraceback_Join(t *testing.T) {
	err := fmt.Errorf("shutdown: %w", errors.Join(errors.New("first"), errors.New("second")))

	tb := traceback(err)
	assert.Contains(t, tb, "  *errors.errorString: first\n")
	assert.Contains(t, tb, "  *errors.errorString: second\n")
}

func TestTraceback_PanicStack(t *testing.T) {
	err := &PanicError{Value: "boom", Stack: []byte("goroutine 1 [running]:\n")}
	assert.Equal(t, "goroutine 1 [running]:\n", traceback(err))
}

func TestResponder_NilError(t *testing.T) {
	responder := NewResponder(nil, nil, nil, nil)
	router := gin.New()
	router.GET("/x", func(c *gin.Context) {
		responder.Respond(c, nil)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"exception":"InternalError","message":"unknown error","traceback":"*errors.errorString: unknown error\n"}`, w.Body.String())
}

func TestResponder_AlreadyWritten(t *testing.T) {
	responder := NewResponder(nil, nil, nil, nil)
	router := gin.New()
	router.Use(responder.Middleware())
	router.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, "partial")
		_ = c.Error(errors.New("late failure"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "partial", w.Body.String())
}

func TestResponder_AbortHandlerPanicPropagates(t *testing.T) {
	responder := NewResponder(nil, nil, nil, nil)
	router := gin.New()
	router.Use(responder.Middleware())
	router.GET("/x", func(*gin.Context) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	})
}

func TestResponder_PanicWithErrorValue(t *testing.T) {
	responder := NewResponder(nil, nil, nil, nil)
	router := gin.New()
	router.Use(responder.Middleware())
	router.GET("/x", func(*gin.Context) {
		panic(io.ErrUnexpectedEOF)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"exception":"PanicError"`)
	assert.Contains(t, w.Body.String(), `unexpected EOF`)
}
