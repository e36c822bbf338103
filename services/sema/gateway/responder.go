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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/AleutianAI/semagate/services/sema/hmacauth"
	"github.com/AleutianAI/semagate/services/sema/jsonenc"
	"github.com/AleutianAI/semagate/services/sema/observability"
)

const mimePlain = "text/plain; charset=utf-8"

// errUnknown stands in for a nil error handed to Respond.
var errUnknown = errors.New("unknown error")

// Responder turns failures into error responses.
//
// # Description
//
// The body is an ErrorBody encoded with the same encoder as successful
// responses. With a Signer, the response also carries the base64
// HMAC-SHA256 of the body in the signer's header. Successful responses are
// never signed.
//
// If the body cannot be encoded or signed, a plain-text body is sent
// instead; Respond never panics.
//
// # Thread Safety
//
// Safe for concurrent use.
type Responder struct {
	signer  *hmacauth.Signer
	encoder *jsonenc.Encoder
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewResponder creates a Responder.
//
// # Inputs
//
//   - signer: Signs error bodies. Nil sends them unsigned.
//   - encoder: Body encoder. Nil selects a default encoder.
//   - metrics: May be nil.
//   - logger: Nil selects slog.Default().
func NewResponder(signer *hmacauth.Signer, encoder *jsonenc.Encoder, metrics *observability.Metrics, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	if encoder == nil {
		encoder = jsonenc.New(logger, metrics)
	}
	return &Responder{
		signer:  signer,
		encoder: encoder,
		metrics: metrics,
		logger:  logger,
	}
}

// Middleware recovers panics and answers errors recorded with c.Error.
//
// # Description
//
// Must run before the handlers it covers. A panic becomes a *PanicError
// response; http.ErrAbortHandler is re-raised so net/http can drop the
// connection. When the chain finishes with errors and nothing has been
// written, the last error is answered.
func (r *Responder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}
			c.Abort()
			r.Respond(c, &PanicError{Value: v, Stack: debug.Stack()})
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			r.Respond(c, c.Errors.Last().Err)
		}
	}
}

// Respond writes the error response for err.
func (r *Responder) Respond(c *gin.Context, err error) {
	if err == nil {
		err = errUnknown
	}
	if c.Writer.Written() {
		r.logger.Warn("Response already started, error not sent",
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		return
	}

	status := statusFor(err)
	body := ErrorBody{
		Exception: exceptionName(err),
		Message:   err.Error(),
		Traceback: traceback(err),
	}

	defer func() {
		if v := recover(); v != nil {
			r.plain(c, status, body, fmt.Errorf("panic while responding: %v", v))
		}
	}()

	data, encErr := r.encoder.Marshal(body)
	if encErr != nil {
		r.plain(c, status, body, encErr)
		return
	}

	signed := false
	if r.signer != nil {
		signature, signErr := r.signer.Sign(data)
		if signErr != nil {
			r.plain(c, status, body, signErr)
			return
		}
		c.Header(r.signer.Header(), signature)
		signed = true
	}

	r.metrics.RecordErrorResponse(body.Exception, signed)
	r.logger.Info("Error response sent",
		slog.String("path", c.Request.URL.Path),
		slog.String("exception", body.Exception),
		slog.Int("status", status),
		slog.Bool("signed", signed),
	)
	c.Data(status, binding.MIMEJSON, data)
}

// plain sends a best-effort unsigned text body.
func (r *Responder) plain(c *gin.Context, status int, body ErrorBody, cause error) {
	r.logger.Error("Error response degraded to plain text",
		slog.String("exception", body.Exception),
		slog.String("error", cause.Error()),
	)
	r.metrics.RecordErrorResponse(body.Exception, false)
	if c.Writer.Written() {
		return
	}
	if r.signer != nil {
		c.Writer.Header().Del(r.signer.Header())
	}
	c.Data(status, mimePlain, []byte(body.Exception+": "+body.Message))
}
