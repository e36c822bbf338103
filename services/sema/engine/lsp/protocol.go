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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// JSONRPCVersion is the protocol version sent on every message.
const JSONRPCVersion = "2.0"

// Request is an outgoing JSON-RPC request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Notification is an outgoing JSON-RPC notification.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an answer to one of our requests.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error member of a Response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// envelope is any incoming message before it is classified.
type envelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// reply answers a request the server sent us.
type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// Protocol speaks Content-Length framed JSON-RPC over a stream pair.
//
// # Description
//
// Requests are matched to responses by ID. One goroutine must run
// ReadLoop; when it ends, every in-flight request fails with a
// connection-closed error instead of waiting for an answer that cannot
// arrive. Requests from the server (progress tokens, configuration
// pulls) are acknowledged with a null result. Server notifications are
// dropped.
//
// # Thread Safety
//
// Safe for concurrent use.
type Protocol struct {
	reader    *bufio.Reader
	writer    io.Writer
	writeMu   sync.Mutex
	nextID    atomic.Int64
	pending   map[int64]chan Response
	pendingMu sync.Mutex
	closed    atomic.Bool
}

// NewProtocol creates a Protocol reading r and writing w.
func NewProtocol(r io.Reader, w io.Writer) *Protocol {
	var reader *bufio.Reader
	if r != nil {
		reader = bufio.NewReader(r)
	}
	return &Protocol{
		reader:  reader,
		writer:  w,
		pending: make(map[int64]chan Response),
	}
}

// SendRequest sends method and waits for its response.
//
// # Inputs
//
//   - ctx: Bounds the wait. Must not be nil.
//   - method: LSP method name.
//   - params: Marshalled as the params member.
//
// # Outputs
//
//   - *Response: The matching response, Result set.
//   - error: ErrServerNotRunning, ErrRequestTimeout, or *ResponseErr.
func (p *Protocol) SendRequest(ctx context.Context, method string, params any) (*Response, error) {
	if ctx == nil {
		return nil, errors.New("ctx must not be nil")
	}
	if p.closed.Load() {
		return nil, ErrServerNotRunning
	}

	id := p.nextID.Add(1)
	respCh := make(chan Response, 1)

	p.pendingMu.Lock()
	p.pending[id] = respCh
	p.pendingMu.Unlock()

	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, id)
		p.pendingMu.Unlock()
	}()

	req := Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
	if err := p.writeMessage(req); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrServerCrashed, method, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestTimeout, method, ctx.Err())
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrServerNotRunning
		}
		if resp.Error != nil {
			return nil, &ResponseErr{
				Code:    resp.Error.Code,
				Message: resp.Error.Message,
				Data:    resp.Error.Data,
			}
		}
		return &resp, nil
	}
}

// SendNotification sends a notification without waiting.
func (p *Protocol) SendNotification(method string, params any) error {
	if p.closed.Load() {
		return ErrServerNotRunning
	}
	if err := p.writeMessage(Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrServerCrashed, method, err)
	}
	return nil
}

func (p *Protocol) writeMessage(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := fmt.Fprintf(p.writer, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := p.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// ReadLoop dispatches incoming messages until the stream ends.
//
// # Outputs
//
//   - error: ErrServerCrashed on EOF, nil after Close, ctx.Err() on
//     cancellation, otherwise the read failure.
func (p *Protocol) ReadLoop(ctx context.Context) error {
	if p.reader == nil {
		return errors.New("no reader configured")
	}
	defer p.failPending("server connection closed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := p.readMessage()
		if err != nil {
			if p.closed.Load() {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				return ErrServerCrashed
			}
			return fmt.Errorf("read: %w", err)
		}

		p.handleMessage(msg)
	}
}

func (p *Protocol) readMessage() (json.RawMessage, error) {
	contentLength := -1

	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid Content-Length value %q: %w", value, err)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative Content-Length: %d", n)
		}
		contentLength = n
	}

	if contentLength <= 0 {
		return nil, errors.New("missing or zero Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(p.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (p *Protocol) handleMessage(msg json.RawMessage) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return
	}

	hasID := len(env.ID) > 0 && string(env.ID) != "null"
	switch {
	case hasID && env.Method != "":
		// Server-to-client request; an unanswered one can stall the server.
		_ = p.writeMessage(reply{JSONRPC: JSONRPCVersion, ID: env.ID, Result: nil})

	case hasID:
		id, err := strconv.ParseInt(string(env.ID), 10, 64)
		if err != nil {
			return
		}
		p.pendingMu.Lock()
		ch, ok := p.pending[id]
		p.pendingMu.Unlock()
		if ok {
			select {
			case ch <- Response{JSONRPC: JSONRPCVersion, ID: id, Result: env.Result, Error: env.Error}:
			default:
			}
		}
	}
}

// Close marks the protocol closed and fails in-flight requests.
func (p *Protocol) Close() {
	p.closed.Store(true)
	p.failPending("server connection closed")
}

// Closed reports whether Close was called or the read loop ended.
func (p *Protocol) Closed() bool {
	return p.closed.Load()
}

func (p *Protocol) failPending(message string) {
	p.closed.Store(true)

	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for id, ch := range p.pending {
		select {
		case ch <- Response{
			JSONRPC: JSONRPCVersion,
			ID:      id,
			Error:   &ResponseError{Code: codeConnectionClosed, Message: message},
		}:
		default:
		}
		delete(p.pending, id)
	}
}
