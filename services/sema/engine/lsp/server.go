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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultCommand is the language server started when none is configured.
	DefaultCommand = "sourcekit-lsp"

	// DefaultStartTimeout bounds the initialize handshake.
	DefaultStartTimeout = 30 * time.Second

	shutdownGrace = 5 * time.Second
)

// Config configures the language server backend.
type Config struct {
	// Command is the server executable. Default: sourcekit-lsp.
	Command string

	// Args are passed to Command.
	Args []string

	// RootPath is the workspace root. Default: the working directory.
	RootPath string

	// LanguageID is sent on didOpen. Default: swift.
	LanguageID string

	// StartTimeout bounds process start plus initialize.
	StartTimeout time.Duration

	// InitializationOptions is forwarded verbatim on initialize.
	InitializationOptions any

	// Launcher starts the process. Nil selects ExecLauncher.
	Launcher Launcher

	// Logger receives lifecycle logs. Nil selects slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.LanguageID == "" {
		c.LanguageID = "swift"
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.RootPath == "" {
		if wd, err := os.Getwd(); err == nil {
			c.RootPath = wd
		}
	}
	if c.Launcher == nil {
		c.Launcher = ExecLauncher
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Process is a started language server process.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Wait() error
	Kill() error
}

// Launcher starts a language server process for cfg.
type Launcher func(ctx context.Context, cfg Config) (Process, error)

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.ReadCloser { return p.stdout }
func (p *execProcess) Wait() error           { return p.cmd.Wait() }
func (p *execProcess) Kill() error           { return p.cmd.Process.Kill() }

// ExecLauncher starts cfg.Command as a child process.
//
// # Description
//
// The process is not bound to ctx: a language server outlives the request
// that started it. Stderr is discarded.
//
// # Outputs
//
//   - Process: The running process.
//   - error: ErrServerNotInstalled when Command is not on PATH.
func ExecLauncher(_ context.Context, cfg Config) (Process, error) {
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServerNotInstalled, cfg.Command)
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.RootPath

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}
	return &execProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

// ServerState is the lifecycle state of a Server.
type ServerState int

const (
	ServerStateUninitialized ServerState = iota
	ServerStateStarting
	ServerStateReady
	ServerStateStopping
	ServerStateStopped
)

func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// Server owns one language server process.
//
// # Description
//
// Start launches the process and runs the initialize handshake. When the
// process exits on its own the state moves to stopped and later requests
// fail with ErrServerNotRunning, which the Backend takes as the signal to
// replace the server.
//
// # Thread Safety
//
// Safe for concurrent use.
type Server struct {
	cfg    Config
	logger *slog.Logger

	proc         Process
	protocol     *Protocol
	capabilities ServerCapabilities

	state   ServerState
	stateMu sync.RWMutex

	cancel   context.CancelFunc
	readDone chan struct{}
	stopOnce sync.Once
}

// NewServer creates a Server that has not been started.
func NewServer(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("component", "lsp"), slog.String("command", cfg.Command)),
		state:    ServerStateUninitialized,
		readDone: make(chan struct{}),
	}
}

// Start launches the process and performs the initialize handshake.
//
// # Inputs
//
//   - ctx: Bounds the handshake together with Config.StartTimeout.
//
// # Outputs
//
//   - error: ErrServerAlreadyStarted, ErrServerNotInstalled or
//     ErrInitializeFailed, wrapped.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.stateMu.Lock()
	if s.state != ServerStateUninitialized {
		s.stateMu.Unlock()
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	s.stateMu.Unlock()

	s.logger.Info("Starting language server", slog.String("root_path", s.cfg.RootPath))

	startCtx, cancelStart := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancelStart()

	proc, err := s.cfg.Launcher(startCtx, s.cfg)
	if err != nil {
		s.setState(ServerStateStopped)
		close(s.readDone)
		return err
	}
	s.proc = proc
	s.protocol = NewProtocol(proc.Stdout(), proc.Stdin())

	var readCtx context.Context
	readCtx, s.cancel = context.WithCancel(context.Background())
	go func() {
		defer close(s.readDone)
		err := s.protocol.ReadLoop(readCtx)
		if s.State() == ServerStateReady {
			s.logger.Warn("Language server exited unexpectedly", slog.Any("error", err))
			s.setState(ServerStateStopped)
		}
	}()

	if err := s.initialize(startCtx); err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.setState(ServerStateReady)
	s.logger.Info("Language server ready",
		slog.Bool("declaration", s.capabilities.HasDeclarationProvider()),
		slog.Bool("document_symbol", s.capabilities.HasDocumentSymbolProvider()),
	)
	return nil
}

func (s *Server) initialize(ctx context.Context) error {
	rootURI := pathToURI(s.cfg.RootPath)

	caps := ClientCapabilities{
		General:      &GeneralClientCapabilities{PositionEncodings: clientEncodings},
		TextDocument: TextDocumentClientCapabilities{
			Synchronization: &SyncCapabilities{},
			Completion:      &CompletionCapabilities{},
			Definition:      &LinkCapabilities{LinkSupport: true},
			Declaration:     &LinkCapabilities{LinkSupport: true},
			References:      &struct{}{},
			DocumentSymbol:  &DocumentSymbolCapabilities{HierarchicalDocumentSymbolSupport: true},
		},
	}
	caps.TextDocument.Completion.CompletionItem.DocumentationFormat = []string{"plaintext", "markdown"}

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               rootURI,
		RootPath:              s.cfg.RootPath,
		Capabilities:          caps,
		InitializationOptions: s.cfg.InitializationOptions,
		WorkspaceFolders:      []WorkspaceFolder{{URI: rootURI, Name: filepath.Base(s.cfg.RootPath)}},
	}

	resp, err := s.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	s.capabilities = result.Capabilities

	if err := s.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// Shutdown asks the server to exit and reaps the process.
//
// # Description
//
// Sends shutdown and exit, closes stdin, and kills the process if it has
// not exited within the grace period. Safe to call more than once and on
// a server that already crashed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.setState(ServerStateStopping)
		s.logger.Info("Shutting down language server")

		if s.protocol != nil && !s.protocol.Closed() {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
			_, _ = s.protocol.SendRequest(shutdownCtx, "shutdown", nil)
			cancel()
			_ = s.protocol.SendNotification("exit", nil)
		}
		if s.protocol != nil {
			s.protocol.Close()
		}

		if s.proc != nil {
			_ = s.proc.Stdin().Close()

			done := make(chan struct{})
			go func() {
				_ = s.proc.Wait()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(shutdownGrace):
				_ = s.proc.Kill()
				<-done
			}
			_ = s.proc.Stdout().Close()
		}

		if s.cancel != nil {
			s.cancel()
		}
		select {
		case <-s.readDone:
		case <-time.After(time.Second):
		}
		s.setState(ServerStateStopped)
	})
	return nil
}

// State returns the current lifecycle state.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Capabilities returns what the server announced on initialize.
func (s *Server) Capabilities() ServerCapabilities {
	return s.capabilities
}

// Request sends a request to a ready server.
func (s *Server) Request(ctx context.Context, method string, params any) (*Response, error) {
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	return s.protocol.SendRequest(ctx, method, params)
}

// Notify sends a notification to a ready server.
func (s *Server) Notify(method string, params any) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	return s.protocol.SendNotification(method, params)
}

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

func pathToURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// uriToPath returns the local path of a file URI, or the URI unchanged
// for other schemes.
func uriToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	return filepath.FromSlash(u.Path)
}
