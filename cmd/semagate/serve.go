// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/semagate/pkg/logging"
	"github.com/AleutianAI/semagate/services/sema/config"
	"github.com/AleutianAI/semagate/services/sema/engine"
	"github.com/AleutianAI/semagate/services/sema/engine/lsp"
	"github.com/AleutianAI/semagate/services/sema/engine/sourcekitten"
	"github.com/AleutianAI/semagate/services/sema/gate"
	"github.com/AleutianAI/semagate/services/sema/gateway"
	"github.com/AleutianAI/semagate/services/sema/hmacauth"
	"github.com/AleutianAI/semagate/services/sema/jsonenc"
	"github.com/AleutianAI/semagate/services/sema/observability"
	"github.com/AleutianAI/semagate/services/sema/settings"
	"github.com/AleutianAI/semagate/services/sema/telemetry"
)

// serveOptions holds the serve flags. Only flags the user set override
// the configuration file.
type serveOptions struct {
	configPath string
	host       string
	port       int
	root       string
	secretFile string
	logLevel   string
	logDir     string
	debug      bool
	backend    string
	threads    uint
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long: `Binds the listener, prints "__LISTENINGON: host:port" on stdout and
serves until SIGINT or SIGTERM. With --port 0 a free port is chosen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	bindServeFlags(cmd, opts)
	return cmd
}

func bindServeFlags(cmd *cobra.Command, opts *serveOptions) {
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	f.StringVar(&opts.host, "host", "", "address to bind")
	f.StringVar(&opts.host, "ip", "", "alias of --host")
	f.IntVarP(&opts.port, "port", "p", 0, "TCP port, 0 for any free port")
	f.StringVarP(&opts.root, "root", "r", "", "workspace root reported to the engine")
	f.StringVar(&opts.secretFile, "hmac-file-secret", "", "JSON file with the base64 HMAC secret, deleted after reading")
	f.StringVar(&opts.logLevel, "log", "", "log level: DEBUG, INFO, WARNING or ERROR")
	f.StringVar(&opts.logDir, "log-dir", "", "directory for JSON log files")
	f.BoolVar(&opts.debug, "debug", false, "run gin in debug mode")
	f.StringVar(&opts.backend, "backend", "", "engine backend: lsp, sourcekitten or none")

	// Accepted so existing launchers keep working. Go serves connections
	// on their own goroutines and engine calls are serialized regardless.
	f.UintVarP(&opts.threads, "threads", "n", 4, "ignored")
	_ = f.MarkDeprecated("threads", "requests are served concurrently; the value is ignored")
}

// resolve loads the configuration and applies the flags the user set.
func (o *serveOptions) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") || flags.Changed("ip") {
		cfg.Server.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = o.port
	}
	if flags.Changed("root") {
		cfg.Engine.RootPath = o.root
	}
	if flags.Changed("hmac-file-secret") {
		cfg.Signing.SecretFile = o.secretFile
	}
	if flags.Changed("log") {
		cfg.Logging.Level = o.logLevel
	}
	if flags.Changed("log-dir") {
		cfg.Logging.Dir = o.logDir
	}
	if flags.Changed("debug") {
		cfg.Server.Debug = o.debug
	}
	if flags.Changed("backend") {
		cfg.Engine.Backend = o.backend
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// runServe runs the gateway until ctx ends or a signal arrives.
//
// # Description
//
// Startup order: logging, telemetry, engine, signer, router, listener.
// The handshake line is written to stdout once the listener is bound, so a
// launcher can read the chosen port. On shutdown the HTTP server drains
// in-flight requests before the engine is closed and the HMAC secret
// wiped.
//
// # Inputs
//
//   - ctx: Parent context. Nil selects context.Background().
//   - cfg: Validated configuration.
//   - stdout: Handshake destination.
//
// # Outputs
//
//   - error: Startup or shutdown failure.
func runServe(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "semagate",
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	logger.SetDefault()
	log := logger.Slog()

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Each run owns its registry so a second run in one process does not
	// collide with the first.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	cfg.Telemetry.Registry = registry

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	metrics := observability.NewMetrics(registry)
	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}

	store, err := settings.NewStore(cfg.Settings.Defaults)
	if err != nil {
		return fmt.Errorf("settings defaults: %w", err)
	}

	eng, err := newEngine(cfg.Engine, log)
	if err != nil {
		return err
	}

	signer := hmacauth.Load(cfg.Signing.SecretFile, cfg.Signing.Header, cfg.Signing.KeepSecretFile, log)
	defer hmacauth.Purge()

	encoder := jsonenc.New(log, metrics)
	svc := gateway.NewService(eng, gate.New(metrics), store, metrics, gateway.ServiceConfig{
		Flags:       cfg.Engine.Flags,
		CallTimeout: cfg.Engine.CallTimeout,
	})
	router := gateway.NewRouter(
		gateway.NewHandlers(svc, encoder, log),
		gateway.NewResponder(signer, encoder, metrics, log),
		gateway.RouterConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			Limiter:        gateway.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
			MetricsHandler: metricsHandler,
			Metrics:        metrics,
			Logger:         log,
		},
	)

	listener, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		_ = eng.Close(context.Background())
		return fmt.Errorf("listen on %s: %w", cfg.Address(), err)
	}
	fmt.Fprintf(stdout, "__LISTENINGON: %s\n", listener.Addr().String())

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting semagate",
			"address", listener.Addr().String(),
			"backend", eng.Name(),
			"signed_errors", signer != nil,
			"version", version)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down semagate")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := eng.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("closing engine: %w", err))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// newEngine builds the configured backend. Backends start their processes
// lazily, so this never blocks.
func newEngine(cfg config.EngineConfig, logger *slog.Logger) (engine.Engine, error) {
	switch cfg.Backend {
	case config.BackendLSP:
		return lsp.New(lsp.Config{
			Command:      cfg.Command,
			Args:         cfg.Args,
			RootPath:     cfg.RootPath,
			LanguageID:   cfg.LanguageID,
			StartTimeout: cfg.StartTimeout,
			Logger:       logger,
		}), nil
	case config.BackendSourceKitten:
		return sourcekitten.New(sourcekitten.Config{
			Command: cfg.Command,
			Logger:  logger,
		}), nil
	case config.BackendNone:
		return &engine.Func{BackendName: config.BackendNone, Strict: true}, nil
	default:
		return nil, fmt.Errorf("%w: unknown engine backend %q", config.ErrInvalidConfig, cfg.Backend)
	}
}
