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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/semagate/services/sema/observability"
	"github.com/AleutianAI/semagate/services/sema/telemetry"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// ServiceName names server spans. Default: "semagate".
	ServiceName string

	// MaxBodyBytes caps request bodies. 0 disables the cap.
	MaxBodyBytes int64

	// Limiter throttles engine routes. Nil disables throttling.
	Limiter *rate.Limiter

	// MetricsHandler serves GET /metrics. Nil selects promhttp.Handler().
	MetricsHandler http.Handler

	// Metrics records per-request counters. May be nil.
	Metrics *observability.Metrics

	// Logger receives access logs. Nil selects slog.Default().
	Logger *slog.Logger
}

// NewRouter builds the gin engine serving the gateway.
//
// Description:
//
//	Middleware order: request ID, tracing, access log, error responder,
//	body cap. The rate limiter applies to engine routes only, so health
//	probes and /metrics keep answering under load.
//
// Inputs:
//
//	h - Handlers. Must not be nil.
//	responder - Error responder. Must not be nil.
//	cfg - Router options.
//
// Outputs:
//
//	*gin.Engine - Ready to serve.
func NewRouter(h *Handlers, responder *Responder, cfg RouterConfig) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "semagate"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(telemetry.GinMiddleware(cfg.ServiceName))
	router.Use(accessLog(cfg.Logger, cfg.Metrics))
	router.Use(responder.Middleware())
	if cfg.MaxBodyBytes > 0 {
		router.Use(bodyLimit(cfg.MaxBodyBytes))
	}

	RegisterRoutes(router, h, cfg.Limiter)
	router.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	router.NoRoute(h.HandleNotFound)

	return router
}

// RegisterRoutes registers the gateway routes on r.
//
// Endpoints:
//
//	GET|POST /healthy - Liveness probe
//	GET|POST /ready - Readiness probe
//	POST /completions - Completions at a position
//	POST /gotodefinition - Definitions of the symbol at a position
//	POST /gotoassignment - Assignments of the symbol at a position
//	POST /usages - Usages of the symbol at a position
//	POST /names - Names declared in a file
//	POST /preload_module - Load modules ahead of use
func RegisterRoutes(r gin.IRouter, h *Handlers, limiter *rate.Limiter) {
	r.Match([]string{http.MethodGet, http.MethodPost}, "/healthy", h.HandleHealthy)
	r.Match([]string{http.MethodGet, http.MethodPost}, "/ready", h.HandleReady)

	api := r.Group("/")
	if limiter != nil {
		api.Use(RateLimit(limiter))
	}
	api.POST("/completions", h.HandleCompletions)
	api.POST("/gotodefinition", h.HandleGotoDefinition)
	api.POST("/gotoassignment", h.HandleGotoAssignment)
	api.POST("/usages", h.HandleUsages)
	api.POST("/names", h.HandleNames)
	api.POST("/preload_module", h.HandlePreloadModule)
}

// requestIDMiddleware assigns every request an ID before anything logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		getOrCreateRequestID(c)
		c.Next()
	}
}

// accessLog records request duration and outcome once the chain is done.
func accessLog(logger *slog.Logger, metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordRequest(route, status < http.StatusBadRequest, elapsed.Seconds())

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		telemetry.LoggerWithTrace(c.Request.Context(), logger).Log(c.Request.Context(), level, "Request served",
			slog.String("request_id", c.GetString(requestIDKey)),
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
		)
	}
}

// bodyLimit caps the request body; reads past n fail and the bind error
// is reported like any other malformed body.
func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
