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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("semagate.engine.lsp")
	meter  = otel.Meter("semagate.engine.lsp")
)

var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	serverSpawns     metric.Int64Counter
	resultCount      metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		operationLatency, err = meter.Float64Histogram(
			"semagate_lsp_operation_duration_seconds",
			metric.WithDescription("Duration of language server operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		operationTotal, err = meter.Int64Counter(
			"semagate_lsp_operation_total",
			metric.WithDescription("Total language server operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverSpawns, err = meter.Int64Counter(
			"semagate_lsp_server_spawns_total",
			metric.WithDescription("Total language server process starts"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		resultCount, err = meter.Int64Histogram(
			"semagate_lsp_result_count",
			metric.WithDescription("Items returned per language server operation"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func startOperationSpan(ctx context.Context, operation, filePath string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lsp."+operation,
		trace.WithAttributes(
			attribute.String("lsp.operation", operation),
			attribute.String("lsp.file_path", filePath),
		),
	)
}

func setOperationSpanResult(span trace.Span, n, attempts int, success bool) {
	span.SetAttributes(
		attribute.Int("lsp.result_count", n),
		attribute.Int("lsp.attempts", attempts),
		attribute.Bool("lsp.success", success),
	)
}

func recordOperationMetrics(ctx context.Context, operation string, duration time.Duration, n int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", success),
	)
	operationLatency.Record(ctx, duration.Seconds(), attrs)
	operationTotal.Add(ctx, 1, attrs)

	if success {
		resultCount.Record(ctx, int64(n), metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

func recordServerSpawn(ctx context.Context, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	serverSpawns.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
