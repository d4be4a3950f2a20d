// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

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
	tracer = otel.Tracer("stratum.lsp")
	meter  = otel.Meter("stratum.lsp")

	metricsOnce sync.Once

	operationDuration metric.Float64Histogram
	operationCounter  metric.Int64Counter
	spawnCounter      metric.Int64Counter
)

// initMetrics lazily creates instruments. Failures leave instruments nil
// and recording becomes a no-op, matching the otel API contract.
func initMetrics() {
	metricsOnce.Do(func() {
		operationDuration, _ = meter.Float64Histogram(
			"stratum.lsp.operation.duration",
			metric.WithDescription("Duration of LSP operations in seconds"),
			metric.WithUnit("s"),
		)
		operationCounter, _ = meter.Int64Counter(
			"stratum.lsp.operation.count",
			metric.WithDescription("Number of LSP operations by outcome"),
		)
		spawnCounter, _ = meter.Int64Counter(
			"stratum.lsp.server.spawns",
			metric.WithDescription("Language server spawn attempts by outcome"),
		)
	})
}

// startOperationSpan begins a span for one LSP operation.
func startOperationSpan(ctx context.Context, operation, language string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "lsp."+operation,
		trace.WithAttributes(
			attribute.String("lsp.operation", operation),
			attribute.String("lsp.language", language),
		),
	)
}

// setOperationSpanResult annotates the span with the outcome.
func setOperationSpanResult(span trace.Span, resultCount int, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("lsp.success", false))
		return
	}
	span.SetAttributes(
		attribute.Bool("lsp.success", true),
		attribute.Int("lsp.result_count", resultCount),
	)
}

// recordOperationMetrics records duration and outcome for one operation.
func recordOperationMetrics(ctx context.Context, operation, language string, start time.Time, err error) {
	initMetrics()
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("language", language),
		attribute.Bool("success", err == nil),
	)
	if operationDuration != nil {
		operationDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if operationCounter != nil {
		operationCounter.Add(ctx, 1, attrs)
	}
}

// recordServerSpawn records one spawn attempt.
func recordServerSpawn(ctx context.Context, language string, success bool) {
	initMetrics()
	if spawnCounter != nil {
		spawnCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("language", language),
			attribute.Bool("success", success),
		))
	}
}
