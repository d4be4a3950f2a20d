// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

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
	tracer = otel.Tracer("stratum.orchestrate")
	meter  = otel.Meter("stratum.orchestrate")

	metricsOnce sync.Once

	runDuration metric.Float64Histogram
	runCounter  metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		runDuration, _ = meter.Float64Histogram(
			"stratum.run.duration",
			metric.WithDescription("Duration of analysis runs in seconds"),
			metric.WithUnit("s"),
		)
		runCounter, _ = meter.Int64Counter(
			"stratum.run.count",
			metric.WithDescription("Analysis runs by action and outcome"),
		)
	})
}

func startRunSpan(ctx context.Context, runID string, depth int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "orchestrate.analyze",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.depth", depth),
		),
	)
}

func recordRun(ctx context.Context, action, outcome string, start time.Time) {
	initMetrics()
	attrs := metric.WithAttributes(
		attribute.String("run.action", action),
		attribute.String("run.outcome", outcome),
	)
	if runDuration != nil {
		runDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if runCounter != nil {
		runCounter.Add(ctx, 1, attrs)
	}
}
