// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

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
	tracer = otel.Tracer("stratum.graph")
	meter  = otel.Meter("stratum.graph")

	metricsOnce sync.Once

	buildDuration metric.Float64Histogram
	filesAnalyzed metric.Int64Counter
	fileFailures  metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		buildDuration, _ = meter.Float64Histogram(
			"stratum.graph.build.duration",
			metric.WithDescription("Duration of graph build phases in seconds"),
			metric.WithUnit("s"),
		)
		filesAnalyzed, _ = meter.Int64Counter(
			"stratum.graph.files.analyzed",
			metric.WithDescription("Files processed by the graph builder"),
		)
		fileFailures, _ = meter.Int64Counter(
			"stratum.graph.files.failed",
			metric.WithDescription("Files that failed analysis and were skipped"),
		)
	})
}

func startBuildSpan(ctx context.Context, phase string, fileCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "graph."+phase,
		trace.WithAttributes(
			attribute.String("graph.phase", phase),
			attribute.Int("graph.file_count", fileCount),
		),
	)
}

func recordBuildPhase(ctx context.Context, phase string, start time.Time) {
	initMetrics()
	if buildDuration != nil {
		buildDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("phase", phase)))
	}
}

func recordFileOutcome(ctx context.Context, language string, failed bool) {
	initMetrics()
	attrs := metric.WithAttributes(attribute.String("language", language))
	if failed {
		if fileFailures != nil {
			fileFailures.Add(ctx, 1, attrs)
		}
		return
	}
	if filesAnalyzed != nil {
		filesAnalyzed.Add(ctx, 1, attrs)
	}
}
