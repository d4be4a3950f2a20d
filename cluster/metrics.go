// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

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
	tracer = otel.Tracer("stratum.cluster")
	meter  = otel.Meter("stratum.cluster")

	metricsOnce sync.Once

	clusterDuration metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		clusterDuration, _ = meter.Float64Histogram(
			"stratum.cluster.duration",
			metric.WithDescription("Duration of clustering runs in seconds"),
			metric.WithUnit("s"),
		)
	})
}

func startClusterSpan(ctx context.Context, nodes, edges, depth int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "cluster.detect",
		trace.WithAttributes(
			attribute.Int("cluster.nodes", nodes),
			attribute.Int("cluster.edges", edges),
			attribute.Int("cluster.depth", depth),
		),
	)
}

func recordClusterDuration(ctx context.Context, start time.Time) {
	initMetrics()
	if clusterDuration != nil {
		clusterDuration.Record(ctx, time.Since(start).Seconds())
	}
}
