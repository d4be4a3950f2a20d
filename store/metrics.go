// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("stratum.store")

	metricsOnce sync.Once

	opDuration metric.Float64Histogram
)

func initMetrics() {
	metricsOnce.Do(func() {
		opDuration, _ = meter.Float64Histogram(
			"stratum.store.operation.duration",
			metric.WithDescription("Duration of artifact store operations in seconds"),
			metric.WithUnit("s"),
		)
	})
}

func recordStoreOp(ctx context.Context, op string, start time.Time) {
	initMetrics()
	if opDuration != nil {
		opDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("store.operation", op)))
	}
}
