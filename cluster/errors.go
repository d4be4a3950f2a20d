// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cluster partitions a frozen call graph into components.
//
// Detection runs weighted modularity optimization over the graph's
// non-external nodes, with co-located symbols (same directory) pulled
// together by an edge weight boost. Node communities are then projected
// onto files by majority vote, balanced against the configured size
// bounds, and emitted as an ordered, deterministic partition: same graph
// and options in, same clusters out, regardless of scheduling.
package cluster

import "errors"

// Sentinel errors for clustering.
var (
	// ErrDegenerate is returned alongside a valid single-cluster result
	// when the graph cannot support the requested granularity (no
	// internal edges, or fewer files than the requested depth). Callers
	// treat it as a warning, not a failure.
	ErrDegenerate = errors.New("graph too small or sparse for requested granularity")

	// ErrGraphNotFrozen is returned when clustering is attempted on a
	// graph still in its building phase.
	ErrGraphNotFrozen = errors.New("graph must be frozen before clustering")

	// ErrInvalidPartition is returned by Result.Validate when the file
	// partition invariant is broken.
	ErrInvalidPartition = errors.New("invalid cluster partition")
)
