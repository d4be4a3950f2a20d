// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned when attempting to modify a frozen graph.
	// Once Freeze() is called the graph is read-only.
	ErrGraphFrozen = errors.New("graph is frozen and cannot be modified")

	// ErrNodeNotFound is returned when an edge references a node that does
	// not exist. Both endpoints must exist before an edge can be created,
	// with the single exception of the External sentinel target.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when adding a node whose
	// (qualified name, file) identity already exists in the graph.
	ErrDuplicateNode = errors.New("duplicate node ID")

	// ErrInvalidSymbol is returned when a symbol is nil or missing its
	// qualified name or file path.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrFileAnalysis wraps per-file analysis failures. These never abort
	// a build; they are collected into the result's warning list.
	ErrFileAnalysis = errors.New("file analysis failed")

	// ErrNoServersAvailable is returned when every language needed by the
	// scanned files is unavailable. This is the only hard failure of a
	// build; partial language coverage degrades with warnings instead.
	ErrNoServersAvailable = errors.New("no analysis servers available")
)
