// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package manifest persists the mapping between a repository state and
// its analysis artifacts: which files belong to which component, the
// hash the artifacts were computed at, and the schema version guarding
// compatibility.
//
// A manifest whose schema version does not match the current code is
// treated as absent, never migrated in place; the caller falls back to
// full analysis and writes a fresh manifest.
package manifest

import "errors"

// Sentinel errors for manifest persistence.
var (
	// ErrNotFound is returned when no manifest exists at the path.
	ErrNotFound = errors.New("manifest not found")

	// ErrSchemaMismatch is returned when a stored manifest was written
	// by an incompatible schema version. Callers treat it as absent.
	ErrSchemaMismatch = errors.New("manifest schema version mismatch")

	// ErrCorrupt is returned when the stored manifest cannot be decoded
	// or fails validation. Callers treat it as absent.
	ErrCorrupt = errors.New("manifest corrupt")

	// ErrInvalid is returned when saving a manifest that fails
	// validation; nothing is written.
	ErrInvalid = errors.New("manifest invalid")
)
