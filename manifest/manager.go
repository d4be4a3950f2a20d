// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultFileName is the manifest file name under the state directory.
const DefaultFileName = "manifest.json"

// =============================================================================
// Manager
// =============================================================================

// Manager loads and saves the analysis manifest for one repository.
//
// Thread Safety: a Manager holds no mutable state; concurrent Load calls
// are safe. Concurrent Save calls race on the final rename and the last
// writer wins, which is acceptable because the orchestrator serializes
// commits.
type Manager struct {
	path   string
	logger *slog.Logger
}

// NewManager creates a manager persisting to dir/DefaultFileName.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		path:   filepath.Join(dir, DefaultFileName),
		logger: logger,
	}
}

// Path returns the manifest file path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads and validates the stored manifest.
//
// Description:
//
//	Returns ErrNotFound when no file exists, ErrSchemaMismatch when the
//	stored schema version differs from the current one, and ErrCorrupt
//	when the file cannot be decoded or fails validation. All three mean
//	"no usable baseline"; callers fall back to full analysis.
func (m *Manager) Load() (*AnalysisManifest, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var manifest AnalysisManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		m.logger.Warn("manifest unreadable, treating as absent",
			"path", m.path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if manifest.SchemaVersion != SchemaVersion {
		m.logger.Warn("manifest schema version mismatch, treating as absent",
			"path", m.path,
			"stored", manifest.SchemaVersion,
			"current", SchemaVersion)
		return nil, fmt.Errorf("%w: stored %d, current %d",
			ErrSchemaMismatch, manifest.SchemaVersion, SchemaVersion)
	}
	if err := manifest.Validate(); err != nil {
		m.logger.Warn("manifest failed validation, treating as absent",
			"path", m.path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &manifest, nil
}

// Save validates and atomically writes the manifest.
//
// Description:
//
//	Stamps SchemaVersion and UpdatedAtMilli, writes to a temp file in
//	the same directory, then renames into place so readers never see a
//	partial manifest.
func (m *Manager) Save(manifest *AnalysisManifest) error {
	manifest.SchemaVersion = SchemaVersion
	now := time.Now().UnixMilli()
	if manifest.CreatedAtMilli == 0 {
		manifest.CreatedAtMilli = now
	}
	manifest.UpdatedAtMilli = now

	if err := manifest.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".manifest-*.json")
	if err != nil {
		return fmt.Errorf("creating temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp manifest: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing manifest: %w", err)
	}

	m.logger.Debug("manifest saved",
		"path", m.path,
		"files", len(manifest.FileToComponent),
		"components", len(manifest.ComponentFiles))
	return nil
}
