// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import (
	"fmt"
	"sort"
)

// SchemaVersion is bumped whenever the manifest layout or the meaning of
// any persisted field changes incompatibly.
const SchemaVersion = 1

// AnalysisManifest ties one repository state to its analysis artifacts.
type AnalysisManifest struct {
	// SchemaVersion guards compatibility; see package doc.
	SchemaVersion int `json:"schema_version"`

	// ToolVersion records the engine version that wrote the manifest,
	// for diagnostics only.
	ToolVersion string `json:"tool_version,omitempty"`

	// ProjectRoot is the absolute repository root.
	ProjectRoot string `json:"project_root"`

	// RepoStateHash is the content hash of every analyzed file, the key
	// the artifact store is addressed by.
	RepoStateHash string `json:"repo_state_hash"`

	// BaseCommit is the VCS commit the analysis baseline corresponds
	// to, when the repository is a git checkout.
	BaseCommit string `json:"base_commit,omitempty"`

	// Depth is the clustering granularity the artifacts were built at.
	Depth int `json:"depth"`

	// FileToComponent maps every analyzed file to its component ID.
	FileToComponent map[string]string `json:"file_to_component"`

	// ComponentFiles is the inverse map: component ID to sorted files.
	ComponentFiles map[string][]string `json:"component_files"`

	// ExpandedComponents lists component IDs the consumer had expanded,
	// preserved across incremental updates so the view stays put.
	ExpandedComponents []string `json:"expanded_components,omitempty"`

	CreatedAtMilli int64 `json:"created_at_milli"`
	UpdatedAtMilli int64 `json:"updated_at_milli"`
}

// Validate checks internal consistency: the two maps must be exact
// inverses and no component may be empty.
func (m *AnalysisManifest) Validate() error {
	if m.ProjectRoot == "" {
		return fmt.Errorf("%w: empty project root", ErrInvalid)
	}
	if m.RepoStateHash == "" {
		return fmt.Errorf("%w: empty repo state hash", ErrInvalid)
	}
	total := 0
	for comp, files := range m.ComponentFiles {
		if len(files) == 0 {
			return fmt.Errorf("%w: component %s has no files", ErrInvalid, comp)
		}
		for _, f := range files {
			if m.FileToComponent[f] != comp {
				return fmt.Errorf("%w: file %s maps to %q, component list says %q",
					ErrInvalid, f, m.FileToComponent[f], comp)
			}
		}
		total += len(files)
	}
	if total != len(m.FileToComponent) {
		return fmt.Errorf("%w: %d files in component lists, %d in file map",
			ErrInvalid, total, len(m.FileToComponent))
	}
	return nil
}

// Files returns the sorted list of all analyzed files.
func (m *AnalysisManifest) Files() []string {
	files := make([]string, 0, len(m.FileToComponent))
	for f := range m.FileToComponent {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Component returns the component owning a file.
func (m *AnalysisManifest) Component(file string) (string, bool) {
	comp, ok := m.FileToComponent[file]
	return comp, ok
}

// Components returns the sorted component IDs.
func (m *AnalysisManifest) Components() []string {
	ids := make([]string, 0, len(m.ComponentFiles))
	for id := range m.ComponentFiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetMapping replaces both maps from a file -> component assignment,
// rebuilding the inverse with sorted file lists.
func (m *AnalysisManifest) SetMapping(fileToComponent map[string]string) {
	m.FileToComponent = make(map[string]string, len(fileToComponent))
	m.ComponentFiles = make(map[string][]string)
	for f, comp := range fileToComponent {
		m.FileToComponent[f] = comp
		m.ComponentFiles[comp] = append(m.ComponentFiles[comp], f)
	}
	for comp := range m.ComponentFiles {
		sort.Strings(m.ComponentFiles[comp])
	}
}

// RenameFile moves a file to a new path within its component, keeping
// both maps consistent. No-op when the file is unknown.
func (m *AnalysisManifest) RenameFile(oldPath, newPath string) {
	comp, ok := m.FileToComponent[oldPath]
	if !ok {
		return
	}
	delete(m.FileToComponent, oldPath)
	m.FileToComponent[newPath] = comp

	files := m.ComponentFiles[comp]
	for i, f := range files {
		if f == oldPath {
			files[i] = newPath
			break
		}
	}
	sort.Strings(files)
	m.ComponentFiles[comp] = files
}

// AddFile places a file in an existing component, keeping both maps
// consistent. A file already mapped moves to the given component.
func (m *AnalysisManifest) AddFile(path, component string) {
	if prev, ok := m.FileToComponent[path]; ok {
		if prev == component {
			return
		}
		files := m.ComponentFiles[prev]
		for i, f := range files {
			if f == path {
				m.ComponentFiles[prev] = append(files[:i], files[i+1:]...)
				break
			}
		}
	}
	if m.FileToComponent == nil {
		m.FileToComponent = make(map[string]string)
	}
	if m.ComponentFiles == nil {
		m.ComponentFiles = make(map[string][]string)
	}
	m.FileToComponent[path] = component
	m.ComponentFiles[component] = append(m.ComponentFiles[component], path)
	sort.Strings(m.ComponentFiles[component])
}

// Clone returns a deep copy, so a run can stage manifest changes and
// discard them on rollback.
func (m *AnalysisManifest) Clone() *AnalysisManifest {
	clone := *m
	clone.FileToComponent = make(map[string]string, len(m.FileToComponent))
	for f, comp := range m.FileToComponent {
		clone.FileToComponent[f] = comp
	}
	clone.ComponentFiles = make(map[string][]string, len(m.ComponentFiles))
	for comp, files := range m.ComponentFiles {
		clone.ComponentFiles[comp] = append([]string(nil), files...)
	}
	clone.ExpandedComponents = append([]string(nil), m.ExpandedComponents...)
	return &clone
}
