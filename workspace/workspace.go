// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workspace discovers subprojects inside a repository and the
// package-level dependencies between them.
//
// A subproject is a directory holding a project marker (go.mod,
// package.json, pyproject.toml, Cargo.toml). Each (language, subproject
// root) pair gets its own language-server client, so discovery is the
// first step of every analysis run.
package workspace

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Subproject is one discovered project root.
type Subproject struct {
	// Root is the absolute path to the subproject directory.
	Root string `json:"root"`

	// Language is the language the marker belongs to.
	Language string `json:"language"`

	// Marker is the filename that identified the root.
	Marker string `json:"marker"`

	// Name is the declared package/module name, or the directory base
	// name when the manifest does not declare one.
	Name string `json:"name"`
}

// skipDirs are never descended into during discovery.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

// Discover walks the repository and returns every subproject, sorted by
// root path. The markers map is marker filename -> language, usually
// taken from the lsp config registry.
//
// Nested subprojects are all reported; Owner resolves files to the
// innermost one.
func Discover(repoRoot string, markers map[string]string) ([]Subproject, error) {
	if len(markers) == 0 {
		return nil, fmt.Errorf("no project markers registered")
	}
	var projects []Subproject
	err := filepath.WalkDir(repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable directories degrade discovery, not the run.
			slog.Warn("workspace discovery skipping path",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != repoRoot && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		lang, ok := markers[d.Name()]
		if !ok {
			return nil
		}
		dir := filepath.Dir(path)
		projects = append(projects, Subproject{
			Root:     dir,
			Language: lang,
			Marker:   d.Name(),
			Name:     projectName(dir, d.Name()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", repoRoot, err)
	}

	sort.Slice(projects, func(i, j int) bool {
		if projects[i].Root != projects[j].Root {
			return projects[i].Root < projects[j].Root
		}
		return projects[i].Language < projects[j].Language
	})

	slog.Debug("workspace discovery complete",
		slog.String("root", repoRoot),
		slog.Int("subprojects", len(projects)),
	)
	return projects, nil
}

// Owner returns the subproject containing the file: the deepest root
// whose prefix matches, preferring the requested language on depth ties.
// ok=false when no subproject contains the file.
func Owner(projects []Subproject, file, language string) (Subproject, bool) {
	var best Subproject
	found := false
	for _, p := range projects {
		if !strings.HasPrefix(file, p.Root+string(filepath.Separator)) && file != p.Root {
			continue
		}
		if !found || betterOwner(p, best, language) {
			best = p
			found = true
		}
	}
	return best, found
}

func betterOwner(a, b Subproject, language string) bool {
	if len(a.Root) != len(b.Root) {
		return len(a.Root) > len(b.Root)
	}
	return a.Language == language && b.Language != language
}

// projectName extracts the declared name from the marker file.
func projectName(dir, marker string) string {
	path := filepath.Join(dir, marker)
	switch marker {
	case "go.mod", "go.work":
		if name := goModuleName(path); name != "" {
			return name
		}
	case "package.json":
		if name := packageJSONName(path); name != "" {
			return name
		}
	case "pyproject.toml", "Cargo.toml":
		if name := tomlProjectName(path); name != "" {
			return name
		}
	}
	return filepath.Base(dir)
}

// tomlProjectName finds the first `name = "..."` assignment. A full TOML
// parser is not warranted for a single well-known key.
func tomlProjectName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, "name"); ok {
			value = strings.TrimSpace(value)
			if value, ok = strings.CutPrefix(value, "="); ok {
				return strings.Trim(strings.TrimSpace(value), `"'`)
			}
		}
	}
	return ""
}
