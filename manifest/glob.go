// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultIncludes matches the file extensions the built-in language
// servers cover.
var DefaultIncludes = []string{
	"**/*.go",
	"**/*.py", "**/*.pyi",
	"**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
	"**/*.rs",
}

// DefaultExcludes drops generated and third-party trees.
var DefaultExcludes = []string{
	"vendor/**",
	"node_modules/**",
	".git/**",
	"**/testdata/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/dist/**",
	"**/target/**",
}

// =============================================================================
// GlobMatcher
// =============================================================================

// GlobMatcher decides which repository files enter analysis. Excludes
// win over includes, so a file under vendor/ stays out even when its
// extension is included.
type GlobMatcher struct {
	includes []string
	excludes []string
}

// NewGlobMatcher builds a matcher. Empty slices fall back to the
// defaults.
func NewGlobMatcher(includes, excludes []string) *GlobMatcher {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	if len(excludes) == 0 {
		excludes = DefaultExcludes
	}
	return &GlobMatcher{includes: includes, excludes: excludes}
}

// Match reports whether a repo-relative path (slash-separated) is in
// scope.
func (m *GlobMatcher) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range m.excludes {
		if matchGlob(pattern, relPath) {
			return false
		}
	}
	for _, pattern := range m.includes {
		if matchGlob(pattern, relPath) {
			return true
		}
	}
	return false
}

// Walk collects the sorted absolute paths of all in-scope files under
// root, pruning excluded directories without descending into them.
func (m *GlobMatcher) Walk(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			for _, pattern := range m.excludes {
				// A dir is prunable when the pattern covers its whole subtree.
				if strings.HasSuffix(pattern, "/**") && matchGlob(strings.TrimSuffix(pattern, "/**"), rel) {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if m.Match(rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// matchGlob supports the ** wildcard on top of path.Match semantics:
// "**" in a segment position matches any number of segments, including
// zero for a leading "**/".
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			// Try consuming zero or more name segments.
			for skip := 0; skip <= len(name); skip++ {
				if matchSegments(pattern[1:], name[skip:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		ok, err := filepath.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
	return len(name) == 0
}
