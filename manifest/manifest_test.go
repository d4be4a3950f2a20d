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
	"os"
	"path/filepath"
	"testing"
)

func sampleManifest() *AnalysisManifest {
	m := &AnalysisManifest{
		ProjectRoot:   "/repo",
		RepoStateHash: "abc123",
		Depth:         2,
	}
	m.SetMapping(map[string]string{
		"/repo/a/one.go": "c0",
		"/repo/a/two.go": "c0",
		"/repo/b/one.go": "c1",
	})
	return m
}

func TestManifestValidate(t *testing.T) {
	m := sampleManifest()
	if err := m.Validate(); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}

	broken := sampleManifest()
	broken.FileToComponent["/repo/b/one.go"] = "c0"
	if err := broken.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("inconsistent maps: got %v, want ErrInvalid", err)
	}

	empty := sampleManifest()
	empty.ComponentFiles["c2"] = nil
	if err := empty.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty component: got %v, want ErrInvalid", err)
	}
}

func TestManifestRenameFile(t *testing.T) {
	m := sampleManifest()
	m.RenameFile("/repo/a/one.go", "/repo/a/renamed.go")

	if err := m.Validate(); err != nil {
		t.Fatalf("manifest inconsistent after rename: %v", err)
	}
	if comp, ok := m.Component("/repo/a/renamed.go"); !ok || comp != "c0" {
		t.Errorf("renamed file: got (%q, %v), want (c0, true)", comp, ok)
	}
	if _, ok := m.Component("/repo/a/one.go"); ok {
		t.Error("old path should be gone")
	}

	// Unknown file is a no-op.
	m.RenameFile("/repo/nope.go", "/repo/new.go")
	if err := m.Validate(); err != nil {
		t.Fatalf("no-op rename broke manifest: %v", err)
	}
}

func TestManifestAddFile(t *testing.T) {
	m := sampleManifest()
	m.AddFile("/repo/a/three.go", "c0")

	if err := m.Validate(); err != nil {
		t.Fatalf("manifest inconsistent after add: %v", err)
	}
	if comp, ok := m.Component("/repo/a/three.go"); !ok || comp != "c0" {
		t.Errorf("added file: got (%q, %v), want (c0, true)", comp, ok)
	}

	// Adding again to the same component is a no-op.
	m.AddFile("/repo/a/three.go", "c0")
	if got := len(m.ComponentFiles["c0"]); got != 3 {
		t.Errorf("c0 files: got %d, want 3", got)
	}

	// Re-adding to a different component moves the file.
	m.AddFile("/repo/a/three.go", "c1")
	if err := m.Validate(); err != nil {
		t.Fatalf("manifest inconsistent after move: %v", err)
	}
	if comp, _ := m.Component("/repo/a/three.go"); comp != "c1" {
		t.Errorf("moved file: got %q, want c1", comp)
	}
}

func TestManifestCloneIsIndependent(t *testing.T) {
	m := sampleManifest()
	clone := m.Clone()
	clone.RenameFile("/repo/a/one.go", "/repo/a/moved.go")

	if _, ok := m.Component("/repo/a/moved.go"); ok {
		t.Error("mutating the clone leaked into the original")
	}
	if _, ok := m.Component("/repo/a/one.go"); !ok {
		t.Error("original lost a file")
	}
}

func TestManagerSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, nil)

	m := sampleManifest()
	if err := mgr.Save(m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if m.SchemaVersion != SchemaVersion {
		t.Errorf("Save must stamp the schema version, got %d", m.SchemaVersion)
	}
	if m.CreatedAtMilli == 0 || m.UpdatedAtMilli == 0 {
		t.Error("Save must stamp timestamps")
	}

	loaded, err := mgr.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.RepoStateHash != m.RepoStateHash {
		t.Errorf("hash: got %q, want %q", loaded.RepoStateHash, m.RepoStateHash)
	}
	if got := len(loaded.FileToComponent); got != 3 {
		t.Errorf("files: got %d, want 3", got)
	}
}

func TestManagerLoadMissing(t *testing.T) {
	mgr := NewManager(t.TempDir(), nil)
	if _, err := mgr.Load(); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestManagerLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, nil)
	if err := os.WriteFile(mgr.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Load(); !errors.Is(err, ErrCorrupt) {
		t.Errorf("got %v, want ErrCorrupt", err)
	}
}

func TestManagerLoadSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	mgr := NewManager(dir, nil)

	m := sampleManifest()
	if err := mgr.Save(m); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(mgr.Path())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	raw["schema_version"] = SchemaVersion + 1
	data, _ = json.Marshal(raw)
	if err := os.WriteFile(mgr.Path(), data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Load(); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("got %v, want ErrSchemaMismatch", err)
	}
}

func TestManagerSaveRejectsInvalid(t *testing.T) {
	mgr := NewManager(t.TempDir(), nil)
	bad := sampleManifest()
	bad.RepoStateHash = ""
	if err := mgr.Save(bad); !errors.Is(err, ErrInvalid) {
		t.Errorf("got %v, want ErrInvalid", err)
	}
	if _, err := os.Stat(mgr.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Error("invalid manifest must not be written")
	}
}

func TestRepoStateHashStable(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.go")
	b := filepath.Join(dir, "b.go")
	for path, content := range map[string]string{a: "package a\n", b: "package b\n"} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	h1, err := RepoStateHash([]string{a, b})
	if err != nil {
		t.Fatalf("RepoStateHash: %v", err)
	}
	h2, err := RepoStateHash([]string{b, a})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("hash must not depend on file order")
	}

	// Content change changes the hash.
	if err := os.WriteFile(a, []byte("package a // edited\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h3, err := RepoStateHash([]string{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if h3 == h1 {
		t.Error("content change must change the hash")
	}

	if _, err := RepoStateHash([]string{filepath.Join(dir, "missing.go")}); err == nil {
		t.Error("unreadable file must fail the hash")
	}
}

func TestGlobMatcher(t *testing.T) {
	m := NewGlobMatcher(nil, nil)

	tests := []struct {
		path string
		want bool
	}{
		{"main.go", true},
		{"pkg/deep/nested/file.go", true},
		{"web/app.tsx", true},
		{"src/lib.rs", true},
		{"scripts/run.py", true},
		{"vendor/github.com/x/y.go", false},
		{"node_modules/lodash/index.js", false},
		{"pkg/testdata/fixture.go", false},
		{"README.md", false},
		{"build/out.bin", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.path); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestGlobMatcherCustomPatterns(t *testing.T) {
	m := NewGlobMatcher([]string{"**/*.go"}, []string{"internal/**"})
	if m.Match("internal/secret.go") {
		t.Error("excludes must win over includes")
	}
	if !m.Match("cmd/main.go") {
		t.Error("included extension outside excludes should match")
	}
}

func TestGlobMatcherWalk(t *testing.T) {
	root := t.TempDir()
	mkfile := func(rel string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mkfile("main.go")
	mkfile("pkg/util.go")
	mkfile("vendor/dep/dep.go")
	mkfile("docs/guide.md")

	files, err := NewGlobMatcher(nil, nil).Walk(root)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	want := []string{
		filepath.Join(root, "main.go"),
		filepath.Join(root, "pkg", "util.go"),
	}
	if len(files) != len(want) {
		t.Fatalf("got %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}
