// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/StratumCode/stratum/change"
	"github.com/StratumCode/stratum/config"
	"github.com/StratumCode/stratum/impact"
	"github.com/StratumCode/stratum/lsp"
	"github.com/StratumCode/stratum/manifest"
	"github.com/StratumCode/stratum/store"
)

// fakeSource serves one function symbol per file plus scripted calls
// between files.
type fakeSource struct {
	symbols map[string]string   // file -> function name
	calls   map[string][]string // caller file -> callee files
}

func (f *fakeSource) OpenFile(ctx context.Context, language, root, path string) error  { return nil }
func (f *fakeSource) CloseFile(ctx context.Context, language, root, path string) error { return nil }

func (f *fakeSource) DocumentSymbols(ctx context.Context, language, root, path string) ([]lsp.DocumentSymbol, error) {
	name, ok := f.symbols[path]
	if !ok {
		return nil, nil
	}
	return []lsp.DocumentSymbol{{
		Name:           name,
		Kind:           lsp.SymbolKindFunction,
		Range:          lsp.Range{Start: lsp.Position{Line: 0}, End: lsp.Position{Line: 9}},
		SelectionRange: lsp.Range{Start: lsp.Position{Line: 0, Character: 5}},
	}}, nil
}

func (f *fakeSource) References(ctx context.Context, language, root, path string, pos lsp.Position) ([]lsp.Location, error) {
	return nil, nil
}

func (f *fakeSource) PrepareCallHierarchy(ctx context.Context, language, root, path string, pos lsp.Position) ([]lsp.HierarchyItem, error) {
	name, ok := f.symbols[path]
	if !ok {
		return nil, nil
	}
	return []lsp.HierarchyItem{{
		Name:           name,
		Kind:           lsp.SymbolKindFunction,
		URI:            lsp.PathToURI(path),
		SelectionRange: lsp.Range{Start: lsp.Position{Line: 0}},
	}}, nil
}

func (f *fakeSource) OutgoingCalls(ctx context.Context, language, root string, item lsp.HierarchyItem) ([]lsp.CallHierarchyOutgoingCall, error) {
	caller := lsp.URIToPath(item.URI)
	var out []lsp.CallHierarchyOutgoingCall
	for _, callee := range f.calls[caller] {
		out = append(out, lsp.CallHierarchyOutgoingCall{
			To: lsp.HierarchyItem{
				Name:           f.symbols[callee],
				Kind:           lsp.SymbolKindFunction,
				URI:            lsp.PathToURI(callee),
				SelectionRange: lsp.Range{Start: lsp.Position{Line: 0}},
			},
			FromRanges: []lsp.Range{{Start: lsp.Position{Line: 2}}},
		})
	}
	return out, nil
}

func (f *fakeSource) Supertypes(ctx context.Context, language, root, path string, pos lsp.Position) ([]lsp.HierarchyItem, error) {
	return nil, nil
}

// fakeChanges plays back a canned change set.
type fakeChanges struct {
	changes []change.FileChange
	head    string
	err     error
}

func (f *fakeChanges) Changes(ctx context.Context, base string) ([]change.FileChange, error) {
	return f.changes, f.err
}

func (f *fakeChanges) Head(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.head, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setupRepo creates a two-file Go repo where alpha calls beta.
func setupRepo(t *testing.T) (repo string, src *fakeSource) {
	t.Helper()
	repo = t.TempDir()
	writeFile(t, filepath.Join(repo, "go.mod"), "module example.com/demo\n\ngo 1.25\n")
	writeFile(t, filepath.Join(repo, "alpha.go"), "package demo\n\nfunc Alpha() { Beta() }\n")
	writeFile(t, filepath.Join(repo, "beta.go"), "package demo\n\nfunc Beta() {}\n")

	alpha := filepath.Join(repo, "alpha.go")
	beta := filepath.Join(repo, "beta.go")
	src = &fakeSource{
		symbols: map[string]string{alpha: "Alpha", beta: "Beta"},
		calls:   map[string][]string{alpha: {beta}},
	}
	return repo, src
}

func newTestEngine(t *testing.T, repo string, src *fakeSource, ch changeSource) *Engine {
	t.Helper()
	db, err := store.OpenDB(store.InMemoryConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default(repo)
	cfg.StateDir = t.TempDir()
	e := NewEngine(cfg, db, nil, WithSymbolSource(src), WithChangeSource(ch))
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestFullRunEstablishesBaseline(t *testing.T) {
	repo, src := setupRepo(t)
	e := newTestEngine(t, repo, src, &fakeChanges{head: "commit-1"})

	snap, err := e.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if snap.Graph.NodeCount() != 2 {
		t.Errorf("nodes: got %d, want 2", snap.Graph.NodeCount())
	}
	if snap.Graph.EdgeCount() != 1 {
		t.Errorf("edges: got %d, want 1", snap.Graph.EdgeCount())
	}
	if len(snap.Clusters.Clusters) == 0 {
		t.Fatal("no clusters")
	}
	if snap.Manifest.BaseCommit != "commit-1" {
		t.Errorf("base commit: got %q", snap.Manifest.BaseCommit)
	}
	if e.Current() != snap {
		t.Error("snapshot not published")
	}

	// The manifest landed on disk.
	loaded, err := manifest.NewManager(e.cfg.StateDir, nil).Load()
	if err != nil {
		t.Fatalf("manifest not persisted: %v", err)
	}
	if loaded.RepoStateHash != snap.Manifest.RepoStateHash {
		t.Error("persisted manifest disagrees with snapshot")
	}
}

func TestNoOpRunLeavesManifestUntouched(t *testing.T) {
	repo, src := setupRepo(t)
	e := newTestEngine(t, repo, src, &fakeChanges{head: "commit-1"})
	ctx := context.Background()

	if _, err := e.Analyze(ctx); err != nil {
		t.Fatal(err)
	}
	mgr := manifest.NewManager(e.cfg.StateDir, nil)
	before, err := os.ReadFile(mgr.Path())
	if err != nil {
		t.Fatal(err)
	}

	snap, err := e.Analyze(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	after, err := os.ReadFile(mgr.Path())
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("a no-op run must not rewrite the manifest")
	}
	if snap == nil || snap.Graph.NodeCount() != 2 {
		t.Error("no-op run should restore the baseline snapshot")
	}
}

func TestRenameRoundTrip(t *testing.T) {
	repo, src := setupRepo(t)
	ch := &fakeChanges{head: "commit-1"}
	e := newTestEngine(t, repo, src, ch)
	ctx := context.Background()

	first, err := e.Analyze(ctx)
	if err != nil {
		t.Fatal(err)
	}
	alphaOld := filepath.Join(repo, "alpha.go")
	alphaNew := filepath.Join(repo, "gamma.go")
	oldComp, ok := first.Manifest.Component(alphaOld)
	if !ok {
		t.Fatal("baseline missing alpha.go")
	}

	// Move the file on disk, content untouched.
	if err := os.Rename(alphaOld, alphaNew); err != nil {
		t.Fatal(err)
	}
	ch.changes = []change.FileChange{{
		Path:       "gamma.go",
		OldPath:    "alpha.go",
		Type:       change.ChangeRenamed,
		Similarity: 100,
	}}
	ch.head = "commit-2"

	snap, err := e.Analyze(ctx)
	if err != nil {
		t.Fatalf("rename run: %v", err)
	}
	comp, ok := snap.Manifest.Component(alphaNew)
	if !ok || comp != oldComp {
		t.Errorf("renamed file: got (%q, %v), want (%q, true)", comp, ok, oldComp)
	}
	if _, ok := snap.Manifest.Component(alphaOld); ok {
		t.Error("old path must be gone from the manifest")
	}
	if got := len(snap.Graph.NodesInFile(alphaNew)); got != 1 {
		t.Errorf("graph nodes under new path: got %d, want 1", got)
	}
	if got := len(snap.Graph.NodesInFile(alphaOld)); got != 0 {
		t.Errorf("graph nodes under old path: got %d, want 0", got)
	}
	if snap.Manifest.BaseCommit != "commit-2" {
		t.Errorf("base commit: got %q", snap.Manifest.BaseCommit)
	}
}

func TestCopyRoundTrip(t *testing.T) {
	repo, src := setupRepo(t)
	ch := &fakeChanges{head: "commit-1"}
	e := newTestEngine(t, repo, src, ch)
	ctx := context.Background()

	first, err := e.Analyze(ctx)
	if err != nil {
		t.Fatal(err)
	}
	beta := filepath.Join(repo, "beta.go")
	delta := filepath.Join(repo, "delta.go")
	srcComp, ok := first.Manifest.Component(beta)
	if !ok {
		t.Fatal("baseline missing beta.go")
	}

	// Duplicate the file on disk, byte for byte.
	content, err := os.ReadFile(beta)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, delta, string(content))
	ch.changes = []change.FileChange{{
		Path:       "delta.go",
		OldPath:    "beta.go",
		Type:       change.ChangeCopied,
		Similarity: 100,
	}}
	ch.head = "commit-2"

	snap, err := e.Analyze(ctx)
	if err != nil {
		t.Fatalf("copy run: %v", err)
	}
	comp, ok := snap.Manifest.Component(delta)
	if !ok || comp != srcComp {
		t.Errorf("copy target: got (%q, %v), want (%q, true)", comp, ok, srcComp)
	}
	if got, ok := snap.Manifest.Component(beta); !ok || got != srcComp {
		t.Errorf("copy source must stay put: got (%q, %v)", got, ok)
	}
	if got := snap.Clusters.FileToCluster[delta]; got != srcComp {
		t.Errorf("cluster membership: got %q, want %q", got, srcComp)
	}
	// An identical copy carries no symbols of its own until it diverges.
	if got := len(snap.Graph.NodesInFile(delta)); got != 0 {
		t.Errorf("graph nodes under copy: got %d, want 0", got)
	}
	if snap.Graph.EdgeCount() != first.Graph.EdgeCount() {
		t.Errorf("edges: got %d, want %d", snap.Graph.EdgeCount(), first.Graph.EdgeCount())
	}
	if snap.Manifest.BaseCommit != "commit-2" {
		t.Errorf("base commit: got %q", snap.Manifest.BaseCommit)
	}
}

func TestModifiedFileScopedUpdate(t *testing.T) {
	repo, src := setupRepo(t)
	ch := &fakeChanges{head: "commit-1"}
	e := newTestEngine(t, repo, src, ch)
	ctx := context.Background()

	first, err := e.Analyze(ctx)
	if err != nil {
		t.Fatal(err)
	}
	firstHash := first.Manifest.RepoStateHash

	beta := filepath.Join(repo, "beta.go")
	writeFile(t, beta, "package demo\n\nfunc Beta() { helper() }\n\nfunc helper() {}\n")
	ch.changes = []change.FileChange{{
		Path: "beta.go", Type: change.ChangeModified, Additions: 2, Deletions: 1,
	}}
	ch.head = "commit-2"

	snap, err := e.Analyze(ctx)
	if err != nil {
		t.Fatalf("scoped update: %v", err)
	}
	if snap.Manifest.RepoStateHash == firstHash {
		t.Error("hash should advance with content")
	}
	// Component IDs survive a scoped update.
	comp, ok := snap.Manifest.Component(beta)
	if !ok {
		t.Fatal("beta.go lost its component")
	}
	oldComp, _ := first.Manifest.Component(beta)
	if comp != oldComp {
		t.Errorf("component changed across scoped update: %q -> %q", oldComp, comp)
	}
	// The call edge between the files survives the rebuild.
	if snap.Graph.EdgeCount() != 1 {
		t.Errorf("edges: got %d, want 1", snap.Graph.EdgeCount())
	}
}

func TestDetectionFailureFallsBackToFull(t *testing.T) {
	repo, src := setupRepo(t)
	ch := &fakeChanges{head: "commit-1"}
	e := newTestEngine(t, repo, src, ch)
	ctx := context.Background()

	if _, err := e.Analyze(ctx); err != nil {
		t.Fatal(err)
	}

	// Content changes but the diff tool is broken.
	writeFile(t, filepath.Join(repo, "beta.go"), "package demo\n\nfunc Beta() { x() }\nfunc x() {}\n")
	ch.err = change.ErrDetection

	snap, err := e.Analyze(ctx)
	if err != nil {
		t.Fatalf("fallback run: %v", err)
	}
	if snap == nil || snap.Graph.NodeCount() == 0 {
		t.Error("fallback full run should still produce a snapshot")
	}
	if snap.Manifest.BaseCommit != "" {
		t.Errorf("unresolvable HEAD leaves base commit empty, got %q", snap.Manifest.BaseCommit)
	}
}

func TestForceFullSkipsIncremental(t *testing.T) {
	repo, src := setupRepo(t)
	ch := &fakeChanges{head: "commit-1"}
	e := newTestEngine(t, repo, src, ch)
	e.cfg.ForceFull = true
	ctx := context.Background()

	if _, err := e.Analyze(ctx); err != nil {
		t.Fatal(err)
	}
	before := e.Current().Manifest.UpdatedAtMilli

	// Even with no changes, force-full rebuilds and rewrites.
	snap, err := e.Analyze(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Manifest.UpdatedAtMilli < before {
		t.Error("forced run should write a fresh manifest")
	}
}

func TestCancelledRunCommitsNothing(t *testing.T) {
	repo, src := setupRepo(t)
	e := newTestEngine(t, repo, src, &fakeChanges{head: "commit-1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Analyze(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if e.Current() != nil {
		t.Error("cancelled run must not publish")
	}
	if _, err := manifest.NewManager(e.cfg.StateDir, nil).Load(); !errors.Is(err, manifest.ErrNotFound) {
		t.Error("cancelled run must not persist a manifest")
	}
}

func TestRunStateStrings(t *testing.T) {
	want := map[RunState]string{
		StateIdle:       "idle",
		StatePlanning:   "planning",
		StateExecuting:  "executing",
		StateValidating: "validating",
		StateCommitted:  "committed",
		StateRolledBack: "rolled_back",
	}
	for state, name := range want {
		if state.String() != name {
			t.Errorf("%d: got %q, want %q", state, state.String(), name)
		}
	}
	if impact.ActionPatchPaths.String() != "patch_paths" {
		t.Error("action name mismatch")
	}
}
