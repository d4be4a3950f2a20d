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
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/StratumCode/stratum/change"
	"github.com/StratumCode/stratum/cluster"
	"github.com/StratumCode/stratum/config"
	"github.com/StratumCode/stratum/graph"
	"github.com/StratumCode/stratum/impact"
	"github.com/StratumCode/stratum/lsp"
	"github.com/StratumCode/stratum/manifest"
	"github.com/StratumCode/stratum/store"
	"github.com/StratumCode/stratum/workspace"
)

// Snapshot is one published analysis result. Read-only after
// publication.
type Snapshot struct {
	Graph     *graph.Graph
	Clusters  *cluster.Result
	Manifest  *manifest.AnalysisManifest
	Hierarchy map[string][]string
	Warnings  []graph.Warning
}

// changeSource is the slice of the change detector the engine consumes;
// tests substitute canned change sets.
type changeSource interface {
	Changes(ctx context.Context, baseCommit string) ([]change.FileChange, error)
	Head(ctx context.Context) (string, error)
}

// Engine runs analyses for one repository.
//
// Thread Safety: Analyze must not be called concurrently; Current may
// be called from any goroutine.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	artifacts *store.Store
	manifests *manifest.Manager
	manager   *lsp.Manager
	source    graph.SymbolSource
	matcher   *manifest.GlobMatcher
	changes   changeSource

	current atomic.Pointer[Snapshot]
}

// EngineOption overrides a collaborator, for tests.
type EngineOption func(*Engine)

// WithSymbolSource substitutes the language-server operations layer.
func WithSymbolSource(s graph.SymbolSource) EngineOption {
	return func(e *Engine) { e.source = s }
}

// WithChangeSource substitutes the git-backed change detector.
func WithChangeSource(c changeSource) EngineOption {
	return func(e *Engine) { e.changes = c }
}

// NewEngine wires an engine over an open artifact database.
func NewEngine(cfg config.Config, db *store.DB, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	manager := lsp.NewManager(lsp.ManagerConfig{
		StartupTimeout: cfg.Servers.StartupTimeout.Std(),
		RequestTimeout: cfg.Servers.RequestTimeout.Std(),
		IdleTimeout:    cfg.Servers.IdleTimeout.Std(),
	})
	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		artifacts: store.New(db, logger),
		manifests: manifest.NewManager(cfg.StateDir, logger),
		manager:   manager,
		source:    lsp.NewOperations(manager),
		matcher:   manifest.NewGlobMatcher(cfg.Include, cfg.Exclude),
		changes:   change.NewDetector(cfg.RepoPath, cfg.Thresholds.RenameSimilarityCutoff, logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Current returns the last committed snapshot, or nil before the first
// successful run.
func (e *Engine) Current() *Snapshot {
	return e.current.Load()
}

// Close shuts down all language servers.
func (e *Engine) Close(ctx context.Context) error {
	return e.manager.ShutdownAll(ctx)
}

// Analyze runs one analysis: incremental when the persisted baseline
// allows it, full otherwise.
//
// Description:
//
//	Walks the in-scope files, hashes the repository state, and decides
//	between the no-op, patch, scoped-update, and full paths. Every
//	incremental failure degrades to a full run; the only hard failures
//	are unreadable repositories, cancellation, and a build with zero
//	available language servers.
func (e *Engine) Analyze(ctx context.Context) (*Snapshot, error) {
	run := newRun(e.logger)
	ctx, span := startRunSpan(ctx, run.ID, e.cfg.Depth)
	defer span.End()
	start := time.Now()

	files, err := e.matcher.Walk(e.cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("walking repository: %w", err)
	}
	hash, err := manifest.RepoStateHash(files)
	if err != nil {
		return nil, fmt.Errorf("hashing repository state: %w", err)
	}
	run.transition(StatePlanning)

	if e.cfg.ForceFull {
		return e.fullRun(ctx, run, files, hash, start)
	}

	m, err := e.manifests.Load()
	if err != nil {
		e.logger.Warn("no usable baseline, running full analysis", "reason", err)
		return e.fullRun(ctx, run, files, hash, start)
	}
	if m.Depth != e.cfg.Depth {
		e.logger.Info("depth changed, running full analysis",
			"baseline", m.Depth, "requested", e.cfg.Depth)
		return e.fullRun(ctx, run, files, hash, start)
	}

	if m.RepoStateHash == hash {
		snap, err := e.restoreSnapshot(ctx, m)
		if err != nil {
			e.logger.Warn("baseline artifacts unusable, running full analysis", "reason", err)
			return e.fullRun(ctx, run, files, hash, start)
		}
		run.Action = impact.ActionNone
		run.transition(StateCommitted)
		e.current.Store(snap)
		recordRun(ctx, "none", "committed", start)
		return snap, nil
	}

	snap, err := e.incremental(ctx, run, m, files, hash, start)
	if err == nil {
		return snap, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.logger.Warn("incremental path failed, falling back to full analysis",
		"run_id", run.ID, "reason", err)
	run.transition(StateRolledBack)
	recordRun(ctx, run.Action.String(), "rolled_back", start)
	return e.fullRun(ctx, run, files, hash, start)
}

// incremental executes the change-classified path. Any returned error
// sends the caller to the full path.
func (e *Engine) incremental(ctx context.Context, run *Run, m *manifest.AnalysisManifest, files []string, hash string, start time.Time) (*Snapshot, error) {
	rawChanges, err := e.changes.Changes(ctx, m.BaseCommit)
	if err != nil {
		return nil, err
	}
	changes := e.scopeChanges(rawChanges)

	arts, err := e.artifacts.Get(ctx, m.RepoStateHash)
	if err != nil {
		return nil, err
	}
	g, err := store.RestoreGraph(arts.Graph)
	if err != nil {
		return nil, err
	}

	imp := impact.Classify(changes, m, g, impact.Thresholds{
		MaxDirtyComponents: e.cfg.Thresholds.MaxDirtyComponents,
		MaxComponentFiles:  e.cfg.Thresholds.MaxComponentFiles,
		EscalationFraction: e.cfg.Thresholds.EscalationFraction,
	})
	run.Action = imp.Action.Kind
	e.logger.Info("change impact classified",
		"run_id", run.ID,
		"action", imp.Action.Kind.String(),
		"dirty_components", imp.DirtyComponents,
		"include_relations", imp.Action.IncludeRelations)

	if e.cfg.Component != "" && !scopedTo(imp.Action.Components, e.cfg.Component) {
		return nil, fmt.Errorf("changes touch components outside filter %q", e.cfg.Component)
	}

	run.transition(StateExecuting)
	switch imp.Action.Kind {
	case impact.ActionNone:
		// The content hash moved but git saw nothing; something
		// changed outside version control's view.
		return nil, errors.New("state hash changed with an empty change set")

	case impact.ActionPatchPaths:
		return e.applyPatchPaths(ctx, run, m, arts, imp.Action, hash, start)

	case impact.ActionUpdateComponent:
		return e.applyComponentUpdate(ctx, run, m, g, imp, files, hash, start)

	default:
		return nil, fmt.Errorf("classification demands %s", imp.Action.Kind)
	}
}

// applyPatchPaths executes the pure path-rewrite action: renames move
// every stored reference, copies adopt their source's component.
func (e *Engine) applyPatchPaths(ctx context.Context, run *Run, m *manifest.AnalysisManifest, arts *store.Artifacts, action impact.UpdateAction, hash string, start time.Time) (*Snapshot, error) {
	head, err := e.changes.Head(ctx)
	if err != nil {
		return nil, err
	}

	staged := m.Clone()
	for old, next := range action.Renames {
		staged.RenameFile(old, next)
	}

	// Copy sources may themselves have been renamed in the same change
	// set; resolve through the rename map before adoption.
	copies := make(map[string]string, len(action.Copies))
	for dst, src := range action.Copies {
		if next, ok := action.Renames[src]; ok {
			src = next
		}
		comp, ok := staged.Component(src)
		if !ok {
			return nil, fmt.Errorf("copy source %s has no component", src)
		}
		staged.AddFile(dst, comp)
		copies[dst] = src
	}

	patchArtifactPaths(arts, action.Renames)
	copyArtifactEntries(arts, copies)
	arts.RepoStateHash = hash
	staged.RepoStateHash = hash
	staged.BaseCommit = head

	g, err := store.RestoreGraph(arts.Graph)
	if err != nil {
		return nil, err
	}
	clusters := store.RestoreClusters(arts.Clusters)

	snap := &Snapshot{
		Graph:     g,
		Clusters:  clusters,
		Manifest:  staged,
		Hierarchy: arts.Hierarchy,
	}
	return e.commit(ctx, run, snap, arts, start)
}

// applyComponentUpdate re-analyzes the dirty components' files and
// merges the sub-graph into a clone of the cached graph.
func (e *Engine) applyComponentUpdate(ctx context.Context, run *Run, m *manifest.AnalysisManifest, g *graph.Graph, imp impact.ChangeImpact, files []string, hash string, start time.Time) (*Snapshot, error) {
	head, err := e.changes.Head(ctx)
	if err != nil {
		return nil, err
	}

	// Stage the post-change file -> component mapping.
	mapping := make(map[string]string, len(m.FileToComponent))
	for f, comp := range m.FileToComponent {
		mapping[f] = comp
	}
	for old, next := range imp.Renames {
		if comp, ok := mapping[old]; ok {
			delete(mapping, old)
			mapping[next] = comp
		}
	}
	for _, f := range imp.Deleted {
		delete(mapping, f)
	}
	for _, f := range imp.Added {
		if src, ok := imp.Copies[f]; ok {
			if comp, ok := mapping[src]; ok {
				mapping[f] = comp
				continue
			}
		}
		comp, ok := adoptComponent(mapping, f)
		if !ok {
			return nil, fmt.Errorf("added file %s has no component to join", f)
		}
		mapping[f] = comp
	}

	// Scope: every current file of every dirty component.
	inScope := func(f string) bool {
		for _, comp := range imp.Action.Components {
			if mapping[f] == comp {
				return true
			}
		}
		return false
	}
	var scopeFiles []string
	for f := range mapping {
		if inScope(f) {
			scopeFiles = append(scopeFiles, f)
		}
	}

	g2 := g.Clone()
	// Drop the stale versions: pre-rename paths, deleted files, and
	// every dirty-component file about to be rebuilt.
	for old := range imp.Renames {
		_ = g2.RemoveFile(old)
	}
	for _, f := range imp.Deleted {
		_ = g2.RemoveFile(f)
	}
	for _, f := range scopeFiles {
		_ = g2.RemoveFile(f)
	}

	projects, err := workspace.Discover(e.cfg.RepoPath, e.manager.Configs().ProjectMarkers())
	if err != nil {
		return nil, err
	}
	builder := graph.NewBuilder(e.source, e.manager.Configs(), projects, graph.WithWorkers(e.cfg.Workers))
	result, err := builder.Extend(ctx, g2, scopeFiles)
	if err != nil {
		return nil, err
	}

	resolver := graph.NewResolver()
	resolver.IndexGraph(g2)
	reconnected := g2.RetargetExternal(resolver)
	g2.Freeze()
	e.logger.Debug("component update merged",
		"run_id", run.ID,
		"scope_files", len(scopeFiles),
		"reconnected_edges", reconnected,
		"warnings", len(result.Warnings))

	clusters, err := cluster.FromPartition(g2, mapping)
	if err != nil {
		return nil, err
	}

	staged := m.Clone()
	staged.SetMapping(mapping)
	staged.RepoStateHash = hash
	staged.BaseCommit = head

	arts := &store.Artifacts{
		RepoStateHash: hash,
		Depth:         e.cfg.Depth,
		Graph:         store.SnapshotGraph(g2),
		Hierarchy:     graph.HierarchyFromEdges(g2),
		PackageDeps:   workspace.Dependencies(projects),
		Files:         files,
		Clusters:      store.SnapshotClusters(clusters),
	}
	snap := &Snapshot{
		Graph:     g2,
		Clusters:  clusters,
		Manifest:  staged,
		Hierarchy: arts.Hierarchy,
		Warnings:  result.Warnings,
	}
	return e.commit(ctx, run, snap, arts, start)
}

// fullRun executes the complete pipeline and establishes a fresh
// baseline.
func (e *Engine) fullRun(ctx context.Context, run *Run, files []string, hash string, start time.Time) (*Snapshot, error) {
	run.Action = impact.ActionFullReanalysis
	run.transition(StateExecuting)

	projects, err := workspace.Discover(e.cfg.RepoPath, e.manager.Configs().ProjectMarkers())
	if err != nil {
		return nil, fmt.Errorf("discovering subprojects: %w", err)
	}
	builder := graph.NewBuilder(e.source, e.manager.Configs(), projects, graph.WithWorkers(e.cfg.Workers))
	result, err := builder.Build(ctx, e.cfg.RepoPath, files)
	if err != nil {
		if errors.Is(err, graph.ErrNoServersAvailable) {
			unavailable := e.manager.UnavailableLanguages()
			langs := make([]string, 0, len(unavailable))
			for lang := range unavailable {
				langs = append(langs, lang)
			}
			sort.Strings(langs)
			for _, lang := range langs {
				e.logger.Error("language unavailable",
					"run_id", run.ID, "language", lang, "reason", unavailable[lang])
			}
		}
		recordRun(ctx, "full_reanalysis", "failed", start)
		return nil, err
	}

	clusterEngine := cluster.NewEngine(cluster.DefaultOptions(e.cfg.Depth))
	clusters, err := clusterEngine.Cluster(ctx, result.Graph, files)
	if err != nil {
		if !errors.Is(err, cluster.ErrDegenerate) {
			recordRun(ctx, "full_reanalysis", "failed", start)
			return nil, err
		}
		e.logger.Warn("graph too sparse to partition, using a single component", "run_id", run.ID)
	}

	head, err := e.changes.Head(ctx)
	if err != nil {
		e.logger.Warn("cannot resolve HEAD, next run will be full", "reason", err)
		head = ""
	}

	staged := &manifest.AnalysisManifest{
		ProjectRoot:   e.cfg.RepoPath,
		RepoStateHash: hash,
		BaseCommit:    head,
		Depth:         e.cfg.Depth,
	}
	staged.SetMapping(clusters.FileToCluster)

	arts := &store.Artifacts{
		RepoStateHash: hash,
		Depth:         e.cfg.Depth,
		Graph:         store.SnapshotGraph(result.Graph),
		Hierarchy:     result.Hierarchy,
		PackageDeps:   workspace.Dependencies(projects),
		Files:         files,
		Clusters:      store.SnapshotClusters(clusters),
	}
	snap := &Snapshot{
		Graph:     result.Graph,
		Clusters:  clusters,
		Manifest:  staged,
		Hierarchy: result.Hierarchy,
		Warnings:  result.Warnings,
	}
	return e.commit(ctx, run, snap, arts, start)
}

// commit validates the staged snapshot, persists it, and publishes it
// atomically. A cancelled run discards everything.
func (e *Engine) commit(ctx context.Context, run *Run, snap *Snapshot, arts *store.Artifacts, start time.Time) (*Snapshot, error) {
	run.transition(StateValidating)
	if err := validateStaged(snap.Graph, snap.Clusters, snap.Manifest); err != nil {
		recordRun(ctx, run.Action.String(), "invalid", start)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.manifests.Save(snap.Manifest); err != nil {
		return nil, fmt.Errorf("persisting manifest: %w", err)
	}
	if err := e.artifacts.Put(ctx, arts); err != nil {
		return nil, fmt.Errorf("persisting artifacts: %w", err)
	}

	run.transition(StateCommitted)
	e.current.Store(snap)
	recordRun(ctx, run.Action.String(), "committed", start)
	e.logger.Info("analysis committed",
		"run_id", run.ID,
		"action", run.Action.String(),
		"components", len(snap.Clusters.Clusters),
		"nodes", snap.Graph.NodeCount(),
		"duration", time.Since(start).Round(time.Millisecond))
	return snap, nil
}

// restoreSnapshot rebuilds the published view from stored artifacts.
func (e *Engine) restoreSnapshot(ctx context.Context, m *manifest.AnalysisManifest) (*Snapshot, error) {
	arts, err := e.artifacts.Get(ctx, m.RepoStateHash)
	if err != nil {
		return nil, err
	}
	g, err := store.RestoreGraph(arts.Graph)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Graph:     g,
		Clusters:  store.RestoreClusters(arts.Clusters),
		Manifest:  m,
		Hierarchy: arts.Hierarchy,
	}, nil
}

// scopeChanges converts git's repo-relative paths to absolute and drops
// files outside the analysis globs. A rename that crosses the scope
// boundary degrades to the half that is in scope.
func (e *Engine) scopeChanges(changes []change.FileChange) []change.FileChange {
	var out []change.FileChange
	for _, c := range changes {
		switch c.Type {
		case change.ChangeRenamed:
			oldIn := e.matcher.Match(c.OldPath)
			newIn := e.matcher.Match(c.Path)
			switch {
			case oldIn && newIn:
				c.OldPath = filepath.Join(e.cfg.RepoPath, c.OldPath)
				c.Path = filepath.Join(e.cfg.RepoPath, c.Path)
				out = append(out, c)
			case oldIn:
				out = append(out, change.FileChange{
					Path:      filepath.Join(e.cfg.RepoPath, c.OldPath),
					Type:      change.ChangeDeleted,
					Deletions: c.Deletions,
				})
			case newIn:
				out = append(out, change.FileChange{
					Path:      filepath.Join(e.cfg.RepoPath, c.Path),
					Type:      change.ChangeAdded,
					Additions: c.Additions,
				})
			}
		case change.ChangeCopied:
			// The source is untouched; only the target matters for
			// scope. A copy from outside the analysis globs is a plain
			// addition.
			if !e.matcher.Match(c.Path) {
				continue
			}
			if e.matcher.Match(c.OldPath) {
				c.OldPath = filepath.Join(e.cfg.RepoPath, c.OldPath)
				c.Path = filepath.Join(e.cfg.RepoPath, c.Path)
				out = append(out, c)
				continue
			}
			out = append(out, change.FileChange{
				Path:      filepath.Join(e.cfg.RepoPath, c.Path),
				Type:      change.ChangeAdded,
				Additions: c.Additions,
			})
		default:
			if !e.matcher.Match(c.Path) {
				continue
			}
			c.Path = filepath.Join(e.cfg.RepoPath, c.Path)
			out = append(out, c)
		}
	}
	return out
}

// adoptComponent assigns an added file to the component owning its
// nearest mapped directory.
func adoptComponent(mapping map[string]string, file string) (string, bool) {
	dir := filepath.Dir(file)
	for dir != "." && dir != string(filepath.Separator) && dir != "" {
		best := ""
		for f, comp := range mapping {
			if filepath.Dir(f) == dir && (best == "" || comp < best) {
				best = comp
			}
		}
		if best != "" {
			return best, true
		}
		dir = filepath.Dir(dir)
	}
	return "", false
}

func scopedTo(components []string, filter string) bool {
	for _, c := range components {
		if c != filter {
			return false
		}
	}
	return true
}
