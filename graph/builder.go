// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/StratumCode/stratum/lsp"
	"github.com/StratumCode/stratum/workspace"
)

// SymbolSource is the slice of the lsp operations layer the builder
// consumes. *lsp.Operations satisfies it; tests substitute fakes.
type SymbolSource interface {
	OpenFile(ctx context.Context, language, root, path string) error
	CloseFile(ctx context.Context, language, root, path string) error
	DocumentSymbols(ctx context.Context, language, root, path string) ([]lsp.DocumentSymbol, error)
	References(ctx context.Context, language, root, path string, pos lsp.Position) ([]lsp.Location, error)
	PrepareCallHierarchy(ctx context.Context, language, root, path string, pos lsp.Position) ([]lsp.HierarchyItem, error)
	OutgoingCalls(ctx context.Context, language, root string, item lsp.HierarchyItem) ([]lsp.CallHierarchyOutgoingCall, error)
	Supertypes(ctx context.Context, language, root, path string, pos lsp.Position) ([]lsp.HierarchyItem, error)
}

// LanguageResolver maps file extensions to languages. The lsp config
// registry satisfies it.
type LanguageResolver interface {
	LanguageForExtension(ext string) (string, bool)
}

// Warning records one degraded step of a build. Warnings never fail a
// build; they surface in the run report.
type Warning struct {
	File    string `json:"file"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Result is the outcome of a build.
type Result struct {
	Graph *Graph

	// Hierarchy maps a class node ID to its parent class node IDs,
	// aggregated from inheritance edges.
	Hierarchy map[string][]string

	// Warnings lists per-file analysis failures and skipped files.
	Warnings []Warning

	// SkippedLanguages maps languages that were unavailable for the run
	// to the reason.
	SkippedLanguages map[string]string
}

// Builder drives symbol and relationship extraction across a worker pool
// and assembles the unified graph.
//
// One builder is good for one run; it is not safe for concurrent Build
// calls.
type Builder struct {
	source    SymbolSource
	languages LanguageResolver
	projects  []workspace.Subproject
	workers   int
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithWorkers overrides the worker pool size (default: NumCPU).
func WithWorkers(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// NewBuilder creates a builder over the given source and subprojects.
func NewBuilder(source SymbolSource, languages LanguageResolver, projects []workspace.Subproject, opts ...BuilderOption) *Builder {
	b := &Builder{
		source:    source,
		languages: languages,
		projects:  projects,
		workers:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// fileSymbol couples a graph symbol with the zero-based selection
// position the hierarchy requests need.
type fileSymbol struct {
	sym *Symbol
	sel lsp.Position
}

type edgeSpec struct {
	fromID string
	toID   string
	t      EdgeType
	line   int
	hint   string
}

// Build analyzes the given files and returns a frozen graph.
//
// Per-file failures become warnings. The single hard failure is
// ErrNoServersAvailable: not one of the languages present in files could
// be served. Context cancellation aborts between server calls and
// returns ctx.Err().
func (b *Builder) Build(ctx context.Context, repoRoot string, files []string) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	g := New(repoRoot)
	result := &Result{Graph: g, SkippedLanguages: make(map[string]string)}

	if err := b.populate(ctx, g, files, result); err != nil {
		return nil, err
	}

	g.Freeze()
	result.Hierarchy = HierarchyFromEdges(g)

	stats := g.Stats()
	slog.Info("graph build complete",
		slog.Int("nodes", stats.Nodes),
		slog.Int("edges", stats.Edges),
		slog.Int("files", stats.Files),
		slog.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// Extend analyzes files into an existing unfrozen graph (a Clone() the
// orchestrator has already stripped of stale files). The resolver index
// covers the whole graph, so new edges can land on untouched nodes and
// previously external edges get a chance to reconnect.
func (b *Builder) Extend(ctx context.Context, g *Graph, files []string) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if g.IsFrozen() {
		return nil, ErrGraphFrozen
	}
	result := &Result{Graph: g, SkippedLanguages: make(map[string]string)}
	if err := b.populate(ctx, g, files, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (b *Builder) populate(ctx context.Context, g *Graph, files []string, result *Result) error {
	symbolsByFile, err := b.collectSymbols(ctx, files, result)
	if err != nil {
		return err
	}

	// Insert nodes in deterministic order and index the full graph,
	// pre-existing nodes included.
	resolver := NewResolver()
	resolver.IndexGraph(g)
	sortedFiles := make([]string, 0, len(symbolsByFile))
	for f := range symbolsByFile {
		sortedFiles = append(sortedFiles, f)
	}
	sort.Strings(sortedFiles)
	for _, f := range sortedFiles {
		for _, fs := range symbolsByFile[f] {
			if _, err := g.AddNode(fs.sym); err != nil {
				if errors.Is(err, ErrDuplicateNode) {
					// Overloads collapse to one node.
					continue
				}
				return fmt.Errorf("add node %s: %w", fs.sym.ID(), err)
			}
			resolver.Index(fs.sym)
		}
	}

	specs, err := b.collectEdges(ctx, symbolsByFile, resolver, result)
	if err != nil {
		return err
	}
	b.applyEdges(g, specs)
	reconnected := g.RetargetExternal(resolver)
	if reconnected > 0 {
		slog.Debug("reconnected external edges", slog.Int("count", reconnected))
	}
	return nil
}

// collectSymbols runs phase one: document symbols for every file, in
// parallel, grouped per file.
func (b *Builder) collectSymbols(ctx context.Context, files []string, result *Result) (map[string][]fileSymbol, error) {
	ctx, span := startBuildSpan(ctx, "collect_symbols", len(files))
	defer span.End()
	start := time.Now()
	defer func() { recordBuildPhase(ctx, "collect_symbols", start) }()

	var (
		mu            sync.Mutex
		symbolsByFile = make(map[string][]fileSymbol)
		sawLanguage   = make(map[string]bool)
		served        = make(map[string]bool)
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.workers)
	for _, file := range files {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			language, ok := b.languages.LanguageForExtension(filepath.Ext(file))
			mu.Lock()
			if ok {
				sawLanguage[language] = true
			}
			mu.Unlock()
			if !ok {
				return nil // not an analyzable file
			}
			root := b.ownerRoot(file, language)

			syms, warn := b.fileSymbols(egCtx, language, root, file)
			mu.Lock()
			defer mu.Unlock()
			if warn != nil {
				result.Warnings = append(result.Warnings, *warn)
				recordFileOutcome(egCtx, language, true)
				return nil
			}
			served[language] = true
			symbolsByFile[file] = syms
			recordFileOutcome(egCtx, language, false)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Every language present failed: hard error, naming the languages
	// that could not be served. Partial coverage is a
	// degraded-but-successful run.
	if len(sawLanguage) > 0 && len(served) == 0 {
		langs := make([]string, 0, len(sawLanguage))
		for lang := range sawLanguage {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		return nil, fmt.Errorf("%w: %s", ErrNoServersAvailable, strings.Join(langs, ", "))
	}
	for lang := range sawLanguage {
		if !served[lang] {
			result.SkippedLanguages[lang] = "no analysis server served this language"
		}
	}
	sortWarnings(result.Warnings)
	return symbolsByFile, nil
}

func (b *Builder) fileSymbols(ctx context.Context, language, root, file string) ([]fileSymbol, *Warning) {
	if err := b.source.OpenFile(ctx, language, root, file); err != nil {
		return nil, &Warning{File: file, Stage: "open", Message: err.Error()}
	}
	defer func() { _ = b.source.CloseFile(ctx, language, root, file) }()

	docSyms, err := b.source.DocumentSymbols(ctx, language, root, file)
	if err != nil {
		return nil, &Warning{File: file, Stage: "symbols", Message: err.Error()}
	}

	module := moduleName(file)
	var out []fileSymbol
	var walk func(prefix string, syms []lsp.DocumentSymbol)
	walk = func(prefix string, syms []lsp.DocumentSymbol) {
		for _, ds := range syms {
			qualified := prefix + "." + ds.Name
			kind := mapSymbolKind(ds.Kind)
			if kind != SymbolKindUnknown {
				out = append(out, fileSymbol{
					sym: &Symbol{
						QualifiedName: qualified,
						Name:          lastSegment(ds.Name),
						Kind:          kind,
						FilePath:      file,
						StartLine:     ds.Range.Start.Line + 1,
						EndLine:       ds.Range.End.Line + 1,
						Language:      language,
						Signature:     ds.Detail,
					},
					sel: ds.SelectionRange.Start,
				})
			}
			walk(qualified, ds.Children)
		}
	}
	walk(module, docSyms)
	return out, nil
}

// collectEdges runs phase two: hierarchy and reference queries per
// symbol, in parallel, producing edge specs for deterministic insertion.
func (b *Builder) collectEdges(ctx context.Context, symbolsByFile map[string][]fileSymbol, resolver *Resolver, result *Result) ([]edgeSpec, error) {
	total := 0
	for _, syms := range symbolsByFile {
		total += len(syms)
	}
	ctx, span := startBuildSpan(ctx, "collect_edges", len(symbolsByFile))
	defer span.End()
	start := time.Now()
	defer func() { recordBuildPhase(ctx, "collect_edges", start) }()

	var (
		mu    sync.Mutex
		specs []edgeSpec
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.workers)
	for file, syms := range symbolsByFile {
		if len(syms) == 0 {
			continue
		}
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			language := syms[0].sym.Language
			root := b.ownerRoot(file, language)

			fileSpecs, warns := b.fileEdges(egCtx, language, root, file, syms, resolver)
			mu.Lock()
			specs = append(specs, fileSpecs...)
			result.Warnings = append(result.Warnings, warns...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sortWarnings(result.Warnings)
	return specs, nil
}

func (b *Builder) fileEdges(ctx context.Context, language, root, file string, syms []fileSymbol, resolver *Resolver) ([]edgeSpec, []Warning) {
	var specs []edgeSpec
	var warns []Warning
	for _, fs := range syms {
		if err := ctx.Err(); err != nil {
			return specs, warns
		}
		switch fs.sym.Kind {
		case SymbolKindFunction, SymbolKindMethod:
			calls, refs, err := b.callableEdges(ctx, language, root, file, fs, resolver)
			if err != nil {
				warns = append(warns, Warning{File: file, Stage: "relations", Message: err.Error()})
				continue
			}
			specs = append(specs, calls...)
			specs = append(specs, refs...)
		case SymbolKindClass:
			parents, err := b.inheritanceEdges(ctx, language, root, file, fs, resolver)
			if err != nil {
				warns = append(warns, Warning{File: file, Stage: "hierarchy", Message: err.Error()})
				continue
			}
			specs = append(specs, parents...)
		}
	}
	return specs, warns
}

func (b *Builder) callableEdges(ctx context.Context, language, root, file string, fs fileSymbol, resolver *Resolver) (calls, refs []edgeSpec, err error) {
	fromID := fs.sym.ID()

	items, err := b.source.PrepareCallHierarchy(ctx, language, root, file, fs.sel)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: prepare %s: %v", ErrFileAnalysis, fs.sym.QualifiedName, err)
	}
	for _, item := range items {
		outgoing, err := b.source.OutgoingCalls(ctx, language, root, item)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: outgoing %s: %v", ErrFileAnalysis, fs.sym.QualifiedName, err)
		}
		for _, call := range outgoing {
			line := 0
			if len(call.FromRanges) > 0 {
				line = call.FromRanges[0].Start.Line + 1
			}
			calls = append(calls, b.targetSpec(fromID, file, call.To, EdgeTypeCall, line, resolver))
		}
	}

	locs, err := b.source.References(ctx, language, root, file, fs.sel)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: references %s: %v", ErrFileAnalysis, fs.sym.QualifiedName, err)
	}
	for _, loc := range locs {
		refFile := lsp.URIToPath(loc.URI)
		refLine := loc.Range.Start.Line + 1
		owner, ok := resolver.Enclosing(refFile, refLine)
		if !ok || owner == fromID {
			continue // reference outside any known symbol, or the declaration itself
		}
		refs = append(refs, edgeSpec{fromID: owner, toID: fromID, t: EdgeTypeReference, line: refLine})
	}
	return calls, refs, nil
}

func (b *Builder) inheritanceEdges(ctx context.Context, language, root, file string, fs fileSymbol, resolver *Resolver) ([]edgeSpec, error) {
	parents, err := b.source.Supertypes(ctx, language, root, file, fs.sel)
	if err != nil {
		return nil, fmt.Errorf("%w: supertypes %s: %v", ErrFileAnalysis, fs.sym.QualifiedName, err)
	}
	specs := make([]edgeSpec, 0, len(parents))
	for _, parent := range parents {
		specs = append(specs, b.targetSpec(fs.sym.ID(), file, parent, EdgeTypeInheritance, fs.sym.StartLine, resolver))
	}
	return specs, nil
}

// targetSpec resolves a hierarchy item to a node, by location first,
// then by name, falling back to the external sentinel.
func (b *Builder) targetSpec(fromID, fromFile string, item lsp.HierarchyItem, t EdgeType, line int, resolver *Resolver) edgeSpec {
	targetFile := lsp.URIToPath(item.URI)
	targetLine := item.SelectionRange.Start.Line + 1
	if id, ok := resolver.Enclosing(targetFile, targetLine); ok {
		return edgeSpec{fromID: fromID, toID: id, t: t, line: line}
	}
	if id, ok := resolver.Resolve(item.Name, fromFile, line); ok {
		return edgeSpec{fromID: fromID, toID: id, t: t, line: line}
	}
	return edgeSpec{fromID: fromID, toID: ExternalNodeID, t: t, line: line, hint: item.Name}
}

// applyEdges inserts specs in sorted order, de-duplicated on
// (from, to, type). Worker scheduling must not influence the result.
func (b *Builder) applyEdges(g *Graph, specs []edgeSpec) {
	sort.Slice(specs, func(i, j int) bool {
		a, c := specs[i], specs[j]
		if a.fromID != c.fromID {
			return a.fromID < c.fromID
		}
		if a.toID != c.toID {
			return a.toID < c.toID
		}
		if a.t != c.t {
			return a.t < c.t
		}
		return a.line < c.line
	})
	type edgeKey struct {
		from, to string
		t        EdgeType
	}
	seen := make(map[edgeKey]bool, len(specs))
	for _, s := range specs {
		key := edgeKey{from: s.fromID, to: s.toID, t: s.t}
		if seen[key] {
			continue
		}
		seen[key] = true
		if err := g.AddEdge(s.fromID, s.toID, s.t, s.line, s.hint); err != nil {
			// Endpoint vanished between phases (duplicate collapse);
			// drop the edge rather than abort.
			slog.Debug("dropping edge", slog.String("from", s.fromID), slog.String("to", s.toID), slog.String("error", err.Error()))
		}
	}
}

// RetargetExternal re-resolves edges pointing at the external sentinel
// using the given resolver and reconnects the ones that now land on a
// real node. Returns the number of reconnected edges.
func (g *Graph) RetargetExternal(resolver *Resolver) int {
	reconnected := 0
	for _, e := range g.edges {
		if e.To.ID != ExternalNodeID || e.TargetHint == "" {
			continue
		}
		id, ok := resolver.Resolve(e.TargetHint, e.From.Symbol.FilePath, e.Line)
		if !ok {
			continue
		}
		target := g.nodes[id]
		if target == nil || target == e.From {
			continue
		}
		e.To = target
		e.TargetHint = ""
		target.Incoming = append(target.Incoming, e)
		reconnected++
	}
	return reconnected
}

// HierarchyFromEdges aggregates inheritance edges into a child node ID
// -> parent node IDs map, the shape the type-hierarchy artifact stores.
// External parents are recorded by their hint name.
func HierarchyFromEdges(g *Graph) map[string][]string {
	out := make(map[string][]string)
	for _, e := range g.edgesByType[EdgeTypeInheritance] {
		parent := e.To.ID
		if parent == ExternalNodeID && e.TargetHint != "" {
			parent = ExternalNodeID + ":" + NormalizeQualified(e.TargetHint)
		}
		out[e.From.ID] = append(out[e.From.ID], parent)
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out
}

// ownerRoot resolves the subproject root serving a file, defaulting to
// the file's directory when discovery found nothing.
func (b *Builder) ownerRoot(file, language string) string {
	if owner, ok := workspace.Owner(b.projects, file, language); ok {
		return owner.Root
	}
	return filepath.Dir(file)
}

// mapSymbolKind folds the LSP kind enumeration into the graph's coarser
// classification. Kinds with no analytical value (strings, numbers, ...)
// map to Unknown and are not turned into nodes.
func mapSymbolKind(k lsp.SymbolKind) SymbolKind {
	switch k {
	case lsp.SymbolKindFunction, lsp.SymbolKindConstructor:
		return SymbolKindFunction
	case lsp.SymbolKindMethod:
		return SymbolKindMethod
	case lsp.SymbolKindClass, lsp.SymbolKindInterface, lsp.SymbolKindStruct, lsp.SymbolKindEnum:
		return SymbolKindClass
	case lsp.SymbolKindModule, lsp.SymbolKindNamespace, lsp.SymbolKindPackage:
		return SymbolKindModule
	case lsp.SymbolKindVariable, lsp.SymbolKindConstant, lsp.SymbolKindField,
		lsp.SymbolKindProperty, lsp.SymbolKindEnumMember:
		return SymbolKindVariable
	default:
		return SymbolKindUnknown
	}
}

func moduleName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func sortWarnings(warns []Warning) {
	sort.Slice(warns, func(i, j int) bool {
		if warns[i].File != warns[j].File {
			return warns[i].File < warns[j].File
		}
		return warns[i].Stage < warns[j].Stage
	})
}
