// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"sort"
	"strings"
)

// Resolver maps names and source locations back to graph nodes.
//
// It keeps two indexes over the symbols it has been fed: a normalized
// qualified-name index for resolving call and reference targets, and a
// per-file span index for finding the symbol enclosing a location.
//
// Thread Safety: not safe for concurrent mutation. Like the graph, the
// resolver is built single-writer, then read concurrently.
type Resolver struct {
	byQualified map[string][]*resolverEntry // key: NormalizeQualified(qualified name)
	byName      map[string][]*resolverEntry // key: lowercased bare name
	byFile      map[string][]*resolverEntry // sorted by StartLine ascending
}

type resolverEntry struct {
	id  string
	sym *Symbol
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		byQualified: make(map[string][]*resolverEntry),
		byName:      make(map[string][]*resolverEntry),
		byFile:      make(map[string][]*resolverEntry),
	}
}

// IndexGraph indexes every node of the graph. Convenience for rebuilds.
func (r *Resolver) IndexGraph(g *Graph) {
	for n := range g.Nodes() {
		r.Index(n.Symbol)
	}
}

// Index adds one symbol to the resolver's indexes.
func (r *Resolver) Index(sym *Symbol) {
	if sym == nil || sym.QualifiedName == "" {
		return
	}
	e := &resolverEntry{id: sym.ID(), sym: sym}
	qn := NormalizeQualified(sym.QualifiedName)
	r.byQualified[qn] = append(r.byQualified[qn], e)
	r.byName[strings.ToLower(sym.Name)] = append(r.byName[strings.ToLower(sym.Name)], e)

	entries := append(r.byFile[sym.FilePath], e)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].sym.StartLine != entries[j].sym.StartLine {
			return entries[i].sym.StartLine < entries[j].sym.StartLine
		}
		return entries[i].id < entries[j].id
	})
	r.byFile[sym.FilePath] = entries
}

// RemoveFile drops every symbol declared in the file from all indexes.
func (r *Resolver) RemoveFile(file string) {
	entries := r.byFile[file]
	if len(entries) == 0 {
		return
	}
	delete(r.byFile, file)
	drop := func(m map[string][]*resolverEntry, key string) {
		kept := m[key][:0]
		for _, e := range m[key] {
			if e.sym.FilePath != file {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(m, key)
		} else {
			m[key] = kept
		}
	}
	for _, e := range entries {
		drop(r.byQualified, NormalizeQualified(e.sym.QualifiedName))
		drop(r.byName, strings.ToLower(e.sym.Name))
	}
}

// Enclosing returns the ID of the innermost symbol whose span contains
// the given 1-based line in the file. Nesting ties break toward the
// narrower span, then the lexicographically smaller ID.
func (r *Resolver) Enclosing(file string, line int) (string, bool) {
	var best *resolverEntry
	for _, e := range r.byFile[file] {
		if e.sym.StartLine > line {
			break // entries are sorted by start line
		}
		if e.sym.EndLine < line {
			continue
		}
		if best == nil || narrower(e.sym, best.sym) {
			best = e
		}
	}
	if best == nil {
		return "", false
	}
	return best.id, true
}

func narrower(a, b *Symbol) bool {
	if a.StartLine != b.StartLine {
		return a.StartLine > b.StartLine
	}
	spanA, spanB := a.EndLine-a.StartLine, b.EndLine-b.StartLine
	if spanA != spanB {
		return spanA < spanB
	}
	return a.ID() < b.ID()
}

// Resolve maps a target name to a node ID.
//
// The name is normalized (case-insensitive, separators collapsed to dots)
// and matched first against full qualified names, then as a dotted suffix,
// then against bare names. When several candidates remain the pick is
// deterministic: same file as the call site first, then smallest line
// distance to fromLine, then lexicographic ID order.
//
// Returns ok=false when nothing matches; callers record an edge to the
// external sentinel in that case.
func (r *Resolver) Resolve(name, fromFile string, fromLine int) (string, bool) {
	qn := NormalizeQualified(name)
	if qn == "" {
		return "", false
	}
	candidates := r.byQualified[qn]
	if len(candidates) == 0 {
		candidates = r.suffixMatches(qn)
	}
	if len(candidates) == 0 {
		if i := strings.LastIndexByte(qn, '.'); i >= 0 {
			candidates = r.byName[qn[i+1:]]
		} else {
			candidates = r.byName[qn]
		}
	}
	switch len(candidates) {
	case 0:
		return "", false
	case 1:
		return candidates[0].id, true
	}
	return pickCandidate(candidates, fromFile, fromLine).id, true
}

// suffixMatches finds qualified names ending in ".qn". Linear over the
// qualified index; acceptable because it only runs on exact-match misses.
func (r *Resolver) suffixMatches(qn string) []*resolverEntry {
	suffix := "." + qn
	var out []*resolverEntry
	for key, entries := range r.byQualified {
		if strings.HasSuffix(key, suffix) {
			out = append(out, entries...)
		}
	}
	return out
}

func pickCandidate(candidates []*resolverEntry, fromFile string, fromLine int) *resolverEntry {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if betterCandidate(c, best, fromFile, fromLine) {
			best = c
		}
	}
	return best
}

func betterCandidate(a, b *resolverEntry, fromFile string, fromLine int) bool {
	aSame, bSame := a.sym.FilePath == fromFile, b.sym.FilePath == fromFile
	if aSame != bSame {
		return aSame
	}
	if aSame {
		aDist, bDist := absInt(a.sym.StartLine-fromLine), absInt(b.sym.StartLine-fromLine)
		if aDist != bDist {
			return aDist < bDist
		}
	}
	return a.id < b.id
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
