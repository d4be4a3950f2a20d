// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"errors"
	"testing"
)

func sym(qualified, file string, kind SymbolKind, start, end int) *Symbol {
	return &Symbol{
		QualifiedName: qualified,
		Name:          lastSegment(qualified),
		Kind:          kind,
		FilePath:      file,
		StartLine:     start,
		EndLine:       end,
		Language:      "go",
	}
}

// buildSampleGraph returns a small two-file graph:
//
//	a.go: a.Alpha -> a.Beta (call), a.Alpha -> external (call)
//	b.go: b.Gamma -> a.Beta (call), b.Gamma -> a.Alpha (reference)
func buildSampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New("/repo")
	symbols := []*Symbol{
		sym("a.Alpha", "/repo/a.go", SymbolKindFunction, 1, 10),
		sym("a.Beta", "/repo/a.go", SymbolKindFunction, 12, 20),
		sym("b.Gamma", "/repo/b.go", SymbolKindFunction, 1, 15),
	}
	ids := make([]string, len(symbols))
	for i, s := range symbols {
		n, err := g.AddNode(s)
		if err != nil {
			t.Fatalf("AddNode %s: %v", s.QualifiedName, err)
		}
		ids[i] = n.ID
	}
	mustEdge := func(from, to string, et EdgeType, line int, hint string) {
		t.Helper()
		if err := g.AddEdge(from, to, et, line, hint); err != nil {
			t.Fatalf("AddEdge %s -> %s: %v", from, to, err)
		}
	}
	mustEdge(ids[0], ids[1], EdgeTypeCall, 3, "")
	mustEdge(ids[0], ExternalNodeID, EdgeTypeCall, 5, "fmt.Println")
	mustEdge(ids[2], ids[1], EdgeTypeCall, 4, "")
	mustEdge(ids[2], ids[0], EdgeTypeReference, 8, "")
	return g
}

func TestSymbolIdentity(t *testing.T) {
	s := sym("Billing.Invoice.Total", "/repo/billing.py", SymbolKindMethod, 4, 9)
	if got := s.ID(); got != "/repo/billing.py#billing.invoice.total" {
		t.Errorf("unexpected ID %q", got)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("valid symbol rejected: %v", err)
	}
	if err := (&Symbol{FilePath: "/a.go"}).Validate(); !errors.Is(err, ErrInvalidSymbol) {
		t.Error("symbol without qualified name should be invalid")
	}
	if err := (&Symbol{QualifiedName: "a.B"}).Validate(); !errors.Is(err, ErrInvalidSymbol) {
		t.Error("symbol without file should be invalid")
	}
}

func TestNormalizeQualified(t *testing.T) {
	cases := map[string]string{
		"Billing/Invoice.Total": "billing.invoice.total",
		"pkg::Type::method":     "pkg.type.method",
		".Leading.Dot.":         "leading.dot",
		"simple":                "simple",
	}
	for in, want := range cases {
		if got := NormalizeQualified(in); got != want {
			t.Errorf("NormalizeQualified(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGraphDuplicateNode(t *testing.T) {
	g := New("/repo")
	if _, err := g.AddNode(sym("a.F", "/repo/a.go", SymbolKindFunction, 1, 5)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	// Different case, same identity.
	_, err := g.AddNode(sym("A.f", "/repo/a.go", SymbolKindFunction, 7, 9))
	if !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("expected ErrDuplicateNode, got %v", err)
	}
	// Same name in a different file is a distinct node.
	if _, err := g.AddNode(sym("a.F", "/repo/b.go", SymbolKindFunction, 1, 5)); err != nil {
		t.Errorf("same name in another file should be allowed: %v", err)
	}
}

func TestGraphFreeze(t *testing.T) {
	g := buildSampleGraph(t)
	if g.IsFrozen() {
		t.Fatal("new graph must not be frozen")
	}
	g.Freeze()
	if !g.IsFrozen() {
		t.Fatal("Freeze did not take effect")
	}
	g.Freeze() // idempotent

	if _, err := g.AddNode(sym("c.New", "/repo/c.go", SymbolKindFunction, 1, 2)); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("AddNode on frozen graph: expected ErrGraphFrozen, got %v", err)
	}
	if err := g.AddEdge("x", "y", EdgeTypeCall, 1, ""); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("AddEdge on frozen graph: expected ErrGraphFrozen, got %v", err)
	}
	if err := g.RemoveFile("/repo/a.go"); !errors.Is(err, ErrGraphFrozen) {
		t.Errorf("RemoveFile on frozen graph: expected ErrGraphFrozen, got %v", err)
	}
}

func TestGraphEdgeValidation(t *testing.T) {
	g := New("/repo")
	n, err := g.AddNode(sym("a.F", "/repo/a.go", SymbolKindFunction, 1, 5))
	if err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddEdge(n.ID, "/repo/b.go#missing", EdgeTypeCall, 1, ""); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for missing target, got %v", err)
	}
	if err := g.AddEdge("/repo/b.go#missing", n.ID, EdgeTypeCall, 1, ""); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound for missing source, got %v", err)
	}
	if err := g.AddEdge(n.ID, ExternalNodeID, EdgeTypeCall, 2, "os.Exit"); err != nil {
		t.Errorf("edge to external sentinel should succeed: %v", err)
	}
	edges := g.EdgesByType(EdgeTypeCall)
	if len(edges) != 1 || edges[0].TargetHint != "os.Exit" {
		t.Errorf("external edge should carry its hint: %+v", edges)
	}
}

func TestGraphCounts(t *testing.T) {
	g := buildSampleGraph(t)
	if got := g.NodeCount(); got != 3 {
		t.Errorf("NodeCount = %d, want 3 (external excluded)", got)
	}
	if got := g.EdgeCount(); got != 4 {
		t.Errorf("EdgeCount = %d, want 4", got)
	}
	if got := len(g.NodesInFile("/repo/a.go")); got != 2 {
		t.Errorf("NodesInFile(a.go) = %d, want 2", got)
	}
	if got := len(g.EdgesFromFile("/repo/b.go")); got != 2 {
		t.Errorf("EdgesFromFile(b.go) = %d, want 2", got)
	}
	if got := len(g.EdgesByType(EdgeTypeReference)); got != 1 {
		t.Errorf("reference edges = %d, want 1", got)
	}
	files := g.Files()
	if len(files) != 2 || files[0] != "/repo/a.go" || files[1] != "/repo/b.go" {
		t.Errorf("Files() = %v", files)
	}
}

func TestGraphNodeIDsSorted(t *testing.T) {
	g := buildSampleGraph(t)
	ids := g.NodeIDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 IDs, got %v", ids)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("IDs not sorted: %v", ids)
		}
	}
	for _, id := range ids {
		if id == ExternalNodeID {
			t.Fatal("external sentinel must not appear in NodeIDs")
		}
	}
}

func TestGraphRemoveFile(t *testing.T) {
	g := buildSampleGraph(t)
	if err := g.RemoveFile("/repo/a.go"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}

	if g.NodeCount() != 1 {
		t.Errorf("expected 1 node after removal, got %d", g.NodeCount())
	}
	if got := g.NodesInFile("/repo/a.go"); len(got) != 0 {
		t.Errorf("removed file still has nodes: %v", got)
	}

	// Gamma's two outgoing edges survive, retargeted to external with
	// hints preserving the lost targets' names.
	gamma := g.Node("/repo/b.go#b.gamma")
	if gamma == nil {
		t.Fatal("unrelated node removed")
	}
	if len(gamma.Outgoing) != 2 {
		t.Fatalf("expected 2 surviving edges, got %d", len(gamma.Outgoing))
	}
	for _, e := range gamma.Outgoing {
		if e.To.ID != ExternalNodeID {
			t.Errorf("edge to removed node should point at external, got %s", e.To.ID)
		}
		if e.TargetHint == "" {
			t.Error("retargeted edge lost its hint")
		}
	}
	if g.EdgeCount() != 2 {
		t.Errorf("expected 2 edges after removal, got %d", g.EdgeCount())
	}

	// Removing an unknown file is a no-op.
	if err := g.RemoveFile("/repo/zzz.go"); err != nil {
		t.Errorf("removing unknown file: %v", err)
	}
}

func TestGraphCloneIndependence(t *testing.T) {
	g := buildSampleGraph(t)
	g.Freeze()

	clone := g.Clone()
	if clone.IsFrozen() {
		t.Fatal("clone must start in the building state")
	}
	if clone.NodeCount() != g.NodeCount() || clone.EdgeCount() != g.EdgeCount() {
		t.Fatalf("clone size mismatch: %+v vs %+v", clone.Stats(), g.Stats())
	}

	// Mutating the clone leaves the original untouched.
	if err := clone.RemoveFile("/repo/a.go"); err != nil {
		t.Fatalf("RemoveFile on clone: %v", err)
	}
	if _, err := clone.AddNode(sym("c.Delta", "/repo/c.go", SymbolKindFunction, 1, 4)); err != nil {
		t.Fatalf("AddNode on clone: %v", err)
	}
	if g.NodeCount() != 3 || g.EdgeCount() != 4 {
		t.Errorf("original mutated through clone: %+v", g.Stats())
	}
	if g.Node("/repo/a.go#a.alpha") == nil {
		t.Error("original lost a node")
	}

	// Shared symbols, distinct nodes.
	orig := g.Node("/repo/b.go#b.gamma")
	cloned := clone.Node("/repo/b.go#b.gamma")
	if orig == cloned {
		t.Error("clone shares node objects with the original")
	}
	if orig.Symbol != cloned.Symbol {
		t.Error("clone should share immutable symbol objects")
	}
}

func TestRetargetExternal(t *testing.T) {
	g := buildSampleGraph(t)
	if err := g.RemoveFile("/repo/a.go"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}

	// Re-add Beta only; the dangling call edge should reconnect to it,
	// while the reference to the still-missing Alpha stays external.
	if _, err := g.AddNode(sym("a.Beta", "/repo/a.go", SymbolKindFunction, 12, 20)); err != nil {
		t.Fatalf("re-add Beta: %v", err)
	}
	resolver := NewResolver()
	resolver.IndexGraph(g)

	if n := g.RetargetExternal(resolver); n != 1 {
		t.Fatalf("expected 1 reconnected edge, got %d", n)
	}
	beta := g.Node("/repo/a.go#a.beta")
	if len(beta.Incoming) != 1 {
		t.Errorf("expected reconnected incoming edge on Beta, got %d", len(beta.Incoming))
	}
}

func TestEnumStrings(t *testing.T) {
	if EdgeTypeCall.String() != "call" || EdgeTypeInheritance.String() != "inheritance" {
		t.Error("edge type names wrong")
	}
	if EdgeType(99).String() == "" {
		t.Error("unknown edge type should still render")
	}
	if SymbolKindClass.String() != "class" || SymbolKind(99).String() == "" {
		t.Error("symbol kind names wrong")
	}
}
