// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// =============================================================================
// Symbols
// =============================================================================

// SymbolKind classifies a node in the call graph.
type SymbolKind int

const (
	SymbolKindUnknown SymbolKind = iota
	SymbolKindFunction
	SymbolKindMethod
	SymbolKindClass
	SymbolKindModule
	SymbolKindVariable

	// NumSymbolKinds is the number of symbol kinds, used for array sizing.
	NumSymbolKinds
)

var symbolKindNames = map[SymbolKind]string{
	SymbolKindUnknown:  "unknown",
	SymbolKindFunction: "function",
	SymbolKindMethod:   "method",
	SymbolKindClass:    "class",
	SymbolKindModule:   "module",
	SymbolKindVariable: "variable",
}

// String returns the human-readable name of the symbol kind.
func (k SymbolKind) String() string {
	if name, ok := symbolKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SymbolKind(%d)", int(k))
}

// Symbol is a named program entity extracted from an analysis server.
//
// Identity is the pair (QualifiedName, FilePath): two overloads of the
// same name in the same file collapse to one node. QualifiedName is the
// dotted container chain, case-preserved; matching is case-insensitive
// (see NormalizeQualified).
type Symbol struct {
	// QualifiedName is the dotted path from the file's module name down
	// to the symbol, e.g. "billing.Invoice.Total".
	QualifiedName string `json:"qualified_name"`

	// Name is the bare symbol name, the last segment of QualifiedName.
	Name string `json:"name"`

	Kind      SymbolKind `json:"kind"`
	FilePath  string     `json:"file_path"`
	StartLine int        `json:"start_line"`
	EndLine   int        `json:"end_line"`
	Language  string     `json:"language"`

	// Signature is the server-reported detail string, when available.
	// Informational only; it does not participate in identity.
	Signature string `json:"signature,omitempty"`
}

// ID returns the node identity for this symbol:
// "<file path>#<lowercased qualified name>".
func (s *Symbol) ID() string {
	return s.FilePath + "#" + NormalizeQualified(s.QualifiedName)
}

// Validate checks that the symbol carries the fields identity depends on.
func (s *Symbol) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil symbol", ErrInvalidSymbol)
	}
	if s.QualifiedName == "" {
		return fmt.Errorf("%w: empty qualified name", ErrInvalidSymbol)
	}
	if s.FilePath == "" {
		return fmt.Errorf("%w: empty file path (%s)", ErrInvalidSymbol, s.QualifiedName)
	}
	return nil
}

// NormalizeQualified lowercases a qualified name and collapses path-style
// separators to dots, so "Billing/Invoice.Total" and "billing.invoice.total"
// compare equal across language conventions.
func NormalizeQualified(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "/", ".")
	name = strings.ReplaceAll(name, "::", ".")
	return strings.Trim(name, ".")
}

// =============================================================================
// Edges
// =============================================================================

// EdgeType classifies a relationship between two nodes.
type EdgeType int

const (
	EdgeTypeCall EdgeType = iota
	EdgeTypeReference
	EdgeTypeInheritance

	// NumEdgeTypes is the number of edge types, used for array sizing.
	NumEdgeTypes
)

var edgeTypeNames = map[EdgeType]string{
	EdgeTypeCall:        "call",
	EdgeTypeReference:   "reference",
	EdgeTypeInheritance: "inheritance",
}

// String returns the human-readable name of the edge type.
func (t EdgeType) String() string {
	if name, ok := edgeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EdgeType(%d)", int(t))
}

// ExternalNodeID is the sentinel target for edges whose destination could
// not be resolved to a node inside the indexed workspace. Every graph has
// exactly one external node; it belongs to no file and no cluster.
const ExternalNodeID = "#external"

// Edge is a directed, typed relationship between two nodes.
type Edge struct {
	From *Node
	To   *Node
	Type EdgeType

	// Line is the 1-based line in the From node's file where the
	// relationship occurs, when the server reported one.
	Line int

	// TargetHint preserves the qualified name the edge was created
	// against. It is set when To is the external sentinel (or when a
	// file removal retargeted the edge there) so a later pass can
	// re-resolve the edge against a rebuilt index.
	TargetHint string
}

// Node is a symbol plus its adjacency.
type Node struct {
	ID       string
	Symbol   *Symbol
	Outgoing []*Edge
	Incoming []*Edge
}

// =============================================================================
// Graph
// =============================================================================

type graphState int32

const (
	stateBuilding graphState = iota
	stateFrozen
)

const (
	defaultMaxNodes = 1_000_000
	defaultMaxEdges = 10_000_000
)

type graphOptions struct {
	maxNodes int
	maxEdges int
}

// GraphOption configures graph construction limits.
type GraphOption func(*graphOptions)

// WithMaxNodes overrides the default node limit of 1M.
func WithMaxNodes(n int) GraphOption {
	return func(o *graphOptions) { o.maxNodes = n }
}

// WithMaxEdges overrides the default edge limit of 10M.
func WithMaxEdges(n int) GraphOption {
	return func(o *graphOptions) { o.maxEdges = n }
}

// Graph is the unified call graph for one repository snapshot.
//
// See the package documentation for the ownership and freeze lifecycle.
type Graph struct {
	projectRoot string
	nodes       map[string]*Node
	edges       []*Edge

	nodesByFile map[string][]*Node
	edgesByFile map[string][]*Edge // keyed by the From node's file
	edgesByType [NumEdgeTypes][]*Edge

	external *Node

	state        atomic.Int32
	opts         graphOptions
	BuiltAtMilli int64
}

// New creates an empty graph in the Building state. The external sentinel
// node is pre-created.
func New(projectRoot string, opts ...GraphOption) *Graph {
	o := graphOptions{maxNodes: defaultMaxNodes, maxEdges: defaultMaxEdges}
	for _, opt := range opts {
		opt(&o)
	}
	g := &Graph{
		projectRoot: projectRoot,
		nodes:       make(map[string]*Node),
		nodesByFile: make(map[string][]*Node),
		edgesByFile: make(map[string][]*Edge),
		opts:        o,
	}
	g.external = &Node{
		ID:     ExternalNodeID,
		Symbol: &Symbol{QualifiedName: "external", Name: "external"},
	}
	g.nodes[ExternalNodeID] = g.external
	return g
}

// ProjectRoot returns the repository root this graph was built from.
func (g *Graph) ProjectRoot() string { return g.projectRoot }

// Freeze transitions the graph to read-only. Idempotent.
func (g *Graph) Freeze() {
	if g.state.CompareAndSwap(int32(stateBuilding), int32(stateFrozen)) {
		g.BuiltAtMilli = time.Now().UnixMilli()
	}
}

// IsFrozen reports whether the graph is read-only.
func (g *Graph) IsFrozen() bool {
	return graphState(g.state.Load()) == stateFrozen
}

// AddNode inserts a node for the symbol.
//
// Errors:
//   - ErrGraphFrozen if the graph is frozen
//   - ErrInvalidSymbol if the symbol fails validation
//   - ErrDuplicateNode if a node with the same identity exists
func (g *Graph) AddNode(sym *Symbol) (*Node, error) {
	if g.IsFrozen() {
		return nil, ErrGraphFrozen
	}
	if err := sym.Validate(); err != nil {
		return nil, err
	}
	id := sym.ID()
	if _, exists := g.nodes[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	if len(g.nodes)-1 >= g.opts.maxNodes { // -1 for the external sentinel
		return nil, fmt.Errorf("node limit %d reached adding %s", g.opts.maxNodes, id)
	}
	node := &Node{ID: id, Symbol: sym}
	g.nodes[id] = node
	g.nodesByFile[sym.FilePath] = append(g.nodesByFile[sym.FilePath], node)
	return node, nil
}

// AddEdge inserts a directed edge of the given type. Both endpoints must
// already exist; pass ExternalNodeID as toID for unresolved targets, with
// targetHint carrying the name the resolution was attempted against.
//
// Errors:
//   - ErrGraphFrozen if the graph is frozen
//   - ErrNodeNotFound if either endpoint is missing
func (g *Graph) AddEdge(fromID, toID string, t EdgeType, line int, targetHint string) error {
	if g.IsFrozen() {
		return ErrGraphFrozen
	}
	from, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("%w: edge source %s", ErrNodeNotFound, fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("%w: edge target %s", ErrNodeNotFound, toID)
	}
	if len(g.edges) >= g.opts.maxEdges {
		return fmt.Errorf("edge limit %d reached", g.opts.maxEdges)
	}
	edge := &Edge{From: from, To: to, Type: t, Line: line}
	if to == g.external {
		edge.TargetHint = targetHint
	}
	g.edges = append(g.edges, edge)
	from.Outgoing = append(from.Outgoing, edge)
	if to != g.external {
		to.Incoming = append(to.Incoming, edge)
	}
	g.edgesByFile[from.Symbol.FilePath] = append(g.edgesByFile[from.Symbol.FilePath], edge)
	g.edgesByType[t] = append(g.edgesByType[t], edge)
	return nil
}

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// External returns the external sentinel node.
func (g *Graph) External() *Node { return g.external }

// NodeCount returns the number of nodes, excluding the external sentinel.
func (g *Graph) NodeCount() int { return len(g.nodes) - 1 }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// NodesInFile returns a copy of the nodes declared in the given file.
func (g *Graph) NodesInFile(file string) []*Node {
	return slices.Clone(g.nodesByFile[file])
}

// EdgesFromFile returns a copy of the edges whose source is in the file.
func (g *Graph) EdgesFromFile(file string) []*Edge {
	return slices.Clone(g.edgesByFile[file])
}

// EdgesByType returns a copy of all edges of the given type.
func (g *Graph) EdgesByType(t EdgeType) []*Edge {
	if t < 0 || t >= NumEdgeTypes {
		return nil
	}
	return slices.Clone(g.edgesByType[t])
}

// Edges returns a copy of every edge in the graph.
func (g *Graph) Edges() []*Edge {
	return slices.Clone(g.edges)
}

// Files returns the sorted list of files that contribute nodes.
func (g *Graph) Files() []string {
	files := make([]string, 0, len(g.nodesByFile))
	for f := range g.nodesByFile {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// NodeIDs returns every node ID except the external sentinel, sorted.
// Sorted iteration keeps downstream algorithms deterministic.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.nodes)-1)
	for id := range g.nodes {
		if id == ExternalNodeID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Nodes iterates over all nodes except the external sentinel, in sorted
// ID order.
func (g *Graph) Nodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, id := range g.NodeIDs() {
			if !yield(g.nodes[id]) {
				return
			}
		}
	}
}

// =============================================================================
// Mutation beyond append (incremental update support)
// =============================================================================

// RemoveFile deletes every node declared in the file.
//
// Edges originating in the file are dropped. Edges arriving from other
// files are retargeted to the external sentinel with a TargetHint, so a
// later resolution pass can reconnect them against rebuilt nodes.
//
// Errors: ErrGraphFrozen if the graph is frozen.
func (g *Graph) RemoveFile(file string) error {
	if g.IsFrozen() {
		return ErrGraphFrozen
	}
	victims := g.nodesByFile[file]
	if len(victims) == 0 {
		return nil
	}
	dead := make(map[*Node]bool, len(victims))
	for _, n := range victims {
		dead[n] = true
		delete(g.nodes, n.ID)
	}
	delete(g.nodesByFile, file)
	delete(g.edgesByFile, file)

	keep := func(e *Edge) bool {
		if dead[e.From] {
			return false
		}
		if dead[e.To] {
			e.TargetHint = e.To.Symbol.QualifiedName
			e.To = g.external
		}
		return true
	}
	g.edges = filterEdges(g.edges, keep)
	for t := range g.edgesByType {
		g.edgesByType[t] = filterEdges(g.edgesByType[t], keep)
	}
	for f, edges := range g.edgesByFile {
		g.edgesByFile[f] = filterEdges(edges, keep)
	}
	for _, n := range g.nodes {
		n.Outgoing = filterAdjacency(n.Outgoing, dead)
		n.Incoming = filterAdjacency(n.Incoming, dead)
	}
	return nil
}

// filterEdges keeps edges passing the predicate, applying it at most once
// per edge object (the predicate mutates retargeted edges; mutation is
// idempotent, so repeated application across indexes is safe).
func filterEdges(edges []*Edge, keep func(*Edge) bool) []*Edge {
	out := edges[:0]
	for _, e := range edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	// Zero the tail so dropped edges do not pin memory.
	for i := len(out); i < len(edges); i++ {
		edges[i] = nil
	}
	return out
}

func filterAdjacency(edges []*Edge, dead map[*Node]bool) []*Edge {
	out := edges[:0]
	for _, e := range edges {
		if dead[e.From] || (dead[e.To] && e.To.ID != ExternalNodeID) {
			continue
		}
		out = append(out, e)
	}
	for i := len(out); i < len(edges); i++ {
		edges[i] = nil
	}
	return out
}

// Clone returns a deep copy of the graph in the Building state, sharing
// Symbol pointers (symbols are immutable once added). The receiver may be
// frozen; the clone never is.
func (g *Graph) Clone() *Graph {
	clone := New(g.projectRoot, WithMaxNodes(g.opts.maxNodes), WithMaxEdges(g.opts.maxEdges))

	// Pass 1: nodes.
	for id, n := range g.nodes {
		if id == ExternalNodeID {
			continue
		}
		cn := &Node{ID: n.ID, Symbol: n.Symbol}
		clone.nodes[id] = cn
		clone.nodesByFile[n.Symbol.FilePath] = append(clone.nodesByFile[n.Symbol.FilePath], cn)
	}

	// Pass 2: edges, rebuilt against the cloned nodes.
	for _, e := range g.edges {
		ce := &Edge{
			From:       clone.nodes[e.From.ID],
			To:         clone.nodes[e.To.ID],
			Type:       e.Type,
			Line:       e.Line,
			TargetHint: e.TargetHint,
		}
		clone.edges = append(clone.edges, ce)
		ce.From.Outgoing = append(ce.From.Outgoing, ce)
		if ce.To.ID != ExternalNodeID {
			ce.To.Incoming = append(ce.To.Incoming, ce)
		}
		clone.edgesByFile[ce.From.Symbol.FilePath] = append(clone.edgesByFile[ce.From.Symbol.FilePath], ce)
		clone.edgesByType[e.Type] = append(clone.edgesByType[e.Type], ce)
	}
	return clone
}

// Stats summarizes graph size for logging and span attributes.
type Stats struct {
	Nodes int
	Edges int
	Files int
}

// Stats returns the current node/edge/file counts.
func (g *Graph) Stats() Stats {
	return Stats{Nodes: g.NodeCount(), Edges: len(g.edges), Files: len(g.nodesByFile)}
}
