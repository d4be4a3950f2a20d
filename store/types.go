// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"fmt"
	"sort"

	"github.com/StratumCode/stratum/cluster"
	"github.com/StratumCode/stratum/graph"
	"github.com/StratumCode/stratum/workspace"
)

// =============================================================================
// Snapshot records
// =============================================================================

// EdgeRecord is the persisted form of one graph edge. Node pointers
// flatten to IDs; the external sentinel round-trips by its fixed ID.
type EdgeRecord struct {
	FromID     string `json:"from"`
	ToID       string `json:"to"`
	Type       int    `json:"type"`
	Line       int    `json:"line,omitempty"`
	TargetHint string `json:"target_hint,omitempty"`
}

// GraphSnapshot is the persisted form of a frozen call graph.
type GraphSnapshot struct {
	ProjectRoot string          `json:"project_root"`
	Symbols     []*graph.Symbol `json:"symbols"`
	Edges       []EdgeRecord    `json:"edges"`
}

// ClusterRecord is the persisted form of one cluster.
type ClusterRecord struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"display_name"`
	DominantPackage string   `json:"dominant_package"`
	Files           []string `json:"files"`
	Nodes           []string `json:"nodes,omitempty"`
	InternalEdges   int      `json:"internal_edges"`
	ExternalEdges   int      `json:"external_edges"`
}

// ClusterSnapshot is the persisted form of a clustering result.
type ClusterSnapshot struct {
	Clusters      []ClusterRecord   `json:"clusters"`
	FileToCluster map[string]string `json:"file_to_cluster"`
	Modularity    float64           `json:"modularity"`
	Degenerate    bool              `json:"degenerate"`
}

// Artifacts bundles everything the engine persists for one repository
// state.
type Artifacts struct {
	RepoStateHash string `json:"repo_state_hash"`
	Depth         int    `json:"depth"`

	Graph       GraphSnapshot           `json:"graph"`
	Hierarchy   map[string][]string     `json:"hierarchy,omitempty"`
	PackageDeps []workspace.PackageEdge `json:"package_deps,omitempty"`
	Files       []string                `json:"files"`
	Clusters    ClusterSnapshot         `json:"clusters"`
}

// =============================================================================
// Converters
// =============================================================================

// SnapshotGraph flattens a graph into its persisted form. Symbols and
// edges come out in sorted order, so identical graphs serialize
// identically.
func SnapshotGraph(g *graph.Graph) GraphSnapshot {
	snap := GraphSnapshot{ProjectRoot: g.ProjectRoot()}
	for node := range g.Nodes() {
		snap.Symbols = append(snap.Symbols, node.Symbol)
	}
	for _, e := range g.Edges() {
		snap.Edges = append(snap.Edges, EdgeRecord{
			FromID:     e.From.ID,
			ToID:       e.To.ID,
			Type:       int(e.Type),
			Line:       e.Line,
			TargetHint: e.TargetHint,
		})
	}
	sort.Slice(snap.Edges, func(i, j int) bool {
		a, b := snap.Edges[i], snap.Edges[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		return a.Type < b.Type
	})
	return snap
}

// RestoreGraph rebuilds a frozen graph from its persisted form.
func RestoreGraph(snap GraphSnapshot) (*graph.Graph, error) {
	g := graph.New(snap.ProjectRoot)
	for _, sym := range snap.Symbols {
		if _, err := g.AddNode(sym); err != nil {
			return nil, fmt.Errorf("restoring node %s: %w", sym.ID(), err)
		}
	}
	for _, e := range snap.Edges {
		if err := g.AddEdge(e.FromID, e.ToID, graph.EdgeType(e.Type), e.Line, e.TargetHint); err != nil {
			return nil, fmt.Errorf("restoring edge %s -> %s: %w", e.FromID, e.ToID, err)
		}
	}
	g.Freeze()
	return g, nil
}

// SnapshotClusters flattens a clustering result.
func SnapshotClusters(r *cluster.Result) ClusterSnapshot {
	snap := ClusterSnapshot{
		FileToCluster: r.FileToCluster,
		Modularity:    r.Modularity,
		Degenerate:    r.Degenerate,
	}
	for _, c := range r.Clusters {
		snap.Clusters = append(snap.Clusters, ClusterRecord{
			ID:              c.ID,
			DisplayName:     c.DisplayName,
			DominantPackage: c.DominantPackage,
			Files:           c.Files,
			Nodes:           c.Nodes,
			InternalEdges:   c.InternalEdges,
			ExternalEdges:   c.ExternalEdges,
		})
	}
	return snap
}

// RestoreClusters rebuilds a clustering result from its persisted form.
func RestoreClusters(snap ClusterSnapshot) *cluster.Result {
	r := &cluster.Result{
		FileToCluster: snap.FileToCluster,
		Modularity:    snap.Modularity,
		Degenerate:    snap.Degenerate,
	}
	if r.FileToCluster == nil {
		r.FileToCluster = make(map[string]string)
	}
	for _, c := range snap.Clusters {
		r.Clusters = append(r.Clusters, cluster.Cluster{
			ID:              c.ID,
			DisplayName:     c.DisplayName,
			DominantPackage: c.DominantPackage,
			Files:           c.Files,
			Nodes:           c.Nodes,
			InternalEdges:   c.InternalEdges,
			ExternalEdges:   c.ExternalEdges,
		})
	}
	return r
}
