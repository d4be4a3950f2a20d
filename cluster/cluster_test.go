// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StratumCode/stratum/graph"
)

func addFunc(t *testing.T, g *graph.Graph, qualified, file string, start int) string {
	t.Helper()
	sym := &graph.Symbol{
		QualifiedName: qualified,
		Name:          qualified,
		Kind:          graph.SymbolKindFunction,
		FilePath:      file,
		StartLine:     start,
		EndLine:       start + 5,
		Language:      "go",
	}
	n, err := g.AddNode(sym)
	require.NoError(t, err)
	return n.ID
}

// twoModuleGraph builds two tightly-knit directories joined by a single
// cross edge:
//
//	/repo/a: A1, A2, A3 (triangle)
//	/repo/b: B1, B2, B3 (triangle)
//	cross:   A1 -> B1
func twoModuleGraph(t *testing.T) (*graph.Graph, []string) {
	t.Helper()
	g := graph.New("/repo")
	files := []string{"/repo/a/one.go", "/repo/a/two.go", "/repo/b/one.go", "/repo/b/two.go"}

	a1 := addFunc(t, g, "one.A1", files[0], 1)
	a2 := addFunc(t, g, "one.A2", files[0], 10)
	a3 := addFunc(t, g, "two.A3", files[1], 1)
	b1 := addFunc(t, g, "one.B1", files[2], 1)
	b2 := addFunc(t, g, "one.B2", files[2], 10)
	b3 := addFunc(t, g, "two.B3", files[3], 1)

	for _, pair := range [][2]string{{a1, a2}, {a1, a3}, {a2, a3}, {b1, b2}, {b1, b3}, {b2, b3}, {a1, b1}} {
		require.NoError(t, g.AddEdge(pair[0], pair[1], graph.EdgeTypeCall, 1, ""))
	}
	g.Freeze()
	return g, files
}

func TestClusterSeparatesModules(t *testing.T) {
	g, files := twoModuleGraph(t)
	engine := NewEngine(Options{Depth: 2})

	result, err := engine.Cluster(context.Background(), g, files)
	require.NoError(t, err)
	require.NoError(t, result.Validate())

	assert.Len(t, result.Clusters, 2)
	aCluster, ok := result.ClusterForFile("/repo/a/one.go")
	require.True(t, ok)
	bCluster, ok := result.ClusterForFile("/repo/b/one.go")
	require.True(t, ok)
	assert.NotEqual(t, aCluster, bCluster, "the two directories should split")

	same, ok := result.ClusterForFile("/repo/a/two.go")
	require.True(t, ok)
	assert.Equal(t, aCluster, same, "files in the same module should share a cluster")

	// Ordinal IDs in order of smallest member file.
	assert.Equal(t, "c0", result.Clusters[0].ID)
	assert.Equal(t, "c1", result.Clusters[1].ID)
	assert.Equal(t, "a", result.Clusters[0].DisplayName)
	assert.Equal(t, "/repo/a", result.Clusters[0].DominantPackage)
}

func TestClusterDeterminism(t *testing.T) {
	fingerprint := func() string {
		g, files := twoModuleGraph(t)
		engine := NewEngine(Options{Depth: 2})
		result, err := engine.Cluster(context.Background(), g, files)
		require.NoError(t, err)
		out := ""
		for _, c := range result.Clusters {
			out += c.ID + "=" + fmt.Sprint(c.Files) + ";"
		}
		return out
	}
	first := fingerprint()
	for range 5 {
		assert.Equal(t, first, fingerprint(), "identical input must produce identical clusters")
	}
}

func TestClusterDeterminismFractionalBoost(t *testing.T) {
	// A non-integral boost makes every float accumulation sensitive to
	// summation order; the fingerprint includes modularity to catch it.
	fingerprint := func() string {
		g, files := twoModuleGraph(t)
		engine := NewEngine(Options{Depth: 2, CoLocationBoost: 1.3})
		result, err := engine.Cluster(context.Background(), g, files)
		require.NoError(t, err)
		out := fmt.Sprintf("%.15f;", result.Modularity)
		for _, c := range result.Clusters {
			out += c.ID + "=" + fmt.Sprint(c.Files) + ";"
		}
		return out
	}
	first := fingerprint()
	for range 5 {
		assert.Equal(t, first, fingerprint(), "fractional edge weights must not depend on accumulation order")
	}
}

func TestClusterDegenerateNoEdges(t *testing.T) {
	g := graph.New("/repo")
	files := []string{"/repo/a.go", "/repo/b.go"}
	addFunc(t, g, "a.F", files[0], 1)
	addFunc(t, g, "b.G", files[1], 1)
	g.Freeze()

	engine := NewEngine(DefaultOptions(1))
	result, err := engine.Cluster(context.Background(), g, files)
	require.ErrorIs(t, err, ErrDegenerate)
	require.NotNil(t, result, "degenerate result must still be usable")

	assert.True(t, result.Degenerate)
	assert.Len(t, result.Clusters, 1)
	assert.Equal(t, files, result.Clusters[0].Files)
	require.NoError(t, result.Validate())
}

func TestClusterDegenerateFewerFilesThanDepth(t *testing.T) {
	g, files := twoModuleGraph(t)
	engine := NewEngine(Options{Depth: 10})

	result, err := engine.Cluster(context.Background(), g, files)
	require.ErrorIs(t, err, ErrDegenerate)
	assert.Len(t, result.Clusters, 1)
	assert.Len(t, result.Clusters[0].Files, len(files))
}

func TestClusterRejectsUnfrozenGraph(t *testing.T) {
	g := graph.New("/repo")
	engine := NewEngine(DefaultOptions(1))
	_, err := engine.Cluster(context.Background(), g, nil)
	assert.ErrorIs(t, err, ErrGraphNotFrozen)
}

func TestClusterOrphanFileJoinsDirectory(t *testing.T) {
	g, files := twoModuleGraph(t)
	// util.go was analyzed but produced no symbols.
	files = append(files, "/repo/a/util.go")

	engine := NewEngine(Options{Depth: 2})
	result, err := engine.Cluster(context.Background(), g, files)
	require.NoError(t, err)
	require.NoError(t, result.Validate())

	orphan, ok := result.ClusterForFile("/repo/a/util.go")
	require.True(t, ok, "every analyzed file must land in a cluster")
	sibling, _ := result.ClusterForFile("/repo/a/one.go")
	assert.Equal(t, sibling, orphan, "symbol-less files follow their directory")
}

func TestClusterEdgeCounts(t *testing.T) {
	g, files := twoModuleGraph(t)
	engine := NewEngine(Options{Depth: 2})
	result, err := engine.Cluster(context.Background(), g, files)
	require.NoError(t, err)

	a := result.Get(result.FileToCluster["/repo/a/one.go"])
	require.NotNil(t, a)
	assert.Equal(t, 3, a.InternalEdges, "the A triangle is internal")
	assert.Equal(t, 1, a.ExternalEdges, "one cross edge leaves A")
	assert.InDelta(t, 0.75, a.Connectivity(), 1e-9)
}

func TestSplitOversized(t *testing.T) {
	files := make([]string, 10)
	for i := range files {
		files[i] = fmt.Sprintf("/repo/f%02d.go", i)
	}
	out := splitOversized([]fileGroup{{files: files}}, 4)

	require.Len(t, out, 3)
	total := 0
	for _, grp := range out {
		assert.LessOrEqual(t, len(grp.files), 4)
		total += len(grp.files)
	}
	assert.Equal(t, 10, total, "splitting must not lose files")

	// Under the limit: untouched.
	out = splitOversized([]fileGroup{{files: files[:3]}}, 4)
	require.Len(t, out, 1)
}

func TestMergeOncePrefersConnectedGroup(t *testing.T) {
	fw := map[string]map[string]float64{
		"/repo/a.go": {"/repo/c.go": 5.0},
		"/repo/c.go": {"/repo/a.go": 5.0},
	}
	groups := []fileGroup{
		{files: []string{"/repo/a.go"}},
		{files: []string{"/repo/b.go"}},
		{files: []string{"/repo/c.go"}},
	}
	merged := mergeOnce(groups, 0, fw)
	require.Len(t, merged, 2)

	var found bool
	for _, grp := range merged {
		if len(grp.files) == 2 {
			assert.Equal(t, []string{"/repo/a.go", "/repo/c.go"}, grp.files)
			found = true
		}
	}
	assert.True(t, found, "victim should merge into the connected group")
}

func TestResultValidateCatchesOverlap(t *testing.T) {
	r := &Result{
		Clusters: []Cluster{
			{ID: "c0", Files: []string{"/repo/a.go"}},
			{ID: "c1", Files: []string{"/repo/a.go"}},
		},
		FileToCluster: map[string]string{"/repo/a.go": "c0"},
	}
	assert.ErrorIs(t, r.Validate(), ErrInvalidPartition)

	empty := &Result{Clusters: []Cluster{{ID: "c0"}}, FileToCluster: map[string]string{}}
	assert.ErrorIs(t, empty.Validate(), ErrInvalidPartition)
}

func TestTargetCount(t *testing.T) {
	opts := DefaultOptions(1)
	assert.Equal(t, 1, opts.targetCount(4))    // sqrt(4)/2 = 1
	assert.Equal(t, 5, opts.targetCount(100))  // sqrt(100)/2 = 5
	opts = DefaultOptions(3)
	assert.Equal(t, 15, opts.targetCount(100)) // depth scales the target
	assert.Equal(t, 3, opts.targetCount(3))    // clamped to file count
	assert.Equal(t, 0, opts.targetCount(0))
}
