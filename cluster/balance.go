// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

import (
	"sort"

	"github.com/StratumCode/stratum/graph"
)

// balance reshapes the detected groups toward the depth-derived target
// count and the configured size bounds. Three passes, all deterministic:
//
//  1. While above the target count, merge the smallest group into its
//     most connected neighbor.
//  2. Merge groups below MinClusterFiles the same way.
//  3. Split groups above MaxClusterFiles into near-equal chunks of the
//     sorted file list.
func (e *Engine) balance(groups []fileGroup, adj map[string]map[string]float64, g *graph.Graph, fileCount int) []fileGroup {
	fw := fileWeights(adj, g)
	target := e.opts.targetCount(fileCount)

	for len(groups) > target && len(groups) > 1 {
		groups = mergeOnce(groups, smallestGroup(groups), fw)
	}
	for len(groups) > 1 {
		idx := -1
		for i, grp := range groups {
			if len(grp.files) < e.opts.MinClusterFiles {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		groups = mergeOnce(groups, idx, fw)
	}
	groups = splitOversized(groups, e.opts.MaxClusterFiles)

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].files[0] < groups[j].files[0]
	})
	return groups
}

// fileWeights projects node adjacency onto file pairs.
func fileWeights(adj map[string]map[string]float64, g *graph.Graph) map[string]map[string]float64 {
	fw := make(map[string]map[string]float64)
	for id, neighbors := range adj {
		node := g.Node(id)
		if node == nil {
			continue
		}
		fa := node.Symbol.FilePath
		for nid, w := range neighbors {
			other := g.Node(nid)
			if other == nil {
				continue
			}
			fb := other.Symbol.FilePath
			if fa == fb {
				continue
			}
			if fw[fa] == nil {
				fw[fa] = make(map[string]float64)
			}
			fw[fa][fb] += w
		}
	}
	return fw
}

// smallestGroup picks the group with the fewest files, ties broken by
// smallest first file.
func smallestGroup(groups []fileGroup) int {
	best := 0
	for i := 1; i < len(groups); i++ {
		if len(groups[i].files) < len(groups[best].files) ||
			(len(groups[i].files) == len(groups[best].files) && groups[i].files[0] < groups[best].files[0]) {
			best = i
		}
	}
	return best
}

// mergeOnce merges groups[victim] into its most connected other group.
// With zero connectivity everywhere the lexicographically smallest group
// wins the tie, so disconnected leftovers still merge deterministically.
func mergeOnce(groups []fileGroup, victim int, fw map[string]map[string]float64) []fileGroup {
	bestTarget, bestWeight := -1, -1.0
	for i := range groups {
		if i == victim {
			continue
		}
		w := groupConnectivity(groups[victim], groups[i], fw)
		if w > bestWeight || (w == bestWeight && groups[i].files[0] < groups[bestTarget].files[0]) {
			bestTarget, bestWeight = i, w
		}
	}

	merged := append(append([]string(nil), groups[bestTarget].files...), groups[victim].files...)
	sort.Strings(merged)
	groups[bestTarget] = fileGroup{files: merged}
	return append(groups[:victim], groups[victim+1:]...)
}

func groupConnectivity(a, b fileGroup, fw map[string]map[string]float64) float64 {
	inB := make(map[string]bool, len(b.files))
	for _, f := range b.files {
		inB[f] = true
	}
	total := 0.0
	for _, f := range a.files {
		for other, w := range fw[f] {
			if inB[other] {
				total += w
			}
		}
	}
	return total
}

// splitOversized chunks any group larger than max into near-equal runs
// of its sorted file list. Chunking by sorted path keeps directories
// together in the common layout.
func splitOversized(groups []fileGroup, max int) []fileGroup {
	var out []fileGroup
	for _, grp := range groups {
		n := len(grp.files)
		if n <= max {
			out = append(out, grp)
			continue
		}
		chunks := (n + max - 1) / max
		size := (n + chunks - 1) / chunks
		for start := 0; start < n; start += size {
			end := start + size
			if end > n {
				end = n
			}
			out = append(out, fileGroup{files: grp.files[start:end]})
		}
	}
	return out
}
