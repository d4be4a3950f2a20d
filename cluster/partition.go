// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

import (
	"fmt"
	"sort"

	"github.com/StratumCode/stratum/graph"
)

// FromPartition rebuilds a Result from an existing file-to-cluster
// assignment against a possibly updated graph.
//
// Description:
//
//	Used by scoped updates: the partition is kept as-is (cluster IDs
//	preserved, no community detection), while node membership and
//	internal/external edge counts are recomputed from the graph. Files
//	mapping to an empty string are rejected; files absent from the
//	graph are legal and simply contribute no nodes.
//
// Errors:
//
//	ErrGraphNotFrozen on a building graph, ErrInvalidPartition when the
//	assignment is empty or malformed.
func FromPartition(g *graph.Graph, fileToCluster map[string]string) (*Result, error) {
	if !g.IsFrozen() {
		return nil, ErrGraphNotFrozen
	}
	if len(fileToCluster) == 0 {
		return nil, fmt.Errorf("%w: empty assignment", ErrInvalidPartition)
	}

	byID := make(map[string][]string)
	for f, id := range fileToCluster {
		if id == "" {
			return nil, fmt.Errorf("%w: file %s has no cluster", ErrInvalidPartition, f)
		}
		byID[id] = append(byID[id], f)
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := &Result{
		Clusters:      make([]Cluster, 0, len(ids)),
		FileToCluster: make(map[string]string, len(fileToCluster)),
	}
	for _, id := range ids {
		files := byID[id]
		sort.Strings(files)
		dominant := dominantDir(files)
		c := Cluster{
			ID:              id,
			DisplayName:     displayName(dominant),
			DominantPackage: dominant,
			Files:           files,
		}
		for _, f := range files {
			result.FileToCluster[f] = id
			for _, n := range g.NodesInFile(f) {
				c.Nodes = append(c.Nodes, n.ID)
			}
		}
		sort.Strings(c.Nodes)
		result.Clusters = append(result.Clusters, c)
	}

	index := make(map[string]int, len(result.Clusters))
	for i, c := range result.Clusters {
		index[c.ID] = i
	}
	for _, e := range g.Edges() {
		fromID, okFrom := result.FileToCluster[e.From.Symbol.FilePath]
		if !okFrom {
			continue
		}
		from := index[fromID]
		if e.To.ID == graph.ExternalNodeID {
			result.Clusters[from].ExternalEdges++
			continue
		}
		toID, okTo := result.FileToCluster[e.To.Symbol.FilePath]
		if okTo && toID == fromID {
			result.Clusters[from].InternalEdges++
			continue
		}
		result.Clusters[from].ExternalEdges++
		if okTo {
			result.Clusters[index[toID]].ExternalEdges++
		}
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}
