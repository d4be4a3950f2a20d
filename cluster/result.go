// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cluster

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/StratumCode/stratum/graph"
)

// Cluster is one component of the partition.
type Cluster struct {
	// ID is the ordinal identifier "c0", "c1", ... assigned in order of
	// each cluster's lexicographically smallest file. Stable across runs
	// on identical input.
	ID string `json:"id"`

	// DisplayName is derived from the dominant directory.
	DisplayName string `json:"display_name"`

	// DominantPackage is the directory contributing the most files,
	// ties broken lexicographically.
	DominantPackage string `json:"dominant_package"`

	// Files is the sorted list of member files.
	Files []string `json:"files"`

	// Nodes is the sorted list of member node IDs.
	Nodes []string `json:"nodes"`

	// InternalEdges counts edges with both endpoints inside the cluster.
	InternalEdges int `json:"internal_edges"`

	// ExternalEdges counts edges leaving the cluster, edges to the
	// external sentinel included.
	ExternalEdges int `json:"external_edges"`
}

// Connectivity is internal / (internal + external); 0 for edgeless
// clusters.
func (c *Cluster) Connectivity() float64 {
	total := c.InternalEdges + c.ExternalEdges
	if total == 0 {
		return 0
	}
	return float64(c.InternalEdges) / float64(total)
}

// Result is the full partition for one graph snapshot.
type Result struct {
	// Clusters is ordered by ID.
	Clusters []Cluster `json:"clusters"`

	// FileToCluster maps every file to its cluster ID. This is the
	// inverse map the manifest persists.
	FileToCluster map[string]string `json:"file_to_cluster"`

	Modularity float64 `json:"modularity"`
	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`

	// Degenerate marks the single whole-repository fallback cluster.
	Degenerate bool `json:"degenerate"`
}

// Get returns the cluster with the given ID, or nil.
func (r *Result) Get(id string) *Cluster {
	for i := range r.Clusters {
		if r.Clusters[i].ID == id {
			return &r.Clusters[i]
		}
	}
	return nil
}

// ClusterForFile returns the cluster ID owning the file.
func (r *Result) ClusterForFile(file string) (string, bool) {
	id, ok := r.FileToCluster[file]
	return id, ok
}

// Files returns the sorted union of all member files.
func (r *Result) Files() []string {
	files := make([]string, 0, len(r.FileToCluster))
	for f := range r.FileToCluster {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Validate checks the partition invariant: every file appears in exactly
// one cluster, the inverse map agrees, and no cluster is empty.
func (r *Result) Validate() error {
	seen := make(map[string]string, len(r.FileToCluster))
	ids := make(map[string]bool, len(r.Clusters))
	for i := range r.Clusters {
		c := &r.Clusters[i]
		if len(c.Files) == 0 {
			return fmt.Errorf("%w: cluster %s is empty", ErrInvalidPartition, c.ID)
		}
		if ids[c.ID] {
			return fmt.Errorf("%w: duplicate cluster ID %s", ErrInvalidPartition, c.ID)
		}
		ids[c.ID] = true
		for _, f := range c.Files {
			if owner, dup := seen[f]; dup {
				return fmt.Errorf("%w: file %s in clusters %s and %s", ErrInvalidPartition, f, owner, c.ID)
			}
			seen[f] = c.ID
			if r.FileToCluster[f] != c.ID {
				return fmt.Errorf("%w: inverse map disagrees for %s", ErrInvalidPartition, f)
			}
		}
	}
	if len(seen) != len(r.FileToCluster) {
		return fmt.Errorf("%w: inverse map has %d files, clusters have %d",
			ErrInvalidPartition, len(r.FileToCluster), len(seen))
	}
	return nil
}

// buildResult materializes clusters from file groups: ordinal IDs,
// dominant-package names, membership lists, and edge counts.
func buildResult(g *graph.Graph, groups []fileGroup) *Result {
	result := &Result{
		Clusters:      make([]Cluster, 0, len(groups)),
		FileToCluster: make(map[string]string),
	}

	for i, group := range groups {
		id := fmt.Sprintf("c%d", i)
		dominant := dominantDir(group.files)
		c := Cluster{
			ID:              id,
			DisplayName:     displayName(dominant),
			DominantPackage: dominant,
			Files:           group.files,
		}
		for _, f := range group.files {
			result.FileToCluster[f] = id
			for _, n := range g.NodesInFile(f) {
				c.Nodes = append(c.Nodes, n.ID)
			}
		}
		sort.Strings(c.Nodes)
		result.Clusters = append(result.Clusters, c)
	}

	// Edge counts in one pass over the graph.
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
	return result
}

// dominantDir is the directory contributing the most files, ties broken
// lexicographically.
func dominantDir(files []string) string {
	votes := make(map[string]int)
	for _, f := range files {
		votes[filepath.Dir(f)]++
	}
	dirs := make([]string, 0, len(votes))
	for d := range votes {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	best, bestVotes := "", -1
	for _, d := range dirs {
		if votes[d] > bestVotes {
			best, bestVotes = d, votes[d]
		}
	}
	return best
}

func displayName(dir string) string {
	base := filepath.Base(dir)
	if base == "." || base == string(filepath.Separator) {
		return "root"
	}
	return base
}
