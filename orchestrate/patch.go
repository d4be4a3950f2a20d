// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"sort"
	"strings"

	"github.com/StratumCode/stratum/graph"
	"github.com/StratumCode/stratum/store"
)

// patchArtifactPaths rewrites every stored reference to renamed files.
//
// Description:
//
//	Pure data transform, no process or network I/O. Node IDs embed the
//	file path ("<path>#<qualified>"), so edge endpoints, hierarchy
//	keys, node lists, the file inventory, and cluster membership all
//	get the same rewrite. Graph content is untouched; only paths move.
func patchArtifactPaths(a *store.Artifacts, renames map[string]string) {
	if len(renames) == 0 {
		return
	}
	rewrite := func(path string) string {
		if to, ok := renames[path]; ok {
			return to
		}
		return path
	}
	rewriteID := func(id string) string {
		path, qualified, ok := strings.Cut(id, "#")
		if !ok {
			return id
		}
		return rewrite(path) + "#" + qualified
	}

	for _, sym := range a.Graph.Symbols {
		sym.FilePath = rewrite(sym.FilePath)
	}
	for i := range a.Graph.Edges {
		a.Graph.Edges[i].FromID = rewriteID(a.Graph.Edges[i].FromID)
		a.Graph.Edges[i].ToID = rewriteID(a.Graph.Edges[i].ToID)
	}
	sort.Slice(a.Graph.Edges, func(i, j int) bool {
		x, y := a.Graph.Edges[i], a.Graph.Edges[j]
		if x.FromID != y.FromID {
			return x.FromID < y.FromID
		}
		if x.ToID != y.ToID {
			return x.ToID < y.ToID
		}
		return x.Type < y.Type
	})

	if a.Hierarchy != nil {
		patched := make(map[string][]string, len(a.Hierarchy))
		for child, parents := range a.Hierarchy {
			next := make([]string, len(parents))
			for i, p := range parents {
				// External parents carry "<sentinel>:<name>", not a
				// node ID; leave them alone.
				if strings.HasPrefix(p, graph.ExternalNodeID+":") {
					next[i] = p
					continue
				}
				next[i] = rewriteID(p)
			}
			patched[rewriteID(child)] = next
		}
		a.Hierarchy = patched
	}

	for i := range a.Files {
		a.Files[i] = rewrite(a.Files[i])
	}
	sort.Strings(a.Files)

	for i := range a.Clusters.Clusters {
		c := &a.Clusters.Clusters[i]
		for j := range c.Files {
			c.Files[j] = rewrite(c.Files[j])
		}
		sort.Strings(c.Files)
		for j := range c.Nodes {
			c.Nodes[j] = rewriteID(c.Nodes[j])
		}
		sort.Strings(c.Nodes)
	}
	if a.Clusters.FileToCluster != nil {
		patched := make(map[string]string, len(a.Clusters.FileToCluster))
		for f, id := range a.Clusters.FileToCluster {
			patched[rewrite(f)] = id
		}
		a.Clusters.FileToCluster = patched
	}

	for i := range a.PackageDeps {
		a.PackageDeps[i].From = rewrite(a.PackageDeps[i].From)
		a.PackageDeps[i].To = rewrite(a.PackageDeps[i].To)
	}
}

// copyArtifactEntries registers pure-copy targets in the stored
// artifacts: the file inventory and the source's cluster membership.
//
// Description:
//
//	Graph content is deliberately untouched. The copy is byte-identical
//	to a file the graph already covers; its own symbols enter the graph
//	the next time its content diverges, or on the next full run.
//	Sources the partition does not place are skipped; the caller
//	guards against that before staging.
func copyArtifactEntries(a *store.Artifacts, copies map[string]string) {
	if len(copies) == 0 {
		return
	}
	dsts := make([]string, 0, len(copies))
	for dst := range copies {
		dsts = append(dsts, dst)
	}
	sort.Strings(dsts)

	for _, dst := range dsts {
		comp, ok := a.Clusters.FileToCluster[copies[dst]]
		if !ok {
			continue
		}
		a.Clusters.FileToCluster[dst] = comp
		for i := range a.Clusters.Clusters {
			if a.Clusters.Clusters[i].ID == comp {
				a.Clusters.Clusters[i].Files = append(a.Clusters.Clusters[i].Files, dst)
				sort.Strings(a.Clusters.Clusters[i].Files)
				break
			}
		}
		a.Files = append(a.Files, dst)
	}
	sort.Strings(a.Files)
}
