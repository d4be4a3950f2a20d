// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"errors"
	"fmt"

	"github.com/StratumCode/stratum/cluster"
	"github.com/StratumCode/stratum/graph"
	"github.com/StratumCode/stratum/manifest"
)

// ErrValidation is returned when a staged result fails consistency
// checks. The orchestrator never commits past it; the run falls back to
// full re-analysis instead.
var ErrValidation = errors.New("staged result failed validation")

// validateStaged checks a staged (graph, clusters, manifest) triple
// before commit.
//
// Description:
//
//	Enforces the partition invariant, agreement between the cluster
//	partition and the manifest's maps, absence of orphan cluster
//	references (a cluster file the graph has edges for but no cluster
//	membership), and manifest self-consistency.
func validateStaged(g *graph.Graph, clusters *cluster.Result, m *manifest.AnalysisManifest) error {
	if !g.IsFrozen() {
		return fmt.Errorf("%w: graph not frozen", ErrValidation)
	}
	if err := clusters.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// Every graph file must belong to exactly one cluster.
	for _, f := range g.Files() {
		if _, ok := clusters.FileToCluster[f]; !ok {
			return fmt.Errorf("%w: graph file %s has no cluster", ErrValidation, f)
		}
	}

	// The manifest must mirror the partition exactly.
	if len(m.FileToComponent) != len(clusters.FileToCluster) {
		return fmt.Errorf("%w: manifest has %d files, partition has %d",
			ErrValidation, len(m.FileToComponent), len(clusters.FileToCluster))
	}
	for f, comp := range m.FileToComponent {
		if clusters.FileToCluster[f] != comp {
			return fmt.Errorf("%w: %s is %s in manifest, %s in partition",
				ErrValidation, f, comp, clusters.FileToCluster[f])
		}
	}

	// No cluster may reference a node the graph no longer has.
	for _, c := range clusters.Clusters {
		for _, id := range c.Nodes {
			if g.Node(id) == nil {
				return fmt.Errorf("%w: cluster %s references missing node %s",
					ErrValidation, c.ID, id)
			}
		}
	}
	return nil
}
