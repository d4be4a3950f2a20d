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
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/StratumCode/stratum/graph"
)

// Detection configuration defaults.
const (
	// DefaultMaxIterations bounds the outer local-move loop.
	DefaultMaxIterations = 100

	// DefaultConvergenceThreshold stops early when the modularity gain
	// of a full pass drops below it.
	DefaultConvergenceThreshold = 1e-6

	// DefaultCoLocationBoost multiplies the weight of edges between
	// symbols in the same directory.
	DefaultCoLocationBoost = 2.0
)

// Options configures one clustering run.
type Options struct {
	// Depth is the requested granularity. 1 is the coarsest view; higher
	// depths raise the resolution parameter and the target cluster
	// count. Default: 1.
	Depth int

	// MaxIterations limits local-move passes. Default: 100.
	MaxIterations int

	// ConvergenceThreshold stops early when modularity gain per pass
	// falls below it. Default: 1e-6.
	ConvergenceThreshold float64

	// CoLocationBoost is the weight multiplier for same-directory edges.
	// Default: 2.0.
	CoLocationBoost float64

	// MinClusterFiles merges clusters smaller than this into their most
	// connected neighbor. Default: 1 (no merging).
	MinClusterFiles int

	// MaxClusterFiles splits clusters larger than this. Default: 200.
	MaxClusterFiles int
}

// Validate applies defaults for unset or invalid fields.
func (o *Options) Validate() {
	if o.Depth <= 0 {
		o.Depth = 1
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.ConvergenceThreshold <= 0 {
		o.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	if o.CoLocationBoost <= 0 {
		o.CoLocationBoost = DefaultCoLocationBoost
	}
	if o.MinClusterFiles <= 0 {
		o.MinClusterFiles = 1
	}
	if o.MaxClusterFiles <= 0 {
		o.MaxClusterFiles = 200
	}
}

// DefaultOptions returns the defaults at the given depth.
func DefaultOptions(depth int) Options {
	o := Options{Depth: depth}
	o.Validate()
	return o
}

// targetCount is the cluster count the balancer steers toward:
// round(sqrt(files)/2) * depth, clamped to [depth, files].
func (o Options) targetCount(fileCount int) int {
	if fileCount == 0 {
		return 0
	}
	target := int(math.Round(math.Sqrt(float64(fileCount))/2)) * o.Depth
	if target < o.Depth {
		target = o.Depth
	}
	if target > fileCount {
		target = fileCount
	}
	return target
}

// Engine runs detection and balancing.
type Engine struct {
	opts Options
}

// NewEngine creates an engine; opts gets defaults applied.
func NewEngine(opts Options) *Engine {
	opts.Validate()
	return &Engine{opts: opts}
}

// Cluster partitions the frozen graph's files.
//
// The files argument is the full analyzed-file inventory; files that
// contributed no graph nodes are attached to the cluster dominating
// their directory so the partition stays total.
//
// Outputs:
//
//	*Result - always valid when error is nil or ErrDegenerate.
//	error - ErrGraphNotFrozen, ctx.Err(), or ErrDegenerate (result still
//	usable: the single whole-repository cluster).
func (e *Engine) Cluster(ctx context.Context, g *graph.Graph, files []string) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if !g.IsFrozen() {
		return nil, ErrGraphNotFrozen
	}

	ctx, span := startClusterSpan(ctx, g.NodeCount(), g.EdgeCount(), e.opts.Depth)
	defer span.End()
	start := time.Now()
	defer func() { recordClusterDuration(ctx, start) }()

	adj, m := e.buildAdjacency(g)
	fileCount := len(files)

	if fileCount == 0 {
		return &Result{Converged: true, FileToCluster: map[string]string{}}, nil
	}
	if m == 0 || fileCount < e.opts.Depth {
		result := singleCluster(g, files)
		span.SetAttributes(attribute.Bool("cluster.degenerate", true))
		slog.Warn("degenerate clustering input, emitting single cluster",
			slog.Int("files", fileCount),
			slog.Int("depth", e.opts.Depth),
			slog.Float64("edge_weight", m),
		)
		return result, ErrDegenerate
	}

	nodeToComm, iterations, converged, err := e.detect(ctx, g, adj, m)
	if err != nil {
		return nil, err
	}

	groups := e.assignFiles(g, files, nodeToComm)
	groups = e.balance(groups, adj, g, fileCount)

	result := buildResult(g, groups)
	result.Iterations = iterations
	result.Converged = converged
	result.Modularity = e.modularity(nodeToComm, adj, m)

	slog.Debug("clustering complete",
		slog.Int("clusters", len(result.Clusters)),
		slog.Float64("modularity", result.Modularity),
		slog.Int("iterations", iterations),
		slog.Bool("converged", converged),
	)
	span.SetAttributes(
		attribute.Int("cluster.count", len(result.Clusters)),
		attribute.Float64("cluster.modularity", result.Modularity),
		attribute.Bool("cluster.converged", converged),
	)
	return result, nil
}

// buildAdjacency folds the directed multigraph into weighted undirected
// adjacency. External edges are dropped; parallel edges sum; edges
// between same-directory symbols get the co-location boost. Returns the
// adjacency and the total edge weight m.
func (e *Engine) buildAdjacency(g *graph.Graph) (map[string]map[string]float64, float64) {
	adj := make(map[string]map[string]float64, g.NodeCount())
	m := 0.0
	add := func(a, b string, w float64) {
		if adj[a] == nil {
			adj[a] = make(map[string]float64)
		}
		adj[a][b] += w
	}
	for _, edge := range g.Edges() {
		from, to := edge.From.ID, edge.To.ID
		if from == graph.ExternalNodeID || to == graph.ExternalNodeID || from == to {
			continue
		}
		w := 1.0
		if filepath.Dir(edge.From.Symbol.FilePath) == filepath.Dir(edge.To.Symbol.FilePath) {
			w *= e.opts.CoLocationBoost
		}
		add(from, to, w)
		add(to, from, w)
		m += w
	}
	return adj, m
}

// detect runs deterministic local moves plus a connectivity refinement,
// returning the node -> community assignment.
func (e *Engine) detect(ctx context.Context, g *graph.Graph, adj map[string]map[string]float64, m float64) (map[string]int, int, bool, error) {
	nodeIDs := g.NodeIDs()

	nodeToComm := make(map[string]int, len(nodeIDs))
	degrees := make(map[string]float64, len(nodeIDs))
	commWeight := make(map[int]float64, len(nodeIDs))
	for i, id := range nodeIDs {
		nodeToComm[id] = i
		// Sorted accumulation: float sums over map order would make the
		// result depend on iteration order once weights are fractional.
		for _, n := range sortedNeighbors(adj[id]) {
			degrees[id] += adj[id][n]
		}
		commWeight[i] = degrees[id]
	}

	resolution := float64(e.opts.Depth)
	previousQ := -1.0
	iterations := 0
	converged := false

	for iterations < e.opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, iterations, false, err
		}
		iterations++
		improved := false

		for _, id := range nodeIDs {
			current := nodeToComm[id]
			ki := degrees[id]

			// Weight from this node into each adjacent community,
			// accumulated in sorted neighbor order.
			wToComm := make(map[int]float64)
			for _, neighbor := range sortedNeighbors(adj[id]) {
				wToComm[nodeToComm[neighbor]] += adj[id][neighbor]
			}

			// Candidate communities in sorted order for determinism.
			candidates := make([]int, 0, len(wToComm))
			for comm := range wToComm {
				if comm != current {
					candidates = append(candidates, comm)
				}
			}
			sort.Ints(candidates)

			best, bestDelta := current, 0.0
			for _, comm := range candidates {
				delta := (wToComm[comm]-wToComm[current])/m -
					resolution*ki*(commWeight[comm]-(commWeight[current]-ki))/(2*m*m)
				if delta > bestDelta {
					bestDelta = delta
					best = comm
				}
			}
			if best != current {
				commWeight[current] -= ki
				commWeight[best] += ki
				nodeToComm[id] = best
				improved = true
			}
		}

		if improved {
			nodeToComm = refine(nodeIDs, adj, nodeToComm)
			commWeight = make(map[int]float64)
			for _, id := range nodeIDs {
				commWeight[nodeToComm[id]] += degrees[id]
			}
		}

		currentQ := e.modularityFast(degrees, commWeight, nodeIDs, adj, nodeToComm, m)
		if !improved || (previousQ >= 0 && currentQ-previousQ < e.opts.ConvergenceThreshold) {
			converged = true
			break
		}
		previousQ = currentQ
	}
	return nodeToComm, iterations, converged, nil
}

// refine splits each community into its connected components, so no
// emitted community is internally disconnected. Component IDs are
// reassigned densely in sorted-node order, keeping determinism.
func refine(nodeIDs []string, adj map[string]map[string]float64, nodeToComm map[string]int) map[string]int {
	refined := make(map[string]int, len(nodeIDs))
	next := 0
	visited := make(map[string]bool, len(nodeIDs))

	for _, seed := range nodeIDs {
		if visited[seed] {
			continue
		}
		comm := nodeToComm[seed]
		// BFS within the community.
		queue := []string{seed}
		visited[seed] = true
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			refined[id] = next

			neighbors := make([]string, 0, len(adj[id]))
			for n := range adj[id] {
				neighbors = append(neighbors, n)
			}
			sort.Strings(neighbors)
			for _, n := range neighbors {
				if !visited[n] && nodeToComm[n] == comm {
					visited[n] = true
					queue = append(queue, n)
				}
			}
		}
		next++
	}
	return refined
}

func (e *Engine) modularityFast(degrees map[string]float64, commWeight map[int]float64, nodeIDs []string, adj map[string]map[string]float64, nodeToComm map[string]int, m float64) float64 {
	if m == 0 {
		return 0
	}
	resolution := float64(e.opts.Depth)

	internal := make(map[int]float64)
	for _, id := range nodeIDs {
		comm := nodeToComm[id]
		for _, neighbor := range sortedNeighbors(adj[id]) {
			if nodeToComm[neighbor] == comm {
				internal[comm] += adj[id][neighbor] // counts both directions, halved below
			}
		}
	}

	comms := make([]int, 0, len(commWeight))
	for comm := range commWeight {
		comms = append(comms, comm)
	}
	sort.Ints(comms)

	q := 0.0
	for _, comm := range comms {
		q += (internal[comm]/2)/m - resolution*math.Pow(commWeight[comm]/(2*m), 2)
	}
	return q
}

// sortedNeighbors returns an adjacency row's keys in sorted order, so
// floating-point accumulation over the row is order-stable.
func sortedNeighbors(row map[string]float64) []string {
	out := make([]string, 0, len(row))
	for n := range row {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) modularity(nodeToComm map[string]int, adj map[string]map[string]float64, m float64) float64 {
	if m == 0 {
		return 0
	}
	nodeIDs := make([]string, 0, len(nodeToComm))
	for id := range nodeToComm {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	degrees := make(map[string]float64, len(adj))
	commWeight := make(map[int]float64)
	for _, id := range nodeIDs {
		for _, n := range sortedNeighbors(adj[id]) {
			degrees[id] += adj[id][n]
		}
		commWeight[nodeToComm[id]] += degrees[id]
	}
	return e.modularityFast(degrees, commWeight, nodeIDs, adj, nodeToComm, m)
}

// assignFiles projects node communities onto files by majority vote,
// ties broken toward the smaller community ID. Files with no nodes are
// attached by directory affinity in a later pass.
func (e *Engine) assignFiles(g *graph.Graph, files []string, nodeToComm map[string]int) []fileGroup {
	fileComm := make(map[string]int, len(files))
	orphans := make([]string, 0)

	for _, file := range files {
		nodes := g.NodesInFile(file)
		if len(nodes) == 0 {
			orphans = append(orphans, file)
			continue
		}
		votes := make(map[int]int)
		for _, n := range nodes {
			votes[nodeToComm[n.ID]]++
		}
		best, bestVotes := -1, -1
		comms := make([]int, 0, len(votes))
		for comm := range votes {
			comms = append(comms, comm)
		}
		sort.Ints(comms)
		for _, comm := range comms {
			if votes[comm] > bestVotes {
				best, bestVotes = comm, votes[comm]
			}
		}
		fileComm[file] = best
	}

	// Directory affinity for files without symbols: dominant community
	// among sibling files, else a shared catch-all community.
	dirComm := make(map[string]map[int]int)
	for file, comm := range fileComm {
		dir := filepath.Dir(file)
		if dirComm[dir] == nil {
			dirComm[dir] = make(map[int]int)
		}
		dirComm[dir][comm]++
	}
	catchAll := -1
	sort.Strings(orphans)
	for _, file := range orphans {
		if votes, ok := dirComm[filepath.Dir(file)]; ok {
			best, bestVotes := -1, -1
			comms := make([]int, 0, len(votes))
			for comm := range votes {
				comms = append(comms, comm)
			}
			sort.Ints(comms)
			for _, comm := range comms {
				if votes[comm] > bestVotes {
					best, bestVotes = comm, votes[comm]
				}
			}
			fileComm[file] = best
			continue
		}
		if catchAll < 0 {
			catchAll = maxComm(fileComm) + 1
		}
		fileComm[file] = catchAll
	}

	return groupFiles(fileComm)
}

func maxComm(fileComm map[string]int) int {
	max := 0
	for _, comm := range fileComm {
		if comm > max {
			max = comm
		}
	}
	return max
}

// fileGroup is an intermediate cluster: a sorted set of files.
type fileGroup struct {
	files []string
}

func groupFiles(fileComm map[string]int) []fileGroup {
	byComm := make(map[int][]string)
	for file, comm := range fileComm {
		byComm[comm] = append(byComm[comm], file)
	}
	groups := make([]fileGroup, 0, len(byComm))
	for _, files := range byComm {
		sort.Strings(files)
		groups = append(groups, fileGroup{files: files})
	}
	// Order groups by their smallest file for stable downstream IDs.
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].files[0] < groups[j].files[0]
	})
	return groups
}

// singleCluster builds the degenerate whole-repository result.
func singleCluster(g *graph.Graph, files []string) *Result {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	result := buildResult(g, []fileGroup{{files: sorted}})
	result.Converged = true
	result.Degenerate = true
	return result
}
