// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package impact

import (
	"path/filepath"
	"sort"

	"github.com/StratumCode/stratum/change"
	"github.com/StratumCode/stratum/graph"
	"github.com/StratumCode/stratum/manifest"
)

// Thresholds are the tuning knobs for escalation decisions. They are
// configuration, not constants; DefaultThresholds carries the tuned
// defaults.
type Thresholds struct {
	// MaxDirtyComponents is the most components a scoped update may
	// touch before escalating to full re-analysis.
	MaxDirtyComponents int

	// MaxComponentFiles is the largest component (by file count) a
	// scoped update will re-analyze.
	MaxComponentFiles int

	// EscalationFraction is the added-plus-deleted volume, as a
	// fraction of repository size, above which the component structure
	// is assumed to shift.
	EscalationFraction float64
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxDirtyComponents: 4,
		MaxComponentFiles:  200,
		EscalationFraction: 0.15,
	}
}

// Classify decides the cheapest safe update action for a change set.
//
// Description:
//
//	Evaluates an ordered decision list, first match wins:
//
//	 1. No changes: None.
//	 2. Only pure renames and pure copies with a placeable source:
//	    PatchPaths. A copy adopts its source's component.
//	 3. Changes confined to a bounded set of existing components with
//	    added/deleted volume under the escalation fraction:
//	    UpdateComponent for those components.
//	 4. Within case 3, an edited file whose symbols carry edges across
//	    a component boundary additionally requests a relations pass.
//	 5. Otherwise: FullReanalysis.
//
//	Pure function; consults nothing beyond its arguments.
func Classify(changes []change.FileChange, m *manifest.AnalysisManifest, g *graph.Graph, t Thresholds) ChangeImpact {
	impact := ChangeImpact{Renames: map[string]string{}, Copies: map[string]string{}}

	// Rule 1.
	if len(changes) == 0 {
		impact.Action = UpdateAction{Kind: ActionNone}
		return impact
	}

	pureMoves := true
	for _, c := range changes {
		switch {
		case c.Type == change.ChangeRenamed:
			impact.Renames[c.OldPath] = c.Path
			if !c.IsPureRename() {
				pureMoves = false
				impact.Modified = append(impact.Modified, c.Path)
			}
		case c.Type == change.ChangeCopied:
			// A copy target is an added file either way; the Copies map
			// additionally lets rule 2 place it without re-analysis.
			placeable := false
			if c.IsPureCopy() {
				if _, ok := m.Component(c.OldPath); ok {
					impact.Copies[c.Path] = c.OldPath
					placeable = true
				}
			}
			if !placeable {
				pureMoves = false
			}
			impact.Added = append(impact.Added, c.Path)
		case c.Type == change.ChangeAdded:
			pureMoves = false
			impact.Added = append(impact.Added, c.Path)
		case c.Type == change.ChangeDeleted:
			pureMoves = false
			impact.Deleted = append(impact.Deleted, c.Path)
		default:
			pureMoves = false
			impact.Modified = append(impact.Modified, c.Path)
		}
	}
	sort.Strings(impact.Added)
	sort.Strings(impact.Modified)
	sort.Strings(impact.Deleted)

	// Rule 2.
	if pureMoves {
		impact.Action = UpdateAction{
			Kind:    ActionPatchPaths,
			Renames: impact.Renames,
			Copies:  impact.Copies,
		}
		return impact
	}

	// Rule 3: map every changed file to an existing component.
	dirty := map[string]bool{}
	resolve := func(file string) (string, bool) {
		if comp, ok := m.Component(file); ok {
			return comp, true
		}
		return componentByDirectory(m, file)
	}
	var stillModified []string
	for _, file := range impact.Modified {
		old := file
		// An edited rename is classified under its new path; its
		// component is keyed by the old one.
		for from, to := range impact.Renames {
			if to == file {
				old = from
			}
		}
		comp, ok := resolve(old)
		if !ok {
			// A modified file the manifest has never seen behaves like
			// an addition, and only like an addition.
			impact.Added = append(impact.Added, file)
			continue
		}
		stillModified = append(stillModified, file)
		dirty[comp] = true
	}
	impact.Modified = stillModified
	for _, file := range impact.Deleted {
		if comp, ok := m.Component(file); ok {
			dirty[comp] = true
		}
	}
	for _, file := range impact.Added {
		// A copy target's natural home is its source's component.
		if src, ok := impact.Copies[file]; ok {
			if comp, ok := m.Component(src); ok {
				dirty[comp] = true
				continue
			}
		}
		comp, ok := componentByDirectory(m, file)
		if !ok {
			impact.NewComponentNeeded = true
			continue
		}
		dirty[comp] = true
	}
	sort.Strings(impact.Added)
	impact.DirtyComponents = sortedKeys(dirty)

	repoSize := len(m.FileToComponent)
	churn := len(impact.Added) + len(impact.Deleted)
	volumeOK := repoSize == 0 || float64(churn) < t.EscalationFraction*float64(repoSize)
	boundedComponents := len(impact.DirtyComponents) > 0 &&
		len(impact.DirtyComponents) <= t.MaxDirtyComponents &&
		maxComponentSize(m, impact.DirtyComponents) <= t.MaxComponentFiles

	if impact.NewComponentNeeded || !volumeOK || !boundedComponents {
		// Rule 5.
		impact.Action = UpdateAction{Kind: ActionFullReanalysis}
		return impact
	}

	// Rule 4.
	impact.ArchitectureDirty = crossesComponentBoundary(impact.Modified, m, g)

	impact.Action = UpdateAction{
		Kind:             ActionUpdateComponent,
		Components:       impact.DirtyComponents,
		Renames:          impact.Renames,
		Copies:           impact.Copies,
		IncludeRelations: impact.ArchitectureDirty,
	}
	return impact
}

// componentByDirectory finds the component owning the deepest manifest
// file sharing a directory prefix with the path. Smallest component ID
// wins a tie, keeping classification deterministic.
func componentByDirectory(m *manifest.AnalysisManifest, file string) (string, bool) {
	files := m.Files()
	dir := filepath.Dir(file)
	for dir != "." && dir != string(filepath.Separator) && dir != "" {
		best := ""
		for _, f := range files {
			if filepath.Dir(f) == dir {
				comp := m.FileToComponent[f]
				if best == "" || comp < best {
					best = comp
				}
			}
		}
		if best != "" {
			return best, true
		}
		dir = filepath.Dir(dir)
	}
	return "", false
}

// crossesComponentBoundary reports whether any modified file's symbols
// carry an edge whose far endpoint sits in a different component. Edges
// to the external sentinel do not count; they leave the repository, not
// the component.
func crossesComponentBoundary(modified []string, m *manifest.AnalysisManifest, g *graph.Graph) bool {
	if g == nil {
		return false
	}
	for _, file := range modified {
		comp, ok := m.Component(file)
		if !ok {
			continue
		}
		for _, node := range g.NodesInFile(file) {
			for _, e := range append(append([]*graph.Edge{}, node.Outgoing...), node.Incoming...) {
				far := e.To
				if far == node {
					far = e.From
				}
				if far.ID == graph.ExternalNodeID {
					continue
				}
				farComp, ok := m.Component(far.Symbol.FilePath)
				if ok && farComp != comp {
					return true
				}
			}
		}
	}
	return false
}

func maxComponentSize(m *manifest.AnalysisManifest, comps []string) int {
	most := 0
	for _, comp := range comps {
		if n := len(m.ComponentFiles[comp]); n > most {
			most = n
		}
	}
	return most
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
