// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package impact classifies a change set against the persisted manifest
// and decides the cheapest safe update action. Classification is a pure
// function of its inputs; identical inputs always produce identical
// decisions.
package impact

// ActionKind is the primary update action.
type ActionKind int

const (
	// ActionNone means nothing changed; the baseline stands.
	ActionNone ActionKind = iota

	// ActionPatchPaths rewrites file paths in the manifest and cached
	// artifacts without touching graph content.
	ActionPatchPaths

	// ActionUpdateComponent re-analyzes only the dirty components'
	// files and merges the sub-graph back by node-id replacement.
	ActionUpdateComponent

	// ActionFullReanalysis discards the baseline and reruns the whole
	// pipeline.
	ActionFullReanalysis
)

var actionKindNames = map[ActionKind]string{
	ActionNone:            "none",
	ActionPatchPaths:      "patch_paths",
	ActionUpdateComponent: "update_component",
	ActionFullReanalysis:  "full_reanalysis",
}

func (k ActionKind) String() string {
	if name, ok := actionKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// UpdateAction is the recommended action plus its scope.
type UpdateAction struct {
	Kind ActionKind

	// Components are the dirty component IDs, sorted. Set for
	// ActionUpdateComponent.
	Components []string

	// Renames maps old path to new path. Set for ActionPatchPaths and
	// carried alongside component updates when a change set mixes
	// renames with edits.
	Renames map[string]string

	// Copies maps new path to the untouched source path, for pure
	// copies whose source the manifest already places. Under
	// ActionPatchPaths the copy adopts its source's component; under a
	// component update it guides where the added target lands.
	Copies map[string]string

	// IncludeRelations requests a recomputation of inter-component
	// edges after the primary action, because an edited file carries
	// edges that cross component boundaries.
	IncludeRelations bool
}

// ChangeImpact is the full classification result.
type ChangeImpact struct {
	Renames map[string]string

	// Copies maps new path to source path for pure copies with a
	// placeable source. Every copy target also appears in Added, so
	// the scoped-update path analyzes it if another change forces one.
	Copies map[string]string

	Added    []string
	Modified []string
	Deleted  []string

	// DirtyComponents are the components owning changed files, sorted.
	DirtyComponents []string

	// ArchitectureDirty is set when an edited file participates in
	// cross-component edges, so the inter-component view may shift.
	ArchitectureDirty bool

	// NewComponentNeeded is set when added files have no existing
	// component to join.
	NewComponentNeeded bool

	Action UpdateAction
}
