// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrate drives analysis runs end to end: full builds,
// change classification, scoped incremental updates, validation, and
// atomic publication of results.
//
// Ownership Model:
//
//	One Engine owns one repository. A published Snapshot is immutable;
//	the engine builds replacements off to the side and swaps a pointer,
//	so readers never observe a half-built graph. Callers must not run
//	two analyses against the same repository directory concurrently.
package orchestrate

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/StratumCode/stratum/impact"
)

// RunState tracks a run through the update state machine.
type RunState int

const (
	StateIdle RunState = iota
	StatePlanning
	StateExecuting
	StateValidating
	StateCommitted
	StateRolledBack
)

var runStateNames = map[RunState]string{
	StateIdle:       "idle",
	StatePlanning:   "planning",
	StateExecuting:  "executing",
	StateValidating: "validating",
	StateCommitted:  "committed",
	StateRolledBack: "rolled_back",
}

func (s RunState) String() string {
	if name, ok := runStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Run is the per-invocation record: identity, state, and the decided
// action. It exists for logging and post-mortems, not for control flow.
type Run struct {
	ID        string
	State     RunState
	Action    impact.ActionKind
	StartedAt time.Time

	logger *slog.Logger
}

func newRun(logger *slog.Logger) *Run {
	return &Run{
		ID:        uuid.NewString(),
		State:     StateIdle,
		StartedAt: time.Now(),
		logger:    logger,
	}
}

func (r *Run) transition(next RunState) {
	r.logger.Debug("run state transition",
		"run_id", r.ID,
		"from", r.State.String(),
		"to", next.String())
	r.State = next
}
