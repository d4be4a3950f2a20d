// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package change detects what changed between the analyzed baseline and
// the current working tree. Detection runs git with rename and copy
// tracking enabled and classifies each file, so the impact analyzer can
// decide how much re-analysis the change set actually needs.
package change

import "errors"

// ErrDetection is returned when git cannot produce a diff or its output
// cannot be parsed. Callers fall back to full analysis.
var ErrDetection = errors.New("change detection failed")

// ChangeType classifies what happened to one file.
type ChangeType int

const (
	ChangeAdded ChangeType = iota
	ChangeModified
	ChangeDeleted
	ChangeRenamed
	ChangeCopied
)

var changeTypeNames = map[ChangeType]string{
	ChangeAdded:    "added",
	ChangeModified: "modified",
	ChangeDeleted:  "deleted",
	ChangeRenamed:  "renamed",
	ChangeCopied:   "copied",
}

func (t ChangeType) String() string {
	if name, ok := changeTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// FileChange describes one changed file.
type FileChange struct {
	// Path is the current repo-relative path. For deletions it is the
	// path that disappeared.
	Path string

	// OldPath is set for renames and copies: the path the content came
	// from. A rename's source is gone; a copy's source is untouched.
	OldPath string

	Type ChangeType

	// Similarity is git's content similarity percentage for renames and
	// copies, 0-100. Zero for other change types.
	Similarity int

	// Additions and Deletions are changed line counts, when the patch
	// carried hunks. A pure rename has both at zero.
	Additions int
	Deletions int
}

// IsPureRename reports whether the change moved a file without touching
// its content.
func (c FileChange) IsPureRename() bool {
	return c.Type == ChangeRenamed && c.Additions == 0 && c.Deletions == 0
}

// IsPureCopy reports whether the change duplicated a file byte for byte.
func (c FileChange) IsPureCopy() bool {
	return c.Type == ChangeCopied && c.Additions == 0 && c.Deletions == 0
}

// Summary aggregates a change set for logging.
type Summary struct {
	Added    int
	Modified int
	Deleted  int
	Renamed  int
	Copied   int
}

// Summarize counts changes by type.
func Summarize(changes []FileChange) Summary {
	var s Summary
	for _, c := range changes {
		switch c.Type {
		case ChangeAdded:
			s.Added++
		case ChangeModified:
			s.Modified++
		case ChangeDeleted:
			s.Deleted++
		case ChangeRenamed:
			s.Renamed++
		case ChangeCopied:
			s.Copied++
		}
	}
	return s
}
