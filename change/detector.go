// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package change

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// DefaultRenameSimilarityCutoff is the minimum content similarity (in
// percent) for a reported rename to be trusted as a rename. Below it
// the move is reclassified as a delete plus an add, because treating a
// heavy rewrite as a pure path change would carry stale edges forward.
const DefaultRenameSimilarityCutoff = 50

// =============================================================================
// Detector
// =============================================================================

// Detector produces the change set between a baseline commit and the
// current working tree.
//
// Thread Safety: a Detector holds no mutable state; concurrent Changes
// calls are safe.
type Detector struct {
	repoRoot         string
	similarityCutoff int
	logger           *slog.Logger
}

// NewDetector creates a detector for one repository. A non-positive
// cutoff falls back to the default.
func NewDetector(repoRoot string, similarityCutoff int, logger *slog.Logger) *Detector {
	if similarityCutoff <= 0 {
		similarityCutoff = DefaultRenameSimilarityCutoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		repoRoot:         repoRoot,
		similarityCutoff: similarityCutoff,
		logger:           logger,
	}
}

// Changes diffs the working tree against the baseline commit.
//
// Description:
//
//	Runs git with rename and copy detection, parses the unified diff,
//	and appends untracked files as additions. Results are sorted by
//	path, so repeated detection over an unchanged tree is byte-stable.
//
// Errors:
//
//	ErrDetection when git fails or its output cannot be parsed.
func (d *Detector) Changes(ctx context.Context, baseCommit string) ([]FileChange, error) {
	out, err := d.runGit(ctx, "diff", "--no-color", "--find-renames", "--find-copies", baseCommit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetection, err)
	}
	changes, err := ParsePatch(out, d.similarityCutoff)
	if err != nil {
		return nil, err
	}

	untracked, err := d.runGit(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, fmt.Errorf("%w: listing untracked files: %v", ErrDetection, err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(untracked)), "\n") {
		if line == "" {
			continue
		}
		changes = append(changes, FileChange{Path: line, Type: ChangeAdded})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	s := Summarize(changes)
	d.logger.Debug("change detection complete",
		"base", baseCommit,
		"added", s.Added, "modified", s.Modified,
		"deleted", s.Deleted, "renamed", s.Renamed, "copied", s.Copied)
	return changes, nil
}

// Head returns the commit hash the working tree is based on.
func (d *Detector) Head(ctx context.Context) (string, error) {
	out, err := d.runGit(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("%w: resolving HEAD: %v", ErrDetection, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (d *Detector) runGit(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", d.repoRoot}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// =============================================================================
// Patch parsing
// =============================================================================

// ParsePatch classifies every file in a unified diff produced with
// rename and copy detection enabled.
//
// Description:
//
//	Renames whose similarity falls below the cutoff are reclassified
//	as a delete of the old path plus an add of the new path; a copy
//	below the cutoff is just an add, its source being untouched.
func ParsePatch(patch []byte, similarityCutoff int) ([]FileChange, error) {
	if len(bytes.TrimSpace(patch)) == 0 {
		return nil, nil
	}
	normalized, copies, changes := normalizePatch(patch)

	var fileDiffs []*diff.FileDiff
	if len(bytes.TrimSpace(normalized)) > 0 {
		var err error
		fileDiffs, err = diff.ParseMultiFileDiff(normalized)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing diff: %v", ErrDetection, err)
		}
		// The parser skips content with no file headers; non-empty input
		// yielding nothing means git gave us something we cannot read.
		if len(fileDiffs) == 0 && len(changes) == 0 {
			return nil, fmt.Errorf("%w: no file headers in non-empty diff", ErrDetection)
		}
	}

	for _, fd := range fileDiffs {
		change := classify(fd, copies)
		switch {
		case change.Type == ChangeRenamed && change.Similarity < similarityCutoff:
			changes = append(changes,
				FileChange{Path: change.OldPath, Type: ChangeDeleted, Deletions: change.Deletions},
				FileChange{Path: change.Path, Type: ChangeAdded, Additions: change.Additions},
			)
		case change.Type == ChangeCopied && change.Similarity < similarityCutoff:
			changes = append(changes,
				FileChange{Path: change.Path, Type: ChangeAdded, Additions: change.Additions})
		default:
			changes = append(changes, change)
		}
	}
	return changes, nil
}

// normalizePatch rewrites the extended-header shapes the diff parser
// cannot represent.
//
// Description:
//
//	Copy pairs ("copy from"/"copy to") are rewritten to rename headers,
//	which the parser accepts even without hunks, and the pair is
//	recorded so classify can restore the copy type. Hunk-less mode
//	flips carry no content change at all and are emitted directly as
//	Modified records, riding the same path a content edit would.
func normalizePatch(patch []byte) ([]byte, map[string]string, []FileChange) {
	lines := strings.Split(string(patch), "\n")
	var segments [][]string
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git ") || len(segments) == 0 {
			segments = append(segments, nil)
		}
		segments[len(segments)-1] = append(segments[len(segments)-1], line)
	}

	copies := make(map[string]string)
	var changes []FileChange
	var out strings.Builder
	for _, seg := range segments {
		var copyFrom, copyTo string
		hasHunks, hasRename, hasMode := false, false, false
		for _, line := range seg {
			switch {
			case strings.HasPrefix(line, "copy from "):
				copyFrom = strings.TrimPrefix(line, "copy from ")
			case strings.HasPrefix(line, "copy to "):
				copyTo = strings.TrimPrefix(line, "copy to ")
			case strings.HasPrefix(line, "rename from "):
				hasRename = true
			case strings.HasPrefix(line, "old mode ") || strings.HasPrefix(line, "new mode "):
				hasMode = true
			case strings.HasPrefix(line, "@@ "):
				hasHunks = true
			}
		}

		switch {
		case copyFrom != "" && copyTo != "":
			copies[copyTo] = copyFrom
			for _, line := range seg {
				switch {
				case strings.HasPrefix(line, "copy from "):
					line = "rename from " + strings.TrimPrefix(line, "copy from ")
				case strings.HasPrefix(line, "copy to "):
					line = "rename to " + strings.TrimPrefix(line, "copy to ")
				}
				out.WriteString(line)
				out.WriteString("\n")
			}
		case hasMode && !hasHunks && !hasRename:
			if path, ok := gitDiffPath(seg[0]); ok {
				changes = append(changes, FileChange{Path: path, Type: ChangeModified})
			}
		default:
			for _, line := range seg {
				out.WriteString(line)
				out.WriteString("\n")
			}
		}
	}
	return []byte(out.String()), copies, changes
}

// gitDiffPath extracts the post-image path from a "diff --git a/X b/X"
// line.
func gitDiffPath(line string) (string, bool) {
	idx := strings.LastIndex(line, " b/")
	if !strings.HasPrefix(line, "diff --git ") || idx < 0 {
		return "", false
	}
	return line[idx+len(" b/"):], true
}

func classify(fd *diff.FileDiff, copies map[string]string) FileChange {
	orig := stripPrefix(fd.OrigName)
	next := stripPrefix(fd.NewName)
	stat := fd.Stat()

	c := FileChange{
		Path:      next,
		Additions: int(stat.Added + stat.Changed),
		Deletions: int(stat.Deleted + stat.Changed),
	}

	switch {
	case fd.OrigName == "/dev/null":
		c.Type = ChangeAdded
	case fd.NewName == "/dev/null":
		c.Type = ChangeDeleted
		c.Path = orig
	case hasRenameHeader(fd.Extended):
		c.OldPath = orig
		c.Similarity = similarityFromHeaders(fd.Extended)
		if src, ok := copies[next]; ok {
			// A copy normalizePatch disguised as a rename.
			c.Type = ChangeCopied
			c.OldPath = src
		} else {
			c.Type = ChangeRenamed
		}
	default:
		c.Type = ChangeModified
	}
	return c
}

func stripPrefix(name string) string {
	if after, ok := strings.CutPrefix(name, "a/"); ok {
		return after
	}
	if after, ok := strings.CutPrefix(name, "b/"); ok {
		return after
	}
	return name
}

func hasRenameHeader(extended []string) bool {
	for _, h := range extended {
		if strings.HasPrefix(h, "rename from ") {
			return true
		}
	}
	return false
}

// similarityFromHeaders reads "similarity index NN%". A rename header
// without one means git saw identical content: 100.
func similarityFromHeaders(extended []string) int {
	for _, h := range extended {
		rest, ok := strings.CutPrefix(h, "similarity index ")
		if !ok {
			continue
		}
		pct, err := strconv.Atoi(strings.TrimSuffix(rest, "%"))
		if err != nil {
			continue
		}
		return pct
	}
	return 100
}
