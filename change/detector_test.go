// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package change

import (
	"errors"
	"testing"
)

const modifiedPatch = `diff --git a/pkg/util.go b/pkg/util.go
index 1234567..89abcde 100644
--- a/pkg/util.go
+++ b/pkg/util.go
@@ -1,3 +1,4 @@
 package pkg
+
+func New() {}
-func Old() {}
`

const addedPatch = `diff --git a/pkg/new.go b/pkg/new.go
new file mode 100644
index 0000000..1234567
--- /dev/null
+++ b/pkg/new.go
@@ -0,0 +1,2 @@
+package pkg
+func Fresh() {}
`

const deletedPatch = `diff --git a/pkg/gone.go b/pkg/gone.go
deleted file mode 100644
index 1234567..0000000
--- a/pkg/gone.go
+++ /dev/null
@@ -1,2 +0,0 @@
-package pkg
-func Gone() {}
`

const pureRenamePatch = `diff --git a/pkg/old.go b/pkg/moved.go
similarity index 100%
rename from pkg/old.go
rename to pkg/moved.go
`

const editedRenamePatch = `diff --git a/pkg/old.go b/pkg/moved.go
similarity index 72%
rename from pkg/old.go
rename to pkg/moved.go
index 1234567..89abcde 100644
--- a/pkg/old.go
+++ b/pkg/moved.go
@@ -1,3 +1,3 @@
 package pkg
-func A() {}
+func B() {}
`

const heavyRewriteRenamePatch = `diff --git a/pkg/old.go b/pkg/moved.go
similarity index 30%
rename from pkg/old.go
rename to pkg/moved.go
index 1234567..89abcde 100644
--- a/pkg/old.go
+++ b/pkg/moved.go
@@ -1,4 +1,4 @@
 package pkg
-func A() {}
-func B() {}
+func X() {}
+func Y() {}
`

const pureCopyPatch = `diff --git a/pkg/base.go b/pkg/clone.go
similarity index 100%
copy from pkg/base.go
copy to pkg/clone.go
`

const editedCopyPatch = `diff --git a/pkg/base.go b/pkg/clone.go
similarity index 80%
copy from pkg/base.go
copy to pkg/clone.go
index 1234567..89abcde 100644
--- a/pkg/base.go
+++ b/pkg/clone.go
@@ -1,3 +1,4 @@
 package pkg
 func A() {}
+func Extra() {}
`

const heavyRewriteCopyPatch = `diff --git a/pkg/base.go b/pkg/clone.go
similarity index 30%
copy from pkg/base.go
copy to pkg/clone.go
index 1234567..89abcde 100644
--- a/pkg/base.go
+++ b/pkg/clone.go
@@ -1,4 +1,4 @@
 package pkg
-func A() {}
-func B() {}
+func X() {}
+func Y() {}
`

const modeFlipPatch = `diff --git a/scripts/run.sh b/scripts/run.sh
old mode 100644
new mode 100755
`

func singleChange(t *testing.T, patch string) FileChange {
	t.Helper()
	changes, err := ParsePatch([]byte(patch), DefaultRenameSimilarityCutoff)
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1: %+v", len(changes), changes)
	}
	return changes[0]
}

func TestParsePatchModified(t *testing.T) {
	c := singleChange(t, modifiedPatch)
	if c.Type != ChangeModified || c.Path != "pkg/util.go" {
		t.Errorf("got %+v, want modified pkg/util.go", c)
	}
	if c.Additions == 0 || c.Deletions == 0 {
		t.Errorf("line counts missing: %+v", c)
	}
}

func TestParsePatchAdded(t *testing.T) {
	c := singleChange(t, addedPatch)
	if c.Type != ChangeAdded || c.Path != "pkg/new.go" {
		t.Errorf("got %+v, want added pkg/new.go", c)
	}
}

func TestParsePatchDeleted(t *testing.T) {
	c := singleChange(t, deletedPatch)
	if c.Type != ChangeDeleted || c.Path != "pkg/gone.go" {
		t.Errorf("got %+v, want deleted pkg/gone.go", c)
	}
}

func TestParsePatchPureRename(t *testing.T) {
	c := singleChange(t, pureRenamePatch)
	if c.Type != ChangeRenamed {
		t.Fatalf("got %v, want renamed", c.Type)
	}
	if c.OldPath != "pkg/old.go" || c.Path != "pkg/moved.go" {
		t.Errorf("paths: %+v", c)
	}
	if c.Similarity != 100 {
		t.Errorf("similarity: got %d, want 100", c.Similarity)
	}
	if !c.IsPureRename() {
		t.Error("a hunkless rename is a pure rename")
	}
}

func TestParsePatchEditedRename(t *testing.T) {
	c := singleChange(t, editedRenamePatch)
	if c.Type != ChangeRenamed || c.Similarity != 72 {
		t.Errorf("got %+v, want rename at 72%%", c)
	}
	if c.IsPureRename() {
		t.Error("a rename with edits is not pure")
	}
}

func TestParsePatchRenameBelowCutoff(t *testing.T) {
	changes, err := ParsePatch([]byte(heavyRewriteRenamePatch), DefaultRenameSimilarityCutoff)
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("a heavy rewrite splits into delete+add, got %+v", changes)
	}
	if changes[0].Type != ChangeDeleted || changes[0].Path != "pkg/old.go" {
		t.Errorf("first: got %+v, want deleted pkg/old.go", changes[0])
	}
	if changes[1].Type != ChangeAdded || changes[1].Path != "pkg/moved.go" {
		t.Errorf("second: got %+v, want added pkg/moved.go", changes[1])
	}
}

func TestParsePatchCutoffBoundary(t *testing.T) {
	// Exactly at the cutoff counts as a trusted rename.
	changes, err := ParsePatch([]byte(editedRenamePatch), 72)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 1 || changes[0].Type != ChangeRenamed {
		t.Errorf("similarity == cutoff should stay a rename: %+v", changes)
	}

	changes, err = ParsePatch([]byte(editedRenamePatch), 73)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Errorf("similarity below cutoff should split: %+v", changes)
	}
}

func TestParsePatchPureCopy(t *testing.T) {
	c := singleChange(t, pureCopyPatch)
	if c.Type != ChangeCopied {
		t.Fatalf("got %v, want copied", c.Type)
	}
	if c.OldPath != "pkg/base.go" || c.Path != "pkg/clone.go" {
		t.Errorf("paths: %+v", c)
	}
	if c.Similarity != 100 {
		t.Errorf("similarity: got %d, want 100", c.Similarity)
	}
	if !c.IsPureCopy() {
		t.Error("a hunkless copy is a pure copy")
	}
}

func TestParsePatchEditedCopy(t *testing.T) {
	c := singleChange(t, editedCopyPatch)
	if c.Type != ChangeCopied || c.Similarity != 80 {
		t.Errorf("got %+v, want copy at 80%%", c)
	}
	if c.IsPureCopy() {
		t.Error("a copy with edits is not pure")
	}
	if c.Additions == 0 {
		t.Errorf("line counts missing: %+v", c)
	}
}

func TestParsePatchCopyBelowCutoff(t *testing.T) {
	// A heavily rewritten copy is just a new file; its source is
	// untouched, so nothing gets deleted.
	changes, err := ParsePatch([]byte(heavyRewriteCopyPatch), DefaultRenameSimilarityCutoff)
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1: %+v", len(changes), changes)
	}
	if changes[0].Type != ChangeAdded || changes[0].Path != "pkg/clone.go" {
		t.Errorf("got %+v, want added pkg/clone.go", changes[0])
	}
}

func TestParsePatchCopyAmongOtherChanges(t *testing.T) {
	changes, err := ParsePatch([]byte(pureCopyPatch+modifiedPatch), DefaultRenameSimilarityCutoff)
	if err != nil {
		t.Fatalf("ParsePatch: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(changes), changes)
	}
	byPath := map[string]FileChange{}
	for _, c := range changes {
		byPath[c.Path] = c
	}
	if byPath["pkg/clone.go"].Type != ChangeCopied {
		t.Errorf("clone: %+v", byPath["pkg/clone.go"])
	}
	if byPath["pkg/util.go"].Type != ChangeModified {
		t.Errorf("util: %+v", byPath["pkg/util.go"])
	}
}

func TestParsePatchModeFlip(t *testing.T) {
	c := singleChange(t, modeFlipPatch)
	if c.Type != ChangeModified || c.Path != "scripts/run.sh" {
		t.Errorf("got %+v, want modified scripts/run.sh", c)
	}
}

func TestParsePatchEmpty(t *testing.T) {
	changes, err := ParsePatch([]byte("  \n"), DefaultRenameSimilarityCutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 {
		t.Errorf("empty patch: got %+v", changes)
	}
}

func TestParsePatchGarbage(t *testing.T) {
	_, err := ParsePatch([]byte("this is not a diff at all"), DefaultRenameSimilarityCutoff)
	if !errors.Is(err, ErrDetection) {
		t.Errorf("got %v, want ErrDetection", err)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]FileChange{
		{Type: ChangeAdded},
		{Type: ChangeModified},
		{Type: ChangeModified},
		{Type: ChangeDeleted},
		{Type: ChangeRenamed},
		{Type: ChangeCopied},
	})
	want := Summary{Added: 1, Modified: 2, Deleted: 1, Renamed: 1, Copied: 1}
	if s != want {
		t.Errorf("got %+v, want %+v", s, want)
	}
}
