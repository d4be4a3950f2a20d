// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// RepoStateHash computes the content hash identifying one repository
// state.
//
// Description:
//
//	Hashes every file's path and a SHA-256 of its content, in sorted
//	path order, so the result is stable regardless of how the file list
//	was produced. Two checkouts with identical analyzed content hash
//	identically even when timestamps differ.
//
// Errors:
//
//	Fails when any listed file cannot be read; partial hashes would
//	silently alias distinct states.
func RepoStateHash(files []string) (string, error) {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	outer := sha256.New()
	for _, path := range sorted {
		sum, err := hashFile(path)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", path, err)
		}
		fmt.Fprintf(outer, "%s\x00%s\x00", path, sum)
	}
	return hex.EncodeToString(outer.Sum(nil)), nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
