// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/mod/modfile"
)

// PackageEdge records that one subproject depends on another inside the
// same repository. External dependencies are not recorded here; they do
// not affect clustering.
type PackageEdge struct {
	From string `json:"from"` // depending subproject name
	To   string `json:"to"`   // depended-on subproject name
}

// Dependencies cross-references each subproject's declared requirements
// against the other subprojects' names and returns the in-repo edges,
// sorted and de-duplicated.
func Dependencies(projects []Subproject) []PackageEdge {
	names := make(map[string]string, len(projects)) // declared name -> subproject name
	for _, p := range projects {
		names[p.Name] = p.Name
	}

	seen := make(map[PackageEdge]bool)
	var edges []PackageEdge
	for _, p := range projects {
		for _, req := range requirements(p) {
			target, ok := names[req]
			if !ok || target == p.Name {
				continue
			}
			e := PackageEdge{From: p.Name, To: target}
			if !seen[e] {
				seen[e] = true
				edges = append(edges, e)
			}
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// requirements lists the dependency names a subproject declares.
// Unparseable manifests yield no requirements rather than an error.
func requirements(p Subproject) []string {
	switch p.Marker {
	case "go.mod":
		return goModRequires(filepath.Join(p.Root, p.Marker))
	case "package.json":
		return packageJSONDeps(filepath.Join(p.Root, p.Marker))
	default:
		return nil
	}
}

func goModuleName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return modfile.ModulePath(data)
}

func goModRequires(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	f, err := modfile.Parse(path, data, nil)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(f.Require))
	for _, r := range f.Require {
		if r.Indirect {
			continue
		}
		out = append(out, r.Mod.Path)
	}
	// Replace directives with local paths also express in-repo coupling.
	for _, r := range f.Replace {
		out = append(out, r.Old.Path)
	}
	return out
}

type packageJSON struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func packageJSONName(path string) string {
	pkg, err := readPackageJSON(path)
	if err != nil {
		return ""
	}
	return pkg.Name
}

func packageJSONDeps(path string) []string {
	pkg, err := readPackageJSON(path)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(pkg.Dependencies)+len(pkg.DevDependencies))
	for name := range pkg.Dependencies {
		out = append(out, name)
	}
	for name := range pkg.DevDependencies {
		out = append(out, name)
	}
	return out
}

func readPackageJSON(path string) (*packageJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &pkg, nil
}
