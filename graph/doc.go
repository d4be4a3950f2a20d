// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph provides the unified call-graph model and its builder.
//
// Nodes are symbols (functions, methods, classes, modules, variables)
// identified by (qualified name, file). Edges represent call, reference,
// and inheritance relationships. Targets that cannot be resolved inside
// the indexed workspace point at the External sentinel instead of failing
// the build.
//
// # Ownership Model
//
// The graph stores pointers to symbols but does NOT own them. Symbols
// MUST NOT be mutated after being added via AddNode.
//
// # Thread Safety
//
// A Graph is NOT safe for concurrent use while building. It is designed
// for single-writer access during the build phase, then read-only access
// after Freeze(). A frozen graph can be read from any number of
// goroutines; incremental updates operate on a Clone() and republish.
//
// # Lifecycle
//
//  1. Create with New(projectRoot)
//  2. Populate with AddNode() and AddEdge()
//  3. Call Freeze()
//  4. Query with Node(), NodesInFile(), Edges(), etc.
package graph
