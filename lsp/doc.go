// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lsp manages the language-server processes the analysis engine
// extracts symbols and relationships from.
//
// The package speaks the LSP base protocol (JSON-RPC with Content-Length
// framing) over stdio to one server process per (language, project root)
// pair. The Manager owns client lifecycles: spawn on demand, the
// initialize handshake with a deadline, graceful shutdown, and marking a
// language unavailable for the remainder of a run when its server cannot
// be started or fails its handshake.
//
// Requests on a single connection are strictly ordered; the client enters
// the Busy state while a request is in flight and returns to Ready when
// the response arrives. Connections for different roots or languages are
// independent and may be used concurrently.
package lsp
