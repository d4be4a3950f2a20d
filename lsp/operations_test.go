// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lsp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestPathURIRoundTrip(t *testing.T) {
	path := "/home/dev/project/main.go"
	uri := PathToURI(path)
	if !strings.HasPrefix(uri, "file://") {
		t.Fatalf("expected file:// URI, got %q", uri)
	}
	if got := URIToPath(uri); got != path {
		t.Errorf("round trip changed path: %q -> %q", path, got)
	}
}

func TestURIToPathEscaped(t *testing.T) {
	uri := "file:///home/dev/my%20project/main.go"
	want := "/home/dev/my project/main.go"
	if got := URIToPath(uri); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestURIToPathNonFile(t *testing.T) {
	uri := "untitled:Untitled-1"
	if got := URIToPath(uri); got != uri {
		t.Errorf("non-file URI should pass through, got %q", got)
	}
}

func TestParseSymbolResponseHierarchical(t *testing.T) {
	raw := json.RawMessage(`[
		{"name":"Server","kind":23,
		 "range":{"start":{"line":10,"character":0},"end":{"line":40,"character":1}},
		 "selectionRange":{"start":{"line":10,"character":5},"end":{"line":10,"character":11}},
		 "children":[
			{"name":"Start","kind":6,
			 "range":{"start":{"line":12,"character":0},"end":{"line":20,"character":1}},
			 "selectionRange":{"start":{"line":12,"character":14},"end":{"line":12,"character":19}}}
		 ]}
	]`)
	symbols, err := parseSymbolResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(symbols) != 1 {
		t.Fatalf("expected 1 root symbol, got %d", len(symbols))
	}
	if symbols[0].Name != "Server" || symbols[0].Kind != SymbolKindStruct {
		t.Errorf("unexpected root symbol %+v", symbols[0])
	}
	if len(symbols[0].Children) != 1 || symbols[0].Children[0].Name != "Start" {
		t.Errorf("expected Start child, got %+v", symbols[0].Children)
	}
}

func TestParseSymbolResponseFlat(t *testing.T) {
	raw := json.RawMessage(`[
		{"name":"Total","kind":6,"containerName":"Invoice",
		 "location":{"uri":"file:///src/billing.py",
		   "range":{"start":{"line":4,"character":0},"end":{"line":8,"character":0}}}}
	]`)
	symbols, err := parseSymbolResponse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(symbols) != 1 {
		t.Fatalf("expected 1 symbol, got %d", len(symbols))
	}
	if symbols[0].Name != "Invoice.Total" {
		t.Errorf("container name should qualify the symbol, got %q", symbols[0].Name)
	}
	if symbols[0].SelectionRange != symbols[0].Range {
		t.Error("flat symbols should reuse the range as selection range")
	}
}

func TestParseSymbolResponseNull(t *testing.T) {
	symbols, err := parseSymbolResponse(json.RawMessage("null"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if symbols != nil {
		t.Errorf("expected nil for null response, got %v", symbols)
	}
}

func TestParseLocationResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want int
		uri  string
	}{
		{
			name: "location array",
			raw:  `[{"uri":"file:///a.go","range":{"start":{"line":1,"character":0},"end":{"line":1,"character":5}}}]`,
			want: 1,
			uri:  "file:///a.go",
		},
		{
			name: "location link array",
			raw: `[{"targetUri":"file:///b.go",
				"targetRange":{"start":{"line":3,"character":0},"end":{"line":9,"character":0}},
				"targetSelectionRange":{"start":{"line":3,"character":5},"end":{"line":3,"character":10}}}]`,
			want: 1,
			uri:  "file:///b.go",
		},
		{
			name: "single location",
			raw:  `{"uri":"file:///c.go","range":{"start":{"line":0,"character":0},"end":{"line":0,"character":1}}}`,
			want: 1,
			uri:  "file:///c.go",
		},
		{
			name: "null",
			raw:  "null",
			want: 0,
		},
		{
			name: "empty array",
			raw:  "[]",
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			locs, err := parseLocationResponse(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(locs) != tt.want {
				t.Fatalf("expected %d locations, got %d", tt.want, len(locs))
			}
			if tt.want > 0 && locs[0].URI != tt.uri {
				t.Errorf("expected URI %q, got %q", tt.uri, locs[0].URI)
			}
		})
	}
}

func TestCapabilityAccessors(t *testing.T) {
	caps := ServerCapabilities{
		DocumentSymbolProvider: true,
		ReferencesProvider:     map[string]any{"workDoneProgress": true},
		CallHierarchyProvider:  false,
	}
	if !caps.HasDocumentSymbolProvider() {
		t.Error("bool true should enable the provider")
	}
	if !caps.HasReferencesProvider() {
		t.Error("object value should enable the provider")
	}
	if caps.HasCallHierarchyProvider() {
		t.Error("bool false should disable the provider")
	}
	if caps.HasTypeHierarchyProvider() {
		t.Error("nil should disable the provider")
	}
}
