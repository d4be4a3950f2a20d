// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	maxRetries = 1
	retryDelay = 100 * time.Millisecond
)

// Operations provides the high-level extraction requests the graph
// builder issues, on top of the manager's client pool.
//
// Each operation resolves the client for (language, root), applies the
// manager's request timeout, records a span and metrics, and retries
// once on transient failures (server crash mid-request, reserved
// server-error codes).
type Operations struct {
	manager *Manager
}

// NewOperations wraps a manager.
func NewOperations(m *Manager) *Operations {
	return &Operations{manager: m}
}

// Manager returns the underlying manager.
func (o *Operations) Manager() *Manager { return o.manager }

// =============================================================================
// URI HELPERS
// =============================================================================

// PathToURI converts an absolute filesystem path to a file:// URI.
func PathToURI(path string) string {
	path = filepath.ToSlash(path)
	if runtime.GOOS == "windows" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String()
}

// URIToPath converts a file:// URI back to a filesystem path. Non-file
// URIs are returned as-is.
func URIToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	path := u.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
	}
	return filepath.FromSlash(path)
}

// =============================================================================
// DOCUMENT LIFECYCLE
// =============================================================================

// OpenFile sends didOpen with the file's current content so the server
// indexes exactly what is on disk at analysis time.
func (o *Operations) OpenFile(ctx context.Context, language, root, path string) error {
	client, err := o.manager.GetOrSpawn(ctx, language, root)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return client.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        PathToURI(path),
			LanguageID: client.config.languageID(),
			Version:    1,
			Text:       string(content),
		},
	})
}

// CloseFile sends didClose, releasing server-side state for the file.
func (o *Operations) CloseFile(ctx context.Context, language, root, path string) error {
	client := o.manager.Get(language, root)
	if client == nil {
		return nil
	}
	return client.Notify("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
	})
}

// =============================================================================
// EXTRACTION REQUESTS
// =============================================================================

// DocumentSymbols returns the symbol tree for one file. Servers that
// only speak the flat SymbolInformation shape are normalized into
// DocumentSymbols with container-qualified names.
func (o *Operations) DocumentSymbols(ctx context.Context, language, root, path string) ([]DocumentSymbol, error) {
	params := DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
	}
	raw, err := o.request(ctx, language, root, "documentSymbols", "textDocument/documentSymbol", params)
	if err != nil {
		return nil, err
	}
	return parseSymbolResponse(raw)
}

// References returns every location referencing the symbol at the given
// zero-based position, declaration excluded.
func (o *Operations) References(ctx context.Context, language, root, path string, pos Position) ([]Location, error) {
	params := ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
			Position:     pos,
		},
		Context: ReferenceContext{IncludeDeclaration: false},
	}
	raw, err := o.request(ctx, language, root, "references", "textDocument/references", params)
	if err != nil {
		return nil, err
	}
	return parseLocationResponse(raw)
}

// PrepareCallHierarchy resolves the position into hierarchy items. An
// empty result means the position is not callable.
func (o *Operations) PrepareCallHierarchy(ctx context.Context, language, root, path string, pos Position) ([]HierarchyItem, error) {
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
		Position:     pos,
	}
	raw, err := o.request(ctx, language, root, "prepareCallHierarchy", "textDocument/prepareCallHierarchy", params)
	if err != nil {
		return nil, err
	}
	return parseItemList(raw)
}

// OutgoingCalls returns the callees of a prepared hierarchy item.
func (o *Operations) OutgoingCalls(ctx context.Context, language, root string, item HierarchyItem) ([]CallHierarchyOutgoingCall, error) {
	raw, err := o.request(ctx, language, root, "outgoingCalls", "callHierarchy/outgoingCalls",
		CallHierarchyOutgoingCallsParams{Item: item})
	if err != nil {
		return nil, err
	}
	var calls []CallHierarchyOutgoingCall
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil, fmt.Errorf("%w: outgoing calls: %v", ErrInvalidResponse, err)
	}
	return calls, nil
}

// IncomingCalls returns the callers of a prepared hierarchy item.
func (o *Operations) IncomingCalls(ctx context.Context, language, root string, item HierarchyItem) ([]CallHierarchyIncomingCall, error) {
	raw, err := o.request(ctx, language, root, "incomingCalls", "callHierarchy/incomingCalls",
		CallHierarchyIncomingCallsParams{Item: item})
	if err != nil {
		return nil, err
	}
	var calls []CallHierarchyIncomingCall
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil, fmt.Errorf("%w: incoming calls: %v", ErrInvalidResponse, err)
	}
	return calls, nil
}

// Supertypes returns the supertypes of the type at the given position,
// or nil when the server lacks a type hierarchy provider.
func (o *Operations) Supertypes(ctx context.Context, language, root, path string, pos Position) ([]HierarchyItem, error) {
	client, err := o.manager.GetOrSpawn(ctx, language, root)
	if err != nil {
		return nil, err
	}
	if !client.Capabilities().HasTypeHierarchyProvider() {
		return nil, nil
	}
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: PathToURI(path)},
		Position:     pos,
	}
	raw, err := o.request(ctx, language, root, "prepareTypeHierarchy", "textDocument/prepareTypeHierarchy", params)
	if err != nil {
		return nil, err
	}
	items, err := parseItemList(raw)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	raw, err = o.request(ctx, language, root, "supertypes", "typeHierarchy/supertypes",
		TypeHierarchySupertypesParams{Item: items[0]})
	if err != nil {
		return nil, err
	}
	return parseItemList(raw)
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

func (o *Operations) request(ctx context.Context, language, root, operation, method string, params any) (json.RawMessage, error) {
	ctx, span := startOperationSpan(ctx, operation, language)
	defer span.End()
	start := time.Now()

	raw, err := o.requestWithRetry(ctx, language, root, method, params)

	setOperationSpanResult(span, len(raw), err)
	recordOperationMetrics(ctx, operation, language, start, err)
	return raw, err
}

func (o *Operations) requestWithRetry(ctx context.Context, language, root, method string, params any) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		client, err := o.manager.GetOrSpawn(ctx, language, root)
		if err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, o.manager.RequestTimeout())
		raw, err := client.Call(reqCtx, method, params)
		cancel()
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt < maxRetries {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrServerCrashed) || errors.Is(err, ErrServerNotRunning) {
		return true
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.IsServerError() || pe.IsCancelled()
	}
	return false
}

// =============================================================================
// RESPONSE PARSING
// =============================================================================

// parseSymbolResponse handles both documentSymbol response shapes:
// hierarchical DocumentSymbol[] and flat SymbolInformation[].
func parseSymbolResponse(raw json.RawMessage) ([]DocumentSymbol, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: document symbols: %v", ErrInvalidResponse, err)
	}
	if len(probe) == 0 {
		return nil, nil
	}
	if _, flat := probe[0]["location"]; flat {
		var infos []SymbolInformation
		if err := json.Unmarshal(raw, &infos); err != nil {
			return nil, fmt.Errorf("%w: symbol information: %v", ErrInvalidResponse, err)
		}
		out := make([]DocumentSymbol, 0, len(infos))
		for _, info := range infos {
			name := info.Name
			if info.ContainerName != "" {
				name = info.ContainerName + "." + info.Name
			}
			out = append(out, DocumentSymbol{
				Name:           name,
				Kind:           info.Kind,
				Range:          info.Location.Range,
				SelectionRange: info.Location.Range,
			})
		}
		return out, nil
	}
	var symbols []DocumentSymbol
	if err := json.Unmarshal(raw, &symbols); err != nil {
		return nil, fmt.Errorf("%w: document symbols: %v", ErrInvalidResponse, err)
	}
	return symbols, nil
}

// parseLocationResponse handles Location[], LocationLink[], and single
// Location responses.
func parseLocationResponse(raw json.RawMessage) ([]Location, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var links []LocationLink
	if err := json.Unmarshal(raw, &links); err == nil && len(links) > 0 && links[0].TargetURI != "" {
		out := make([]Location, len(links))
		for i, l := range links {
			out[i] = Location{URI: l.TargetURI, Range: l.TargetSelectionRange}
		}
		return out, nil
	}

	var locs []Location
	if err := json.Unmarshal(raw, &locs); err == nil {
		return locs, nil
	}

	var single Location
	if err := json.Unmarshal(raw, &single); err == nil && single.URI != "" {
		return []Location{single}, nil
	}
	return nil, fmt.Errorf("%w: unrecognized location shape", ErrInvalidResponse)
}

func parseItemList(raw json.RawMessage) ([]HierarchyItem, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []HierarchyItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: hierarchy items: %v", ErrInvalidResponse, err)
	}
	return items, nil
}
