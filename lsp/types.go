// Copyright (C) 2026 Stratum Code (oss@stratumcode.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lsp

// =============================================================================
// POSITIONS AND LOCATIONS
// =============================================================================

// Position is a zero-based line/character position in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) range in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range inside a document identified by URI.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// LocationLink is the richer location shape some servers return for
// definition-style requests.
type LocationLink struct {
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// =============================================================================
// TEXT DOCUMENTS
// =============================================================================

// TextDocumentIdentifier identifies a document by URI.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentItem is a full document payload for didOpen.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// TextDocumentPositionParams is the common (document, position) request shape.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// DidOpenTextDocumentParams is sent before querying a document.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidCloseTextDocumentParams releases a document after analysis.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// =============================================================================
// SYMBOLS
// =============================================================================

// SymbolKind is the LSP symbol kind enumeration.
type SymbolKind int

// LSP SymbolKind values (specification section 3.16).
const (
	SymbolKindFile          SymbolKind = 1
	SymbolKindModule        SymbolKind = 2
	SymbolKindNamespace     SymbolKind = 3
	SymbolKindPackage       SymbolKind = 4
	SymbolKindClass         SymbolKind = 5
	SymbolKindMethod        SymbolKind = 6
	SymbolKindProperty      SymbolKind = 7
	SymbolKindField         SymbolKind = 8
	SymbolKindConstructor   SymbolKind = 9
	SymbolKindEnum          SymbolKind = 10
	SymbolKindInterface     SymbolKind = 11
	SymbolKindFunction      SymbolKind = 12
	SymbolKindVariable      SymbolKind = 13
	SymbolKindConstant      SymbolKind = 14
	SymbolKindString        SymbolKind = 15
	SymbolKindNumber        SymbolKind = 16
	SymbolKindBoolean       SymbolKind = 17
	SymbolKindArray         SymbolKind = 18
	SymbolKindObject        SymbolKind = 19
	SymbolKindKey           SymbolKind = 20
	SymbolKindNull          SymbolKind = 21
	SymbolKindEnumMember    SymbolKind = 22
	SymbolKindStruct        SymbolKind = 23
	SymbolKindEvent         SymbolKind = 24
	SymbolKindOperator      SymbolKind = 25
	SymbolKindTypeParameter SymbolKind = 26
)

// DocumentSymbolParams requests the symbol tree of one document.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DocumentSymbol is a node in the hierarchical symbol response.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is the flat symbol shape older servers return.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// =============================================================================
// REFERENCES
// =============================================================================

// ReferenceContext controls reference queries.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// ReferenceParams requests all references to the symbol at a position.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// =============================================================================
// CALL AND TYPE HIERARCHY
// =============================================================================

// HierarchyItem is the shared item shape of the call and type hierarchy
// requests (the LSP defines them as separate but structurally identical
// types).
type HierarchyItem struct {
	Name           string     `json:"name"`
	Kind           SymbolKind `json:"kind"`
	Detail         string     `json:"detail,omitempty"`
	URI            string     `json:"uri"`
	Range          Range      `json:"range"`
	SelectionRange Range      `json:"selectionRange"`
}

// CallHierarchyOutgoingCallsParams requests callees of a prepared item.
type CallHierarchyOutgoingCallsParams struct {
	Item HierarchyItem `json:"item"`
}

// CallHierarchyIncomingCallsParams requests callers of a prepared item.
type CallHierarchyIncomingCallsParams struct {
	Item HierarchyItem `json:"item"`
}

// CallHierarchyOutgoingCall is one callee plus the call sites inside the
// queried symbol.
type CallHierarchyOutgoingCall struct {
	To         HierarchyItem `json:"to"`
	FromRanges []Range       `json:"fromRanges"`
}

// CallHierarchyIncomingCall is one caller plus its call sites.
type CallHierarchyIncomingCall struct {
	From       HierarchyItem `json:"from"`
	FromRanges []Range       `json:"fromRanges"`
}

// TypeHierarchySupertypesParams requests the supertypes of a prepared item.
type TypeHierarchySupertypesParams struct {
	Item HierarchyItem `json:"item"`
}

// =============================================================================
// INITIALIZE
// =============================================================================

// WorkspaceFolder names one root the server should index.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities advertises the features this client uses.
type ClientCapabilities struct {
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities   `json:"workspace"`
}

// TextDocumentClientCapabilities covers the per-document requests.
type TextDocumentClientCapabilities struct {
	DocumentSymbol *DocumentSymbolClientCapabilities `json:"documentSymbol,omitempty"`
	References     *struct{}                         `json:"references,omitempty"`
	CallHierarchy  *struct{}                         `json:"callHierarchy,omitempty"`
	TypeHierarchy  *struct{}                         `json:"typeHierarchy,omitempty"`
}

// DocumentSymbolClientCapabilities opts into hierarchical symbols.
type DocumentSymbolClientCapabilities struct {
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport"`
}

// WorkspaceClientCapabilities covers workspace-level requests.
type WorkspaceClientCapabilities struct {
	Symbol           *struct{} `json:"symbol,omitempty"`
	WorkspaceFolders bool      `json:"workspaceFolders"`
}

// InitializeParams is the handshake request payload.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	RootURI               string             `json:"rootUri"`
	RootPath              string             `json:"rootPath,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// InitializeResult is the handshake response payload.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
}

// ServerCapabilities is the subset of server capabilities the engine
// inspects. Provider fields are `boolean | object` in the protocol, hence
// the untyped representation.
type ServerCapabilities struct {
	DocumentSymbolProvider any `json:"documentSymbolProvider,omitempty"`
	ReferencesProvider     any `json:"referencesProvider,omitempty"`
	CallHierarchyProvider  any `json:"callHierarchyProvider,omitempty"`
	TypeHierarchyProvider  any `json:"typeHierarchyProvider,omitempty"`
}

func providerEnabled(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// HasDocumentSymbolProvider reports documentSymbol support.
func (c ServerCapabilities) HasDocumentSymbolProvider() bool {
	return providerEnabled(c.DocumentSymbolProvider)
}

// HasReferencesProvider reports references support.
func (c ServerCapabilities) HasReferencesProvider() bool {
	return providerEnabled(c.ReferencesProvider)
}

// HasCallHierarchyProvider reports callHierarchy support.
func (c ServerCapabilities) HasCallHierarchyProvider() bool {
	return providerEnabled(c.CallHierarchyProvider)
}

// HasTypeHierarchyProvider reports typeHierarchy support.
func (c ServerCapabilities) HasTypeHierarchyProvider() bool {
	return providerEnabled(c.TypeHierarchyProvider)
}
