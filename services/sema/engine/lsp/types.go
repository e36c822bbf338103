// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package lsp

import (
	"encoding/json"
	"strings"
)

// Position is a 0-based line and character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span of positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range inside a document.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// LocationLink is the richer location form some servers answer with.
type LocationLink struct {
	OriginSelectionRange *Range `json:"originSelectionRange,omitempty"`
	TargetURI            string `json:"targetUri"`
	TargetRange          Range  `json:"targetRange"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

// TextDocumentIdentifier names a document.
type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

// TextDocumentItem is a document transferred on didOpen.
type TextDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

// VersionedTextDocumentIdentifier names a document at a version.
type VersionedTextDocumentIdentifier struct {
	TextDocumentIdentifier
	Version int `json:"version"`
}

// TextDocumentPositionParams addresses a position in a document.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// ReferenceParams are the params of textDocument/references.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context ReferenceContext `json:"context"`
}

// ReferenceContext controls whether the declaration is included.
type ReferenceContext struct {
	IncludeDeclaration bool `json:"includeDeclaration"`
}

// DocumentSymbolParams are the params of textDocument/documentSymbol.
type DocumentSymbolParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidOpenTextDocumentParams are the params of textDocument/didOpen.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// DidChangeTextDocumentParams are the params of textDocument/didChange.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// TextDocumentContentChangeEvent replaces the whole document text.
type TextDocumentContentChangeEvent struct {
	Text string `json:"text"`
}

// DidChangeConfigurationParams are the params of
// workspace/didChangeConfiguration.
type DidChangeConfigurationParams struct {
	Settings any `json:"settings"`
}

// CompletionItem is one completion candidate.
type CompletionItem struct {
	Label         string          `json:"label"`
	Kind          CompletionKind  `json:"kind,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	Documentation json.RawMessage `json:"documentation,omitempty"`
	InsertText    string          `json:"insertText,omitempty"`
	FilterText    string          `json:"filterText,omitempty"`
	TextEdit      *TextEdit       `json:"textEdit,omitempty"`
}

// DocumentationText returns the documentation as plain text. The member
// is either a string or a MarkupContent.
func (c CompletionItem) DocumentationText() string {
	return markupText(c.Documentation)
}

// TextEdit replaces a range with new text.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// CompletionList is the list form of a completion result.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// MarkupContent is formatted documentation.
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func markupText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var mc MarkupContent
	if err := json.Unmarshal(raw, &mc); err == nil {
		return mc.Value
	}
	return ""
}

// CompletionKind is the LSP CompletionItemKind enumeration.
type CompletionKind int

var completionKindNames = []string{
	"", "text", "method", "function", "constructor", "field", "variable",
	"class", "interface", "module", "property", "unit", "value", "enum",
	"keyword", "snippet", "color", "file", "reference", "folder",
	"enummember", "constant", "struct", "event", "operator", "typeparameter",
}

// String returns the lower-case kind name, or "" when unknown.
func (k CompletionKind) String() string {
	if k > 0 && int(k) < len(completionKindNames) {
		return completionKindNames[k]
	}
	return ""
}

// SymbolKind is the LSP SymbolKind enumeration.
type SymbolKind int

var symbolKindNames = []string{
	"", "file", "module", "namespace", "package", "class", "method",
	"property", "field", "constructor", "enum", "interface", "function",
	"variable", "constant", "string", "number", "boolean", "array",
	"object", "key", "null", "enummember", "struct", "event", "operator",
	"typeparameter",
}

// String returns the lower-case kind name, or "" when unknown.
func (k SymbolKind) String() string {
	if k > 0 && int(k) < len(symbolKindNames) {
		return symbolKindNames[k]
	}
	return ""
}

// DocumentSymbol is the hierarchical form of a documentSymbol result.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           SymbolKind       `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is the flat form of a documentSymbol result.
type SymbolInformation struct {
	Name          string     `json:"name"`
	Kind          SymbolKind `json:"kind"`
	Location      Location   `json:"location"`
	ContainerName string     `json:"containerName,omitempty"`
}

// InitializeParams are the params of initialize.
type InitializeParams struct {
	ProcessID             int                `json:"processId"`
	RootURI               string             `json:"rootUri,omitempty"`
	RootPath              string             `json:"rootPath,omitempty"`
	Capabilities          ClientCapabilities `json:"capabilities"`
	InitializationOptions any                `json:"initializationOptions,omitempty"`
	WorkspaceFolders      []WorkspaceFolder  `json:"workspaceFolders,omitempty"`
}

// WorkspaceFolder is a root folder reported to the server.
type WorkspaceFolder struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// ClientCapabilities advertises what this client understands.
type ClientCapabilities struct {
	General      *GeneralClientCapabilities     `json:"general,omitempty"`
	TextDocument TextDocumentClientCapabilities `json:"textDocument"`
	Workspace    WorkspaceClientCapabilities    `json:"workspace"`
}

// GeneralClientCapabilities carries the position encodings offered.
type GeneralClientCapabilities struct {
	PositionEncodings []string `json:"positionEncodings,omitempty"`
}

// TextDocumentClientCapabilities lists the document features used.
type TextDocumentClientCapabilities struct {
	Synchronization *SyncCapabilities           `json:"synchronization,omitempty"`
	Completion      *CompletionCapabilities     `json:"completion,omitempty"`
	Definition      *LinkCapabilities           `json:"definition,omitempty"`
	Declaration     *LinkCapabilities           `json:"declaration,omitempty"`
	References      *struct{}                   `json:"references,omitempty"`
	DocumentSymbol  *DocumentSymbolCapabilities `json:"documentSymbol,omitempty"`
}

// SyncCapabilities describes document synchronization support.
type SyncCapabilities struct {
	DidSave bool `json:"didSave"`
}

// CompletionCapabilities describes completion support.
type CompletionCapabilities struct {
	CompletionItem struct {
		SnippetSupport          bool     `json:"snippetSupport"`
		DocumentationFormat     []string `json:"documentationFormat,omitempty"`
		DeprecatedSupport       bool     `json:"deprecatedSupport"`
		InsertReplaceSupport    bool     `json:"insertReplaceSupport"`
		LabelDetailsSupport     bool     `json:"labelDetailsSupport"`
		CommitCharactersSupport bool     `json:"commitCharactersSupport"`
	} `json:"completionItem"`
}

// LinkCapabilities describes definition or declaration support.
type LinkCapabilities struct {
	LinkSupport bool `json:"linkSupport"`
}

// DocumentSymbolCapabilities describes documentSymbol support.
type DocumentSymbolCapabilities struct {
	HierarchicalDocumentSymbolSupport bool `json:"hierarchicalDocumentSymbolSupport"`
}

// WorkspaceClientCapabilities lists the workspace features used.
type WorkspaceClientCapabilities struct {
	Configuration          bool `json:"configuration"`
	DidChangeConfiguration struct {
		DynamicRegistration bool `json:"dynamicRegistration"`
	} `json:"didChangeConfiguration"`
}

// InitializeResult is the answer to initialize.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ServerCapabilities is the subset of server capabilities inspected.
// Providers are bool or an options object, so they stay raw.
type ServerCapabilities struct {
	PositionEncoding       string          `json:"positionEncoding,omitempty"`
	CompletionProvider     json.RawMessage `json:"completionProvider,omitempty"`
	DefinitionProvider     json.RawMessage `json:"definitionProvider,omitempty"`
	DeclarationProvider    json.RawMessage `json:"declarationProvider,omitempty"`
	ReferencesProvider     json.RawMessage `json:"referencesProvider,omitempty"`
	DocumentSymbolProvider json.RawMessage `json:"documentSymbolProvider,omitempty"`
}

// Encoding returns the position encoding the server chose, UTF-16 when it
// chose none or one this client does not know.
func (c ServerCapabilities) Encoding() string {
	switch c.PositionEncoding {
	case EncodingUTF8, EncodingUTF32:
		return c.PositionEncoding
	default:
		return EncodingUTF16
	}
}

// HasDeclarationProvider reports declaration support.
func (c ServerCapabilities) HasDeclarationProvider() bool {
	return provided(c.DeclarationProvider)
}

// HasDocumentSymbolProvider reports documentSymbol support.
func (c ServerCapabilities) HasDocumentSymbolProvider() bool {
	return provided(c.DocumentSymbolProvider)
}

func provided(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "false" && s != "null"
}
