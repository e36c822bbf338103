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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/AleutianAI/semagate/services/sema/engine"
	"github.com/AleutianAI/semagate/services/sema/settings"
	"github.com/AleutianAI/semagate/services/sema/telemetry"
)

// untitledDocument names the buffer when a request carries no path.
const untitledDocument = "untitled.swift"

// Backend implements engine.Engine against a language server.
//
// # Description
//
// The server is started on first use. A call that fails because the
// process died is retried once on a fresh process; open documents and
// the pushed settings are forgotten with the old process.
//
// # Thread Safety
//
// Safe for concurrent use. Calls are serialized.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	server   *Server
	versions map[string]int
	pushed   settings.Snapshot
	hasPush  bool
	closed   bool
}

var _ engine.Engine = (*Backend)(nil)

// New creates a Backend. No process is started until the first call.
func New(cfg Config) *Backend {
	cfg = cfg.withDefaults()
	return &Backend{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("engine", "lsp")),
		versions: make(map[string]int),
	}
}

// Name implements engine.Engine.
func (b *Backend) Name() string { return "lsp" }

// Completions implements engine.Engine via textDocument/completion.
func (b *Backend) Completions(ctx context.Context, req engine.Request, s settings.Snapshot) ([]engine.Completion, error) {
	path := b.documentPath(req.SourcePath)
	pos, err := position(req)
	if err != nil {
		return nil, err
	}

	var out []engine.Completion
	err = b.run(ctx, "completions", path, func(ctx context.Context, srv *Server) (int, error) {
		uri, err := b.sync(srv, path, req.Content, s)
		if err != nil {
			return 0, err
		}
		resp, err := srv.Request(ctx, "textDocument/completion", TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     encodePosition(req.Content, pos, srv.Capabilities().Encoding()),
		})
		if err != nil {
			return 0, err
		}
		items, err := parseCompletions(resp.Result)
		if err != nil {
			return 0, err
		}
		out = make([]engine.Completion, 0, len(items))
		for _, item := range items {
			out = append(out, toCompletion(item))
		}
		return len(out), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GotoDefinitions implements engine.Engine via textDocument/definition.
func (b *Backend) GotoDefinitions(ctx context.Context, req engine.Request, s settings.Snapshot) ([]engine.Definition, error) {
	return b.locations(ctx, "gotodefinition", req, s, func(*Server) string {
		return "textDocument/definition"
	}, func(p TextDocumentPositionParams) any { return p })
}

// GotoAssignments implements engine.Engine.
//
// # Description
//
// Asks for the declaration, which stops at the binding in the current
// module. With followImports, or when the server has no declaration
// provider, the definition is requested instead.
func (b *Backend) GotoAssignments(ctx context.Context, req engine.Request, followImports bool, s settings.Snapshot) ([]engine.Definition, error) {
	return b.locations(ctx, "gotoassignment", req, s, func(srv *Server) string {
		if followImports || !srv.Capabilities().HasDeclarationProvider() {
			return "textDocument/definition"
		}
		return "textDocument/declaration"
	}, func(p TextDocumentPositionParams) any { return p })
}

// Usages implements engine.Engine via textDocument/references. The
// declaration is included.
func (b *Backend) Usages(ctx context.Context, req engine.Request, s settings.Snapshot) ([]engine.Definition, error) {
	return b.locations(ctx, "usages", req, s, func(*Server) string {
		return "textDocument/references"
	}, func(p TextDocumentPositionParams) any {
		return ReferenceParams{
			TextDocumentPositionParams: p,
			Context:                    ReferenceContext{IncludeDeclaration: true},
		}
	})
}

// Names implements engine.Engine via textDocument/documentSymbol.
//
// # Description
//
// Only top-level symbols are returned unless AllScopes is set. A server
// reports declarations only, so References adds nothing and a request
// with Definitions unset yields no names.
func (b *Backend) Names(ctx context.Context, req engine.NamesRequest, s settings.Snapshot) ([]engine.Definition, error) {
	if !req.Definitions {
		return []engine.Definition{}, nil
	}
	path := b.documentPath(req.SourcePath)

	var out []engine.Definition
	err := b.run(ctx, "names", path, func(ctx context.Context, srv *Server) (int, error) {
		uri, err := b.sync(srv, path, req.Content, s)
		if err != nil {
			return 0, err
		}
		resp, err := srv.Request(ctx, "textDocument/documentSymbol", DocumentSymbolParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
		})
		if err != nil {
			return 0, err
		}
		symbols, err := parseSymbols(resp.Result)
		if err != nil {
			return 0, err
		}

		lines := splitLines(req.Content)
		enc := srv.Capabilities().Encoding()
		out = make([]engine.Definition, 0, len(symbols))
		for _, sym := range symbols {
			if sym.depth > 0 && !req.AllScopes {
				continue
			}
			fullName := sym.name
			if sym.container != "" {
				fullName = sym.container + "." + sym.name
			}
			text := lineAt(lines, sym.pos.Line)
			out = append(out, engine.StructuredDefinition{
				ModulePath:  path,
				Name:        sym.name,
				Type:        sym.kind.String(),
				Line:        sym.pos.Line + 1,
				Column:      toBytes(text, sym.pos.Character, enc),
				Description: strings.TrimSpace(text),
				FullName:    fullName,
			})
		}
		return len(out), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PreloadModules implements engine.Engine. The server indexes on its own
// once started, so preloading starts it and pushes the settings.
func (b *Backend) PreloadModules(ctx context.Context, modules []string, s settings.Snapshot) error {
	return b.run(ctx, "preload", "", func(_ context.Context, srv *Server) (int, error) {
		if err := b.pushSettings(srv, s); err != nil {
			return 0, err
		}
		b.logger.Debug("Language server warm", slog.Any("modules", modules))
		return len(modules), nil
	})
}

// Close implements engine.Engine. Later calls fail with
// engine.ErrEngineUnavailable.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.discardServer(ctx)
	return nil
}

// run executes fn against a ready server, restarting it once when the
// process died under the call.
func (b *Backend) run(ctx context.Context, op, path string, fn func(context.Context, *Server) (int, error)) error {
	ctx, span := startOperationSpan(ctx, op, path)
	defer span.End()
	start := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	var (
		n        int
		err      error
		attempts int
	)
	for attempts < 2 {
		attempts++
		var srv *Server
		srv, err = b.ensureServer(ctx)
		if err != nil {
			break
		}
		n, err = fn(ctx, srv)
		if err == nil || !isRestartable(err) {
			break
		}
		b.logger.Warn("Language server failed during call, restarting",
			slog.String("operation", op),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()),
		)
		b.discardServer(ctx)
	}
	if err != nil && isRestartable(err) {
		err = fmt.Errorf("%w: %w", engine.ErrEngineUnavailable, err)
	}

	setOperationSpanResult(span, n, attempts, err == nil)
	telemetry.RecordError(span, err)
	recordOperationMetrics(ctx, op, time.Since(start), n, err == nil)
	return err
}

// ensureServer returns a ready server. Caller holds b.mu.
func (b *Backend) ensureServer(ctx context.Context) (*Server, error) {
	if b.closed {
		return nil, fmt.Errorf("%w: backend closed", engine.ErrEngineUnavailable)
	}
	if b.server != nil && b.server.State() == ServerStateReady {
		return b.server, nil
	}
	b.discardServer(ctx)

	srv := NewServer(b.cfg)
	err := srv.Start(ctx)
	recordServerSpawn(ctx, err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrEngineUnavailable, err)
	}
	b.server = srv
	return srv, nil
}

// discardServer stops the current server and forgets its state. Caller
// holds b.mu.
func (b *Backend) discardServer(ctx context.Context) {
	if b.server != nil {
		_ = b.server.Shutdown(context.WithoutCancel(ctx))
		b.server = nil
	}
	clear(b.versions)
	b.pushed = nil
	b.hasPush = false
}

// sync makes the server's copy of path match content.
func (b *Backend) sync(srv *Server, path string, content []byte, s settings.Snapshot) (string, error) {
	if err := b.pushSettings(srv, s); err != nil {
		return "", err
	}

	uri := pathToURI(path)
	version, open := b.versions[uri]
	if !open {
		err := srv.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
			TextDocument: TextDocumentItem{
				URI:        uri,
				LanguageID: b.cfg.LanguageID,
				Version:    1,
				Text:       string(content),
			},
		})
		if err != nil {
			return "", err
		}
		b.versions[uri] = 1
		return uri, nil
	}

	version++
	err := srv.Notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: string(content)}},
	})
	if err != nil {
		return "", err
	}
	b.versions[uri] = version
	return uri, nil
}

func (b *Backend) pushSettings(srv *Server, s settings.Snapshot) error {
	if b.hasPush && b.pushed.Equal(s) {
		return nil
	}
	values := map[string]any(s)
	if values == nil {
		values = map[string]any{}
	}
	if err := srv.Notify("workspace/didChangeConfiguration", DidChangeConfigurationParams{Settings: values}); err != nil {
		return err
	}
	b.pushed = s
	b.hasPush = true
	return nil
}

func (b *Backend) documentPath(path string) string {
	if path == "" {
		return filepath.Join(b.cfg.RootPath, untitledDocument)
	}
	return path
}

// locations runs a position query whose answer is a set of locations.
func (b *Backend) locations(
	ctx context.Context,
	op string,
	req engine.Request,
	s settings.Snapshot,
	method func(*Server) string,
	params func(TextDocumentPositionParams) any,
) ([]engine.Definition, error) {
	path := b.documentPath(req.SourcePath)
	pos, err := position(req)
	if err != nil {
		return nil, err
	}

	var out []engine.Definition
	err = b.run(ctx, op, path, func(ctx context.Context, srv *Server) (int, error) {
		uri, err := b.sync(srv, path, req.Content, s)
		if err != nil {
			return 0, err
		}
		enc := srv.Capabilities().Encoding()
		resp, err := srv.Request(ctx, method(srv), params(TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     encodePosition(req.Content, pos, enc),
		}))
		if err != nil {
			return 0, err
		}
		locs, err := parseLocations(resp.Result)
		if err != nil {
			return 0, err
		}
		out = definitionsAt(locs, uri, req.Content, enc)
		return len(out), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// position converts a 1-based line and 0-based byte column to a Position
// in bytes, clamping the column to the line. encodePosition converts it to
// the server's units.
func position(req engine.Request) (Position, error) {
	if _, err := req.Offset(); err != nil {
		return Position{}, fmt.Errorf("line %d column %d: %w", req.Line, req.Column, err)
	}
	line := lineAt(splitLines(req.Content), req.Line-1)
	return Position{Line: req.Line - 1, Character: min(req.Column, len(line))}, nil
}

func toCompletion(item CompletionItem) engine.StructuredCompletion {
	name := item.InsertText
	if name == "" && item.TextEdit != nil {
		name = item.TextEdit.NewText
	}
	if name == "" {
		name = item.Label
	}
	return engine.StructuredCompletion{
		Name:        name,
		Description: item.Label,
		Context:     item.Detail,
		DocBrief:    item.DocumentationText(),
	}
}

// definitionsAt resolves locations to definitions, reading the text of
// each target line. The request buffer wins over the file on disk.
// Columns arrive in enc units and leave as byte columns.
func definitionsAt(locs []Location, requestURI string, content []byte, enc string) []engine.Definition {
	requestPath := uriToPath(requestURI)
	files := map[string][]string{requestPath: splitLines(content)}

	out := make([]engine.Definition, 0, len(locs))
	for _, loc := range locs {
		builtin := !strings.HasPrefix(loc.URI, "file:")
		path := uriToPath(loc.URI)

		lines, ok := files[path]
		if !ok && !builtin {
			if data, err := os.ReadFile(path); err == nil {
				lines = splitLines(data)
			}
			files[path] = lines
		}

		start := loc.Range.Start
		text := lineAt(lines, start.Line)
		column := toBytes(text, start.Character, enc)
		end := -1
		if loc.Range.End.Line == start.Line {
			end = toBytes(text, loc.Range.End.Character, enc)
		}
		name := identifierAt(text, column, end)

		out = append(out, engine.StructuredDefinition{
			ModulePath:      path,
			Name:            name,
			InBuiltinModule: builtin,
			Line:            start.Line + 1,
			Column:          column,
			Description:     strings.TrimSpace(text),
			FullName:        name,
		})
	}
	return out
}

func parseCompletions(raw json.RawMessage) ([]CompletionItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []CompletionItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, malformed("completion", err)
		}
		return items, nil
	}
	var list CompletionList
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, malformed("completion", err)
	}
	return list.Items, nil
}

// locationUnion decodes both Location and LocationLink.
type locationUnion struct {
	URI                  string `json:"uri"`
	Range                Range  `json:"range"`
	TargetURI            string `json:"targetUri"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

func (u locationUnion) location() Location {
	if u.TargetURI != "" {
		return Location{URI: u.TargetURI, Range: u.TargetSelectionRange}
	}
	return Location{URI: u.URI, Range: u.Range}
}

func parseLocations(raw json.RawMessage) ([]Location, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var one locationUnion
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, malformed("location", err)
		}
		return []Location{one.location()}, nil
	}
	var many []locationUnion
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return nil, malformed("location", err)
	}
	locs := make([]Location, 0, len(many))
	for _, u := range many {
		locs = append(locs, u.location())
	}
	return locs, nil
}

// symbol is a documentSymbol entry in source order.
type symbol struct {
	name      string
	container string
	kind      SymbolKind
	pos       Position
	depth     int
}

// symbolUnion decodes both DocumentSymbol and SymbolInformation.
type symbolUnion struct {
	DocumentSymbol
	Location      *Location `json:"location,omitempty"`
	ContainerName string    `json:"containerName,omitempty"`
}

func parseSymbols(raw json.RawMessage) ([]symbol, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var items []symbolUnion
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, malformed("documentSymbol", err)
	}

	var out []symbol
	for _, it := range items {
		if it.Location != nil {
			depth := 0
			if it.ContainerName != "" {
				depth = 1
			}
			out = append(out, symbol{
				name:      it.Name,
				container: it.ContainerName,
				kind:      it.Kind,
				pos:       it.Location.Range.Start,
				depth:     depth,
			})
			continue
		}
		out = appendDocumentSymbol(out, it.DocumentSymbol, "", 0)
	}
	return out, nil
}

func appendDocumentSymbol(out []symbol, ds DocumentSymbol, container string, depth int) []symbol {
	out = append(out, symbol{
		name:      ds.Name,
		container: container,
		kind:      ds.Kind,
		pos:       ds.SelectionRange.Start,
		depth:     depth,
	})
	qualified := ds.Name
	if container != "" {
		qualified = container + "." + ds.Name
	}
	for _, child := range ds.Children {
		out = appendDocumentSymbol(out, child, qualified, depth+1)
	}
	return out
}

func malformed(what string, err error) error {
	return fmt.Errorf("%w: %w: %s: %v", engine.ErrMalformedResult, ErrInvalidResponse, what, err)
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	return strings.Split(string(content), "\n")
}

func lineAt(lines []string, idx int) string {
	if idx < 0 || idx >= len(lines) {
		return ""
	}
	return strings.TrimRight(lines[idx], "\r")
}

// identifierAt returns line[start:end] when end is usable, otherwise the
// identifier that begins at start.
func identifierAt(line string, start, end int) string {
	if start < 0 || start > len(line) {
		return ""
	}
	if end > start && end <= len(line) {
		return line[start:end]
	}
	i := start
	for i < len(line) {
		r, size := utf8.DecodeRuneInString(line[i:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		i += size
	}
	return line[start:i]
}
