// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package lsp implements engine.Engine on top of a language server.
//
// The backend drives a sourcekit-lsp process (or any server speaking the
// same protocol) over stdio. The server is spawned on first use, the
// request source is synced with didOpen/didChange before every query, and
// the settings snapshot is pushed with workspace/didChangeConfiguration
// whenever it differs from the last one sent.
//
// # Components
//
//   - Protocol: JSON-RPC framing with Content-Length headers
//   - Server: Process lifecycle and the initialize handshake
//   - Backend: engine.Engine operations mapped onto LSP methods
//
// # Operation Mapping
//
//	Completions      textDocument/completion
//	GotoDefinitions  textDocument/definition
//	GotoAssignments  textDocument/declaration (definition with follow_imports)
//	Usages           textDocument/references
//	Names            textDocument/documentSymbol
//	PreloadModules   starts the server
//
// # Thread Safety
//
// Backend serializes its own calls and is safe for concurrent use. The
// gateway gate already admits one call at a time.
package lsp
