// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine defines the narrow contract between the gateway and a
// code-intelligence backend.
//
// # Description
//
// A backend answers position queries over one source file: completions,
// definitions, assignments, usages, the names defined in a file, and
// module preloading. Results leave the backend as tagged variants
// (Completion, Definition) so the normalizer can handle every shape the
// backends produce in one place.
//
// # Backends
//
//   - lsp: a language server (sourcekit-lsp) over JSON-RPC on stdio.
//   - sourcekitten: the sourcekitten CLI, completions only.
//   - Func: function fields, used by tests.
//
// # Thread Safety
//
// Backends are not safe for concurrent use. The gateway holds the
// execution gate around every call.
package engine
