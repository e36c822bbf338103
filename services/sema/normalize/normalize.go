// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize converts raw engine results into the response schema.
//
// Normalization is order-preserving and total: N raw items always yield N
// records, in the same order, with missing fields as "" / 0 / false. No
// filtering, sorting or deduplication happens here.
package normalize

import (
	"fmt"
	"strconv"

	"github.com/AleutianAI/semagate/services/sema/engine"
)

// DefaultType is the item type of every dictionary-shaped result, and of
// structured results that carry no type.
const DefaultType = "swift"

// CompletionItem is one completion in a /completions response.
type CompletionItem struct {
	ModulePath  string `json:"module_path"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	Docstring   string `json:"docstring"`
	Description string `json:"description"`
}

// DefinitionItem is one entry of a definitions-shaped response.
type DefinitionItem struct {
	ModulePath      string `json:"module_path"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	InBuiltinModule bool   `json:"in_builtin_module"`
	Line            int    `json:"line"`
	Column          int    `json:"column"`
	Docstring       string `json:"docstring"`
	Description     string `json:"description"`
	FullName        string `json:"full_name"`
	IsKeyword       bool   `json:"is_keyword"`
}

// CompletionsResponse is the body of a /completions response.
type CompletionsResponse struct {
	Completions []CompletionItem `json:"completions"`
}

// DefinitionsResponse is the body of every definitions-shaped response.
type DefinitionsResponse struct {
	Definitions []DefinitionItem `json:"definitions"`
}

// Docstring joins a description with the brief documentation, or with the
// context when there is no brief.
func Docstring(description, docBrief, context string) string {
	if docBrief != "" {
		return description + "\n" + docBrief
	}
	return description + "\n" + context
}

// Completions normalizes raw completions.
//
// # Inputs
//
//   - raw: Engine results. May be nil.
//
// # Outputs
//
//   - CompletionsResponse: Completions has len(raw) items and is never nil.
func Completions(raw []engine.Completion) CompletionsResponse {
	items := make([]CompletionItem, len(raw))
	for i, c := range raw {
		items[i] = Completion(c)
	}
	return CompletionsResponse{Completions: items}
}

// Definitions normalizes raw definitions.
//
// # Outputs
//
//   - DefinitionsResponse: Definitions has len(raw) items and is never nil.
func Definitions(raw []engine.Definition) DefinitionsResponse {
	items := make([]DefinitionItem, len(raw))
	for i, d := range raw {
		items[i] = Definition(d)
	}
	return DefinitionsResponse{Definitions: items}
}

// Completion normalizes one raw completion. A nil variant yields a
// record with only the default type set.
func Completion(raw engine.Completion) CompletionItem {
	switch c := raw.(type) {
	case engine.StructuredCompletion:
		return CompletionItem{
			ModulePath:  c.ModulePath,
			Name:        c.Name,
			Type:        orDefault(c.Type),
			Line:        c.Line,
			Column:      c.Column,
			Docstring:   Docstring(c.Description, c.DocBrief, c.Context),
			Description: c.Description,
		}
	case *engine.StructuredCompletion:
		if c == nil {
			return CompletionItem{Type: DefaultType}
		}
		return Completion(*c)
	case engine.SourceKitCompletion:
		d := dict(c)
		description := d.str(keyDescription...)
		return CompletionItem{
			ModulePath:  d.str(keyModulePath...),
			Name:        d.str(keySourceText...),
			Type:        DefaultType,
			Line:        d.integer(keyLine...),
			Column:      d.integer(keyColumn...),
			Docstring:   Docstring(description, d.str(keyDocBrief...), d.str(keyContext...)),
			Description: description,
		}
	default:
		return CompletionItem{Type: DefaultType}
	}
}

// Definition normalizes one raw definition.
func Definition(raw engine.Definition) DefinitionItem {
	switch d := raw.(type) {
	case engine.StructuredDefinition:
		return DefinitionItem{
			ModulePath:      d.ModulePath,
			Name:            d.Name,
			Type:            orDefault(d.Type),
			InBuiltinModule: d.InBuiltinModule,
			Line:            d.Line,
			Column:          d.Column,
			Docstring:       Docstring(d.Description, d.DocBrief, ""),
			Description:     d.Description,
			FullName:        d.FullName,
			IsKeyword:       d.IsKeyword,
		}
	case *engine.StructuredDefinition:
		if d == nil {
			return DefinitionItem{Type: DefaultType}
		}
		return Definition(*d)
	case engine.SourceKitDefinition:
		m := dict(d)
		description := m.str(keyDescription...)
		modulePath := m.str(keyModulePath...)
		return DefinitionItem{
			ModulePath:      modulePath,
			Name:            m.str(keyName...),
			Type:            DefaultType,
			InBuiltinModule: m.boolean(keyIsSystem...),
			Line:            m.integer(keyLine...),
			Column:          m.integer(keyColumn...),
			Docstring:       Docstring(description, m.str(keyDocBrief...), m.str(keyContext...)),
			Description:     description,
			FullName:        m.str(keyFullName...),
			IsKeyword:       m.str(keyKind...) == kindKeyword,
		}
	default:
		return DefinitionItem{Type: DefaultType}
	}
}

func orDefault(kind string) string {
	if kind == "" {
		return DefaultType
	}
	return kind
}

// =============================================================================
// Dictionary access
// =============================================================================

// Key aliases, sourcekitd dialect first, then SourceKitten.
var (
	keySourceText  = []string{"key.sourcetext", "sourcetext"}
	keyName        = []string{"key.name", "name", "key.sourcetext", "sourcetext"}
	keyDescription = []string{"key.description", "descriptionKey", "description"}
	keyContext     = []string{"key.context", "context"}
	keyDocBrief    = []string{"key.doc.brief", "docBrief"}
	keyKind        = []string{"key.kind", "kind"}
	keyModulePath  = []string{"key.filepath", "filepath"}
	keyFullName    = []string{"key.usr", "usr", "key.typename", "typeName"}
	keyLine        = []string{"key.line", "line"}
	keyColumn      = []string{"key.column", "column"}
	keyIsSystem    = []string{"key.is_system", "isSystem"}
)

const kindKeyword = "source.lang.swift.keyword"

type dict map[string]any

func (d dict) lookup(keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := d[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// str returns the first present key as a string. Non-string values are
// formatted; absent keys yield "".
func (d dict) str(keys ...string) string {
	v, ok := d.lookup(keys)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

func (d dict) integer(keys ...string) int {
	v, ok := d.lookup(keys)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

func (d dict) boolean(keys ...string) bool {
	v, ok := d.lookup(keys)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case int:
		return b != 0
	case string:
		parsed, err := strconv.ParseBool(b)
		return err == nil && parsed
	default:
		return false
	}
}
