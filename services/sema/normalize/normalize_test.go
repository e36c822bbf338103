// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalize

import (
	"encoding/json"
	"testing"

	"github.com/AleutianAI/semagate/services/sema/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocstring(t *testing.T) {
	tests := []struct {
		name        string
		description string
		docBrief    string
		context     string
		want        string
	}{
		{"brief wins", "foo", "bar", "ctx", "foo\nbar"},
		{"context when brief empty", "foo", "", "ctx", "foo\nctx"},
		{"all empty", "", "", "", "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Docstring(tt.description, tt.docBrief, tt.context))
		})
	}
}

func TestCompletions_EmptyInput(t *testing.T) {
	resp := Completions(nil)
	require.NotNil(t, resp.Completions)
	assert.Len(t, resp.Completions, 0)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"completions":[]}`, string(data))
}

func TestDefinitions_EmptyInput(t *testing.T) {
	data, err := json.Marshal(Definitions([]engine.Definition{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"definitions":[]}`, string(data))
}

func TestCompletions_OrderAndShapes(t *testing.T) {
	raw := []engine.Completion{
		engine.SourceKitCompletion{
			"key.kind":        "source.lang.swift.decl.function.method.instance",
			"key.sourcetext":  "`self`() -> Self {\n<#code#>\n}",
			"key.description": "`self`() -> Self",
			"key.context":     "source.codecompletion.context.superclass",
			"key.modulename":  "ObjectiveC.NSObject",
		},
		engine.StructuredCompletion{
			Name:        "count",
			Description: "count: Int",
			DocBrief:    "The number of elements.",
			Type:        "property",
			Line:        3,
			Column:      7,
		},
		engine.SourceKitCompletion{
			"sourcetext":     "append(<#T##newElement: Element##Element#>)",
			"descriptionKey": "append(newElement: Element)",
			"docBrief":       "Adds a new element at the end of the array.",
			"context":        "source.codecompletion.context.thisclass",
		},
	}

	resp := Completions(raw)
	require.Len(t, resp.Completions, 3)

	first := resp.Completions[0]
	assert.Equal(t, "`self`() -> Self {\n<#code#>\n}", first.Name)
	assert.Equal(t, "`self`() -> Self", first.Description)
	assert.Equal(t, "`self`() -> Self\nsource.codecompletion.context.superclass", first.Docstring)
	assert.Equal(t, DefaultType, first.Type)
	assert.Equal(t, "", first.ModulePath)
	assert.Equal(t, 0, first.Line)
	assert.Equal(t, 0, first.Column)

	second := resp.Completions[1]
	assert.Equal(t, "count", second.Name)
	assert.Equal(t, "count: Int\nThe number of elements.", second.Docstring)
	assert.Equal(t, "property", second.Type)
	assert.Equal(t, 3, second.Line)
	assert.Equal(t, 7, second.Column)

	third := resp.Completions[2]
	assert.Equal(t, "append(newElement: Element)", third.Description)
	assert.Equal(t, "append(newElement: Element)\nAdds a new element at the end of the array.", third.Docstring)
}

func TestCompletion_MissingFieldsDegrade(t *testing.T) {
	item := Completion(engine.SourceKitCompletion{"key.line": nil, "key.column": "x"})
	assert.Equal(t, CompletionItem{Type: DefaultType, Docstring: "\n"}, item)

	assert.Equal(t, CompletionItem{Type: DefaultType}, Completion(nil))

	var nilPtr *engine.StructuredCompletion
	assert.Equal(t, CompletionItem{Type: DefaultType}, Completion(nilPtr))
}

func TestCompletion_NonStringValuesFormatted(t *testing.T) {
	item := Completion(engine.SourceKitCompletion{
		"key.sourcetext":  42.0,
		"key.description": true,
		"key.line":        12.0,
	})
	assert.Equal(t, "42", item.Name)
	assert.Equal(t, "true", item.Description)
	assert.Equal(t, 12, item.Line)
}

func TestDefinitions_Shapes(t *testing.T) {
	raw := []engine.Definition{
		engine.SourceKitDefinition{
			"key.name":        "print",
			"key.kind":        "source.lang.swift.decl.function.free",
			"key.filepath":    "/tmp/main.swift",
			"key.line":        4.0,
			"key.column":      1.0,
			"key.usr":         "s:s5printyyypd_SS9separatorSS10terminatortF",
			"key.description": "print(_:separator:terminator:)",
			"key.is_system":   true,
		},
		engine.SourceKitDefinition{
			"key.name": "return",
			"key.kind": "source.lang.swift.keyword",
		},
		engine.StructuredDefinition{
			ModulePath:  "/src/a.swift",
			Name:        "Foo",
			Type:        "class",
			Line:        10,
			Column:      6,
			Description: "class Foo",
			FullName:    "a.Foo",
		},
	}

	resp := Definitions(raw)
	require.Len(t, resp.Definitions, 3)

	first := resp.Definitions[0]
	assert.Equal(t, "print", first.Name)
	assert.Equal(t, "/tmp/main.swift", first.ModulePath)
	assert.Equal(t, 4, first.Line)
	assert.Equal(t, 1, first.Column)
	assert.True(t, first.InBuiltinModule)
	assert.False(t, first.IsKeyword)
	assert.Equal(t, "s:s5printyyypd_SS9separatorSS10terminatortF", first.FullName)

	assert.True(t, resp.Definitions[1].IsKeyword)

	third := resp.Definitions[2]
	assert.Equal(t, "class", third.Type)
	assert.Equal(t, "a.Foo", third.FullName)
	assert.Equal(t, "class Foo\n", third.Docstring)
}

func TestDefinitionItem_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(DefinitionItem{Name: "x"})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{
		"module_path", "name", "type", "in_builtin_module", "line",
		"column", "docstring", "description", "full_name", "is_keyword",
	} {
		assert.Contains(t, fields, key)
	}
	assert.Len(t, fields, 10)
}
