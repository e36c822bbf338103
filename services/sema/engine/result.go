// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

// Completion is one raw completion candidate as produced by a backend.
//
// The set of implementations is closed: SourceKitCompletion and
// StructuredCompletion.
type Completion interface {
	isCompletion()
}

// Definition is one raw definition, assignment, usage or name.
//
// The set of implementations is closed: SourceKitDefinition and
// StructuredDefinition.
type Definition interface {
	isDefinition()
}

// SourceKitCompletion is a completion dictionary as returned by sourcekitd
// ("key.sourcetext", "key.description", ...) or by SourceKitten
// ("sourcetext", "descriptionKey", ...). Values are usually strings; other
// types are tolerated and stringified by the normalizer.
type SourceKitCompletion map[string]any

// SourceKitDefinition is a cursor-info or symbol dictionary in either
// sourcekitd or SourceKitten key dialect.
type SourceKitDefinition map[string]any

// StructuredCompletion is a completion from a typed backend.
type StructuredCompletion struct {
	ModulePath  string
	Name        string
	Type        string
	Line        int
	Column      int
	Description string
	Context     string
	DocBrief    string
}

// StructuredDefinition is a definition from a typed backend.
type StructuredDefinition struct {
	ModulePath      string
	Name            string
	Type            string
	InBuiltinModule bool
	Line            int
	Column          int
	Description     string
	DocBrief        string
	FullName        string
	IsKeyword       bool
}

func (SourceKitCompletion) isCompletion()  {}
func (StructuredCompletion) isCompletion() {}

func (SourceKitDefinition) isDefinition()  {}
func (StructuredDefinition) isDefinition() {}
