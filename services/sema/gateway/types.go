// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/semagate/services/sema/engine"
)

// =============================================================================
// Request Types
// =============================================================================

// PositionRequest is the body of /completions, /gotodefinition and /usages.
//
// Pointer fields distinguish a missing field from its zero value: an empty
// source or a column of 0 are valid, an absent one is not.
type PositionRequest struct {
	// Source is the full text of the file being edited.
	Source *string `json:"source" binding:"required"`

	// Line is the 1-based cursor line.
	Line *int `json:"line" binding:"required,min=1"`

	// Col is the 0-based cursor column.
	Col *int `json:"col" binding:"required,min=0"`

	// SourcePath is the path of the file on disk.
	SourcePath *string `json:"source_path" binding:"required"`

	// Settings overrides engine settings for this request only.
	Settings map[string]any `json:"settings"`
}

// engineRequest converts a bound request. Flags are filled in by Service.
func (r PositionRequest) engineRequest() engine.Request {
	return engine.Request{
		SourcePath: *r.SourcePath,
		Content:    []byte(*r.Source),
		Line:       *r.Line,
		Column:     *r.Col,
	}
}

// AssignmentRequest is the body of /gotoassignment.
type AssignmentRequest struct {
	PositionRequest

	// FollowImports resolves through imports to the original definition.
	// Default: false.
	FollowImports *bool `json:"follow_imports"`
}

// NamesRequest is the body of /names.
type NamesRequest struct {
	Source *string `json:"source" binding:"required"`
	Path   *string `json:"path" binding:"required"`

	// AllScopes includes nested declarations. Default: false.
	AllScopes *bool `json:"all_scopes"`

	// Definitions includes declarations. Default: true.
	Definitions *bool `json:"definitions"`

	// References includes references. Default: false.
	References *bool `json:"references"`

	Settings map[string]any `json:"settings"`
}

func (r NamesRequest) engineRequest() engine.NamesRequest {
	return engine.NamesRequest{
		SourcePath:  *r.Path,
		Content:     []byte(*r.Source),
		AllScopes:   boolOr(r.AllScopes, false),
		Definitions: boolOr(r.Definitions, true),
		References:  boolOr(r.References, false),
	}
}

// PreloadRequest is the body of /preload_module.
type PreloadRequest struct {
	Modules  []string       `json:"modules" binding:"required,dive,module_name"`
	Settings map[string]any `json:"settings"`
}

// ErrorBody is the body of every error response.
type ErrorBody struct {
	// Exception names the kind of failure, e.g. "EngineError".
	Exception string `json:"exception"`

	// Message is the error text.
	Message string `json:"message"`

	// Traceback is the goroutine stack for panics, or the chain of wrapped
	// errors otherwise.
	Traceback string `json:"traceback"`
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}

// =============================================================================
// Validation
// =============================================================================

// moduleNamePattern matches dotted identifiers such as "Foundation" or
// "os.path".
var moduleNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

var registerOnce sync.Once

// registerValidators adds the gateway's custom rules to gin's validator.
// Safe to call more than once.
func registerValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("module_name", validateModuleName)
		}
	})
}

// validateModuleName checks a preload module identifier.
func validateModuleName(fl validator.FieldLevel) bool {
	return moduleNamePattern.MatchString(fl.Field().String())
}
