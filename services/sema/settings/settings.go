// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package settings holds the engine's process-wide settings and scopes
// per-request overrides of them.
//
// The engine reads a single mutable settings map. A request may carry an
// overlay; the overlay is applied for the duration of the request and the
// whole map is then replaced with the startup defaults, whatever happened
// in between.
//
// # Thread Safety
//
// Store serializes its own map access, but a Scope is only meaningful while
// the caller holds the execution gate: two concurrent scopes would see each
// other's overlays.
package settings

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
)

// DefaultSettings is the map used when no defaults are configured.
var DefaultSettings = map[string]any{
	"case_insensitive_completion": "",
}

var (
	// ErrInvalidSetting is returned when a setting value is not a string,
	// bool or number.
	ErrInvalidSetting = errors.New("invalid setting value")

	// ErrEmptySettingName is returned for an overlay entry with an empty key.
	ErrEmptySettingName = errors.New("setting name is empty")
)

// Snapshot is a read-only copy of the settings at a point in time.
type Snapshot map[string]any

// Get returns the value of a setting and whether it is present.
func (s Snapshot) Get(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

// Keys returns the setting names in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether both snapshots hold the same names and values.
func (s Snapshot) Equal(other Snapshot) bool {
	return maps.Equal(s, other)
}

// Store owns the current engine settings and the immutable defaults.
type Store struct {
	mu       sync.Mutex
	current  map[string]any
	defaults map[string]any
}

// NewStore creates a Store whose current settings equal defaults.
//
// # Description
//
// Validates and copies defaults. A nil map selects DefaultSettings.
//
// # Inputs
//
//   - defaults: Startup settings. Not retained; later mutation of the
//     argument has no effect on the store.
//
// # Outputs
//
//   - *Store: Ready store.
//   - error: ErrInvalidSetting if a default has an unsupported type.
func NewStore(defaults map[string]any) (*Store, error) {
	if defaults == nil {
		defaults = DefaultSettings
	}
	normalized := make(map[string]any, len(defaults))
	for name, value := range defaults {
		v, err := normalizeValue(name, value)
		if err != nil {
			return nil, err
		}
		normalized[name] = v
	}
	return &Store{
		current:  maps.Clone(normalized),
		defaults: normalized,
	}, nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot(maps.Clone(s.current))
}

// Defaults returns a copy of the startup settings.
func (s *Store) Defaults() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot(maps.Clone(s.defaults))
}

// AtDefaults reports whether the current settings equal the defaults.
func (s *Store) AtDefaults() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Equal(s.current, s.defaults)
}

// ApplyOverlay sets each (name, value) of overlay in the current settings.
//
// # Description
//
// The overlay is validated as a whole before anything is written, so an
// invalid entry leaves the current settings untouched. Names the engine
// does not know are applied as-is. A nil or empty overlay is a no-op.
//
// # Outputs
//
//   - error: ErrInvalidSetting or ErrEmptySettingName.
func (s *Store) ApplyOverlay(overlay map[string]any) error {
	if len(overlay) == 0 {
		return nil
	}
	validated := make(map[string]any, len(overlay))
	for name, value := range overlay {
		v, err := normalizeValue(name, value)
		if err != nil {
			return err
		}
		validated[name] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.current, validated)
	return nil
}

// RestoreDefaults replaces the whole current map with a copy of the
// defaults. Names added by an overlay are removed.
func (s *Store) RestoreDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = maps.Clone(s.defaults)
}

// Scope is an applied overlay. Exit restores the defaults.
type Scope struct {
	store   *Store
	once    sync.Once
	overlay int
}

// Enter applies overlay and returns a Scope whose Exit restores defaults.
//
// # Description
//
// On validation failure nothing is applied, the store is reset to its
// defaults and no Scope is returned.
//
// # Inputs
//
//   - overlay: Per-request overrides. May be nil.
//
// # Outputs
//
//   - *Scope: Call Exit on every path, normally with defer.
//   - error: Non-nil if the overlay is invalid.
//
// # Example
//
//	scope, err := store.Enter(req.Settings)
//	if err != nil {
//	    return err
//	}
//	defer scope.Exit()
func (s *Store) Enter(overlay map[string]any) (*Scope, error) {
	if err := s.ApplyOverlay(overlay); err != nil {
		s.RestoreDefaults()
		return nil, err
	}
	return &Scope{store: s, overlay: len(overlay)}, nil
}

// Exit restores the store's defaults. Safe to call more than once.
func (sc *Scope) Exit() {
	if sc == nil {
		return
	}
	sc.once.Do(sc.store.RestoreDefaults)
}

// Overridden returns the number of overlay entries applied by this scope.
func (sc *Scope) Overridden() int {
	return sc.overlay
}

// normalizeValue accepts string, bool and any Go numeric type. JSON
// numbers decoded into interface values arrive as float64.
func normalizeValue(name string, value any) (any, error) {
	if name == "" {
		return nil, ErrEmptySettingName
	}
	switch v := value.(type) {
	case string, bool, float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("%w: %q has type %T", ErrInvalidSetting, name, value)
	}
}
