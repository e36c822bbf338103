// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonenc serializes response values, including shapes the
// response schema does not declare.
//
// # Description
//
// Declared records (structs with json tags, json.Marshaler values),
// primitives, slices and maps encode as usual. Fields of declared records
// keep their json names, options and order, but their values are checked
// like any other value. Anything else goes through one of two fallbacks:
//
//   - reflect: a struct without json tags becomes an object of its
//     exported fields plus "TYPE" naming the Go type.
//   - display: values that cannot be reflected (funcs, channels, complex
//     numbers, NaN, structs with no exported fields, maps with unsupported
//     keys, cycles) become their fmt.Sprint string.
//
// Every fallback is logged at Warn level: it means a component produced a
// value outside the response schema.
//
// # Thread Safety
//
// Encoder is safe for concurrent use.
package jsonenc

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"

	"github.com/AleutianAI/semagate/services/sema/observability"
)

// TypeKey is the discriminator added to reflected structs.
const TypeKey = "TYPE"

// maxDepth bounds reflection to break reference cycles.
const maxDepth = 32

// ErrUnencodable is returned when even the fallbacks produce invalid JSON.
var ErrUnencodable = errors.New("value cannot be encoded as JSON")

// Fallback kinds, used as log attribute and metric label.
const (
	FallbackReflect = "reflect"
	FallbackDisplay = "display"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Encoder serializes values with fallbacks for undeclared shapes.
type Encoder struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an Encoder.
//
// # Inputs
//
//   - logger: Receives fallback warnings. Nil selects slog.Default().
//   - metrics: Optional fallback counter. May be nil.
func New(logger *slog.Logger, metrics *observability.Metrics) *Encoder {
	return &Encoder{logger: logger, metrics: metrics}
}

var defaultEncoder = New(nil, nil)

// Marshal encodes v with the package default Encoder.
func Marshal(v any) ([]byte, error) {
	return defaultEncoder.Marshal(v)
}

// Marshal encodes v as JSON.
//
// # Outputs
//
//   - []byte: JSON text.
//   - error: ErrUnencodable wrapped with the cause. Only a json.Marshaler
//     that fails can produce it.
func (e *Encoder) Marshal(v any) ([]byte, error) {
	prepared := e.prepare(reflect.ValueOf(v), 0)
	data, err := json.Marshal(prepared)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodable, err)
	}
	return data, nil
}

func (e *Encoder) log() *slog.Logger {
	if e.logger != nil {
		return e.logger
	}
	return slog.Default()
}

func (e *Encoder) fallback(kind string, t reflect.Type, reason string) {
	e.metrics.RecordEncoderFallback(kind)
	typeName := "<nil>"
	if t != nil {
		typeName = t.String()
	}
	e.log().Warn("JSON encoder fallback used for undeclared value",
		slog.String("fallback", kind),
		slog.String("type", typeName),
		slog.String("reason", reason),
	)
}

func (e *Encoder) display(v reflect.Value, reason string) string {
	e.fallback(FallbackDisplay, v.Type(), reason)
	if !v.CanInterface() {
		return v.String()
	}
	return fmt.Sprint(v.Interface())
}

// prepare converts v into a tree that encoding/json encodes without error.
func (e *Encoder) prepare(v reflect.Value, depth int) any {
	if !v.IsValid() {
		return nil
	}
	if depth > maxDepth {
		// Printing a cyclic value would not terminate; name the type only.
		e.fallback(FallbackDisplay, v.Type(), "nesting too deep")
		return "<" + v.Type().String() + ">"
	}

	if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface && v.CanInterface() {
		if v.Type().Implements(jsonMarshalerType) || v.Type().Implements(textMarshalerType) {
			return v.Interface()
		}
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Pointer && v.CanInterface() &&
			(v.Type().Implements(jsonMarshalerType) || v.Type().Implements(textMarshalerType)) {
			return v.Interface()
		}
		return e.prepare(v.Elem(), depth+1)

	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return e.display(v, "non-finite number")
		}
		return f
	case reflect.String:
		return v.String()

	case reflect.Slice:
		if v.IsNil() {
			return []any{}
		}
		if v.Type().Elem().Kind() == reflect.Uint8 && v.CanInterface() {
			return v.Interface()
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = e.prepare(v.Index(i), depth+1)
		}
		return out

	case reflect.Map:
		return e.prepareMap(v, depth)

	case reflect.Struct:
		if isDeclaredRecord(v.Type()) {
			return e.declaredRecord(v, depth)
		}
		return e.reflectStruct(v, depth)

	default:
		return e.display(v, "kind "+v.Kind().String()+" has no JSON form")
	}
}

func (e *Encoder) prepareMap(v reflect.Value, depth int) any {
	if v.IsNil() {
		return map[string]any{}
	}
	keyKind := v.Type().Key().Kind()
	out := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		var key string
		switch {
		case keyKind == reflect.String:
			key = iter.Key().String()
		case keyKind >= reflect.Int && keyKind <= reflect.Int64:
			key = fmt.Sprint(iter.Key().Int())
		case keyKind >= reflect.Uint && keyKind <= reflect.Uintptr:
			key = fmt.Sprint(iter.Key().Uint())
		default:
			return e.display(v, "map key kind "+keyKind.String())
		}
		out[key] = e.prepare(iter.Value(), depth+1)
	}
	return out
}

// reflectStruct builds {exported fields..., "TYPE": name}.
func (e *Encoder) reflectStruct(v reflect.Value, depth int) any {
	t := v.Type()
	out := make(map[string]any, t.NumField()+1)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		out[field.Name] = e.prepare(v.Field(i), depth+1)
	}
	if len(out) == 0 {
		return e.display(v, "struct has no exported fields")
	}
	e.fallback(FallbackReflect, t, "struct without json tags")
	out[TypeKey] = typeName(t)
	return out
}

// declaredRecord encodes a tagged struct the way encoding/json would, with
// every field value prepared.
func (e *Encoder) declaredRecord(v reflect.Value, depth int) any {
	out := object{}
	seen := make(map[string]bool)
	e.collectFields(v, depth, &out, seen)
	return out
}

// collectFields appends the fields of v to out. Promoted fields of
// embedded structs come after the outer fields, and a name already taken
// by a shallower field is skipped.
func (e *Encoder) collectFields(v reflect.Value, depth int, out *object, seen map[string]bool) {
	t := v.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, hasTag := field.Tag.Lookup("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		fv := v.Field(i)
		if field.Anonymous && name == "" {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if !hasTag || name == "" {
			name = field.Name
		}
		if seen[name] {
			continue
		}
		if hasOption(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		if hasOption(opts, "omitzero") && fv.IsZero() {
			continue
		}

		value := e.prepare(fv, depth+1)
		if hasOption(opts, "string") && isQuotable(fv.Kind()) {
			if data, err := json.Marshal(value); err == nil {
				value = string(data)
			}
		}
		seen[name] = true
		*out = append(*out, member{name: name, value: value})
	}
	for _, ev := range embedded {
		e.collectFields(ev, depth+1, out, seen)
	}
}

// object is a JSON object that keeps its member order.
type object []member

type member struct {
	name  string
	value any
}

// MarshalJSON implements json.Marshaler.
func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

// isEmptyValue matches the omitempty rule of encoding/json.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

func isQuotable(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// isDeclaredRecord reports whether t declares its JSON shape through
// struct tags on at least one field.
func isDeclaredRecord(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		if _, ok := t.Field(i).Tag.Lookup("json"); ok {
			return true
		}
	}
	return false
}

func typeName(t reflect.Type) string {
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}
