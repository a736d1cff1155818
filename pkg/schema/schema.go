// Copyright (C) 2026 Ashfox Project (hello@ashfox.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package schema implements the declarative input validator used for
// tool arguments.
//
// Schemas are data (a list of rules per field), not generated code: the
// tool registry declares them once and the router validates every
// tools/call payload before dispatch. After a successful validation the
// argument map is marked, so internal boundaries can skip re-checking
// the same object within a request.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sync"
)

// Field types understood by the validator.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeAny     = "any"
)

// Rule describes one allowed field of an object.
type Rule struct {
	Name        string
	Type        string
	Required    bool
	Description string

	// Enum restricts a string field to the listed values.
	Enum []string

	// Min and Max bound numeric fields (inclusive).
	Min *float64
	Max *float64

	// MinItems requires arrays to be at least this long.
	MinItems int

	// Items validates each element of an array field.
	Items *Rule

	// Fields validates the members of an object field.
	Fields []Rule
}

// Object is the schema of a tool's input: a set of field rules.
type Object struct {
	Fields []Rule
}

// Violation reports the first rule a value failed.
type Violation struct {
	Path    string `json:"path"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Violation reasons.
const (
	ReasonMissing   = "missing_required"
	ReasonType      = "type_mismatch"
	ReasonEnum      = "enum_mismatch"
	ReasonRange     = "out_of_range"
	ReasonMinItems  = "too_few_items"
	ReasonNotObject = "not_an_object"
)

// Validate checks args against the schema. A nil return means the
// arguments are valid; the map is then marked as schema-validated.
func Validate(s Object, args map[string]any) *Violation {
	if v := validateObject(s.Fields, args, ""); v != nil {
		return v
	}
	MarkValidated(args)
	return nil
}

func validateObject(rules []Rule, args map[string]any, prefix string) *Violation {
	for _, rule := range rules {
		path := rule.Name
		if prefix != "" {
			path = prefix + "." + rule.Name
		}
		value, present := args[rule.Name]
		if !present || value == nil {
			if rule.Required {
				return &Violation{Path: path, Reason: ReasonMissing,
					Message: fmt.Sprintf("field %q is required", path)}
			}
			continue
		}
		if v := validateValue(rule, value, path); v != nil {
			return v
		}
	}
	return nil
}

func validateValue(rule Rule, value any, path string) *Violation {
	switch rule.Type {
	case TypeAny, "":
		return nil

	case TypeString:
		s, ok := value.(string)
		if !ok {
			return typeViolation(path, TypeString, value)
		}
		if len(rule.Enum) > 0 {
			for _, allowed := range rule.Enum {
				if s == allowed {
					return nil
				}
			}
			return &Violation{Path: path, Reason: ReasonEnum,
				Message: fmt.Sprintf("field %q must be one of %v", path, rule.Enum)}
		}
		return nil

	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return typeViolation(path, TypeBoolean, value)
		}
		return nil

	case TypeNumber, TypeInteger:
		f, ok := asFloat(value)
		if !ok {
			return typeViolation(path, rule.Type, value)
		}
		if rule.Type == TypeInteger && f != math.Trunc(f) {
			return typeViolation(path, TypeInteger, value)
		}
		if rule.Min != nil && f < *rule.Min {
			return rangeViolation(path, rule)
		}
		if rule.Max != nil && f > *rule.Max {
			return rangeViolation(path, rule)
		}
		return nil

	case TypeArray:
		items, ok := value.([]any)
		if !ok {
			return typeViolation(path, TypeArray, value)
		}
		if len(items) < rule.MinItems {
			return &Violation{Path: path, Reason: ReasonMinItems,
				Message: fmt.Sprintf("field %q needs at least %d items", path, rule.MinItems)}
		}
		if rule.Items != nil {
			for i, item := range items {
				itemPath := fmt.Sprintf("%s[%d]", path, i)
				if v := validateValue(*rule.Items, item, itemPath); v != nil {
					return v
				}
			}
		}
		return nil

	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return &Violation{Path: path, Reason: ReasonNotObject,
				Message: fmt.Sprintf("field %q must be an object", path)}
		}
		return validateObject(rule.Fields, obj, path)

	default:
		return typeViolation(path, rule.Type, value)
	}
}

func typeViolation(path, want string, got any) *Violation {
	return &Violation{Path: path, Reason: ReasonType,
		Message: fmt.Sprintf("field %q must be a %s, got %T", path, want, got)}
}

func rangeViolation(path string, rule Rule) *Violation {
	return &Violation{Path: path, Reason: ReasonRange,
		Message: fmt.Sprintf("field %q is out of range", path)}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// JSONSchema renders the object as a JSON-Schema-shaped map for the
// tools/list response.
func (s Object) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []string
	for _, rule := range s.Fields {
		props[rule.Name] = ruleSchema(rule)
		if rule.Required {
			required = append(required, rule.Name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func ruleSchema(rule Rule) map[string]any {
	out := map[string]any{}
	switch rule.Type {
	case TypeAny, "":
		// no type constraint
	default:
		out["type"] = rule.Type
	}
	if rule.Description != "" {
		out["description"] = rule.Description
	}
	if len(rule.Enum) > 0 {
		out["enum"] = rule.Enum
	}
	if rule.Min != nil {
		out["minimum"] = *rule.Min
	}
	if rule.Max != nil {
		out["maximum"] = *rule.Max
	}
	if rule.MinItems > 0 {
		out["minItems"] = rule.MinItems
	}
	if rule.Items != nil {
		out["items"] = ruleSchema(*rule.Items)
	}
	if len(rule.Fields) > 0 {
		nested := Object{Fields: rule.Fields}.JSONSchema()
		for k, v := range nested {
			out[k] = v
		}
	}
	return out
}

// ---------------------------------------------------------------------
// Validated marker
// ---------------------------------------------------------------------

// validated tracks the identity of maps that already passed Validate in
// this process. The tool service and the proxy router call
// ClearValidated when the call consuming the map returns, so a marker
// never outlives its request.
var validated sync.Map

func mapKey(args map[string]any) uintptr {
	if args == nil {
		return 0
	}
	return reflect.ValueOf(args).Pointer()
}

// MarkValidated records that the given argument map passed validation.
func MarkValidated(args map[string]any) {
	if key := mapKey(args); key != 0 {
		validated.Store(key, struct{}{})
	}
}

// IsValidated reports whether the exact argument map (by identity, not
// by value) already passed validation.
func IsValidated(args map[string]any) bool {
	key := mapKey(args)
	if key == 0 {
		return false
	}
	_, ok := validated.Load(key)
	return ok
}

// ClearValidated forgets the marker for the given map.
func ClearValidated(args map[string]any) {
	if key := mapKey(args); key != 0 {
		validated.Delete(key)
	}
}
