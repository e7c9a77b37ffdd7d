package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MarshalResult serialises a tool result to JSON with the scalar rules
// the LLM contract requires: UUIDs and timestamps become strings,
// NaN/Inf become null. encoding/json rejects NaN outright, so values
// are sanitised before marshalling.
func MarshalResult(v any) (string, error) {
	data, err := json.Marshal(sanitize(reflect.ValueOf(v)))
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return string(data), nil
}

func sanitize(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return sanitize(v.Elem())
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case reflect.Map:
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = sanitize(iter.Value())
		}
		return out
	case reflect.Slice, reflect.Array:
		// uuid.UUID is [16]byte; render it as its canonical string.
		if u, ok := v.Interface().(uuid.UUID); ok {
			return u.String()
		}
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface()
		}
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = sanitize(v.Index(i))
		}
		return out
	case reflect.Struct:
		if t, ok := v.Interface().(time.Time); ok {
			return t.UTC().Format(time.RFC3339)
		}
		return sanitizeStruct(v)
	default:
		return v.Interface()
	}
}

func sanitizeStruct(v reflect.Value) map[string]any {
	out := map[string]any{}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		omitEmpty := false
		if tag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitEmpty = true
				}
			}
		}
		value := v.Field(i)
		if omitEmpty && value.IsZero() {
			continue
		}
		if field.Anonymous && value.Kind() == reflect.Struct {
			for k, inner := range sanitizeStruct(value) {
				out[k] = inner
			}
			continue
		}
		out[name] = sanitize(value)
	}
	return out
}
