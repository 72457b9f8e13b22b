package reflection

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Kind names used for output shape checks. A string exemplar equal to one
// of these stands for the type rather than a literal string.
const (
	KindString = "string"
	KindNumber = "number"
	KindBool   = "bool"
	KindList   = "list"
	KindMap    = "map"
	KindAny    = "any"
	KindNull   = "null"
)

var typeNames = map[string]bool{
	KindString: true,
	KindNumber: true,
	KindBool:   true,
	KindList:   true,
	KindMap:    true,
	KindAny:    true,
}

// VerifyShape compares actual outputs against expected exemplars by key and
// kind only. Values are never compared. Extra actual keys are ignored.
func VerifyShape(expected, actual map[string]any) []string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		av, ok := actual[k]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("missing output %q", k))
			continue
		}
		want := expectedKind(expected[k])
		if want == KindAny {
			continue
		}
		if got := kindOf(av); got != want {
			mismatches = append(mismatches, fmt.Sprintf("output %q: expected %s, got %s", k, want, got))
		}
	}
	return mismatches
}

func expectedKind(v any) string {
	if v == nil {
		return KindAny
	}
	if s, ok := v.(string); ok && typeNames[s] {
		return s
	}
	return kindOf(v)
}

func kindOf(v any) string {
	if v == nil {
		return KindNull
	}
	if _, ok := v.(json.Number); ok {
		return KindNumber
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.String:
		return KindString
	case reflect.Bool:
		return KindBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return KindNumber
	case reflect.Slice, reflect.Array:
		return KindList
	case reflect.Map, reflect.Struct:
		return KindMap
	case reflect.Pointer:
		rv := reflect.ValueOf(v)
		if rv.IsNil() {
			return KindNull
		}
		return kindOf(rv.Elem().Interface())
	default:
		return reflect.TypeOf(v).Kind().String()
	}
}
