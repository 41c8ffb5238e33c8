package codec

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// Normalize converts v into its canonical form. Every integer width becomes
// int64 (uint64 values above math.MaxInt64 become float64), every float
// width becomes float64, slices and arrays become []any and string-keyed
// maps become map[string]any. The result never aliases v.
func Normalize(v any) (any, error) {
	return normalize(reflect.ValueOf(v), "")
}

func normalize(rv reflect.Value, path string) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case Plainer:
			if rv.Kind() == reflect.Pointer && rv.IsNil() {
				return nil, nil
			}
			return normalize(reflect.ValueOf(x.PlainValue()), path)
		case json.Number:
			return parseNumber(string(x)), nil
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		if !utf8.ValidString(rv.String()) {
			return nil, unsupported(path, "invalid UTF-8 string")
		}
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), nil
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, unsupported(path, "non-finite float %v", f)
		}
		return f, nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem(), path)
	case reflect.Slice:
		if rv.IsNil() {
			return []any{}, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, unsupported(path, "byte slice")
		}
		fallthrough
	case reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			e, err := normalize(rv.Index(i), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, unsupported(path, "map key type %s", rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			if !utf8.ValidString(k) {
				return nil, unsupported(path, "invalid UTF-8 map key %q", k)
			}
			e, err := normalize(iter.Value(), path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil
	default:
		return nil, unsupported(path, "%s", rv.Type())
	}
}

func unsupported(path, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if path != "" {
		return fmt.Errorf("%w: %s at %s", ErrUnsupportedValue, msg, path)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedValue, msg)
}

// Clone deep copies a canonical value.
func Clone(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Clone(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two canonical values are the same. An int64 and a
// float64 holding the same number are equal, matching JSON semantics.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		}
		return false
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case int64:
			return x == float64(y)
		}
		return false
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, e := range x {
			f, ok := y[k]
			if !ok || !Equal(e, f) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Compare orders two canonical scalars: numbers by value, strings
// lexically, false before true. ok is false when the values are not
// mutually ordered (different kinds, containers, nil).
func Compare(a, b any) (c int, ok bool) {
	if fa, isNum := number(a); isNum {
		fb, isNum := number(b)
		if !isNum {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch x := a.(type) {
	case string:
		y, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// SortedKeys returns the keys of a mapping in ascending order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
