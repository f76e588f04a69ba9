package policypack

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize folds compatibility forms (full-width digits, ligatures) so
// sensitive-data patterns cannot be dodged with look-alike characters.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// WalkStrings visits every string leaf of v depth-first, map keys in sorted
// order, passing the normalized value and its path ("a.b", "list[0]").
// Typed collections (map[string]string, []map[string]any, arrays) are
// walked like their untyped forms. Returning false from fn stops the walk.
func WalkStrings(v any, path string, fn func(path, s string) bool) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return fn(path, Normalize(t))
	case map[string]any:
		for _, k := range sortedKeys(t) {
			if !WalkStrings(t[k], childPath(path, k), fn) {
				return false
			}
		}
		return true
	case []any:
		for i, e := range t {
			if !WalkStrings(e, indexPath(path, i), fn) {
				return false
			}
		}
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return fn(path, Normalize(rv.String()))
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return true
		}
		for _, k := range sortedMapKeys(rv) {
			if !WalkStrings(element(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))), childPath(path, k), fn) {
				return false
			}
		}
	case reflect.Slice, reflect.Array:
		for i := range rv.Len() {
			if !WalkStrings(element(rv.Index(i)), indexPath(path, i), fn) {
				return false
			}
		}
	case reflect.Pointer, reflect.Interface:
		if !rv.IsNil() {
			return WalkStrings(rv.Elem().Interface(), path, fn)
		}
	}
	return true
}

// Text flattens v into one lowercase normalized string containing every
// map key and scalar leaf, for keyword scans.
func Text(v any) string {
	var b strings.Builder
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case nil:
			return
		case map[string]any:
			for _, k := range sortedKeys(t) {
				b.WriteString(k)
				b.WriteByte(' ')
				walk(t[k])
			}
			return
		case []any:
			for _, e := range t {
				walk(e)
			}
			return
		}

		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Map:
			if rv.Type().Key().Kind() == reflect.String {
				for _, k := range sortedMapKeys(rv) {
					b.WriteString(k)
					b.WriteByte(' ')
					walk(element(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))))
				}
				return
			}
		case reflect.Slice, reflect.Array:
			if rv.Type().Elem().Kind() != reflect.Uint8 {
				for i := range rv.Len() {
					walk(element(rv.Index(i)))
				}
				return
			}
		case reflect.Pointer, reflect.Interface:
			if !rv.IsNil() {
				walk(rv.Elem().Interface())
			}
			return
		}
		fmt.Fprint(&b, v)
		b.WriteByte(' ')
	}
	walk(v)
	return strings.ToLower(Normalize(b.String()))
}

// Keywords returns the words found in Text(v), in the order given.
func Keywords(v any, words []string) []string {
	text := Text(v)
	var found []string
	for _, w := range words {
		if strings.Contains(text, w) {
			found = append(found, w)
		}
	}
	return found
}

// Truthy mirrors the loose truthiness agents use for metadata flags:
// nil, false, zero numbers, and empty strings, maps and slices of any
// element type are false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	}
	if f, ok := ToFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() > 0
	case reflect.Bool:
		return rv.Bool()
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil() && Truthy(rv.Elem().Interface())
	}
	return true
}

// ToFloat converts numeric values and numeric strings. Booleans are not numbers.
func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func childPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func indexPath(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

// element unwraps a reflected collection element; invalid values are nil.
func element(v reflect.Value) any {
	if !v.IsValid() || !v.CanInterface() {
		return nil
	}
	return v.Interface()
}

// sortedMapKeys returns the keys of a string-keyed map, sorted.
func sortedMapKeys(rv reflect.Value) []string {
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	return keys
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
