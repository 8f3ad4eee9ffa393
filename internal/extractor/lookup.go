package extractor

import (
	"encoding/json"
	"strconv"
	"strings"
)

// lookup walks nested objects by key. Anything missing or of the wrong shape yields nil.
func lookup(node any, path ...string) any {
	current := node
	for _, key := range path {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[key]
	}
	return current
}

// text renders the scalar at path as a string; objects, arrays and nulls are empty.
func text(node any, path ...string) string {
	switch v := lookup(node, path...).(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// items returns node as a slice of elements, or nil.
func items(node any) []any {
	list, _ := node.([]any)
	return list
}

// findByValue returns item[keyToReturn] for the first item whose keyToFind equals want.
func findByValue(list any, keyToFind, want, keyToReturn string) string {
	for _, item := range items(list) {
		if text(item, keyToFind) == want {
			return text(item, keyToReturn)
		}
	}
	return ""
}

func joinItems(list any, format func(any) string) string {
	var parts []string
	for _, item := range items(list) {
		if s := format(item); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, listSeparator)
}

func joinNonEmpty(sep string, values ...string) string {
	var parts []string
	for _, v := range values {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
