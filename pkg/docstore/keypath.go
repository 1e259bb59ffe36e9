package docstore

import (
	"fmt"
	"strings"
)

// A key path is a dotted string ("a.b.c") addressing a nested value inside a
// document whose top level is an object. Navigation descends through nested
// maps only; hitting a non-map mid-path counts as "absent".

// splitKeyPath validates and splits a dotted key path.
func splitKeyPath(keyPath string) ([]string, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path is empty")
	}

	keys := strings.Split(keyPath, ".")
	for _, k := range keys {
		if k == "" {
			return nil, fmt.Errorf("key path %q has an empty segment", keyPath)
		}
	}

	return keys, nil
}

// getKeyPath returns the value at keys inside doc, or (nil, false) when any
// step is absent or not a map.
func getKeyPath(doc any, keys []string) (any, bool) {
	cur := doc

	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}

		next, exists := m[k]
		if !exists {
			return nil, false
		}

		cur = next
	}

	return cur, true
}

// setKeyPath sets value at keys inside doc, creating intermediate maps as
// needed. A non-map value found mid-path is replaced by a fresh map. doc must
// be a map; the mutation happens in place.
func setKeyPath(doc map[string]any, keys []string, value any) {
	cur := doc

	for _, k := range keys[:len(keys)-1] {
		next, exists := cur[k]
		if exists {
			if m, ok := next.(map[string]any); ok {
				cur = m

				continue
			}
		}

		m := make(map[string]any)
		cur[k] = m
		cur = m
	}

	cur[keys[len(keys)-1]] = value
}

// deleteKeyPath removes the value at keys inside doc. Returns true when a
// value was actually removed; deleting an absent key is a no-op.
func deleteKeyPath(doc map[string]any, keys []string) bool {
	cur := doc

	for _, k := range keys[:len(keys)-1] {
		next, exists := cur[k]
		if !exists {
			return false
		}

		m, ok := next.(map[string]any)
		if !ok {
			return false
		}

		cur = m
	}

	last := keys[len(keys)-1]
	if _, exists := cur[last]; !exists {
		return false
	}

	delete(cur, last)

	return true
}
