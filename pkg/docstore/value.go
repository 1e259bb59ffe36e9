package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Documents hold the JSON value set: map[string]any, []any, string, float64,
// bool, nil. The top level of a document must be an object or an array.
//
// Callers may pass richer Go values (structs, typed maps, ints); the store
// normalizes them through a JSON round trip before writing, so what a later
// Load returns is always in the canonical set above.

// normalizeValue converts v into the canonical JSON value set and validates
// that its top level is an object or array.
func normalizeValue(v any) (any, error) {
	raw, marshalErr := json.Marshal(v)
	if marshalErr != nil {
		return nil, fmt.Errorf("value is not JSON-serializable: %w", marshalErr)
	}

	parsed, parseErr := parseDocument(raw)
	if parseErr != nil {
		return nil, parseErr
	}

	return parsed, nil
}

// parseDocument decodes raw bytes into a document value, enforcing the
// top-level shape. json.Number is deliberately not used: documents carry
// config-scale data and float64 matches what encoding/json hands every
// consumer by default.
func parseDocument(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	var v any

	decodeErr := dec.Decode(&v)
	if decodeErr != nil {
		return nil, decodeErr
	}

	// A document is a single value. Anything after it - valid JSON or raw
	// garbage - means the file is not a well-formed document even if its
	// prefix parses, so only a clean EOF passes.
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after document")
	}

	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, ErrBadShape
	}
}

// encodeDocument serializes a document value for storage. Output is indented
// so the on-disk files stay hand-inspectable, with a trailing newline.
func encodeDocument(v any) ([]byte, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	return append(raw, '\n'), nil
}

// cloneValue deep-copies a canonical document value. Values handed to callers
// never alias values the store is about to mutate.
func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			out[k] = cloneValue(val)
		}

		return out
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			out[i] = cloneValue(val)
		}

		return out
	default:
		return tv
	}
}

// deepMerge merges partial into base and returns the result.
//
// Maps merge recursively: keys present in partial override keys in base,
// descending into nested maps. Any non-map value in partial (including lists)
// replaces the base value wholesale.
func deepMerge(base, partial any) any {
	baseMap, baseOk := base.(map[string]any)

	partialMap, partialOk := partial.(map[string]any)
	if !baseOk || !partialOk {
		return cloneValue(partial)
	}

	out := make(map[string]any, len(baseMap)+len(partialMap))
	for k, v := range baseMap {
		out[k] = cloneValue(v)
	}

	for k, pv := range partialMap {
		if bv, exists := out[k]; exists {
			out[k] = deepMerge(bv, pv)

			continue
		}

		out[k] = cloneValue(pv)
	}

	return out
}
