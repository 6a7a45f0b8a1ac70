// Package record defines the shared types passed between the remote store
// client, the duplicate detector, and the batch uploader: candidate records,
// key specifications, and write results.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is a candidate or stored record: a mapping from field code to field
// value. A value may be raw ("2024-01-01", 12) or wrapped in the store's
// field envelope ({"value": ...}). The sync engine never mutates a Record.
type Record map[string]any

// Field is the store's field envelope. Records built in Go code use it in
// place of a bare map so the JSON shape matches what the store returns.
type Field struct {
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// Wrap returns a Field carrying v with no type annotation.
func Wrap(v any) Field {
	return Field{Value: v}
}

// WriteResult is the store's acknowledgement for one written record.
type WriteResult struct {
	ID       string `json:"id"`
	Revision string `json:"revision"`
}

// Update pairs an existing record ID with the fields to overwrite.
type Update struct {
	ID     string `json:"id" yaml:"id"`
	Record Record `json:"record" yaml:"record"`
}

// DuplicateCheckEntry is the duplicate detector's verdict for one candidate.
// Duplicates is nil unless IsDuplicate is true, in which case it lists every
// stored record sharing the candidate's key.
type DuplicateCheckEntry struct {
	Record      Record
	IsDuplicate bool
	Duplicates  []Record
}

// SyncResult is the outcome of an upload. OK is false when the upload was
// skipped because at least one candidate already exists in the store.
type SyncResult struct {
	OK      bool
	Records []WriteResult
}

// keySeparator joins composite key parts. Chosen to be unlikely in real
// field values.
const keySeparator = "|::|"

// Extract returns the comparable value stored under field. Wrapped values
// are unwrapped; raw values are returned unchanged. The boolean is false when
// the field is absent or holds nil.
func Extract(r Record, field string) (any, bool) {
	if r == nil {
		return nil, false
	}
	raw, ok := r[field]
	if !ok || raw == nil {
		return nil, false
	}

	var v any
	switch w := raw.(type) {
	case Field:
		v = w.Value
	case *Field:
		if w == nil {
			return nil, false
		}
		v = w.Value
	case map[string]any:
		inner, has := w["value"]
		if !has {
			return raw, true
		}
		v = inner
	default:
		v = raw
	}
	if v == nil {
		return nil, false
	}
	return v, true
}

// KeyString returns the canonical string form of a key value so that the
// same value read from a JSON response and from a Go literal compare equal
// (e.g. float64(12) from encoding/json and int 12).
func KeyString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) && math.Abs(x) < 1e15 {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return KeyString(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// JoinKey returns the joined key string of r under spec. It reports false if
// any key field is missing.
func JoinKey(r Record, spec KeySpec) (string, bool) {
	parts := make([]string, 0, len(spec))
	for _, f := range spec {
		v, ok := Extract(r, f)
		if !ok {
			return "", false
		}
		parts = append(parts, KeyString(v))
	}
	return strings.Join(parts, keySeparator), true
}
