package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// IsRecordFile reports whether path has an extension LoadFile understands.
func IsRecordFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadFile reads a list of records from a JSON array or a YAML sequence of
// mappings, chosen by file extension.
func LoadFile(path string) ([]Record, error) {
	var recs []Record
	if err := decodeFile(path, &recs); err != nil {
		return nil, err
	}
	for i, r := range recs {
		if r == nil {
			return nil, fmt.Errorf("records file %q: entry %d is not an object", path, i)
		}
	}
	return recs, nil
}

// LoadUpdates reads a list of {"id": ..., "record": {...}} entries. Every
// entry needs an ID and at least one field.
func LoadUpdates(path string) ([]Update, error) {
	var updates []Update
	if err := decodeFile(path, &updates); err != nil {
		return nil, err
	}
	for i, u := range updates {
		if u.ID == "" {
			return nil, fmt.Errorf("updates file %q: entry %d has no id", path, i)
		}
		if len(u.Record) == 0 {
			return nil, fmt.Errorf("updates file %q: entry %d (id %s) has no fields", path, i, u.ID)
		}
	}
	return updates, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading records file %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(out)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, out)
	default:
		return fmt.Errorf("records file %q: unsupported extension (want .json, .yaml or .yml)", path)
	}
	if err != nil {
		return fmt.Errorf("parsing records file %q: %w", path, err)
	}
	return nil
}
