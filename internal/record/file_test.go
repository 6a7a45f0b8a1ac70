package record

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadFile_JSON(t *testing.T) {
	path := writeFile(t, "daily.json", `[
  {"date": {"value": "2024-01-01"}, "line": {"value": "A"}, "qty": {"value": 12}},
  {"date": "2024-01-02", "line": "B", "qty": 3.5}
]`)
	recs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}

	k, ok := JoinKey(recs[0], CompositeKey("date", "line"))
	if !ok || k != "2024-01-01|::|A" {
		t.Errorf("JoinKey = %q, %v", k, ok)
	}
	if v, _ := Extract(recs[0], "qty"); KeyString(v) != "12" {
		t.Errorf("qty = %v, want 12", v)
	}
	if v, _ := Extract(recs[1], "qty"); KeyString(v) != "3.5" {
		t.Errorf("qty = %v, want 3.5", v)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "daily.yml", `
- date: "2024-01-01"
  line: A
- date:
    value: "2024-01-02"
  line: B
`)
	recs, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if v, ok := Extract(recs[1], "date"); !ok || v != "2024-01-02" {
		t.Errorf("wrapped date = %v, %v", v, ok)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"unsupported extension", "records.csv", "a,b\n"},
		{"not an array", "records.json", `{"date": "2024-01-01"}`},
		{"null entry", "records.json", `[null]`},
		{"bad yaml", "records.yaml", "- [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFile(writeFile(t, tt.file, tt.content)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIsRecordFile(t *testing.T) {
	for path, want := range map[string]bool{
		"a.json": true, "a.YAML": true, "a.yml": true, "a.csv": false, "a": false,
	} {
		if got := IsRecordFile(path); got != want {
			t.Errorf("IsRecordFile(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLoadUpdates(t *testing.T) {
	path := writeFile(t, "fix.yaml", `
- id: "101"
  record:
    qty: {value: 4}
- id: "102"
  record:
    line: B
`)
	updates, err := LoadUpdates(path)
	if err != nil {
		t.Fatalf("LoadUpdates: %v", err)
	}
	if len(updates) != 2 || updates[0].ID != "101" || updates[1].ID != "102" {
		t.Fatalf("updates = %+v", updates)
	}
	if v, _ := Extract(updates[0].Record, "qty"); KeyString(v) != "4" {
		t.Errorf("qty = %v, want 4", v)
	}
}

func TestLoadUpdates_Errors(t *testing.T) {
	tests := map[string]string{
		"missing id": `[{"record": {"qty": 1}}]`,
		"no fields":  `[{"id": "1", "record": {}}]`,
		"not a list": `{"id": "1"}`,
		"numeric id": `[{"id": 1, "record": {"qty": 1}}]`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadUpdates(writeFile(t, "u.json", content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
