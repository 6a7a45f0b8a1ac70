package record

import (
	"errors"
	"fmt"
	"strings"
)

// KeySpec names the field, or ordered set of fields, whose values jointly
// identify a record. Order only affects the joined key string.
type KeySpec []string

// SingleKey returns a KeySpec over one field.
func SingleKey(field string) KeySpec {
	return KeySpec{field}
}

// CompositeKey returns a KeySpec over several fields.
func CompositeKey(fields ...string) KeySpec {
	return KeySpec(append([]string(nil), fields...))
}

// ParseKeySpec parses a comma-separated field list such as "date,line_name".
func ParseKeySpec(s string) (KeySpec, error) {
	var spec KeySpec
	for _, part := range strings.Split(s, ",") {
		spec = append(spec, strings.TrimSpace(part))
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate reports whether the spec is non-empty with no blank or repeated
// field names.
func (k KeySpec) Validate() error {
	if len(k) == 0 {
		return errors.New("key spec must name at least one field")
	}
	seen := make(map[string]bool, len(k))
	for i, f := range k {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("key spec field %d is blank", i)
		}
		if seen[f] {
			return fmt.Errorf("key spec repeats field %q", f)
		}
		seen[f] = true
	}
	return nil
}

// IsComposite reports whether the spec spans more than one field.
func (k KeySpec) IsComposite() bool {
	return len(k) > 1
}

// Fields returns a copy of the field names.
func (k KeySpec) Fields() []string {
	return append([]string(nil), k...)
}

// String returns the comma-separated form accepted by ParseKeySpec.
func (k KeySpec) String() string {
	return strings.Join(k, ",")
}
