package preview

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidChangeSet is returned when a payload holds no usable override.
var ErrInvalidChangeSet = errors.New("preview data missing required fields")

// ChangeSet maps a dotted key path (page.component.element) to its override.
type ChangeSet map[string]ChangeRecord

// IsValidChangeSet reports whether candidate is an object with at least one
// valid ChangeRecord among its values. Empty objects are rejected.
func IsValidChangeSet(candidate any) bool {
	switch typed := candidate.(type) {
	case ChangeSet:
		return len(typed) > 0
	case map[string]ChangeRecord:
		return len(typed) > 0
	}
	obj, ok := candidate.(map[string]any)
	if !ok || obj == nil {
		return false
	}
	for _, entry := range obj {
		if IsValidChangeRecord(entry) {
			return true
		}
	}
	return false
}

// DecodeChangeSet decodes a preview-data response body. Malformed entries are
// dropped; a body with no valid entry yields ErrInvalidChangeSet.
func DecodeChangeSet(raw []byte) (ChangeSet, error) {
	var candidate any
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChangeSet, err)
	}
	obj, ok := candidate.(map[string]any)
	if !ok {
		return nil, ErrInvalidChangeSet
	}
	changes := make(ChangeSet, len(obj))
	for key, entry := range obj {
		if record, ok := DecodeRecord(entry); ok {
			changes[key] = record
		}
	}
	if len(changes) == 0 {
		return nil, ErrInvalidChangeSet
	}
	return changes, nil
}

// Get is nil-safe.
func (c ChangeSet) Get(key string) (ChangeRecord, bool) {
	if c == nil {
		return ChangeRecord{}, false
	}
	record, ok := c[key]
	return record, ok
}

// Clone returns an independent copy.
func (c ChangeSet) Clone() ChangeSet {
	if c == nil {
		return nil
	}
	out := make(ChangeSet, len(c))
	for key, record := range c {
		out[key] = record
	}
	return out
}
