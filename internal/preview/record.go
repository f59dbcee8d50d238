// Package preview holds the content-override model behind live preview:
// decoding and validating change records, resolving display values and
// merging realtime pushes into a preview session.
package preview

import "encoding/json"

// TypeText is the record type assigned to bare-string push entries.
const TypeText = "TEXT"

// ChangeRecord is one content override. Type is opaque here and passed
// through to the renderer unchanged.
type ChangeRecord struct {
	Value       string `json:"value"`
	Type        string `json:"type"`
	CSSProperty string `json:"cssProperty,omitempty"`
}

// DecodeRecord attempts to read candidate as a ChangeRecord. The boolean is
// false for anything that is not an object carrying string value and type
// fields; extra fields are ignored.
func DecodeRecord(candidate any) (ChangeRecord, bool) {
	switch typed := candidate.(type) {
	case ChangeRecord:
		return typed, true
	case *ChangeRecord:
		if typed == nil {
			return ChangeRecord{}, false
		}
		return *typed, true
	case map[string]string:
		return decodeStringMap(typed)
	}
	obj, ok := candidate.(map[string]any)
	if !ok || obj == nil {
		return ChangeRecord{}, false
	}
	value, ok := obj["value"].(string)
	if !ok {
		return ChangeRecord{}, false
	}
	kind, ok := obj["type"].(string)
	if !ok {
		return ChangeRecord{}, false
	}
	record := ChangeRecord{Value: value, Type: kind}
	if css, ok := obj["cssProperty"].(string); ok {
		record.CSSProperty = css
	}
	return record, true
}

func decodeStringMap(obj map[string]string) (ChangeRecord, bool) {
	value, ok := obj["value"]
	if !ok {
		return ChangeRecord{}, false
	}
	kind, ok := obj["type"]
	if !ok {
		return ChangeRecord{}, false
	}
	return ChangeRecord{Value: value, Type: kind, CSSProperty: obj["cssProperty"]}, true
}

// IsValidChangeRecord reports whether candidate is a usable override.
func IsValidChangeRecord(candidate any) bool {
	_, ok := DecodeRecord(candidate)
	return ok
}

// ParseChangeRecord decodes raw JSON through the same rules as DecodeRecord.
func ParseChangeRecord(raw json.RawMessage) (ChangeRecord, bool) {
	var candidate any
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return ChangeRecord{}, false
	}
	return DecodeRecord(candidate)
}
