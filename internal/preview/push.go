package preview

import (
	"encoding/json"
	"sort"
)

// PushEntry is one value received over the realtime channel: either a bare
// string or a record-shaped object.
type PushEntry interface {
	Record() ChangeRecord
}

// RawString is a bare-string push entry.
type RawString string

func (s RawString) Record() ChangeRecord {
	return ChangeRecord{Value: string(s), Type: TypeText}
}

// RecordEntry is a record-shaped push entry.
type RecordEntry ChangeRecord

func (r RecordEntry) Record() ChangeRecord {
	return ChangeRecord(r)
}

// DecodePushEntry classifies a decoded JSON value.
func DecodePushEntry(candidate any) (PushEntry, bool) {
	if text, ok := candidate.(string); ok {
		return RawString(text), true
	}
	record, ok := DecodeRecord(candidate)
	if !ok {
		return nil, false
	}
	return RecordEntry(record), true
}

// NormalizePush converts a push map into a ChangeSet fragment. Entries that
// are neither strings nor valid records are returned in dropped, sorted.
func NormalizePush(entries map[string]any) (fragment ChangeSet, dropped []string) {
	fragment = make(ChangeSet, len(entries))
	for key, candidate := range entries {
		entry, ok := DecodePushEntry(candidate)
		if !ok {
			dropped = append(dropped, key)
			continue
		}
		fragment[key] = entry.Record()
	}
	sort.Strings(dropped)
	return fragment, dropped
}

// DecodePush decodes a raw push message. A message that is not a JSON object
// yields an empty fragment.
func DecodePush(raw []byte) (ChangeSet, []string) {
	var entries map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return ChangeSet{}, nil
	}
	return NormalizePush(entries)
}

// Merge overlays fragment onto base per key and returns a new ChangeSet.
// Keys missing from fragment are kept.
func Merge(base, fragment ChangeSet) ChangeSet {
	out := make(ChangeSet, len(base)+len(fragment))
	for key, record := range base {
		out[key] = record
	}
	for key, record := range fragment {
		out[key] = record
	}
	return out
}
