package preview

// ColorSuffix marks the companion key carrying a style override for an element.
const ColorSuffix = "-color"

// ResolveValue returns the override for key, or fallback when changes is nil,
// the key is absent or its value is empty. Clearing a field in the editor
// therefore reverts to the template default.
func ResolveValue(changes ChangeSet, key, fallback string) string {
	record, ok := changes.Get(key)
	if !ok || record.Value == "" {
		return fallback
	}
	return record.Value
}

// ResolveRecord returns the full record for key when it carries a value.
func ResolveRecord(changes ChangeSet, key string) (ChangeRecord, bool) {
	record, ok := changes.Get(key)
	if !ok || record.Value == "" {
		return ChangeRecord{}, false
	}
	return record, true
}

// ResolveStyle resolves the "-color" companion of key.
func ResolveStyle(changes ChangeSet, key, fallback string) string {
	return ResolveValue(changes, key+ColorSuffix, fallback)
}
