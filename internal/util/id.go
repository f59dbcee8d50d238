package util

import (
	"crypto/rand"
	"encoding/base64"
)

// NewID returns a URL-safe random identifier, optionally prefixed.
func NewID(prefix string) string {
	buf := make([]byte, 18)
	_, _ = rand.Read(buf)
	id := base64.RawURLEncoding.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
