package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"preview/api/internal/util"
)

var ErrInvalidEditorKey = errors.New("invalid editor key")

// NewPreviewToken returns an opaque token for a preview link.
func NewPreviewToken() string {
	return util.NewID("pv")
}

// HashToken is the storage key for a preview token; raw tokens are never
// persisted.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}

// CheckEditorKey compares the presented key with the configured one in
// constant time.
func CheckEditorKey(expected, presented string) error {
	presented = strings.TrimSpace(presented)
	if expected == "" || presented == "" {
		return ErrInvalidEditorKey
	}
	if !hmac.Equal([]byte(expected), []byte(presented)) {
		return ErrInvalidEditorKey
	}
	return nil
}
