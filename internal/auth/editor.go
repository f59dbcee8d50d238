package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// EditorVerifier accepts editor requests carrying the configured key. When a
// bcrypt hash is configured it takes precedence over the plain key.
type EditorVerifier struct {
	key  string
	hash []byte
}

func NewEditorVerifier(key, hash string) EditorVerifier {
	return EditorVerifier{key: strings.TrimSpace(key), hash: []byte(strings.TrimSpace(hash))}
}

func (v EditorVerifier) Check(presented string) error {
	if len(v.hash) == 0 {
		return CheckEditorKey(v.key, presented)
	}
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return ErrInvalidEditorKey
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(presented)); err != nil {
		return ErrInvalidEditorKey
	}
	return nil
}

// HashEditorKey produces a value for PREVIEW_EDITOR_KEY_HASH.
func HashEditorKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if len(key) < 12 {
		return "", fmt.Errorf("editor key must be at least 12 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash editor key: %w", err)
	}
	return string(hash), nil
}
