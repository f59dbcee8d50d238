package store

import (
	"errors"
	"time"

	"preview/api/internal/preview"
)

var ErrSessionNotFound = errors.New("preview session not found or expired")

// PreviewSession is the server-side record behind a preview token. TokenHash
// is the storage key; the raw token is only known to the editor and viewer.
type PreviewSession struct {
	TokenHash string
	Page      string
	Changes   preview.ChangeSet
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
