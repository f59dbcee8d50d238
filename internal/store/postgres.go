package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"preview/api/internal/preview"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreatePreviewSession(ctx context.Context, session PreviewSession) error {
	payload, err := marshalChanges(session.Changes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preview_sessions (token_hash, page, changes, expires_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (token_hash) DO UPDATE
		SET page = EXCLUDED.page, changes = EXCLUDED.changes, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, session.TokenHash, session.Page, payload, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert preview session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupPreviewSession(ctx context.Context, tokenHash string) (PreviewSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_hash, page, changes, expires_at, created_at, updated_at
		FROM preview_sessions
		WHERE token_hash = $1 AND expires_at > NOW()
	`, tokenHash)
	return scanSession(row)
}

// MergePreviewChanges overlays fragment onto the stored overrides. jsonb ||
// replaces top-level keys, which is the per-key last-writer-wins merge.
func (s *PostgresStore) MergePreviewChanges(ctx context.Context, tokenHash string, fragment preview.ChangeSet) (PreviewSession, error) {
	payload, err := marshalChanges(fragment)
	if err != nil {
		return PreviewSession{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE preview_sessions
		SET changes = changes || $2::jsonb, updated_at = NOW()
		WHERE token_hash = $1 AND expires_at > NOW()
		RETURNING token_hash, page, changes, expires_at, created_at, updated_at
	`, tokenHash, payload)
	return scanSession(row)
}

func (s *PostgresStore) DeletePreviewSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preview_sessions WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("delete preview session: %w", err)
	}
	return nil
}

// PurgeExpired removes sessions past their horizon and returns the count.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM preview_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge preview sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge preview sessions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanSession(row *sql.Row) (PreviewSession, error) {
	var session PreviewSession
	var raw []byte
	err := row.Scan(&session.TokenHash, &session.Page, &raw, &session.ExpiresAt, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return PreviewSession{}, ErrSessionNotFound
	}
	if err != nil {
		return PreviewSession{}, fmt.Errorf("scan preview session: %w", err)
	}
	if err := json.Unmarshal(raw, &session.Changes); err != nil {
		return PreviewSession{}, fmt.Errorf("decode preview changes: %w", err)
	}
	return session, nil
}

func marshalChanges(changes preview.ChangeSet) (string, error) {
	if changes == nil {
		changes = preview.ChangeSet{}
	}
	payload, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("marshal preview changes: %w", err)
	}
	return string(payload), nil
}
