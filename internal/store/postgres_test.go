package store

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preview/api/internal/preview"
)

var sessionColumns = []string{"token_hash", "page", "changes", "expires_at", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestCreatePreviewSession(t *testing.T) {
	s, mock := newMockStore(t)
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectExec("INSERT INTO preview_sessions").
		WithArgs("hash-1", "homepage", `{"homepage.Hero.title":{"value":"Hi","type":"TEXT"}}`, expiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.CreatePreviewSession(context.Background(), PreviewSession{
		TokenHash: "hash-1",
		Page:      "homepage",
		Changes:   preview.ChangeSet{"homepage.Hero.title": {Value: "Hi", Type: "TEXT"}},
		ExpiresAt: expiresAt,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePreviewSessionWithoutChangesStoresEmptyObject(t *testing.T) {
	s, mock := newMockStore(t)
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectExec("INSERT INTO preview_sessions").
		WithArgs("hash-1", "homepage", `{}`, expiresAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CreatePreviewSession(context.Background(), PreviewSession{
		TokenHash: "hash-1",
		Page:      "homepage",
		ExpiresAt: expiresAt,
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupPreviewSession(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT token_hash, page, changes").
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(
			"hash-1", "homepage", []byte(`{"homepage.Hero.title":{"value":"Hi","type":"TEXT"}}`),
			now.Add(time.Hour), now, now,
		))

	session, err := s.LookupPreviewSession(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "homepage", session.Page)
	assert.Equal(t, "Hi", preview.ResolveValue(session.Changes, "homepage.Hero.title", "D"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupPreviewSessionNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT token_hash, page, changes").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	_, err := s.LookupPreviewSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMergePreviewChanges(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SET changes = changes || $2::jsonb")).
		WithArgs("hash-1", `{"k2":{"value":"B","type":"TEXT"}}`).
		WillReturnRows(sqlmock.NewRows(sessionColumns).AddRow(
			"hash-1", "homepage",
			[]byte(`{"k1":{"value":"A","type":"TEXT"},"k2":{"value":"B","type":"TEXT"}}`),
			now.Add(time.Hour), now, now,
		))

	session, err := s.MergePreviewChanges(context.Background(), "hash-1", preview.ChangeSet{"k2": {Value: "B", Type: "TEXT"}})
	require.NoError(t, err)
	assert.Len(t, session.Changes, 2)
	assert.Equal(t, "A", session.Changes["k1"].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergePreviewChangesExpired(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("UPDATE preview_sessions").
		WillReturnRows(sqlmock.NewRows(sessionColumns))

	_, err := s.MergePreviewChanges(context.Background(), "gone", preview.ChangeSet{"k": {Value: "v", Type: "TEXT"}})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteAndPurge(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("DELETE FROM preview_sessions WHERE token_hash").
		WithArgs("hash-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM preview_sessions WHERE expires_at").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, s.DeletePreviewSession(context.Background(), "hash-1"))
	count, err := s.PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrationsSkipsAppliedVersions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_first.up.sql"), []byte("CREATE TABLE first_table (id INT);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_first.down.sql"), []byte("DROP TABLE first_table;"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0002_second.up.sql"), []byte("CREATE TABLE second_table (id INT);"), 0o644))

	exists := regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)")
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(exists).WithArgs("0001_first.up.sql").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(exists).WithArgs("0002_second.up.sql").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE second_table").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("0002_second.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, ApplyMigrations(context.Background(), db, dir, zerolog.Nop()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMigrationsRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_bad.up.sql"), []byte("CREATE TABLE broken"), 0o644))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = ApplyMigrations(context.Background(), db, dir, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_bad.up.sql")
	require.NoError(t, mock.ExpectationsWereMet())
}
