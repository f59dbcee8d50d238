package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"preview/api/internal/config"
	"preview/api/internal/preview"
	"preview/api/internal/realtime"
	"preview/api/internal/store"
)

type failingChannel struct{}

func (failingChannel) Publish(context.Context, string, []byte) error {
	return errors.New("broker unavailable")
}

func (failingChannel) Subscribe(context.Context, string) (realtime.Subscription, error) {
	return nil, errors.New("broker unavailable")
}

func newTestService(channel realtime.Channel) (*Service, *fakeStore) {
	fs := newFakeStore()
	cfg := config.Config{PreviewTTL: time.Hour, EditorKey: testEditorKey}
	return New(cfg, fs, channel, &fakeContent{}, zerolog.Nop()), fs
}

func TestApplyChangesSurvivesChannelFailure(t *testing.T) {
	svc, fs := newTestService(failingChannel{})
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, "homepage", nil)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	result, err := svc.ApplyChanges(ctx, created.Token, map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("ApplyChanges() error = %v", err)
	}
	if len(result.Applied) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	session, err := fs.LookupPreviewSession(ctx, tokenHashOrFatal(t, created.Token))
	if err != nil {
		t.Fatalf("LookupPreviewSession() error = %v", err)
	}
	if session.Changes["k"].Value != "v" {
		t.Fatalf("merge not persisted: %+v", session.Changes)
	}
}

func TestCreateSessionSetsExpiry(t *testing.T) {
	svc, _ := newTestService(realtime.NewHub(zerolog.Nop()))
	fixed := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	created, err := svc.CreateSession(context.Background(), " homepage ", map[string]any{"bad": true})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if created.Page != "homepage" {
		t.Errorf("expected trimmed page, got %q", created.Page)
	}
	if !created.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Errorf("unexpected expiry %v", created.ExpiresAt)
	}
	if len(created.Dropped) != 1 || created.Dropped[0] != "bad" {
		t.Errorf("unexpected dropped %v", created.Dropped)
	}
}

func TestMissingTokenMapsToBadRequest(t *testing.T) {
	svc, _ := newTestService(realtime.NewHub(zerolog.Nop()))
	_, err := svc.PreviewData(context.Background(), "  ")
	if !errors.Is(err, errMissingToken) {
		t.Fatalf("expected errMissingToken, got %v", err)
	}
	status, code, _, _ := mapError(err)
	if status != http.StatusBadRequest || code != "TOKEN_REQUIRED" {
		t.Fatalf("unexpected mapping %d %s", status, code)
	}
}

func TestMapErrorUnknownIsServerError(t *testing.T) {
	status, _, message, _ := mapError(errors.New("boom"))
	if status != http.StatusInternalServerError || message != "Server error" {
		t.Fatalf("unexpected mapping %d %q", status, message)
	}
	status, _, message, _ = mapError(store.ErrSessionNotFound)
	if status != http.StatusNotFound || message != invalidTokenMessage {
		t.Fatalf("unexpected mapping %d %q", status, message)
	}
}

func tokenHashOrFatal(t *testing.T, token string) string {
	t.Helper()
	hash, err := tokenHash(token)
	if err != nil {
		t.Fatalf("tokenHash() error = %v", err)
	}
	return hash
}

// gatedStore holds the first lookup until release is closed.
type gatedStore struct {
	*fakeStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) LookupPreviewSession(ctx context.Context, hash string) (store.PreviewSession, error) {
	session, err := g.fakeStore.LookupPreviewSession(ctx, hash)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return session, err
}

func TestPreviewDataDoesNotCacheReadOverlappingWrite(t *testing.T) {
	gated := &gatedStore{fakeStore: newFakeStore(), entered: make(chan struct{}), release: make(chan struct{})}
	cfg := config.Config{PreviewTTL: time.Hour, PreviewCacheTTL: time.Minute, EditorKey: testEditorKey}
	svc := New(cfg, gated, realtime.NewHub(zerolog.Nop()), &fakeContent{}, zerolog.Nop())
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, "homepage", map[string]any{"k": "old"})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.PreviewData(ctx, created.Token)
		done <- err
	}()
	<-gated.entered

	if _, err := svc.ApplyChanges(ctx, created.Token, map[string]any{"k": "new"}); err != nil {
		t.Fatalf("ApplyChanges() error = %v", err)
	}
	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("PreviewData() error = %v", err)
	}

	body, err := svc.PreviewData(ctx, created.Token)
	if err != nil {
		t.Fatalf("PreviewData() error = %v", err)
	}
	changes, err := preview.DecodeChangeSet(body)
	if err != nil {
		t.Fatalf("DecodeChangeSet() error = %v", err)
	}
	if got := changes["k"].Value; got != "new" {
		t.Fatalf("expected the merged value after the write, got %q", got)
	}
}
