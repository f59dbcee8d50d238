package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"preview/api/internal/auth"
	"preview/api/internal/cache"
	"preview/api/internal/config"
	"preview/api/internal/preview"
	"preview/api/internal/realtime"
	"preview/api/internal/store"
)

type sessionStore interface {
	CreatePreviewSession(context.Context, store.PreviewSession) error
	LookupPreviewSession(context.Context, string) (store.PreviewSession, error)
	MergePreviewChanges(context.Context, string, preview.ChangeSet) (store.PreviewSession, error)
	DeletePreviewSession(context.Context, string) error
	Ping(context.Context) error
}

type contentRepo interface {
	Publish(page string, changes preview.ChangeSet, author, message string) (store.CommitInfo, error)
	History(page string, limit int) ([]store.CommitInfo, error)
	PageContent(page string) (preview.ChangeSet, store.CommitInfo, error)
}

type CreatedSession struct {
	Token     string
	Page      string
	ExpiresAt time.Time
	Dropped   []string
}

// PublishedPage is the last committed state of a session's page.
type PublishedPage struct {
	Page    string
	Changes preview.ChangeSet
	Commit  store.CommitInfo
}

type ApplyResult struct {
	Applied []string
	Dropped []string
}

type Service struct {
	cfg     config.Config
	store   sessionStore
	channel realtime.Channel
	content contentRepo
	editors auth.EditorVerifier
	cache   *cache.TTL
	logger  zerolog.Logger
	now     func() time.Time
}

func New(cfg config.Config, sessions sessionStore, channel realtime.Channel, content contentRepo, logger zerolog.Logger) *Service {
	return &Service{
		cfg:     cfg,
		store:   sessions,
		channel: channel,
		content: content,
		editors: auth.NewEditorVerifier(cfg.EditorKey, cfg.EditorKeyHash),
		cache:   cache.NewTTL(cfg.PreviewCacheTTL, time.Now),
		logger:  logger.With().Str("component", "preview_service").Logger(),
		now:     time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthorizeEditor(key string) error {
	return s.editors.Check(key)
}

// CreateSession opens a preview for page, optionally seeded with entries in
// push form (bare strings or records).
func (s *Service) CreateSession(ctx context.Context, page string, entries map[string]any) (CreatedSession, error) {
	page = strings.TrimSpace(page)
	if page == "" {
		return CreatedSession{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "page is required", nil)
	}
	changes, dropped := preview.NormalizePush(entries)

	token := auth.NewPreviewToken()
	expiresAt := s.now().Add(s.cfg.PreviewTTL)
	if err := s.store.CreatePreviewSession(ctx, store.PreviewSession{
		TokenHash: auth.HashToken(token),
		Page:      page,
		Changes:   changes,
		ExpiresAt: expiresAt,
	}); err != nil {
		return CreatedSession{}, err
	}
	s.logger.Info().Str("page", page).Int("entries", len(changes)).Msg("preview session created")
	return CreatedSession{Token: token, Page: page, ExpiresAt: expiresAt, Dropped: dropped}, nil
}

// PreviewData returns the token's ChangeSet as the JSON body served to
// viewers, going through the cache first.
func (s *Service) PreviewData(ctx context.Context, token string) ([]byte, error) {
	hash, err := tokenHash(token)
	if err != nil {
		return nil, err
	}
	if body, ok := s.cache.Get(hash); ok {
		return body, nil
	}
	gen := s.cache.Generation()
	session, err := s.store.LookupPreviewSession(ctx, hash)
	if err != nil {
		return nil, err
	}
	changes := session.Changes
	if changes == nil {
		changes = preview.ChangeSet{}
	}
	body, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("marshal preview data: %w", err)
	}
	s.cache.Set(hash, body, s.now(), gen)
	return body, nil
}

// ApplyChanges merges an editor push into the stored session and fans the
// normalized fragment out to subscribed viewers. Malformed entries are
// dropped; a push with nothing usable is rejected.
func (s *Service) ApplyChanges(ctx context.Context, token string, entries map[string]any) (ApplyResult, error) {
	hash, err := tokenHash(token)
	if err != nil {
		return ApplyResult{}, err
	}
	fragment, dropped := preview.NormalizePush(entries)
	if len(fragment) == 0 {
		return ApplyResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "no valid changes in push", map[string]any{"dropped": dropped})
	}

	if _, err := s.store.MergePreviewChanges(ctx, hash, fragment); err != nil {
		return ApplyResult{}, err
	}
	s.cache.Invalidate(hash)

	payload, err := json.Marshal(fragment)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("marshal push: %w", err)
	}
	// The store already holds the merge; viewers that miss this push pick it
	// up on their next full fetch.
	if err := s.channel.Publish(ctx, hash, payload); err != nil {
		s.logger.Warn().Err(err).Msg("realtime publish failed")
	}

	applied := make([]string, 0, len(fragment))
	for key := range fragment {
		applied = append(applied, key)
	}
	sort.Strings(applied)
	if len(dropped) > 0 {
		s.logger.Debug().Strs("dropped", dropped).Msg("malformed push entries dropped")
	}
	return ApplyResult{Applied: applied, Dropped: dropped}, nil
}

func (s *Service) DeleteSession(ctx context.Context, token string) error {
	hash, err := tokenHash(token)
	if err != nil {
		return err
	}
	if err := s.store.DeletePreviewSession(ctx, hash); err != nil {
		return err
	}
	s.cache.Invalidate(hash)
	return nil
}

// Publish commits the session's current overrides to the content repository.
func (s *Service) Publish(ctx context.Context, token, author, message string) (store.CommitInfo, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return store.CommitInfo{}, err
	}
	if len(session.Changes) == 0 {
		return store.CommitInfo{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "preview has no changes to publish", nil)
	}
	commit, err := s.content.Publish(session.Page, session.Changes, author, message)
	if err != nil {
		return store.CommitInfo{}, err
	}
	s.logger.Info().Str("page", session.Page).Str("commit", commit.Hash).Msg("preview published")
	return commit, nil
}

func (s *Service) History(ctx context.Context, token string, limit int) ([]store.CommitInfo, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.content.History(session.Page, limit)
}

// Published returns the last committed overrides for the session's page.
func (s *Service) Published(ctx context.Context, token string) (PublishedPage, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return PublishedPage{}, err
	}
	changes, commit, err := s.content.PageContent(session.Page)
	if err != nil {
		return PublishedPage{}, err
	}
	return PublishedPage{Page: session.Page, Changes: changes, Commit: commit}, nil
}

// StreamKey checks the token is live and returns the channel key for it.
func (s *Service) StreamKey(ctx context.Context, token string) (string, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return session.TokenHash, nil
}

func (s *Service) lookup(ctx context.Context, token string) (store.PreviewSession, error) {
	hash, err := tokenHash(token)
	if err != nil {
		return store.PreviewSession{}, err
	}
	return s.store.LookupPreviewSession(ctx, hash)
}

func tokenHash(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingToken
	}
	return auth.HashToken(token), nil
}

var errMissingToken = errors.New("preview token is required")
