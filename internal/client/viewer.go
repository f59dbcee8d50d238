package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"preview/api/internal/preview"
	"preview/api/internal/realtime"
)

var (
	// ErrViewerClosed is returned by operations on a closed Viewer.
	ErrViewerClosed = errors.New("preview viewer closed")
	// ErrStaleResult means a fetch finished after a newer fetch was started
	// or after the viewer was closed. Its result was discarded.
	ErrStaleResult = errors.New("preview fetch result discarded")
)

// Viewer holds one token's preview session and keeps it current. Mutation
// goes through the Viewer's lock; Session hands out copies.
type Viewer struct {
	fetcher *Fetcher
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	session *preview.Session
	gen     uint64
	closed  bool
}

func NewViewer(fetcher *Fetcher, token string, logger zerolog.Logger) *Viewer {
	return &Viewer{
		fetcher: fetcher,
		logger:  logger.With().Str("component", "preview_viewer").Logger(),
		now:     time.Now,
		session: preview.NewSession(strings.TrimSpace(token)),
	}
}

// Load runs the initial fetch. An empty token fails with preview.ErrNoToken
// without touching the network.
func (v *Viewer) Load(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewerClosed
	}
	token := v.session.Token
	if token == "" {
		v.session.Fail(preview.ErrNoToken)
		v.mu.Unlock()
		return preview.ErrNoToken
	}
	v.gen++
	gen := v.gen
	v.mu.Unlock()

	body, err := v.fetcher.Fetch(ctx, token)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || gen != v.gen {
		v.logger.Debug().Msg("late preview fetch ignored")
		return ErrStaleResult
	}
	if err != nil {
		v.session.Fail(err)
		v.logger.Warn().Err(err).Msg("preview fetch failed")
		return err
	}
	if err := v.session.Load(body, v.now()); err != nil {
		v.logger.Warn().Err(err).Msg("preview data rejected")
		return err
	}
	v.logger.Debug().Int("entries", len(v.session.Changes)).Msg("preview loaded")
	return nil
}

// Retry discards the current session state and fetches again.
func (v *Viewer) Retry(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrViewerClosed
	}
	previous := v.session
	v.session = preview.NewSession(previous.Token)
	v.session.Connected = previous.Connected
	v.session.LastUpdate = previous.LastUpdate
	v.mu.Unlock()
	return v.Load(ctx)
}

// Run merges pushes from sub in arrival order until ctx is done, the
// subscription ends or the viewer is closed. sub is closed on return.
func (v *Viewer) Run(ctx context.Context, sub realtime.Subscription) error {
	defer sub.Close()
	v.setConnected(true)
	defer v.setConnected(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-sub.C():
			if !ok {
				return nil
			}
			if !v.apply(payload) {
				return ErrViewerClosed
			}
		}
	}
}

// apply reports false once the viewer is closed.
func (v *Viewer) apply(payload []byte) bool {
	fragment, dropped := preview.DecodePush(payload)
	if len(dropped) > 0 {
		v.logger.Debug().Strs("dropped", dropped).Msg("malformed push entries dropped")
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	if !v.session.ApplyPush(fragment, v.now()) {
		v.logger.Debug().Str("state", string(v.session.State)).Msg("push ignored")
	}
	return true
}

func (v *Viewer) setConnected(connected bool) {
	v.mu.Lock()
	v.session.Connected = connected
	v.mu.Unlock()
}

// Session returns a copy of the current session.
func (v *Viewer) Session() preview.Session {
	v.mu.Lock()
	defer v.mu.Unlock()
	snapshot := *v.session
	snapshot.Changes = v.session.Changes.Clone()
	return snapshot
}

// Resolve is the display value for key, or fallback.
func (v *Viewer) Resolve(key, fallback string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.session.Resolve(key, fallback)
}

// Close stops the viewer. A fetch still in flight has its result ignored.
func (v *Viewer) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
}
