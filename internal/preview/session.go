package preview

import (
	"time"
)

// DefaultTTL is the expiry horizon applied when the server supplies none.
const DefaultTTL = 24 * time.Hour

// State is the lifecycle position of a preview session held by a viewer.
type State string

const (
	StateEmpty    State = "EMPTY"
	StateLoaded   State = "LOADED"
	StateUpdating State = "UPDATING"
	StateInvalid  State = "INVALID"
)

// Session is one viewer's in-memory copy of a preview. It is not safe for
// concurrent mutation; callers serialize Load, Fail and ApplyPush.
type Session struct {
	Token     string
	Page      string
	Changes   ChangeSet
	ExpiresAt time.Time
	State     State
	Err       error

	Connected  bool
	LastUpdate time.Time
}

// NewSession returns an EMPTY session for token.
func NewSession(token string) *Session {
	return &Session{Token: token, State: StateEmpty}
}

// Load applies the body of a successful fetch. A body that fails validation
// moves the session to INVALID with a *ValidationError.
func (s *Session) Load(body []byte, now time.Time) error {
	changes, err := DecodeChangeSet(body)
	if err != nil {
		validationErr := &ValidationError{Err: err}
		s.invalidate(validationErr)
		return validationErr
	}
	s.Changes = changes
	s.ExpiresAt = now.Add(DefaultTTL)
	s.State = StateLoaded
	s.Err = nil
	return nil
}

// Fail records a failed fetch.
func (s *Session) Fail(err error) {
	s.invalidate(err)
}

func (s *Session) invalidate(err error) {
	s.Changes = nil
	s.State = StateInvalid
	s.Err = err
}

// ApplyPush merges fragment into the loaded overrides. Pushes arriving
// before a successful load, or after a failed one, are ignored and
// reported as not applied.
func (s *Session) ApplyPush(fragment ChangeSet, now time.Time) bool {
	if s.State != StateLoaded {
		return false
	}
	s.State = StateUpdating
	s.Changes = Merge(s.Changes, fragment)
	s.LastUpdate = now
	s.State = StateLoaded
	return true
}

// Resolve is ResolveValue against the session's current overrides. It is
// safe to call in any state.
func (s *Session) Resolve(key, fallback string) string {
	if s == nil {
		return fallback
	}
	return ResolveValue(s.Changes, key, fallback)
}

// Expired reports whether the session has passed its horizon.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
