package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

const subscriberBuffer = 32

// Hub is the in-process Channel used when no Redis is configured. Each
// subscriber gets a bounded buffer; a push that does not fit is dropped for
// that subscriber only.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSubscription]struct{}
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*hubSubscription]struct{}),
		logger: logger.With().Str("component", "realtime_hub").Logger(),
	}
}

func (h *Hub) Publish(_ context.Context, key string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- payload:
		default:
			h.logger.Warn().Str("key", key).Msg("subscriber buffer full, push dropped")
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, key string) (Subscription, error) {
	sub := &hubSubscription{hub: h, key: key, ch: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*hubSubscription]struct{})
	}
	h.subs[key][sub] = struct{}{}
	h.mu.Unlock()
	return sub, nil
}

// Subscribers returns the number of live subscriptions for key.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key])
}

func (h *Hub) remove(sub *hubSubscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.key]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.key)
	}
	close(sub.ch)
}

type hubSubscription struct {
	hub  *Hub
	key  string
	ch   chan []byte
	once sync.Once
}

func (s *hubSubscription) C() <-chan []byte {
	return s.ch
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() { s.hub.remove(s) })
	return nil
}
