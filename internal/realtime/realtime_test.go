package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, sub Subscription) string {
	t.Helper()
	select {
	case payload, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return string(payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push")
	}
	return ""
}

func TestHubDeliversToEverySubscriberInOrder(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ctx := context.Background()

	first, err := hub.Subscribe(ctx, "tok")
	require.NoError(t, err)
	second, err := hub.Subscribe(ctx, "tok")
	require.NoError(t, err)
	other, err := hub.Subscribe(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 2, hub.Subscribers("tok"))

	require.NoError(t, hub.Publish(ctx, "tok", []byte("1")))
	require.NoError(t, hub.Publish(ctx, "tok", []byte("2")))

	for _, sub := range []Subscription{first, second} {
		assert.Equal(t, "1", next(t, sub))
		assert.Equal(t, "2", next(t, sub))
	}
	select {
	case <-other.C():
		t.Fatal("push leaked to another token")
	default:
	}
}

func TestHubCloseReleasesSubscription(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub, err := hub.Subscribe(context.Background(), "tok")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, hub.Subscribers("tok"))

	_, ok := <-sub.C()
	assert.False(t, ok)
	require.NoError(t, hub.Publish(context.Background(), "tok", []byte("late")))
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub, err := hub.Subscribe(context.Background(), "tok")
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, hub.Publish(context.Background(), "tok", []byte("x")))
	}
	assert.Len(t, sub.C(), subscriberBuffer)
}

func TestStreamForwardsPushesOverWebsocket(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewStreamHandler(hub, "*", zerolog.Nop())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, "tok")
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := DialStream(ctx, "ws"+strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("tok") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(ctx, "tok", []byte(`{"homepage.Hero.title":"Hi"}`)))
	assert.Equal(t, `{"homepage.Hero.title":"Hi"}`, next(t, sub))

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool { return hub.Subscribers("tok") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewStreamHandler(hub, "https://editor.example.com", zerolog.Nop())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, "tok")
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Eventually(t, func() bool { return hub.Subscribers("tok") == 0 }, 2*time.Second, 10*time.Millisecond)
}
