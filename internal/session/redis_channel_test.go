package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestChannel(t *testing.T) *RedisChannel {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisChannel(client)
}

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case payload, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return string(payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push")
	}
	return ""
}

func TestRedisChannelDeliversInOrder(t *testing.T) {
	channel := setupTestChannel(t)
	ctx := context.Background()

	sub, err := channel.Subscribe(ctx, "hash-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	for _, payload := range []string{`{"k":"1"}`, `{"k":"2"}`, `{"k":"3"}`} {
		if err := channel.Publish(ctx, "hash-1", []byte(payload)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	for _, want := range []string{`{"k":"1"}`, `{"k":"2"}`, `{"k":"3"}`} {
		if got := receive(t, sub.C()); got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestRedisChannelIsolatesTokens(t *testing.T) {
	channel := setupTestChannel(t)
	ctx := context.Background()

	subA, err := channel.Subscribe(ctx, "a")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer subA.Close()

	if err := channel.Publish(ctx, "b", []byte(`{"k":"b"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := channel.Publish(ctx, "a", []byte(`{"k":"a"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if got := receive(t, subA.C()); got != `{"k":"a"}` {
		t.Fatalf("expected only token a's push, got %s", got)
	}
}

func TestRedisSubscriptionCloseEndsChannel(t *testing.T) {
	channel := setupTestChannel(t)
	sub, err := channel.Subscribe(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close should be a no-op: %v", err)
	}

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}
