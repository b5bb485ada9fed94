package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/vibast-solutions/ms-go-tap-payments/app/cache"
	"github.com/vibast-solutions/ms-go-tap-payments/app/notify"
	"github.com/vibast-solutions/ms-go-tap-payments/config"
)

func TestNewCacheBackendMemory(t *testing.T) {
	store, broker, closeBackend, err := newCacheBackend(config.RedisConfig{Backend: config.CacheBackendMemory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = closeBackend() }()

	if _, ok := store.(*cache.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if _, ok := broker.(*notify.Hub); !ok {
		t.Fatalf("expected in-process hub, got %T", broker)
	}

	ctx := context.Background()
	sub, err := broker.Subscribe(ctx, "user-1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer func() { _ = sub.Close() }()
	if err := broker.Publish(ctx, "user-1", notify.StatusEvent{TransactionID: "tx-1", Status: "completed"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case event := <-sub.Events():
		if event.TransactionID != "tx-1" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event from the in-process hub")
	}
}

func TestNewCacheBackendRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	store, broker, closeBackend, err := newCacheBackend(config.RedisConfig{Backend: config.CacheBackendRedis, Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*cache.RedisStore); !ok {
		t.Fatalf("expected redis store, got %T", store)
	}
	if _, ok := broker.(*notify.RedisBroker); !ok {
		t.Fatalf("expected redis broker, got %T", broker)
	}

	if err := store.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if !mr.Exists("k") {
		t.Fatal("expected the store to write through the shared client")
	}
	if err := closeBackend(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}

func TestNewCacheBackendRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, _, _, err := newCacheBackend(config.RedisConfig{Backend: config.CacheBackendRedis, Addr: addr}); err == nil {
		t.Fatal("expected ping failure")
	}
}
