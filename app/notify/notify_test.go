package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisBrokerDeliversToUserTopic(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	broker := NewRedisBroker(client)
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "user-1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	fee := int64(12)
	if err := broker.Publish(ctx, "user-1", StatusEvent{TransactionID: "tx-1", Status: "completed", ReceiptHash: "0xabc", Fee: &fee}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case event := <-sub.Events():
		if event.TransactionID != "tx-1" || event.Status != "completed" || event.ReceiptHash != "0xabc" {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.Fee == nil || *event.Fee != 12 {
			t.Fatalf("unexpected fee: %v", event.Fee)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHubIsolatesUsers(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	subA, _ := hub.Subscribe(ctx, "user-a")
	subB, _ := hub.Subscribe(ctx, "user-b")
	defer subB.Close()

	_ = hub.Publish(ctx, "user-a", StatusEvent{TransactionID: "tx-a", Status: "processing"})

	select {
	case event := <-subA.Events():
		if event.TransactionID != "tx-a" {
			t.Fatalf("unexpected event: %+v", event)
		}
	default:
		t.Fatal("expected event for user-a")
	}
	select {
	case event := <-subB.Events():
		t.Fatalf("user-b should not receive events, got %+v", event)
	default:
	}

	_ = subA.Close()
	if _, open := <-subA.Events(); open {
		t.Fatal("expected closed channel after Close")
	}
	if err := hub.Publish(ctx, "user-a", StatusEvent{TransactionID: "tx-a2"}); err != nil {
		t.Fatalf("publish after close failed: %v", err)
	}
}
