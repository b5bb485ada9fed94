package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGatewaySubmitAndWaitForReceipt(t *testing.T) {
	var polls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gw-key" {
			t.Fatalf("expected bearer api key, got %q", r.Header.Get("Authorization"))
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/transfers":
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["reference"] != "settlement:tx-1" || body["amount"].(float64) != 500 {
				t.Fatalf("unexpected transfer body: %v", body)
			}
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"tx_hash":"0xabc","status":"pending"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/transfers/0xabc/receipt":
			if atomic.AddInt32(&polls, 1) < 2 {
				_, _ = w.Write([]byte(`{"tx_hash":"0xabc","status":"pending"}`))
				return
			}
			_, _ = w.Write([]byte(`{"tx_hash":"0xabc","status":"included","fee":21,"block":77}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewGatewayClient(GatewayConfig{BaseURL: server.URL, APIKey: "gw-key", PollEvery: 5 * time.Millisecond})

	hash, err := client.Submit(context.Background(), Transfer{
		Reference:      "settlement:tx-1",
		From:           "0xpayer",
		To:             "0xmerchant",
		AmountMinor:    500,
		Currency:       "USD",
		FeeBudgetMinor: 50,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if hash != "0xabc" {
		t.Fatalf("unexpected hash %q", hash)
	}

	receipt, err := client.WaitForReceipt(context.Background(), hash)
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if receipt.Hash != "0xabc" || receipt.FeeMinor != 21 || receipt.Block != 77 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestGatewayWaitForReceiptTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tx_hash":"0xabc","status":"pending"}`))
	}))
	defer server.Close()

	client := NewGatewayClient(GatewayConfig{BaseURL: server.URL, PollEvery: 5 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.WaitForReceipt(ctx, "0xabc")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestGatewaySubmitClassifiesErrors(t *testing.T) {
	newServer := func(code, message string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
		}))
	}

	rejecting := newServer("insufficient_funds", "balance too low")
	defer rejecting.Close()
	signing := newServer("signing_failed", "hsm offline")
	defer signing.Close()

	_, err := NewGatewayClient(GatewayConfig{BaseURL: rejecting.URL}).Submit(context.Background(), Transfer{Reference: "r"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	_, err = NewGatewayClient(GatewayConfig{BaseURL: signing.URL}).Submit(context.Background(), Transfer{Reference: "r"})
	if !errors.Is(err, ErrSigning) {
		t.Fatalf("expected ErrSigning, got %v", err)
	}
}

func TestGatewayFindByReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("reference") {
		case "settlement:done":
			_, _ = w.Write([]byte(`{"tx_hash":"0xdone","status":"included","fee":5,"block":9}`))
		case "settlement:pending":
			_, _ = w.Write([]byte(`{"tx_hash":"0xpending","status":"pending"}`))
		case "settlement:reverted":
			_, _ = w.Write([]byte(`{"tx_hash":"0xreverted","status":"reverted"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewGatewayClient(GatewayConfig{BaseURL: server.URL})
	ctx := context.Background()

	done, err := client.FindByReference(ctx, "settlement:done")
	if err != nil || done == nil || done.Receipt == nil || done.Receipt.Hash != "0xdone" {
		t.Fatalf("unexpected included lookup: %+v err=%v", done, err)
	}
	pending, err := client.FindByReference(ctx, "settlement:pending")
	if err != nil || pending == nil || pending.Receipt != nil || pending.Hash != "0xpending" {
		t.Fatalf("unexpected pending lookup: %+v err=%v", pending, err)
	}
	if _, err := client.FindByReference(ctx, "settlement:reverted"); !errors.Is(err, ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	missing, err := client.FindByReference(ctx, "settlement:none")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown reference, got %+v err=%v", missing, err)
	}
}

func TestGatewayRequiresBaseURL(t *testing.T) {
	client := NewGatewayClient(GatewayConfig{})
	if _, err := client.Submit(context.Background(), Transfer{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
