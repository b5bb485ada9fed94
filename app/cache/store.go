package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var ErrUnavailable = errors.New("cache store unavailable")

// Store is the shared, TTL-based key/value store holding short-lived authorization
// facts, tap velocity windows and settlement locks. Writes are last-writer-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
	// RecordEvent adds an occurrence at the given time to a rolling window and returns
	// the number of occurrences within [at-window, at].
	RecordEvent(ctx context.Context, key string, id string, at time.Time, window time.Duration) (int64, error)
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

func CardFactsKey(cardID string) string {
	return "auth:card:" + cardID
}

func LimitFactsKey(cardID string) string {
	return "auth:limits:" + cardID
}

func FraudScoreKey(cardID string, amount int64) string {
	return "auth:fraud:" + cardID + ":" + strconv.FormatInt(amount, 10)
}

func DecisionKey(cardID string, amount int64) string {
	return DecisionPrefix(cardID) + strconv.FormatInt(amount, 10)
}

func DecisionPrefix(cardID string) string {
	return "auth:decision:" + cardID + ":"
}

func TerminalKey(terminalID string) string {
	return "auth:terminal:" + terminalID
}

func VelocityKey(cardID string) string {
	return "auth:velocity:" + cardID
}

func IntentKey(intentID string) string {
	return "auth:intent:" + intentID
}

func CardSettlementLockKey(cardID string) string {
	return "settle:lock:card:" + cardID
}

func GetJSON(ctx context.Context, store Store, key string, dest interface{}) (bool, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A corrupt entry behaves like a miss; the caller repopulates it.
		return false, nil
	}
	return true, nil
}

func SetJSON(ctx context.Context, store Store, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, raw, ttl)
}
