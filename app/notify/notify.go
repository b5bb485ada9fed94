package notify

import (
	"context"
	"encoding/json"
)

// StatusEvent is the live settlement update pushed to the paying user.
type StatusEvent struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	ReceiptHash   string `json:"receipt_hash,omitempty"`
	Fee           *int64 `json:"fee,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, userID string, event StatusEvent) error
}

// Subscription delivers events for one user until Close is called.
type Subscription interface {
	Events() <-chan StatusEvent
	Close() error
}

type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

type Broker interface {
	Publisher
	Subscriber
}

func UserTopic(userID string) string {
	return "payments:user:" + userID
}

func encodeEvent(event StatusEvent) ([]byte, error) {
	return json.Marshal(event)
}

func decodeEvent(raw []byte) (StatusEvent, error) {
	var event StatusEvent
	err := json.Unmarshal(raw, &event)
	return event, err
}
