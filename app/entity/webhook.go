package entity

import "time"

const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventTransactionCancelled = "transaction.cancelled"
)

const (
	DeliveryStatusPending   = "pending"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusSkipped   = "skipped"
)

type WebhookSubscription struct {
	ID         uint64
	MerchantID string
	URL        string
	Events     []string
	Secret     string

	ConsecutiveFailures int32
	Active              bool

	LastDeliveryAt     *time.Time
	LastDeliveryStatus *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *WebhookSubscription) Subscribed(event string) bool {
	for _, e := range s.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

type WebhookDelivery struct {
	ID             string
	SubscriptionID uint64
	Event          string
	PayloadJSON    string

	Status         string
	Attempts       int32
	NextAttemptAt  *time.Time
	LastError      *string
	LastHTTPStatus *int32

	CreatedAt time.Time
	UpdatedAt time.Time
}
