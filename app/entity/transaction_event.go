package entity

import "time"

type TransactionEvent struct {
	ID uint64

	TransactionID string

	EventType string

	OldStatus *string
	NewStatus string

	Detail *string

	CreatedAt time.Time
}
