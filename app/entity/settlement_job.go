package entity

import "time"

const (
	JobStatusWaiting   = "waiting"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type SettlementJob struct {
	ID string

	TransactionID string
	IntentID      string
	CardID        string

	AmountMinor      int64
	Currency         string
	SenderAddress    string
	RecipientAddress string
	FeeBudgetMinor   int64

	Attempts    int32
	MaxAttempts int32
	Status      string

	AvailableAt time.Time
	LockedBy    *string
	LockedUntil *time.Time
	LastError   *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reference is the idempotency key handed to the ledger for this job's transfer.
func (j *SettlementJob) Reference() string {
	return "settlement:" + j.TransactionID
}
