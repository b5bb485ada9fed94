package entity

import "time"

const (
	TransactionStatusPending    = "pending"
	TransactionStatusProcessing = "processing"
	TransactionStatusCompleted  = "completed"
	TransactionStatusFailed     = "failed"
	TransactionStatusCancelled  = "cancelled"
)

type Transaction struct {
	ID string

	IntentID   string
	UserID     string
	CardID     string
	MerchantID string
	TerminalID string

	AmountMinor int64
	FeeMinor    int64
	TotalMinor  int64
	Currency    string

	Status        string
	ReceiptHash   *string
	FailureReason *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (t *Transaction) Terminal() bool {
	switch t.Status {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}
