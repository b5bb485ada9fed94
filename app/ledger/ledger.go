package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("ledger gateway is not configured")
	ErrTimeout       = errors.New("ledger confirmation timed out")
	ErrRejected      = errors.New("ledger rejected transfer")
	ErrSigning       = errors.New("ledger transfer signing failed")
	ErrReverted      = errors.New("ledger transfer reverted")
)

type Transfer struct {
	Reference      string
	From           string
	To             string
	AmountMinor    int64
	Currency       string
	FeeBudgetMinor int64
}

// Receipt is proof of inclusion for a transfer.
type Receipt struct {
	Hash     string
	FeeMinor int64
	Block    uint64
}

// Submission is a transfer known to the ledger; Receipt stays nil until it is included.
type Submission struct {
	Hash    string
	Receipt *Receipt
}

type Client interface {
	// FindByReference returns nil when nothing was ever submitted under the reference.
	FindByReference(ctx context.Context, reference string) (*Submission, error)
	Submit(ctx context.Context, transfer Transfer) (string, error)
	// WaitForReceipt blocks until the transfer is included, reverted, or ctx is done.
	// A reverted transfer is final for its reference.
	WaitForReceipt(ctx context.Context, hash string) (*Receipt, error)
}
