package service

import (
	"context"
	"errors"
)

// RunExpirePendingBatch cancels transactions whose settlement never started within
// the configured pending timeout.
func (s *PaymentService) RunExpirePendingBatch(ctx context.Context) error {
	now := s.now().UTC()
	cutoff := now.Add(-s.settlementCfg.PendingTimeout)
	items, err := s.txRepo.ListStalePending(ctx, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, tx := range items {
		if tx == nil {
			continue
		}
		_, err := s.cancelPending(ctx, tx.ID, ReasonExpired, "settlement did not start before the pending timeout", "transaction_expired")
		if err != nil && !errors.Is(err, ErrInvalidStatus) {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
