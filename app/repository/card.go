package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
)

var (
	ErrCardNotFound     = errors.New("card not found")
	ErrMerchantNotFound = errors.New("merchant not found")
)

// CardRepository reads card records owned by the card management service. The only
// write is the spend-to-date bookkeeping done after a settlement completes.
type CardRepository struct {
	db DBTX
}

func NewCardRepository(db DBTX) *CardRepository {
	return &CardRepository{db: db}
}

func (r *CardRepository) FindByID(ctx context.Context, id string) (*entity.Card, error) {
	query := `
		SELECT id, user_id, status, wallet_address, expires_at,
			daily_limit_minor, monthly_limit_minor, daily_spent_minor, monthly_spent_minor,
			spend_day, spend_month, updated_at
		FROM cards
		WHERE id = ?
	`

	card := &entity.Card{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&card.ID,
		&card.UserID,
		&card.Status,
		&card.WalletAddress,
		&card.ExpiresAt,
		&card.DailyLimitMinor,
		&card.MonthlyLimitMinor,
		&card.DailySpentMinor,
		&card.MonthlySpentMinor,
		&card.SpendDay,
		&card.SpendMonth,
		&card.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return card, nil
}

// RecordSpend adds amount to the day and month counters, resetting a counter first
// when it belongs to an earlier calendar period. MySQL evaluates SET assignments left
// to right, so spend_day/spend_month are compared before they are overwritten.
func (r *CardRepository) RecordSpend(ctx context.Context, cardID string, amount int64, now time.Time) error {
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	result, err := r.db.ExecContext(ctx, `
		UPDATE cards SET
			daily_spent_minor = IF(spend_day = ?, daily_spent_minor, 0) + ?,
			monthly_spent_minor = IF(spend_month = ?, monthly_spent_minor, 0) + ?,
			spend_day = ?,
			spend_month = ?,
			updated_at = ?
		WHERE id = ?
	`, day, amount, month, amount, day, month, now, cardID)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrCardNotFound)
}
