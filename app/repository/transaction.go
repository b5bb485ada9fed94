package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
)

var (
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrTransactionAlreadyExists = errors.New("transaction already exists")
)

const transactionColumns = `
	id, intent_id, user_id, card_id, merchant_id, terminal_id,
	amount_minor, fee_minor, total_minor, currency,
	status, receipt_hash, failure_reason,
	created_at, updated_at, completed_at
`

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *entity.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.IntentID,
		tx.UserID,
		tx.CardID,
		tx.MerchantID,
		tx.TerminalID,
		tx.AmountMinor,
		tx.FeeMinor,
		tx.TotalMinor,
		tx.Currency,
		tx.Status,
		nullableStringValue(tx.ReceiptHash),
		nullableStringValue(tx.FailureReason),
		tx.CreatedAt,
		tx.UpdatedAt,
		nullableTimeValue(tx.CompletedAt),
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrTransactionAlreadyExists
		}
		return err
	}
	return nil
}

func (r *TransactionRepository) Update(ctx context.Context, tx *entity.Transaction) error {
	query := `
		UPDATE transactions SET
			fee_minor = ?,
			total_minor = ?,
			status = ?,
			receipt_hash = ?,
			failure_reason = ?,
			updated_at = ?,
			completed_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		tx.FeeMinor,
		tx.TotalMinor,
		tx.Status,
		nullableStringValue(tx.ReceiptHash),
		nullableStringValue(tx.FailureReason),
		tx.UpdatedAt,
		nullableTimeValue(tx.CompletedAt),
		tx.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrTransactionNotFound)
}

// TransitionStatus moves a transaction to status `to` only if it currently holds one of
// `from`. It reports whether the row changed.
func (r *TransactionRepository) TransitionStatus(ctx context.Context, id string, from []string, to string, now time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	query := `UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`

	args := make([]interface{}, 0, 3+len(from))
	args = append(args, to, now, id)
	for _, status := range from {
		args = append(args, status)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx := &entity.Transaction{}
	if err := scanTransaction(r.db.QueryRowContext(ctx, query, id), tx); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *TransactionRepository) FindByIntentID(ctx context.Context, intentID string) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE intent_id = ? LIMIT 1`

	tx := &entity.Transaction{}
	if err := scanTransaction(r.db.QueryRowContext(ctx, query, intentID), tx); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *TransactionRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = ?
		  AND created_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.TransactionStatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Transaction, 0)
	for rows.Next() {
		item := &entity.Transaction{}
		if err := scanTransaction(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanTransaction(scan rowScanner, tx *entity.Transaction) error {
	var receiptHash sql.NullString
	var failureReason sql.NullString
	var completedAt sql.NullTime

	err := scan.Scan(
		&tx.ID,
		&tx.IntentID,
		&tx.UserID,
		&tx.CardID,
		&tx.MerchantID,
		&tx.TerminalID,
		&tx.AmountMinor,
		&tx.FeeMinor,
		&tx.TotalMinor,
		&tx.Currency,
		&tx.Status,
		&receiptHash,
		&failureReason,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return err
	}

	tx.ReceiptHash = stringPtrFromNull(receiptHash)
	tx.FailureReason = stringPtrFromNull(failureReason)
	tx.CompletedAt = timePtrFromNull(completedAt)
	return nil
}
