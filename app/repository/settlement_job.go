package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
)

var (
	ErrJobNotFound      = errors.New("settlement job not found")
	ErrJobAlreadyExists = errors.New("settlement job already exists")
	ErrJobLeaseLost     = errors.New("settlement job lease lost")
)

const settlementJobColumns = `
	id, transaction_id, intent_id, card_id,
	amount_minor, currency, sender_address, recipient_address, fee_budget_minor,
	attempts, max_attempts, status,
	available_at, locked_by, locked_until, last_error,
	created_at, updated_at
`

// SettlementJobRepository is the durable settlement queue. Jobs are claimed with
// SELECT ... FOR UPDATE SKIP LOCKED so competing workers never share a job, and an
// active job whose lease expired is handed to the next claimer.
type SettlementJobRepository struct {
	db TxBeginner
}

func NewSettlementJobRepository(db TxBeginner) *SettlementJobRepository {
	return &SettlementJobRepository{db: db}
}

func (r *SettlementJobRepository) Enqueue(ctx context.Context, job *entity.SettlementJob) error {
	query := `
		INSERT INTO settlement_jobs (` + settlementJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.TransactionID,
		job.IntentID,
		job.CardID,
		job.AmountMinor,
		job.Currency,
		job.SenderAddress,
		job.RecipientAddress,
		job.FeeBudgetMinor,
		job.Attempts,
		job.MaxAttempts,
		job.Status,
		job.AvailableAt,
		nullableStringValue(job.LockedBy),
		nullableTimeValue(job.LockedUntil),
		nullableStringValue(job.LastError),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrJobAlreadyExists
		}
		return err
	}
	return nil
}

// Claim returns the next deliverable job leased to workerID, or nil when none is due.
func (r *SettlementJobRepository) Claim(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*entity.SettlementJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT ` + settlementJobColumns + `
		FROM settlement_jobs
		WHERE (status = ? AND available_at <= ?)
		   OR (status = ? AND locked_until < ?)
		ORDER BY available_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	job := &entity.SettlementJob{}
	err = scanSettlementJob(tx.QueryRowContext(ctx, query,
		entity.JobStatusWaiting, now,
		entity.JobStatusActive, now,
	), job)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// An active job with an expired lease was abandoned mid-attempt; that attempt counts.
	increment := 0
	if job.Status == entity.JobStatusActive {
		increment = 1
	}

	lockedUntil := now.Add(lease)
	_, err = tx.ExecContext(ctx, `
		UPDATE settlement_jobs
		SET status = ?, attempts = LEAST(attempts + ?, max_attempts),
			locked_by = ?, locked_until = ?, updated_at = ?
		WHERE id = ?
	`, entity.JobStatusActive, increment, workerID, lockedUntil, now, job.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	job.Attempts = min(job.Attempts+int32(increment), job.MaxAttempts)
	job.Status = entity.JobStatusActive
	job.LockedBy = &workerID
	job.LockedUntil = &lockedUntil
	job.UpdatedAt = now
	return job, nil
}

func (r *SettlementJobRepository) Complete(ctx context.Context, id, workerID string, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE settlement_jobs
		SET status = ?, locked_by = NULL, locked_until = NULL, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND locked_by = ?
	`, entity.JobStatusCompleted, now, id, entity.JobStatusActive, workerID)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrJobLeaseLost)
}

// Retry puts an active job back to waiting until availableAt. countAttempt is false
// when the job is only being deferred (e.g. another settlement holds the card).
func (r *SettlementJobRepository) Retry(ctx context.Context, id, workerID string, availableAt time.Time, lastErr string, countAttempt bool, now time.Time) error {
	increment := 0
	if countAttempt {
		increment = 1
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE settlement_jobs
		SET status = ?, attempts = attempts + ?, available_at = ?, last_error = ?,
			locked_by = NULL, locked_until = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND locked_by = ?
	`, entity.JobStatusWaiting, increment, availableAt, truncate(lastErr, 1024), now, id, entity.JobStatusActive, workerID)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrJobLeaseLost)
}

// Fail moves an active job to terminal failed. It reports false when the job was not
// held by workerID, so the terminal transition happens at most once.
func (r *SettlementJobRepository) Fail(ctx context.Context, id, workerID string, lastErr string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE settlement_jobs
		SET status = ?, attempts = LEAST(attempts + 1, max_attempts), last_error = ?,
			locked_by = NULL, locked_until = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND locked_by = ?
	`, entity.JobStatusFailed, truncate(lastErr, 1024), now, id, entity.JobStatusActive, workerID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CancelWaiting terminates a job that no worker has claimed yet.
func (r *SettlementJobRepository) CancelWaiting(ctx context.Context, transactionID string, reason string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE settlement_jobs
		SET status = ?, last_error = ?, updated_at = ?
		WHERE transaction_id = ? AND status = ?
	`, entity.JobStatusFailed, reason, now, transactionID, entity.JobStatusWaiting)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *SettlementJobRepository) FindByTransactionID(ctx context.Context, transactionID string) (*entity.SettlementJob, error) {
	query := `SELECT ` + settlementJobColumns + ` FROM settlement_jobs WHERE transaction_id = ? LIMIT 1`

	job := &entity.SettlementJob{}
	if err := scanSettlementJob(r.db.QueryRowContext(ctx, query, transactionID), job); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return job, nil
}

func scanSettlementJob(scan rowScanner, job *entity.SettlementJob) error {
	var lockedBy sql.NullString
	var lockedUntil sql.NullTime
	var lastErr sql.NullString

	err := scan.Scan(
		&job.ID,
		&job.TransactionID,
		&job.IntentID,
		&job.CardID,
		&job.AmountMinor,
		&job.Currency,
		&job.SenderAddress,
		&job.RecipientAddress,
		&job.FeeBudgetMinor,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Status,
		&job.AvailableAt,
		&lockedBy,
		&lockedUntil,
		&lastErr,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return err
	}

	job.LockedBy = stringPtrFromNull(lockedBy)
	job.LockedUntil = timePtrFromNull(lockedUntil)
	job.LastError = stringPtrFromNull(lastErr)
	return nil
}
