package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
)

type ReviewAlertRepository struct {
	db DBTX
}

func NewReviewAlertRepository(db DBTX) *ReviewAlertRepository {
	return &ReviewAlertRepository{db: db}
}

// Create is idempotent per job: the job_id column is unique, so a repeated alert for
// the same job is swallowed.
func (r *ReviewAlertRepository) Create(ctx context.Context, alert *entity.ReviewAlert) error {
	query := `
		INSERT INTO review_alerts (transaction_id, job_id, reason, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		alert.TransactionID,
		alert.JobID,
		alert.Reason,
		truncate(alert.Detail, 1024),
		alert.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return nil
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	alert.ID = uint64(id)
	return nil
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
