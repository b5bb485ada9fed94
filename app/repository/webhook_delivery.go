package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
)

var ErrDeliveryNotFound = errors.New("webhook delivery not found")

const webhookDeliveryColumns = `
	id, subscription_id, event, payload_json,
	status, attempts, next_attempt_at, last_error, last_http_status,
	created_at, updated_at
`

// WebhookDeliveryRepository stores outbound webhook deliveries. Due deliveries are
// claimed with SELECT ... FOR UPDATE SKIP LOCKED and leased by pushing next_attempt_at
// forward, so concurrent dispatchers never send the same delivery.
type WebhookDeliveryRepository struct {
	db TxBeginner
}

func NewWebhookDeliveryRepository(db TxBeginner) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

func (r *WebhookDeliveryRepository) Create(ctx context.Context, delivery *entity.WebhookDelivery) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (`+webhookDeliveryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		delivery.ID,
		delivery.SubscriptionID,
		delivery.Event,
		delivery.PayloadJSON,
		delivery.Status,
		delivery.Attempts,
		nullableTimeValue(delivery.NextAttemptAt),
		nullableStringValue(delivery.LastError),
		nullableInt32Value(delivery.LastHTTPStatus),
		delivery.CreatedAt,
		delivery.UpdatedAt,
	)
	return err
}

func (r *WebhookDeliveryRepository) Update(ctx context.Context, delivery *entity.WebhookDelivery) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET
			status = ?,
			attempts = ?,
			next_attempt_at = ?,
			last_error = ?,
			last_http_status = ?,
			updated_at = ?
		WHERE id = ?
	`,
		delivery.Status,
		delivery.Attempts,
		nullableTimeValue(delivery.NextAttemptAt),
		nullableStringValue(delivery.LastError),
		nullableInt32Value(delivery.LastHTTPStatus),
		delivery.UpdatedAt,
		delivery.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrDeliveryNotFound)
}

// ClaimDue leases up to limit pending deliveries whose next attempt is due. A claimed
// delivery becomes due again at now+lease unless the dispatcher records an outcome.
func (r *WebhookDeliveryRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int32) ([]*entity.WebhookDelivery, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT ` + webhookDeliveryColumns + `
		FROM webhook_deliveries
		WHERE status = ?
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.QueryContext(ctx, query, entity.DeliveryStatusPending, now, limit)
	if err != nil {
		return nil, err
	}

	items := make([]*entity.WebhookDelivery, 0)
	for rows.Next() {
		item := &entity.WebhookDelivery{}
		if err := scanWebhookDelivery(rows, item); err != nil {
			_ = rows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	leasedUntil := now.Add(lease)
	args := make([]interface{}, 0, len(items)+2)
	args = append(args, leasedUntil, now)
	for _, item := range items {
		args = append(args, item.ID)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET next_attempt_at = ?, updated_at = ?
		WHERE id IN (`+placeholders(len(items))+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, item := range items {
		item.NextAttemptAt = &leasedUntil
		item.UpdatedAt = now
	}
	return items, nil
}

func scanWebhookDelivery(scan rowScanner, delivery *entity.WebhookDelivery) error {
	var nextAttemptAt sql.NullTime
	var lastErr sql.NullString
	var lastHTTPStatus sql.NullInt32

	err := scan.Scan(
		&delivery.ID,
		&delivery.SubscriptionID,
		&delivery.Event,
		&delivery.PayloadJSON,
		&delivery.Status,
		&delivery.Attempts,
		&nextAttemptAt,
		&lastErr,
		&lastHTTPStatus,
		&delivery.CreatedAt,
		&delivery.UpdatedAt,
	)
	if err != nil {
		return err
	}

	delivery.NextAttemptAt = timePtrFromNull(nextAttemptAt)
	delivery.LastError = stringPtrFromNull(lastErr)
	delivery.LastHTTPStatus = int32PtrFromNull(lastHTTPStatus)
	return nil
}
