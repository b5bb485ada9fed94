package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
)

var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

const webhookSubscriptionColumns = `
	id, merchant_id, url, events_json, secret,
	consecutive_failures, active, last_delivery_at, last_delivery_status,
	created_at, updated_at
`

type WebhookSubscriptionRepository struct {
	db DBTX
}

func NewWebhookSubscriptionRepository(db DBTX) *WebhookSubscriptionRepository {
	return &WebhookSubscriptionRepository{db: db}
}

func (r *WebhookSubscriptionRepository) FindByID(ctx context.Context, id uint64) (*entity.WebhookSubscription, error) {
	query := `SELECT ` + webhookSubscriptionColumns + ` FROM webhook_subscriptions WHERE id = ?`

	sub := &entity.WebhookSubscription{}
	if err := scanWebhookSubscription(r.db.QueryRowContext(ctx, query, id), sub); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *WebhookSubscriptionRepository) ListActiveByMerchant(ctx context.Context, merchantID string) ([]*entity.WebhookSubscription, error) {
	query := `
		SELECT ` + webhookSubscriptionColumns + `
		FROM webhook_subscriptions
		WHERE merchant_id = ? AND active = 1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.WebhookSubscription, 0)
	for rows.Next() {
		item := &entity.WebhookSubscription{}
		if err := scanWebhookSubscription(rows, item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *WebhookSubscriptionRepository) RecordSuccess(ctx context.Context, id uint64, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET
			consecutive_failures = 0,
			last_delivery_at = ?,
			last_delivery_status = ?,
			updated_at = ?
		WHERE id = ?
	`, now, entity.DeliveryStatusDelivered, now, id)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrSubscriptionNotFound)
}

// RecordFailure increments the failure counter and disables the subscription once the
// counter reaches ceiling, in one statement so concurrent attempts cannot lose updates.
// The active assignment sees the incremented counter because MySQL applies SET
// assignments left to right.
func (r *WebhookSubscriptionRepository) RecordFailure(ctx context.Context, id uint64, ceiling int32, now time.Time) (*entity.WebhookSubscription, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET
			consecutive_failures = consecutive_failures + 1,
			active = IF(consecutive_failures >= ?, 0, active),
			last_delivery_at = ?,
			last_delivery_status = ?,
			updated_at = ?
		WHERE id = ?
	`, ceiling, now, entity.DeliveryStatusFailed, now, id)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(result, ErrSubscriptionNotFound); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r *WebhookSubscriptionRepository) Enable(ctx context.Context, id uint64, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET active = 1, consecutive_failures = 0, updated_at = ?
		WHERE id = ?
	`, now, id)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrSubscriptionNotFound)
}

func scanWebhookSubscription(scan rowScanner, sub *entity.WebhookSubscription) error {
	var eventsJSON string
	var lastDeliveryAt sql.NullTime
	var lastDeliveryStatus sql.NullString

	err := scan.Scan(
		&sub.ID,
		&sub.MerchantID,
		&sub.URL,
		&eventsJSON,
		&sub.Secret,
		&sub.ConsecutiveFailures,
		&sub.Active,
		&lastDeliveryAt,
		&lastDeliveryStatus,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return err
	}

	events, err := parseStringList(eventsJSON)
	if err != nil {
		return err
	}
	sub.Events = events
	sub.LastDeliveryAt = timePtrFromNull(lastDeliveryAt)
	sub.LastDeliveryStatus = stringPtrFromNull(lastDeliveryStatus)
	return nil
}
