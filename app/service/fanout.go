package service

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
	"github.com/vibast-solutions/ms-go-tap-payments/app/factory"
	"github.com/vibast-solutions/ms-go-tap-payments/app/mapper"
	"github.com/vibast-solutions/ms-go-tap-payments/app/notify"
)

type subscriptionLister interface {
	ListActiveByMerchant(ctx context.Context, merchantID string) ([]*entity.WebhookSubscription, error)
}

type webhookDeliverer interface {
	Deliver(ctx context.Context, sub *entity.WebhookSubscription, event string, data interface{}) (*entity.WebhookDelivery, error)
}

// Fanout pushes transaction updates to the paying user's topic and hands merchant
// events to the webhook engine. Neither path can fail the transaction.
type Fanout struct {
	publisher notify.Publisher
	subs      subscriptionLister
	webhooks  webhookDeliverer
	logger    logrus.FieldLogger
}

func NewFanout(publisher notify.Publisher, subs subscriptionLister, webhooks webhookDeliverer) *Fanout {
	return &Fanout{
		publisher: publisher,
		subs:      subs,
		webhooks:  webhooks,
		logger:    factory.NewModuleLogger("fanout"),
	}
}

func (f *Fanout) TransactionUpdated(ctx context.Context, tx *entity.Transaction, reasonCode string) {
	event := notify.StatusEvent{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Error:         reasonCode,
	}
	if tx.ReceiptHash != nil {
		event.ReceiptHash = *tx.ReceiptHash
	}
	if tx.Status == entity.TransactionStatusCompleted {
		fee := tx.FeeMinor
		event.Fee = &fee
	}

	if err := f.publisher.Publish(ctx, tx.UserID, event); err != nil {
		f.logger.WithError(err).WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"user_id":        tx.UserID,
		}).Warn("failed to publish live status")
	}
}

func (f *Fanout) MerchantEvent(ctx context.Context, tx *entity.Transaction, event string) {
	subs, err := f.subs.ListActiveByMerchant(ctx, tx.MerchantID)
	if err != nil {
		f.logger.WithError(err).WithField("merchant_id", tx.MerchantID).Warn("failed to list webhook subscriptions")
		return
	}

	data := mapper.TransactionToResponse(tx)
	for _, sub := range subs {
		if sub == nil || !sub.Subscribed(event) {
			continue
		}
		if _, err := f.webhooks.Deliver(ctx, sub, event, data); err != nil {
			f.logger.WithError(err).WithFields(logrus.Fields{
				"subscription_id": sub.ID,
				"event":           event,
			}).Warn("failed to queue webhook delivery")
		}
	}
}
