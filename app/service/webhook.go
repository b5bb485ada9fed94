package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
	"github.com/vibast-solutions/ms-go-tap-payments/app/factory"
	"github.com/vibast-solutions/ms-go-tap-payments/app/repository"
	"github.com/vibast-solutions/ms-go-tap-payments/config"
	"golang.org/x/sync/errgroup"
)

const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookEvent     = "X-Webhook-Event"
	HeaderWebhookDelivery  = "X-Webhook-Delivery"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"

	signaturePrefix = "sha256="
)

type webhookSubscriptionRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.WebhookSubscription, error)
	RecordSuccess(ctx context.Context, id uint64, now time.Time) error
	RecordFailure(ctx context.Context, id uint64, ceiling int32, now time.Time) (*entity.WebhookSubscription, error)
	Enable(ctx context.Context, id uint64, now time.Time) error
}

type webhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.WebhookDelivery) error
	Update(ctx context.Context, delivery *entity.WebhookDelivery) error
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int32) ([]*entity.WebhookDelivery, error)
}

type webhookEnvelope struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type WebhookService struct {
	subRepo      webhookSubscriptionRepository
	deliveryRepo webhookDeliveryRepository
	cfg          config.WebhooksConfig
	httpClient   *http.Client
	logger       logrus.FieldLogger
	now          func() time.Time
}

func NewWebhookService(
	subRepo webhookSubscriptionRepository,
	deliveryRepo webhookDeliveryRepository,
	cfg config.WebhooksConfig,
) *WebhookService {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if len(cfg.BackoffSchedule) == 0 {
		cfg.BackoffSchedule = config.DefaultWebhookBackoff()
	}
	if cfg.ClaimLease <= timeout {
		cfg.ClaimLease = 3 * timeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &WebhookService{
		subRepo:      subRepo,
		deliveryRepo: deliveryRepo,
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       factory.NewModuleLogger("webhooks"),
		now:          time.Now,
	}
}

// Deliver freezes the event envelope and queues it for the subscription. It is a
// no-op for a disabled subscription.
func (s *WebhookService) Deliver(ctx context.Context, sub *entity.WebhookSubscription, event string, data interface{}) (*entity.WebhookDelivery, error) {
	if sub == nil || !sub.Active {
		return nil, nil
	}

	now := s.now().UTC()
	id := uuid.NewString()
	body, err := json.Marshal(webhookEnvelope{
		ID:        id,
		Event:     event,
		Data:      data,
		Timestamp: now.Unix(),
	})
	if err != nil {
		return nil, err
	}

	delivery := &entity.WebhookDelivery{
		ID:             id,
		SubscriptionID: sub.ID,
		Event:          event,
		PayloadJSON:    string(body),
		Status:         entity.DeliveryStatusPending,
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.deliveryRepo.Create(ctx, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

// RunDispatchWebhooksBatch claims due deliveries and sends them with up to
// Concurrency requests in flight.
func (s *WebhookService) RunDispatchWebhooksBatch(ctx context.Context) error {
	now := s.now().UTC()
	items, err := s.deliveryRepo.ClaimDue(ctx, now, s.cfg.ClaimLease, s.batchSize())
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		firstErr error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, delivery := range items {
		if delivery == nil {
			continue
		}
		g.Go(func() error {
			if err := s.dispatch(ctx, delivery, now); err != nil {
				mu.Lock()
				firstErr = keepFirstErr(firstErr, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return firstErr
}

func (s *WebhookService) EnableSubscription(ctx context.Context, id uint64) error {
	if id == 0 {
		return ErrInvalidRequest
	}
	if err := s.subRepo.Enable(ctx, id, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			return ErrSubscriptionNotFound
		}
		return err
	}
	return nil
}

func (s *WebhookService) dispatch(ctx context.Context, delivery *entity.WebhookDelivery, now time.Time) error {
	sub, err := s.subRepo.FindByID(ctx, delivery.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil || !sub.Active {
		reason := "subscription inactive"
		delivery.Status = entity.DeliveryStatusSkipped
		delivery.NextAttemptAt = nil
		delivery.LastError = &reason
		delivery.UpdatedAt = now
		return s.deliveryRepo.Update(ctx, delivery)
	}

	statusCode, sendErr := s.send(ctx, sub, delivery)
	delivery.Attempts++
	delivery.UpdatedAt = now
	if statusCode > 0 {
		code := int32(statusCode)
		delivery.LastHTTPStatus = &code
	}

	if sendErr == nil {
		delivery.Status = entity.DeliveryStatusDelivered
		delivery.NextAttemptAt = nil
		delivery.LastError = nil
		if err := s.deliveryRepo.Update(ctx, delivery); err != nil {
			return err
		}
		return s.subRepo.RecordSuccess(ctx, sub.ID, now)
	}

	msg := truncate(sendErr.Error(), 1024)
	delivery.LastError = &msg
	if delivery.Attempts >= s.maxAttempts() {
		delivery.Status = entity.DeliveryStatusFailed
		delivery.NextAttemptAt = nil
	} else {
		next := now.Add(s.backoff(delivery.Attempts))
		delivery.Status = entity.DeliveryStatusPending
		delivery.NextAttemptAt = &next
	}
	if err := s.deliveryRepo.Update(ctx, delivery); err != nil {
		return err
	}

	updated, err := s.subRepo.RecordFailure(ctx, sub.ID, s.cfg.FailureCeiling, now)
	if err != nil {
		return err
	}
	if updated != nil && !updated.Active {
		s.logger.WithFields(logrus.Fields{
			"subscription_id":      sub.ID,
			"merchant_id":          sub.MerchantID,
			"consecutive_failures": updated.ConsecutiveFailures,
		}).Warn("webhook subscription disabled")
	}

	return sendErr
}

func (s *WebhookService) send(ctx context.Context, sub *entity.WebhookSubscription, delivery *entity.WebhookDelivery) (int, error) {
	body := []byte(delivery.PayloadJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookSignature, SignPayload(sub.Secret, body))
	req.Header.Set(HeaderWebhookEvent, delivery.Event)
	req.Header.Set(HeaderWebhookDelivery, delivery.ID)
	req.Header.Set(HeaderWebhookTimestamp, strconv.FormatInt(delivery.CreatedAt.Unix(), 10))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook endpoint returned status=%d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// backoff returns the delay before the next attempt after the given number of failed attempts.
func (s *WebhookService) backoff(attempts int32) time.Duration {
	idx := int(attempts) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.cfg.BackoffSchedule) {
		idx = len(s.cfg.BackoffSchedule) - 1
	}
	return s.cfg.BackoffSchedule[idx]
}

func (s *WebhookService) maxAttempts() int32 {
	if s.cfg.MaxAttempts <= 0 {
		return 1
	}
	return s.cfg.MaxAttempts
}

func (s *WebhookService) batchSize() int32 {
	if s.cfg.JobBatchSize <= 0 {
		return defaultBatchSize
	}
	return s.cfg.JobBatchSize
}

// SignPayload returns the X-Webhook-Signature value for body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received X-Webhook-Signature header in constant time.
func VerifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	expected := SignPayload(secret, body)
	return hmac.Equal([]byte(expected), []byte(header))
}
