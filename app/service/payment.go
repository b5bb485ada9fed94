package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
	"github.com/vibast-solutions/ms-go-tap-payments/app/factory"
	"github.com/vibast-solutions/ms-go-tap-payments/app/repository"
	"github.com/vibast-solutions/ms-go-tap-payments/config"
)

const defaultBatchSize = int32(100)

type cancelTransactionRequest interface {
	GetId() string
	GetReason() string
}

type tapAuthorizer interface {
	Authorize(ctx context.Context, req authorizeRequest) (*entity.AuthorizationDecision, error)
}

type transactionRepository interface {
	Create(ctx context.Context, tx *entity.Transaction) error
	Update(ctx context.Context, tx *entity.Transaction) error
	TransitionStatus(ctx context.Context, id string, from []string, to string, now time.Time) (bool, error)
	FindByID(ctx context.Context, id string) (*entity.Transaction, error)
	FindByIntentID(ctx context.Context, intentID string) (*entity.Transaction, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error)
}

type transactionEventRepository interface {
	Create(ctx context.Context, event *entity.TransactionEvent) error
}

type settlementEnqueuer interface {
	Enqueue(ctx context.Context, job *entity.SettlementJob) error
	FindByTransactionID(ctx context.Context, transactionID string) (*entity.SettlementJob, error)
	CancelWaiting(ctx context.Context, transactionID string, reason string, now time.Time) (bool, error)
}

type merchantReader interface {
	FindByID(ctx context.Context, id string) (*entity.Merchant, error)
}

type transactionNotifier interface {
	TransactionUpdated(ctx context.Context, tx *entity.Transaction, reasonCode string)
	MerchantEvent(ctx context.Context, tx *entity.Transaction, event string)
}

type TapResult struct {
	Decision    *entity.AuthorizationDecision
	Transaction *entity.Transaction
}

type PaymentService struct {
	authorizer    tapAuthorizer
	txRepo        transactionRepository
	eventRepo     transactionEventRepository
	jobs          settlementEnqueuer
	merchants     merchantReader
	notifier      transactionNotifier
	settlementCfg config.SettlementConfig
	logger        logrus.FieldLogger
	now           func() time.Time
}

func NewPaymentService(
	authorizer tapAuthorizer,
	txRepo transactionRepository,
	eventRepo transactionEventRepository,
	jobs settlementEnqueuer,
	merchants merchantReader,
	notifier transactionNotifier,
	settlementCfg config.SettlementConfig,
) *PaymentService {
	return &PaymentService{
		authorizer:    authorizer,
		txRepo:        txRepo,
		eventRepo:     eventRepo,
		jobs:          jobs,
		merchants:     merchants,
		notifier:      notifier,
		settlementCfg: settlementCfg,
		logger:        factory.NewModuleLogger("payments"),
		now:           time.Now,
	}
}

// Tap authorizes a tap and, when it is allowed, records a pending transaction and
// queues its settlement. A repeated tap answered from the decision cache resolves to
// the transaction already created for the cached intent.
func (s *PaymentService) Tap(ctx context.Context, req authorizeRequest) (*TapResult, error) {
	decision, err := s.authorizer.Authorize(ctx, req)
	if err != nil {
		if decision != nil {
			return &TapResult{Decision: decision}, err
		}
		return nil, err
	}

	result := &TapResult{Decision: decision}
	if !decision.Authorized {
		return result, nil
	}

	existing, err := s.txRepo.FindByIntentID(ctx, decision.IntentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.ensureSettlementJob(ctx, existing, decision); err != nil {
			return nil, err
		}
		result.Transaction = existing
		return result, nil
	}

	merchant, err := s.findMerchant(ctx, decision.MerchantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tx := &entity.Transaction{
		ID:          uuid.NewString(),
		IntentID:    decision.IntentID,
		UserID:      decision.UserID,
		CardID:      decision.CardID,
		MerchantID:  decision.MerchantID,
		TerminalID:  decision.TerminalID,
		AmountMinor: decision.Amount,
		TotalMinor:  decision.Amount,
		Currency:    decision.Currency,
		Status:      entity.TransactionStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, repository.ErrTransactionAlreadyExists) {
			existing, findErr := s.txRepo.FindByIntentID(ctx, decision.IntentID)
			if findErr == nil && existing != nil {
				if err := s.ensureSettlementJob(ctx, existing, decision); err != nil {
					return nil, err
				}
				result.Transaction = existing
				return result, nil
			}
		}
		return nil, err
	}
	s.recordEvent(ctx, tx, "transaction_created", nil, nil, now)

	if err := s.jobs.Enqueue(ctx, s.newSettlementJob(tx, decision, merchant, now)); err != nil {
		return nil, err
	}

	s.notifier.TransactionUpdated(ctx, tx, "")
	result.Transaction = tx
	return result, nil
}

// ensureSettlementJob re-enqueues the job of a pending transaction whose first
// enqueue failed after the transaction row was written.
func (s *PaymentService) ensureSettlementJob(ctx context.Context, tx *entity.Transaction, decision *entity.AuthorizationDecision) error {
	if tx.Status != entity.TransactionStatusPending {
		return nil
	}
	job, err := s.jobs.FindByTransactionID(ctx, tx.ID)
	if err != nil {
		return err
	}
	if job != nil {
		return nil
	}

	merchant, err := s.findMerchant(ctx, tx.MerchantID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.jobs.Enqueue(ctx, s.newSettlementJob(tx, decision, merchant, now)); err != nil {
		if errors.Is(err, repository.ErrJobAlreadyExists) {
			return nil
		}
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"intent_id":      tx.IntentID,
	}).Warn("re-enqueued missing settlement job")
	return nil
}

func (s *PaymentService) findMerchant(ctx context.Context, id string) (*entity.Merchant, error) {
	merchant, err := s.merchants.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if merchant == nil {
		return nil, ErrUnknownTerminal
	}
	return merchant, nil
}

func (s *PaymentService) newSettlementJob(tx *entity.Transaction, decision *entity.AuthorizationDecision, merchant *entity.Merchant, now time.Time) *entity.SettlementJob {
	return &entity.SettlementJob{
		ID:               uuid.NewString(),
		TransactionID:    tx.ID,
		IntentID:         tx.IntentID,
		CardID:           tx.CardID,
		AmountMinor:      tx.AmountMinor,
		Currency:         tx.Currency,
		SenderAddress:    decision.PayerAddress,
		RecipientAddress: merchant.WalletAddress,
		FeeBudgetMinor:   s.settlementCfg.FeeBudget,
		MaxAttempts:      s.maxAttempts(),
		Status:           entity.JobStatusWaiting,
		AvailableAt:      now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *PaymentService) GetTransaction(ctx context.Context, id string) (*entity.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidRequest
	}

	tx, err := s.txRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// CancelTransaction cancels a transaction whose settlement has not started yet.
func (s *PaymentService) CancelTransaction(ctx context.Context, req cancelTransactionRequest) (*entity.Transaction, error) {
	id := strings.TrimSpace(req.GetId())
	if id == "" {
		return nil, ErrInvalidRequest
	}

	reason := strings.TrimSpace(req.GetReason())
	if reason == "" {
		reason = "cancelled by caller"
	}
	return s.cancelPending(ctx, id, ReasonCancelled, reason, "transaction_cancelled")
}

func (s *PaymentService) cancelPending(ctx context.Context, id, reasonCode, detail, eventType string) (*entity.Transaction, error) {
	now := s.now().UTC()
	changed, err := s.txRepo.TransitionStatus(ctx, id, []string{entity.TransactionStatusPending}, entity.TransactionStatusCancelled, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		tx, err := s.txRepo.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, ErrTransactionNotFound
		}
		return nil, ErrInvalidStatus
	}

	if _, err := s.jobs.CancelWaiting(ctx, id, detail, now); err != nil {
		return nil, err
	}

	tx, err := s.txRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	tx.FailureReason = &reasonCode
	tx.UpdatedAt = now
	if err := s.txRepo.Update(ctx, tx); err != nil {
		return nil, err
	}

	oldStatus := entity.TransactionStatusPending
	s.recordEvent(ctx, tx, eventType, &oldStatus, &detail, now)
	s.notifier.TransactionUpdated(ctx, tx, reasonCode)
	s.notifier.MerchantEvent(ctx, tx, entity.EventTransactionCancelled)
	return tx, nil
}

func (s *PaymentService) recordEvent(ctx context.Context, tx *entity.Transaction, eventType string, oldStatus *string, detail *string, now time.Time) {
	if err := s.eventRepo.Create(ctx, &entity.TransactionEvent{
		TransactionID: tx.ID,
		EventType:     eventType,
		OldStatus:     oldStatus,
		NewStatus:     tx.Status,
		Detail:        detail,
		CreatedAt:     now,
	}); err != nil {
		s.logger.WithError(err).WithField("transaction_id", tx.ID).Warn("failed to record transaction event")
	}
}

func (s *PaymentService) maxAttempts() int32 {
	if s.settlementCfg.MaxAttempts <= 0 {
		return 1
	}
	return s.settlementCfg.MaxAttempts
}

func (s *PaymentService) batchSize() int32 {
	if s.settlementCfg.JobBatchSize <= 0 {
		return defaultBatchSize
	}
	return s.settlementCfg.JobBatchSize
}
