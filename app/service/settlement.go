package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-tap-payments/app/cache"
	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
	"github.com/vibast-solutions/ms-go-tap-payments/app/factory"
	"github.com/vibast-solutions/ms-go-tap-payments/app/ledger"
	"github.com/vibast-solutions/ms-go-tap-payments/config"
	"golang.org/x/sync/errgroup"
)

type settlementQueue interface {
	Claim(ctx context.Context, workerID string, now time.Time, lease time.Duration) (*entity.SettlementJob, error)
	Complete(ctx context.Context, id, workerID string, now time.Time) error
	Retry(ctx context.Context, id, workerID string, availableAt time.Time, lastErr string, countAttempt bool, now time.Time) error
	Fail(ctx context.Context, id, workerID string, lastErr string, now time.Time) (bool, error)
}

type cardLedger interface {
	FindByID(ctx context.Context, id string) (*entity.Card, error)
	RecordSpend(ctx context.Context, cardID string, amount int64, now time.Time) error
}

type merchantVolume interface {
	AddVolume(ctx context.Context, id string, amount int64, now time.Time) error
}

type reviewAlertRepository interface {
	Create(ctx context.Context, alert *entity.ReviewAlert) error
}

// settlementFailure carries the stable reason code alongside the underlying error.
type settlementFailure struct {
	code      string
	retryable bool
	err       error
}

func (f *settlementFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.code, f.err)
}

func (f *settlementFailure) Unwrap() error {
	return f.err
}

type SettlementWorker struct {
	queue     settlementQueue
	txRepo    transactionRepository
	eventRepo transactionEventRepository
	cards     cardLedger
	merchants merchantVolume
	alerts    reviewAlertRepository
	store     cache.Store
	ledger    ledger.Client
	notifier  transactionNotifier
	cfg       config.SettlementConfig
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewSettlementWorker(
	queue settlementQueue,
	txRepo transactionRepository,
	eventRepo transactionEventRepository,
	cards cardLedger,
	merchants merchantVolume,
	alerts reviewAlertRepository,
	store cache.Store,
	ledgerClient ledger.Client,
	notifier transactionNotifier,
	cfg config.SettlementConfig,
) *SettlementWorker {
	return &SettlementWorker{
		queue:     queue,
		txRepo:    txRepo,
		eventRepo: eventRepo,
		cards:     cards,
		merchants: merchants,
		alerts:    alerts,
		store:     store,
		ledger:    ledgerClient,
		notifier:  notifier,
		cfg:       cfg,
		logger:    factory.NewModuleLogger("settlement"),
		now:       time.Now,
	}
}

// RunSettleBatch drains due jobs with up to Concurrency claimers, stopping after
// JobBatchSize jobs or when the queue has nothing due.
func (w *SettlementWorker) RunSettleBatch(ctx context.Context, workerID string) error {
	concurrency := w.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	budget := int64(w.cfg.JobBatchSize)
	if budget <= 0 {
		budget = int64(defaultBatchSize)
	}

	var (
		claimed  atomic.Int64
		mu       sync.Mutex
		firstErr error
	)
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for i := 0; i < concurrency; i++ {
		claimerID := fmt.Sprintf("%s/%d", workerID, i)
		g.Go(func() error {
			for claimed.Add(1) <= budget {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				processed, err := w.ProcessNext(ctx, claimerID)
				if err != nil {
					mu.Lock()
					firstErr = keepFirstErr(firstErr, err)
					mu.Unlock()
				}
				if !processed {
					return nil
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return firstErr
}

// ProcessNext claims and settles one job. It reports false when nothing was due.
func (w *SettlementWorker) ProcessNext(ctx context.Context, workerID string) (bool, error) {
	job, err := w.queue.Claim(ctx, workerID, w.now().UTC(), w.cfg.LeaseDuration)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	return true, w.process(ctx, job, workerID)
}

func (w *SettlementWorker) process(ctx context.Context, job *entity.SettlementJob, workerID string) error {
	logger := w.logger.WithFields(logrus.Fields{
		"job_id":         job.ID,
		"transaction_id": job.TransactionID,
		"attempt":        job.Attempts + 1,
	})

	lockKey := cache.CardSettlementLockKey(job.CardID)
	lockToken := workerID + ":" + job.ID
	locked, err := w.store.AcquireLock(ctx, lockKey, lockToken, w.cfg.CardLockTTL)
	if err != nil {
		return w.handleFailure(ctx, job, nil, workerID, &settlementFailure{code: ReasonInternalError, retryable: true, err: err}, logger)
	}
	if !locked {
		logger.Debug("card settlement in progress, deferring job")
		return w.queue.Retry(ctx, job.ID, workerID, w.now().UTC().Add(w.cfg.LockedRetry), "card settlement in progress", false, w.now().UTC())
	}
	defer func() {
		if err := w.store.ReleaseLock(context.WithoutCancel(ctx), lockKey, lockToken); err != nil {
			logger.WithError(err).Warn("failed to release card settlement lock")
		}
	}()

	tx, err := w.txRepo.FindByID(ctx, job.TransactionID)
	if err != nil {
		return w.handleFailure(ctx, job, nil, workerID, &settlementFailure{code: ReasonInternalError, retryable: true, err: err}, logger)
	}
	if tx == nil {
		return w.handleFailure(ctx, job, nil, workerID, &settlementFailure{code: ReasonInternalError, err: ErrTransactionNotFound}, logger)
	}

	switch tx.Status {
	case entity.TransactionStatusCompleted, entity.TransactionStatusCancelled:
		return w.queue.Complete(ctx, job.ID, workerID, w.now().UTC())
	case entity.TransactionStatusFailed:
		_, err := w.queue.Fail(ctx, job.ID, workerID, "transaction already failed", w.now().UTC())
		return err
	}

	oldStatus := tx.Status
	changed, err := w.txRepo.TransitionStatus(ctx, tx.ID,
		[]string{entity.TransactionStatusPending, entity.TransactionStatusProcessing},
		entity.TransactionStatusProcessing, w.now().UTC())
	if err != nil {
		return w.handleFailure(ctx, job, tx, workerID, &settlementFailure{code: ReasonInternalError, retryable: true, err: err}, logger)
	}
	if !changed {
		logger.Info("transaction left pending before settlement started")
		return w.queue.Complete(ctx, job.ID, workerID, w.now().UTC())
	}
	tx.Status = entity.TransactionStatusProcessing
	if oldStatus != entity.TransactionStatusProcessing {
		w.recordEvent(ctx, tx, "settlement_started", &oldStatus, nil)
		w.notifier.TransactionUpdated(ctx, tx, "")
	}

	card, err := w.cards.FindByID(ctx, job.CardID)
	if err != nil {
		return w.handleFailure(ctx, job, tx, workerID, &settlementFailure{code: ReasonInternalError, retryable: true, err: err}, logger)
	}
	if !card.Usable(w.now().UTC()) {
		return w.handleFailure(ctx, job, tx, workerID, &settlementFailure{code: ReasonCardUnusable, err: errors.New("card is no longer usable")}, logger)
	}

	receipt, err := w.settleOnLedger(ctx, job, tx)
	if err != nil {
		return w.handleFailure(ctx, job, tx, workerID, classifyLedgerError(err), logger)
	}

	return w.complete(ctx, job, tx, workerID, receipt, logger)
}

// settleOnLedger never submits a second transfer for a job: a receipt already on the
// transaction, or any submission found under the job reference, is reused. A job whose
// attempts were all spent by abandoned leases is not submitted again.
func (w *SettlementWorker) settleOnLedger(ctx context.Context, job *entity.SettlementJob, tx *entity.Transaction) (*ledger.Receipt, error) {
	if tx.ReceiptHash != nil && *tx.ReceiptHash != "" {
		return &ledger.Receipt{Hash: *tx.ReceiptHash, FeeMinor: tx.FeeMinor}, nil
	}

	existing, err := w.ledger.FindByReference(ctx, job.Reference())
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Receipt != nil {
		return existing.Receipt, nil
	}

	var hash string
	switch {
	case existing != nil:
		hash = existing.Hash
	case job.Attempts >= job.MaxAttempts:
		return nil, ErrAttemptsExhausted
	default:
		hash, err = w.ledger.Submit(ctx, ledger.Transfer{
			Reference:      job.Reference(),
			From:           job.SenderAddress,
			To:             job.RecipientAddress,
			AmountMinor:    job.AmountMinor,
			Currency:       job.Currency,
			FeeBudgetMinor: job.FeeBudgetMinor,
		})
		if err != nil {
			return nil, err
		}
	}

	waitCtx := ctx
	if w.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.cfg.ConfirmTimeout)
		defer cancel()
	}
	return w.ledger.WaitForReceipt(waitCtx, hash)
}

func (w *SettlementWorker) complete(ctx context.Context, job *entity.SettlementJob, tx *entity.Transaction, workerID string, receipt *ledger.Receipt, logger logrus.FieldLogger) error {
	now := w.now().UTC()
	hash := receipt.Hash
	oldStatus := tx.Status

	tx.ReceiptHash = &hash
	tx.FeeMinor = receipt.FeeMinor
	tx.TotalMinor = tx.AmountMinor + receipt.FeeMinor
	tx.Status = entity.TransactionStatusCompleted
	tx.FailureReason = nil
	tx.CompletedAt = &now
	tx.UpdatedAt = now
	if err := w.txRepo.Update(ctx, tx); err != nil {
		return w.handleFailure(ctx, job, tx, workerID, &settlementFailure{code: ReasonInternalError, retryable: true, err: err}, logger)
	}
	w.recordEvent(ctx, tx, "settlement_completed", &oldStatus, &hash)

	if err := w.cards.RecordSpend(ctx, tx.CardID, tx.AmountMinor, now); err != nil {
		logger.WithError(err).Error("failed to record card spend")
	}
	if err := w.merchants.AddVolume(ctx, tx.MerchantID, tx.AmountMinor, now); err != nil {
		logger.WithError(err).Error("failed to record merchant volume")
	}
	if err := w.invalidateCard(ctx, tx.CardID); err != nil {
		logger.WithError(err).Warn("failed to invalidate decision cache")
	}

	w.notifier.TransactionUpdated(ctx, tx, "")
	w.notifier.MerchantEvent(ctx, tx, entity.EventTransactionCompleted)

	logger.WithFields(logrus.Fields{
		"receipt_hash": hash,
		"fee":          receipt.FeeMinor,
	}).Info("settlement completed")
	return w.queue.Complete(ctx, job.ID, workerID, now)
}

// handleFailure re-queues a retryable failure while attempts remain. Otherwise the job
// becomes terminal; only the worker that performs that transition fails the transaction
// and raises the review alert.
func (w *SettlementWorker) handleFailure(ctx context.Context, job *entity.SettlementJob, tx *entity.Transaction, workerID string, failure *settlementFailure, logger logrus.FieldLogger) error {
	now := w.now().UTC()
	lastErr := failure.Error()

	if failure.retryable && job.Attempts+1 < job.MaxAttempts {
		delay := w.backoff(job.Attempts)
		logger.WithError(failure.err).WithFields(logrus.Fields{
			"reason_code": failure.code,
			"retry_in":    delay.String(),
		}).Warn("settlement attempt failed, retrying")
		if err := w.queue.Retry(ctx, job.ID, workerID, now.Add(delay), lastErr, true, now); err != nil {
			return err
		}
		return failure
	}

	transitioned, err := w.queue.Fail(ctx, job.ID, workerID, lastErr, now)
	if err != nil {
		return err
	}
	if !transitioned {
		logger.Warn("settlement job lease lost before terminal failure")
		return failure
	}

	logger.WithError(failure.err).WithField("reason_code", failure.code).Error("settlement failed permanently")

	if tx != nil {
		oldStatus := tx.Status
		code := failure.code
		tx.Status = entity.TransactionStatusFailed
		tx.FailureReason = &code
		tx.UpdatedAt = now
		if err := w.txRepo.Update(ctx, tx); err != nil {
			logger.WithError(err).Error("failed to mark transaction failed")
		}
		w.recordEvent(ctx, tx, "settlement_failed", &oldStatus, &code)
		w.notifier.TransactionUpdated(ctx, tx, code)
	}

	if err := w.alerts.Create(ctx, &entity.ReviewAlert{
		TransactionID: job.TransactionID,
		JobID:         job.ID,
		Reason:        failure.code,
		Detail:        lastErr,
		CreatedAt:     now,
	}); err != nil {
		logger.WithError(err).Error("failed to raise review alert")
	}

	if tx != nil {
		w.notifier.MerchantEvent(ctx, tx, entity.EventTransactionFailed)
	}
	return failure
}

func (w *SettlementWorker) invalidateCard(ctx context.Context, cardID string) error {
	if err := w.store.Delete(ctx, cache.CardFactsKey(cardID), cache.LimitFactsKey(cardID)); err != nil {
		return err
	}
	return w.store.DeletePrefix(ctx, cache.DecisionPrefix(cardID))
}

func (w *SettlementWorker) backoff(attempt int32) time.Duration {
	base := w.cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	ceiling := w.cfg.BackoffCeiling
	delay := base
	for i := int32(0); i < attempt; i++ {
		delay *= 2
		if ceiling > 0 && delay >= ceiling {
			return ceiling
		}
	}
	if ceiling > 0 && delay > ceiling {
		return ceiling
	}
	return delay
}

func (w *SettlementWorker) recordEvent(ctx context.Context, tx *entity.Transaction, eventType string, oldStatus *string, detail *string) {
	if err := w.eventRepo.Create(ctx, &entity.TransactionEvent{
		TransactionID: tx.ID,
		EventType:     eventType,
		OldStatus:     oldStatus,
		NewStatus:     tx.Status,
		Detail:        detail,
		CreatedAt:     w.now().UTC(),
	}); err != nil {
		w.logger.WithError(err).WithField("transaction_id", tx.ID).Warn("failed to record transaction event")
	}
}

func classifyLedgerError(err error) *settlementFailure {
	failure := &settlementFailure{retryable: true, err: err}
	switch {
	case errors.Is(err, ledger.ErrTimeout):
		failure.code = ReasonLedgerTimeout
	case errors.Is(err, ledger.ErrReverted):
		failure.code = ReasonLedgerRejected
		failure.retryable = false
	case errors.Is(err, ledger.ErrRejected):
		failure.code = ReasonLedgerRejected
	case errors.Is(err, ledger.ErrSigning):
		failure.code = ReasonSigningError
	case errors.Is(err, ErrAttemptsExhausted):
		failure.code = ReasonInternalError
		failure.retryable = false
	default:
		failure.code = ReasonInternalError
	}
	return failure
}
