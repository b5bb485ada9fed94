package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
	"github.com/vibast-solutions/ms-go-tap-payments/app/ledger"
	"github.com/vibast-solutions/ms-go-tap-payments/app/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type tapReq struct {
	cardID     string
	amount     int64
	currency   string
	terminalID string
}

func (r tapReq) GetCardId() string     { return r.cardID }
func (r tapReq) GetAmount() int64      { return r.amount }
func (r tapReq) GetCurrency() string   { return r.currency }
func (r tapReq) GetTerminalId() string { return r.terminalID }

type cancelReq struct {
	id     string
	reason string
}

func (r cancelReq) GetId() string     { return r.id }
func (r cancelReq) GetReason() string { return r.reason }

type serviceCardRepo struct {
	mu      sync.Mutex
	cards   map[string]*entity.Card
	lookups int
	err     error
	block   bool
}

func newServiceCardRepo(cards ...*entity.Card) *serviceCardRepo {
	repo := &serviceCardRepo{cards: map[string]*entity.Card{}}
	for _, card := range cards {
		repo.cards[card.ID] = card
	}
	return repo
}

func (r *serviceCardRepo) FindByID(ctx context.Context, id string) (*entity.Card, error) {
	r.mu.Lock()
	r.lookups++
	block, err := r.block, r.err
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[id]
	if !ok {
		return nil, nil
	}
	copyItem := *card
	return &copyItem, nil
}

func (r *serviceCardRepo) RecordSpend(_ context.Context, cardID string, amount int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	card, ok := r.cards[cardID]
	if !ok {
		return repository.ErrCardNotFound
	}
	daily, monthly := card.SpentFor(now)
	card.DailySpentMinor = daily + amount
	card.MonthlySpentMinor = monthly + amount
	card.SpendDay = now.Format("2006-01-02")
	card.SpendMonth = now.Format("2006-01")
	return nil
}

func (r *serviceCardRepo) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

type serviceMerchantRepo struct {
	mu        sync.Mutex
	merchants map[string]*entity.Merchant
	terminals map[string]*entity.Terminal
}

func newServiceMerchantRepo() *serviceMerchantRepo {
	return &serviceMerchantRepo{
		merchants: map[string]*entity.Merchant{
			"merchant-1": {ID: "merchant-1", WalletAddress: "0xmerchant"},
		},
		terminals: map[string]*entity.Terminal{
			"term-1":   {ID: "term-1", MerchantID: "merchant-1", Active: true},
			"term-off": {ID: "term-off", MerchantID: "merchant-1", Active: false},
		},
	}
}

func (r *serviceMerchantRepo) FindByID(_ context.Context, id string) (*entity.Merchant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.merchants[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *serviceMerchantRepo) AddVolume(_ context.Context, id string, amount int64, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.merchants[id]
	if !ok {
		return repository.ErrMerchantNotFound
	}
	item.LifetimeVolumeMinor += amount
	return nil
}

func (r *serviceMerchantRepo) FindTerminal(_ context.Context, terminalID string) (*entity.Terminal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.terminals[terminalID]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

type serviceTransactionRepo struct {
	mu    sync.Mutex
	items map[string]*entity.Transaction
}

func newServiceTransactionRepo() *serviceTransactionRepo {
	return &serviceTransactionRepo{items: map[string]*entity.Transaction{}}
}

func (r *serviceTransactionRepo) Create(_ context.Context, tx *entity.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.IntentID == tx.IntentID {
			return repository.ErrTransactionAlreadyExists
		}
	}
	copyItem := *tx
	r.items[tx.ID] = &copyItem
	return nil
}

func (r *serviceTransactionRepo) Update(_ context.Context, tx *entity.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[tx.ID]; !ok {
		return repository.ErrTransactionNotFound
	}
	copyItem := *tx
	r.items[tx.ID] = &copyItem
	return nil
}

func (r *serviceTransactionRepo) TransitionStatus(_ context.Context, id string, from []string, to string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if item.Status == status {
			item.Status = to
			item.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (r *serviceTransactionRepo) FindByID(_ context.Context, id string) (*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *serviceTransactionRepo) FindByIntentID(_ context.Context, intentID string) (*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.IntentID == intentID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (r *serviceTransactionRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Transaction, 0)
	for _, item := range r.items {
		if item.Status == entity.TransactionStatusPending && !item.CreatedAt.After(cutoff) {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
	if limit > 0 && int(limit) < len(items) {
		items = items[:limit]
	}
	return items, nil
}

func (r *serviceTransactionRepo) only() *entity.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		copyItem := *item
		return &copyItem
	}
	return nil
}

func (r *serviceTransactionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type serviceEventRepo struct {
	mu     sync.Mutex
	events []*entity.TransactionEvent
}

func (r *serviceEventRepo) Create(_ context.Context, event *entity.TransactionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *event
	r.events = append(r.events, &copyItem)
	return nil
}

func (r *serviceEventRepo) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.EventType)
	}
	return out
}

// serviceQueue mirrors the guarded status transitions of the MySQL queue.
type serviceQueue struct {
	mu          sync.Mutex
	jobs        map[string]*entity.SettlementJob
	enqueueErrs []error
}

func newServiceQueue() *serviceQueue {
	return &serviceQueue{jobs: map[string]*entity.SettlementJob{}}
}

func (q *serviceQueue) Enqueue(_ context.Context, job *entity.SettlementJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.enqueueErrs) > 0 {
		err := q.enqueueErrs[0]
		q.enqueueErrs = q.enqueueErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, item := range q.jobs {
		if item.TransactionID == job.TransactionID {
			return repository.ErrJobAlreadyExists
		}
	}
	copyItem := *job
	q.jobs[job.ID] = &copyItem
	return nil
}

func (q *serviceQueue) FindByTransactionID(_ context.Context, transactionID string) (*entity.SettlementJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.jobs {
		if item.TransactionID == transactionID {
			copyItem := *item
			return &copyItem, nil
		}
	}
	return nil, nil
}

func (q *serviceQueue) Claim(_ context.Context, workerID string, now time.Time, lease time.Duration) (*entity.SettlementJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidate *entity.SettlementJob
	for _, item := range q.jobs {
		due := item.Status == entity.JobStatusWaiting && !item.AvailableAt.After(now)
		expired := item.Status == entity.JobStatusActive && item.LockedUntil != nil && item.LockedUntil.Before(now)
		if !due && !expired {
			continue
		}
		if candidate == nil || item.AvailableAt.Before(candidate.AvailableAt) {
			candidate = item
		}
	}
	if candidate == nil {
		return nil, nil
	}

	if candidate.Status == entity.JobStatusActive {
		candidate.Attempts = min(candidate.Attempts+1, candidate.MaxAttempts)
	}
	until := now.Add(lease)
	owner := workerID
	candidate.Status = entity.JobStatusActive
	candidate.LockedBy = &owner
	candidate.LockedUntil = &until
	copyItem := *candidate
	return &copyItem, nil
}

func (q *serviceQueue) owned(id, workerID string) (*entity.SettlementJob, bool) {
	item, ok := q.jobs[id]
	if !ok || item.Status != entity.JobStatusActive || item.LockedBy == nil || *item.LockedBy != workerID {
		return nil, false
	}
	return item, true
}

func (q *serviceQueue) Complete(_ context.Context, id, workerID string, _ time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.owned(id, workerID)
	if !ok {
		return repository.ErrJobLeaseLost
	}
	item.Status = entity.JobStatusCompleted
	item.LockedBy = nil
	item.LockedUntil = nil
	return nil
}

func (q *serviceQueue) Retry(_ context.Context, id, workerID string, availableAt time.Time, lastErr string, countAttempt bool, _ time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.owned(id, workerID)
	if !ok {
		return repository.ErrJobLeaseLost
	}
	if countAttempt {
		item.Attempts++
	}
	item.Status = entity.JobStatusWaiting
	item.AvailableAt = availableAt
	item.LastError = &lastErr
	item.LockedBy = nil
	item.LockedUntil = nil
	return nil
}

func (q *serviceQueue) Fail(_ context.Context, id, workerID string, lastErr string, _ time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.owned(id, workerID)
	if !ok {
		return false, nil
	}
	item.Attempts = min(item.Attempts+1, item.MaxAttempts)
	item.Status = entity.JobStatusFailed
	item.LastError = &lastErr
	item.LockedBy = nil
	item.LockedUntil = nil
	return true, nil
}

func (q *serviceQueue) CancelWaiting(_ context.Context, transactionID string, reason string, _ time.Time) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.jobs {
		if item.TransactionID == transactionID && item.Status == entity.JobStatusWaiting {
			item.Status = entity.JobStatusFailed
			item.LastError = &reason
			return true, nil
		}
	}
	return false, nil
}

func (q *serviceQueue) only() *entity.SettlementJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.jobs {
		copyItem := *item
		return &copyItem
	}
	return nil
}

func (q *serviceQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

type serviceAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]*entity.ReviewAlert
}

func newServiceAlertRepo() *serviceAlertRepo {
	return &serviceAlertRepo{alerts: map[string]*entity.ReviewAlert{}}
}

func (r *serviceAlertRepo) Create(_ context.Context, alert *entity.ReviewAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.JobID]; ok {
		return nil
	}
	copyItem := *alert
	r.alerts[alert.JobID] = &copyItem
	return nil
}

func (r *serviceAlertRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// serviceLedger answers Submit from a scripted list of errors; a nil entry accepts the
// transfer and makes it immediately includable.
type serviceLedger struct {
	mu          sync.Mutex
	submitErrs  []error
	submits     []ledger.Transfer
	byReference map[string]*ledger.Submission
	waitErr     error
	fee         int64
}

func newServiceLedger(submitErrs ...error) *serviceLedger {
	return &serviceLedger{
		submitErrs:  submitErrs,
		byReference: map[string]*ledger.Submission{},
		fee:         7,
	}
}

func (l *serviceLedger) FindByReference(_ context.Context, reference string) (*ledger.Submission, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.byReference[reference]
	if !ok {
		return nil, nil
	}
	copyItem := *sub
	return &copyItem, nil
}

func (l *serviceLedger) Submit(_ context.Context, transfer ledger.Transfer) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	attempt := len(l.submits)
	l.submits = append(l.submits, transfer)
	if attempt < len(l.submitErrs) && l.submitErrs[attempt] != nil {
		return "", l.submitErrs[attempt]
	}
	hash := "0xhash-" + string(rune('0'+attempt+1))
	l.byReference[transfer.Reference] = &ledger.Submission{Hash: hash}
	return hash, nil
}

func (l *serviceLedger) WaitForReceipt(_ context.Context, hash string) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.waitErr != nil {
		return nil, l.waitErr
	}
	receipt := &ledger.Receipt{Hash: hash, FeeMinor: l.fee, Block: 100}
	for _, sub := range l.byReference {
		if sub.Hash == hash {
			sub.Receipt = receipt
		}
	}
	return receipt, nil
}

func (l *serviceLedger) submitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.submits)
}

type serviceSubscriptionRepo struct {
	mu    sync.Mutex
	items map[uint64]*entity.WebhookSubscription
}

func newServiceSubscriptionRepo(subs ...*entity.WebhookSubscription) *serviceSubscriptionRepo {
	repo := &serviceSubscriptionRepo{items: map[uint64]*entity.WebhookSubscription{}}
	for _, sub := range subs {
		repo.items[sub.ID] = sub
	}
	return repo
}

func (r *serviceSubscriptionRepo) FindByID(_ context.Context, id uint64) (*entity.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copyItem := *item
	return &copyItem, nil
}

func (r *serviceSubscriptionRepo) ListActiveByMerchant(_ context.Context, merchantID string) ([]*entity.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.WebhookSubscription, 0)
	for _, item := range r.items {
		if item.MerchantID == merchantID && item.Active {
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *serviceSubscriptionRepo) RecordSuccess(_ context.Context, id uint64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return repository.ErrSubscriptionNotFound
	}
	status := entity.DeliveryStatusDelivered
	item.ConsecutiveFailures = 0
	item.LastDeliveryAt = &now
	item.LastDeliveryStatus = &status
	return nil
}

func (r *serviceSubscriptionRepo) RecordFailure(_ context.Context, id uint64, ceiling int32, now time.Time) (*entity.WebhookSubscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, repository.ErrSubscriptionNotFound
	}
	status := entity.DeliveryStatusFailed
	item.ConsecutiveFailures++
	if item.ConsecutiveFailures >= ceiling {
		item.Active = false
	}
	item.LastDeliveryAt = &now
	item.LastDeliveryStatus = &status
	copyItem := *item
	return &copyItem, nil
}

func (r *serviceSubscriptionRepo) Enable(_ context.Context, id uint64, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return repository.ErrSubscriptionNotFound
	}
	item.Active = true
	item.ConsecutiveFailures = 0
	return nil
}

type serviceDeliveryRepo struct {
	mu    sync.Mutex
	items map[string]*entity.WebhookDelivery
	order []string
}

func newServiceDeliveryRepo() *serviceDeliveryRepo {
	return &serviceDeliveryRepo{items: map[string]*entity.WebhookDelivery{}}
}

func (r *serviceDeliveryRepo) Create(_ context.Context, delivery *entity.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *delivery
	r.items[delivery.ID] = &copyItem
	r.order = append(r.order, delivery.ID)
	return nil
}

func (r *serviceDeliveryRepo) Update(_ context.Context, delivery *entity.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[delivery.ID]; !ok {
		return repository.ErrDeliveryNotFound
	}
	copyItem := *delivery
	r.items[delivery.ID] = &copyItem
	return nil
}

func (r *serviceDeliveryRepo) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int32) ([]*entity.WebhookDelivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.WebhookDelivery, 0)
	leasedUntil := now.Add(lease)
	for _, id := range r.order {
		if limit > 0 && len(items) >= int(limit) {
			break
		}
		item := r.items[id]
		if item.Status == entity.DeliveryStatusPending && item.NextAttemptAt != nil && !item.NextAttemptAt.After(now) {
			next := leasedUntil
			item.NextAttemptAt = &next
			copyItem := *item
			items = append(items, &copyItem)
		}
	}
	return items, nil
}

func (r *serviceDeliveryRepo) get(id string) *entity.WebhookDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil
	}
	copyItem := *item
	return &copyItem
}

func (r *serviceDeliveryRepo) all() []*entity.WebhookDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.WebhookDelivery, 0, len(r.order))
	for _, id := range r.order {
		copyItem := *r.items[id]
		items = append(items, &copyItem)
	}
	return items
}

// recordingNotifier captures fan-out calls without any transport.
type recordingNotifier struct {
	mu       sync.Mutex
	updates  []string
	reasons  []string
	merchant []string
}

func (n *recordingNotifier) TransactionUpdated(_ context.Context, tx *entity.Transaction, reasonCode string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, tx.Status)
	n.reasons = append(n.reasons, reasonCode)
}

func (n *recordingNotifier) MerchantEvent(_ context.Context, _ *entity.Transaction, event string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.merchant = append(n.merchant, event)
}

func (n *recordingNotifier) snapshot() ([]string, []string, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.updates...), append([]string(nil), n.reasons...), append([]string(nil), n.merchant...)
}

var errStoreDown = errors.New("store down")
