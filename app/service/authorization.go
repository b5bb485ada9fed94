package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-tap-payments/app/cache"
	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
	"github.com/vibast-solutions/ms-go-tap-payments/app/factory"
	"github.com/vibast-solutions/ms-go-tap-payments/config"
	"golang.org/x/sync/errgroup"
)

type authorizeRequest interface {
	GetCardId() string
	GetAmount() int64
	GetCurrency() string
	GetTerminalId() string
}

type cardReader interface {
	FindByID(ctx context.Context, id string) (*entity.Card, error)
}

type terminalReader interface {
	FindTerminal(ctx context.Context, terminalID string) (*entity.Terminal, error)
}

type cardFacts struct {
	Found         bool      `json:"found"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	WalletAddress string    `json:"wallet_address"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (f cardFacts) eligible(now time.Time) bool {
	return f.Found && f.Status == entity.CardStatusActive && now.Before(f.ExpiresAt)
}

type limitFacts struct {
	DailyLimit   int64  `json:"daily_limit"`
	MonthlyLimit int64  `json:"monthly_limit"`
	DailySpent   int64  `json:"daily_spent"`
	MonthlySpent int64  `json:"monthly_spent"`
	SpendDay     string `json:"spend_day"`
	SpendMonth   string `json:"spend_month"`
}

func (f limitFacts) headroom(now time.Time) int64 {
	card := entity.Card{
		DailySpentMinor:   f.DailySpent,
		MonthlySpentMinor: f.MonthlySpent,
		SpendDay:          f.SpendDay,
		SpendMonth:        f.SpendMonth,
	}
	daily, monthly := card.SpentFor(now)
	return min(f.DailyLimit-daily, f.MonthlyLimit-monthly)
}

// fraudProfile holds the score components that depend only on the tap itself. The
// velocity component is added per request from the rolling window.
type fraudProfile struct {
	AmountScore int32 `json:"amount_score"`
	TimeScore   int32 `json:"time_score"`
}

type terminalFacts struct {
	Found      bool   `json:"found"`
	MerchantID string `json:"merchant_id"`
	Active     bool   `json:"active"`
}

type AuthorizationEngine struct {
	store     cache.Store
	cards     cardReader
	terminals terminalReader
	node      *snowflake.Node
	cfg       config.AuthorizationConfig
	secret    []byte
	location  *time.Location
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewAuthorizationEngine(
	store cache.Store,
	cards cardReader,
	terminals terminalReader,
	node *snowflake.Node,
	cfg config.AuthorizationConfig,
) *AuthorizationEngine {
	logger := factory.NewModuleLogger("authorization")

	secret := []byte(strings.TrimSpace(cfg.AuthCodeSecret))
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
		logger.Warn("AUTH_CODE_SECRET is empty, using an ephemeral secret")
	}

	location, err := time.LoadLocation(cfg.Location)
	if err != nil {
		location = time.UTC
	}

	return &AuthorizationEngine{
		store:     store,
		cards:     cards,
		terminals: terminals,
		node:      node,
		cfg:       cfg,
		secret:    secret,
		location:  location,
		logger:    logger,
		now:       time.Now,
	}
}

// Authorize answers whether a tap may proceed. Any failure to establish the facts
// yields a well-formed fallback denial together with ErrAuthorizationUnavailable.
func (e *AuthorizationEngine) Authorize(ctx context.Context, req authorizeRequest) (*entity.AuthorizationDecision, error) {
	cardID := strings.TrimSpace(req.GetCardId())
	terminalID := strings.TrimSpace(req.GetTerminalId())
	currency := strings.ToUpper(strings.TrimSpace(req.GetCurrency()))
	amount := req.GetAmount()
	if cardID == "" || terminalID == "" || amount <= 0 {
		return nil, ErrInvalidRequest
	}

	if e.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Budget)
		defer cancel()
	}

	now := e.now().UTC()
	decision, err := e.decide(ctx, cardID, terminalID, amount, currency, now)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, ErrUnknownTerminal) {
			return nil, err
		}
		e.logger.WithError(err).WithFields(logrus.Fields{
			"card_id":     cardID,
			"terminal_id": terminalID,
		}).Warn("authorization degraded to fallback denial")
		return fallbackDecision(cardID, terminalID, amount, currency, now), fmt.Errorf("%w: %v", ErrAuthorizationUnavailable, err)
	}

	if !decision.Authorized {
		e.logger.WithFields(logrus.Fields{
			"card_id":     cardID,
			"reason_code": decision.ReasonCode,
			"risk_score":  decision.Reasons.RiskScore,
		}).Info("tap denied")
	}
	return decision, nil
}

func (e *AuthorizationEngine) decide(ctx context.Context, cardID, terminalID string, amount int64, currency string, now time.Time) (*entity.AuthorizationDecision, error) {
	intentID := e.node.Generate().String()

	velocity, err := e.store.RecordEvent(ctx, cache.VelocityKey(cardID), intentID, now, e.cfg.VelocityWindow)
	if err != nil {
		return nil, err
	}

	var cached entity.AuthorizationDecision
	ok, err := cache.GetJSON(ctx, e.store, cache.DecisionKey(cardID, amount), &cached)
	if err != nil {
		return nil, err
	}
	if ok && e.reusable(&cached, terminalID, currency, now) {
		return &cached, nil
	}

	var (
		card     cardFacts
		limits   limitFacts
		profile  fraudProfile
		terminal terminalFacts
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		card, err = e.loadCardFacts(gctx, cardID)
		return err
	})
	g.Go(func() error {
		var err error
		limits, err = e.loadLimitFacts(gctx, cardID)
		return err
	})
	g.Go(func() error {
		var err error
		profile, err = e.loadFraudProfile(gctx, cardID, amount, now)
		return err
	})
	g.Go(func() error {
		var err error
		terminal, err = e.loadTerminalFacts(gctx, terminalID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !terminal.Found || !terminal.Active {
		return nil, ErrUnknownTerminal
	}

	score := profile.AmountScore + profile.TimeScore + velocityScore(velocity)
	headroom := limits.headroom(now)
	decision := &entity.AuthorizationDecision{
		IntentID: intentID,
		Reasons: entity.DecisionReasons{
			CardValid: card.eligible(now),
			LimitsOk:  amount <= headroom,
			FraudRisk: score >= e.cfg.FraudThreshold,
			RiskScore: score,
		},
		Headroom:     headroom,
		CardID:       cardID,
		UserID:       card.UserID,
		PayerAddress: card.WalletAddress,
		MerchantID:   terminal.MerchantID,
		TerminalID:   terminalID,
		Amount:       amount,
		Currency:     currency,
		DecidedAt:    now,
	}

	intent := entity.PaymentIntent{
		ID:         intentID,
		CardID:     cardID,
		UserID:     card.UserID,
		MerchantID: terminal.MerchantID,
		TerminalID: terminalID,
		Amount:     amount,
		Currency:   currency,
		Decision:   entity.IntentDecisionDenied,
		CreatedAt:  now,
		ExpiresAt:  now.Add(e.cfg.IntentTTL),
	}

	ttl := e.cfg.DenyDecisionTTL
	if decision.Reasons.CardValid && decision.Reasons.LimitsOk && !decision.Reasons.FraudRisk {
		validUntil := now.Add(e.cfg.AuthCodeTTL)
		decision.Authorized = true
		decision.AuthCode = mintAuthCode(e.secret, intentID, cardID, amount, validUntil)
		decision.ValidUntil = &validUntil
		intent.Decision = entity.IntentDecisionAuthorized
		intent.AuthCode = decision.AuthCode
		ttl = e.cfg.ApproveDecisionTTL
	} else {
		decision.ReasonCode = denialReason(decision.Reasons)
	}

	if err := cache.SetJSON(ctx, e.store, cache.IntentKey(intentID), intent, e.cfg.IntentTTL); err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, e.store, cache.DecisionKey(cardID, amount), decision, ttl); err != nil {
		return nil, err
	}
	return decision, nil
}

// reusable reports whether a cached decision still answers this tap. A cached approval
// is only served while its auth code verifies under the current secret.
func (e *AuthorizationEngine) reusable(cached *entity.AuthorizationDecision, terminalID, currency string, now time.Time) bool {
	if cached.TerminalID != terminalID || cached.Currency != currency {
		return false
	}
	if !cached.Authorized {
		return true
	}
	return cached.ValidUntil != nil &&
		VerifyAuthCode(e.secret, cached.AuthCode, cached.IntentID, cached.CardID, cached.Amount, *cached.ValidUntil, now)
}

func (e *AuthorizationEngine) loadCardFacts(ctx context.Context, cardID string) (cardFacts, error) {
	var facts cardFacts
	key := cache.CardFactsKey(cardID)
	if ok, err := cache.GetJSON(ctx, e.store, key, &facts); err != nil || ok {
		return facts, err
	}

	card, err := e.cards.FindByID(ctx, cardID)
	if err != nil {
		return facts, err
	}
	if card != nil {
		facts = cardFacts{
			Found:         true,
			UserID:        card.UserID,
			Status:        card.Status,
			WalletAddress: card.WalletAddress,
			ExpiresAt:     card.ExpiresAt,
		}
	}
	e.backfill(ctx, key, facts, e.cfg.CardFactsTTL)
	return facts, nil
}

func (e *AuthorizationEngine) loadLimitFacts(ctx context.Context, cardID string) (limitFacts, error) {
	var facts limitFacts
	key := cache.LimitFactsKey(cardID)
	if ok, err := cache.GetJSON(ctx, e.store, key, &facts); err != nil || ok {
		return facts, err
	}

	card, err := e.cards.FindByID(ctx, cardID)
	if err != nil {
		return facts, err
	}
	if card != nil {
		facts = limitFacts{
			DailyLimit:   card.DailyLimitMinor,
			MonthlyLimit: card.MonthlyLimitMinor,
			DailySpent:   card.DailySpentMinor,
			MonthlySpent: card.MonthlySpentMinor,
			SpendDay:     card.SpendDay,
			SpendMonth:   card.SpendMonth,
		}
	}
	e.backfill(ctx, key, facts, e.cfg.LimitFactsTTL)
	return facts, nil
}

func (e *AuthorizationEngine) loadFraudProfile(ctx context.Context, cardID string, amount int64, now time.Time) (fraudProfile, error) {
	var profile fraudProfile
	key := cache.FraudScoreKey(cardID, amount)
	if ok, err := cache.GetJSON(ctx, e.store, key, &profile); err != nil || ok {
		return profile, err
	}

	profile = fraudProfile{
		AmountScore: amountScore(amount),
		TimeScore:   timeOfDayScore(now, e.location),
	}
	e.backfill(ctx, key, profile, e.cfg.FraudScoreTTL)
	return profile, nil
}

func (e *AuthorizationEngine) loadTerminalFacts(ctx context.Context, terminalID string) (terminalFacts, error) {
	var facts terminalFacts
	key := cache.TerminalKey(terminalID)
	if ok, err := cache.GetJSON(ctx, e.store, key, &facts); err != nil || ok {
		return facts, err
	}

	terminal, err := e.terminals.FindTerminal(ctx, terminalID)
	if err != nil {
		return facts, err
	}
	if terminal != nil {
		facts = terminalFacts{Found: true, MerchantID: terminal.MerchantID, Active: terminal.Active}
	}
	e.backfill(ctx, key, facts, e.cfg.CardFactsTTL)
	return facts, nil
}

func (e *AuthorizationEngine) backfill(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if err := cache.SetJSON(ctx, e.store, key, value, ttl); err != nil {
		e.logger.WithError(err).WithField("key", key).Debug("cache backfill failed")
	}
}

func velocityScore(tapsInWindow int64) int32 {
	switch {
	case tapsInWindow >= 6:
		return 40
	case tapsInWindow >= 4:
		return 20
	default:
		return 0
	}
}

func amountScore(amount int64) int32 {
	switch {
	case amount >= 1_000_000:
		return 40
	case amount >= 500_000:
		return 20
	default:
		return 0
	}
}

func timeOfDayScore(now time.Time, location *time.Location) int32 {
	if now.In(location).Hour() < 5 {
		return 15
	}
	return 0
}

func denialReason(reasons entity.DecisionReasons) string {
	switch {
	case !reasons.CardValid:
		return ReasonCardInvalid
	case !reasons.LimitsOk:
		return ReasonLimitExceeded
	default:
		return ReasonFraudRisk
	}
}

func fallbackDecision(cardID, terminalID string, amount int64, currency string, now time.Time) *entity.AuthorizationDecision {
	return &entity.AuthorizationDecision{
		Authorized: false,
		Fallback:   true,
		ReasonCode: ReasonServiceUnavailable,
		CardID:     cardID,
		TerminalID: terminalID,
		Amount:     amount,
		Currency:   currency,
		DecidedAt:  now,
	}
}
