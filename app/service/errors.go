package service

import "errors"

var (
	ErrInvalidRequest           = errors.New("invalid request")
	ErrAuthorizationUnavailable = errors.New("authorization service unavailable")
	ErrUnknownTerminal          = errors.New("unknown terminal")
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrInvalidStatus            = errors.New("invalid status")
	ErrSubscriptionNotFound     = errors.New("webhook subscription not found")
	ErrAttemptsExhausted        = errors.New("settlement attempts exhausted")
)

// Reason codes surfaced to payers, merchants and operators. Raw infrastructure errors
// never leave the service.
const (
	ReasonCardInvalid        = "card_invalid"
	ReasonLimitExceeded      = "limit_exceeded"
	ReasonFraudRisk          = "fraud_risk"
	ReasonServiceUnavailable = "service_unavailable"

	ReasonLedgerTimeout  = "ledger_timeout"
	ReasonLedgerRejected = "ledger_rejected"
	ReasonSigningError   = "signing_error"
	ReasonCardUnusable   = "card_unusable"
	ReasonInternalError  = "internal_error"
	ReasonCancelled      = "cancelled"
	ReasonExpired        = "expired"
)
