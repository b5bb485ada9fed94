package entity

import "time"

type DecisionReasons struct {
	CardValid bool  `json:"card_valid"`
	LimitsOk  bool  `json:"limits_ok"`
	FraudRisk bool  `json:"fraud_risk"`
	RiskScore int32 `json:"risk_score"`
}

// AuthorizationDecision is the outcome of one tap authorization. Non-fallback decisions
// are cached as-is under the (card, amount) decision key.
type AuthorizationDecision struct {
	IntentID   string          `json:"intent_id"`
	Authorized bool            `json:"authorized"`
	AuthCode   string          `json:"auth_code,omitempty"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
	Reasons    DecisionReasons `json:"reasons"`
	Fallback   bool            `json:"fallback"`
	ReasonCode string          `json:"reason_code,omitempty"`
	Headroom   int64           `json:"headroom"`

	CardID       string `json:"card_id"`
	UserID       string `json:"user_id"`
	PayerAddress string `json:"payer_address"`
	MerchantID   string `json:"merchant_id"`
	TerminalID   string `json:"terminal_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`

	DecidedAt time.Time `json:"decided_at"`
}
