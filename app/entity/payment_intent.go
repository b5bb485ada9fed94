package entity

import "time"

const (
	IntentDecisionPending    = "pending"
	IntentDecisionAuthorized = "authorized"
	IntentDecisionDenied     = "denied"
)

// PaymentIntent is one tap attempt. It only lives in the decision cache.
type PaymentIntent struct {
	ID         string    `json:"id"`
	CardID     string    `json:"card_id"`
	UserID     string    `json:"user_id"`
	MerchantID string    `json:"merchant_id"`
	TerminalID string    `json:"terminal_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Decision   string    `json:"decision"`
	AuthCode   string    `json:"auth_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
