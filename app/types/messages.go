package types

// Wire messages shared by the HTTP and gRPC transports. Getters are nil-safe so
// services can depend on small request interfaces.

type TapRequest struct {
	CardId     string `json:"card_id" validate:"required,max=64"`
	Amount     int64  `json:"amount" validate:"gt=0"`
	Currency   string `json:"currency" validate:"required,len=3,alpha"`
	TerminalId string `json:"terminal_id" validate:"required,max=64"`
}

func (r *TapRequest) GetCardId() string {
	if r == nil {
		return ""
	}
	return r.CardId
}

func (r *TapRequest) GetAmount() int64 {
	if r == nil {
		return 0
	}
	return r.Amount
}

func (r *TapRequest) GetCurrency() string {
	if r == nil {
		return ""
	}
	return r.Currency
}

func (r *TapRequest) GetTerminalId() string {
	if r == nil {
		return ""
	}
	return r.TerminalId
}

type AuthorizationReasons struct {
	CardValid bool  `json:"card_valid"`
	LimitsOk  bool  `json:"limits_ok"`
	FraudRisk bool  `json:"fraud_risk"`
	RiskScore int32 `json:"risk_score"`
}

type TapResponse struct {
	Authorized    bool                  `json:"authorized"`
	IntentId      string                `json:"intent_id,omitempty"`
	AuthCode      string                `json:"auth_code,omitempty"`
	ValidUntil    string                `json:"valid_until,omitempty"`
	TransactionId string                `json:"transaction_id,omitempty"`
	Reasons       *AuthorizationReasons `json:"reasons"`
	ReasonCode    string                `json:"reason_code,omitempty"`
	Fallback      bool                  `json:"fallback"`
}

func (r *TapResponse) GetAuthorized() bool {
	if r == nil {
		return false
	}
	return r.Authorized
}

func (r *TapResponse) GetTransactionId() string {
	if r == nil {
		return ""
	}
	return r.TransactionId
}

func (r *TapResponse) GetReasonCode() string {
	if r == nil {
		return ""
	}
	return r.ReasonCode
}

func (r *TapResponse) GetReasons() *AuthorizationReasons {
	if r == nil {
		return nil
	}
	return r.Reasons
}

type Transaction struct {
	Id            string `json:"id"`
	IntentId      string `json:"intent_id"`
	UserId        string `json:"user_id"`
	CardId        string `json:"card_id"`
	MerchantId    string `json:"merchant_id"`
	TerminalId    string `json:"terminal_id"`
	Amount        int64  `json:"amount"`
	Fee           int64  `json:"fee"`
	Total         int64  `json:"total"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	ReceiptHash   string `json:"receipt_hash,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

func (t *Transaction) GetId() string {
	if t == nil {
		return ""
	}
	return t.Id
}

func (t *Transaction) GetStatus() string {
	if t == nil {
		return ""
	}
	return t.Status
}

type GetTransactionRequest struct {
	Id string `json:"id" validate:"required,max=64"`
}

func (r *GetTransactionRequest) GetId() string {
	if r == nil {
		return ""
	}
	return r.Id
}

type CancelTransactionRequest struct {
	Id     string `json:"id" validate:"required,max=64"`
	Reason string `json:"reason" validate:"max=255"`
}

func (r *CancelTransactionRequest) GetId() string {
	if r == nil {
		return ""
	}
	return r.Id
}

func (r *CancelTransactionRequest) GetReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

type TransactionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

func (r *TransactionResponse) GetTransaction() *Transaction {
	if r == nil {
		return nil
	}
	return r.Transaction
}

type StreamEventsRequest struct {
	UserId string `json:"user_id" validate:"required,max=64"`
}

func (r *StreamEventsRequest) GetUserId() string {
	if r == nil {
		return ""
	}
	return r.UserId
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
