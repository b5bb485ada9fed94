package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
	"github.com/vibast-solutions/ms-go-tap-payments/app/types"
)

func TransactionToResponse(item *entity.Transaction) *types.Transaction {
	if item == nil {
		return nil
	}

	return &types.Transaction{
		Id:            item.ID,
		IntentId:      item.IntentID,
		UserId:        item.UserID,
		CardId:        item.CardID,
		MerchantId:    item.MerchantID,
		TerminalId:    item.TerminalID,
		Amount:        item.AmountMinor,
		Fee:           item.FeeMinor,
		Total:         item.TotalMinor,
		Currency:      item.Currency,
		Status:        item.Status,
		ReceiptHash:   derefString(item.ReceiptHash),
		FailureReason: derefString(item.FailureReason),
		CreatedAt:     formatTime(item.CreatedAt),
		UpdatedAt:     formatTime(item.UpdatedAt),
		CompletedAt:   formatTimePtr(item.CompletedAt),
	}
}

// TapToResponse shapes a decision for the terminal. tx is nil for denials and fallbacks.
func TapToResponse(decision *entity.AuthorizationDecision, tx *entity.Transaction) *types.TapResponse {
	if decision == nil {
		return nil
	}

	resp := &types.TapResponse{
		Authorized: decision.Authorized,
		IntentId:   decision.IntentID,
		AuthCode:   decision.AuthCode,
		ValidUntil: formatTimePtr(decision.ValidUntil),
		Reasons: &types.AuthorizationReasons{
			CardValid: decision.Reasons.CardValid,
			LimitsOk:  decision.Reasons.LimitsOk,
			FraudRisk: decision.Reasons.FraudRisk,
			RiskScore: decision.Reasons.RiskScore,
		},
		ReasonCode: decision.ReasonCode,
		Fallback:   decision.Fallback,
	}
	if tx != nil {
		resp.TransactionId = tx.ID
	}
	return resp
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
