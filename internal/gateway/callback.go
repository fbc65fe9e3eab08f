package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CallbackSignatureHeader carries the hex HMAC over the callback route and raw body.
const CallbackSignatureHeader = "X-Gateway-Signature"

type callbackPayload struct {
	TransactionID string `json:"transaction_id"`
	SessionID     string `json:"session_id"`
	CorrelationID string `json:"correlation_id"`
	Status        string `json:"status"`
	ResponseCode  string `json:"response_code"`
	Message       string `json:"message"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	BillingToken  string `json:"billing_token"`
	OccurredAt    int64  `json:"occurred_at"`
}

// DecodeCallback parses a gateway callback body. It does not authenticate
// it; signature checks happen before this is trusted.
func DecodeCallback(raw []byte) (PaymentOutcome, error) {
	var payload callbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PaymentOutcome{}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	outcome := PaymentOutcome{
		TransactionID: strings.TrimSpace(payload.TransactionID),
		SessionID:     strings.TrimSpace(payload.SessionID),
		CorrelationID: strings.TrimSpace(payload.CorrelationID),
		ResponseCode:  strings.TrimSpace(payload.ResponseCode),
		Message:       strings.TrimSpace(payload.Message),
		Amount:        payload.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(payload.Currency)),
		BillingToken:  strings.TrimSpace(payload.BillingToken),
	}
	if payload.OccurredAt > 0 {
		outcome.OccurredAt = time.Unix(payload.OccurredAt, 0).UTC()
	}

	switch strings.ToLower(strings.TrimSpace(payload.Status)) {
	case "approved":
		outcome.Approved = true
	case "declined":
		outcome.Approved = false
	default:
		return PaymentOutcome{}, fmt.Errorf("%w: unknown status %q", ErrInvalidCallback, payload.Status)
	}

	if outcome.TransactionID == "" || outcome.SessionID == "" {
		return PaymentOutcome{}, fmt.Errorf("%w: missing transaction or session id", ErrInvalidCallback)
	}
	if outcome.Amount <= 0 || len(outcome.Currency) != 3 {
		return PaymentOutcome{}, fmt.Errorf("%w: invalid amount", ErrInvalidCallback)
	}
	return outcome, nil
}
