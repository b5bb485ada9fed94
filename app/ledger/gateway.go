package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	receiptStatusIncluded = "included"
	receiptStatusPending  = "pending"
	receiptStatusReverted = "reverted"
)

type GatewayConfig struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration
	PollEvery   time.Duration
}

// GatewayClient talks to the ledger gateway that holds custody keys and relays
// transfers to the network.
type GatewayClient struct {
	cfg    GatewayConfig
	client *http.Client
}

func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 500 * time.Millisecond
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	return &GatewayClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type transferPayload struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
	Fee    int64  `json:"fee"`
	Block  uint64 `json:"block"`
}

type gatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TxHash  string `json:"tx_hash"`
}

func (c *GatewayClient) FindByReference(ctx context.Context, reference string) (*Submission, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/v1/transfers?reference="+url.QueryEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 400 {
		return nil, fmt.Errorf("ledger find by reference failed: status=%d body=%s", status, string(body))
	}

	var payload transferPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if strings.TrimSpace(payload.TxHash) == "" {
		return nil, nil
	}

	submission := &Submission{Hash: payload.TxHash}
	switch payload.Status {
	case receiptStatusIncluded:
		submission.Receipt = &Receipt{Hash: payload.TxHash, FeeMinor: payload.Fee, Block: payload.Block}
	case receiptStatusReverted:
		return nil, fmt.Errorf("%w: transfer %s", ErrReverted, payload.TxHash)
	}
	return submission, nil
}

func (c *GatewayClient) Submit(ctx context.Context, transfer Transfer) (string, error) {
	request := map[string]interface{}{
		"reference": transfer.Reference,
		"from":      transfer.From,
		"to":        transfer.To,
		"amount":    transfer.AmountMinor,
		"currency":  transfer.Currency,
		"max_fee":   transfer.FeeBudgetMinor,
	}
	encoded, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	body, status, err := c.do(ctx, http.MethodPost, "/v1/transfers", encoded)
	if err != nil {
		return "", err
	}

	switch {
	case status == http.StatusConflict:
		// already submitted under this reference
		var gwErr gatewayError
		if json.Unmarshal(body, &gwErr) == nil && strings.TrimSpace(gwErr.TxHash) != "" {
			return gwErr.TxHash, nil
		}
		return "", fmt.Errorf("ledger submit conflict without tx hash: body=%s", string(body))
	case status == http.StatusUnprocessableEntity:
		var gwErr gatewayError
		_ = json.Unmarshal(body, &gwErr)
		if gwErr.Code == "signing_failed" {
			return "", fmt.Errorf("%w: %s", ErrSigning, gwErr.Message)
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, gwErr.Message)
	case status >= 400:
		return "", fmt.Errorf("ledger submit failed: status=%d body=%s", status, string(body))
	}

	var payload transferPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	if strings.TrimSpace(payload.TxHash) == "" {
		return "", errors.New("ledger submit returned empty tx hash")
	}
	return payload.TxHash, nil
}

func (c *GatewayClient) WaitForReceipt(ctx context.Context, hash string) (*Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollEvery)
	defer ticker.Stop()

	for {
		receipt, err := c.fetchReceipt(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, hash)
			}
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrTimeout, hash)
		case <-ticker.C:
		}
	}
}

func (c *GatewayClient) fetchReceipt(ctx context.Context, hash string) (*Receipt, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/v1/transfers/"+url.PathEscape(hash)+"/receipt", nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 400 {
		return nil, fmt.Errorf("ledger get receipt failed: status=%d body=%s", status, string(body))
	}

	var payload transferPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	switch payload.Status {
	case receiptStatusIncluded:
		return &Receipt{Hash: hash, FeeMinor: payload.Fee, Block: payload.Block}, nil
	case receiptStatusReverted:
		return nil, fmt.Errorf("%w: transfer %s", ErrReverted, hash)
	default:
		return nil, nil
	}
}

func (c *GatewayClient) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	if c.cfg.BaseURL == "" {
		return nil, 0, ErrNotConfigured
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
