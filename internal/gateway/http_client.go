package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"reseller/pkg/errors"
	"reseller/pkg/logger"
)

type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Secret  string
	Timeout time.Duration
}

// HTTPClient is the REST binding of Client.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	signer     *Signer
	httpClient *http.Client
	logger     logger.Logger
	now        func() time.Time
}

func NewHTTPClient(cfg HTTPClientConfig, log logger.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		signer:     NewSigner(cfg.Secret),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log,
		now:        time.Now,
	}
}

type payoutResponse struct {
	Status                 string `json:"status"`
	ProviderTransactionRef string `json:"provider_transaction_ref"`
	Reason                 string `json:"reason"`
	Amount                 string `json:"amount"`
	Currency               string `json:"currency"`
	ReasonCode             string `json:"reason_code"`
}

// Submit posts a payout. 5xx, 408, 429 and transport errors are reported as
// ErrGatewayTimeout so the caller can retry with the same reference; a 409
// means the provider already holds this reference and counts as accepted.
func (c *HTTPClient) Submit(ctx context.Context, req *PayoutRequest) (*SubmitResult, error) {
	status, body, err := c.do(ctx, http.MethodPost, "/v1/payouts", req)
	if err != nil {
		return nil, err
	}

	var resp payoutResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil && status < 300 {
			return nil, fmt.Errorf("%w: unreadable response: %v", errors.ErrGatewayTimeout, err)
		}
	}

	switch {
	case transientStatus(status):
		return nil, fmt.Errorf("%w: provider returned %d", errors.ErrGatewayTimeout, status)
	case status == http.StatusConflict:
		return &SubmitResult{Accepted: true, ProviderTransactionRef: resp.ProviderTransactionRef}, nil
	case status >= 400:
		reason := resp.Reason
		if reason == "" {
			reason = fmt.Sprintf("provider returned %d", status)
		}
		return &SubmitResult{Accepted: false, Reason: reason}, nil
	}

	if strings.EqualFold(resp.Status, "rejected") || strings.EqualFold(resp.Status, "failed") {
		return &SubmitResult{Accepted: false, ProviderTransactionRef: resp.ProviderTransactionRef, Reason: resp.Reason}, nil
	}
	return &SubmitResult{Accepted: true, ProviderTransactionRef: resp.ProviderTransactionRef}, nil
}

func transientStatus(status int) bool {
	return status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func (c *HTTPClient) QueryStatus(ctx context.Context, appTransactionRef string) (*StatusResult, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/v1/payouts/"+url.PathEscape(appTransactionRef), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &StatusResult{Status: StatusNotFound}, nil
	}
	if status >= 300 {
		return nil, fmt.Errorf("%w: status query returned %d", errors.ErrGatewayTimeout, status)
	}

	var resp payoutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unreadable status: %v", errors.ErrGatewayTimeout, err)
	}

	result := &StatusResult{
		ProviderTransactionRef: resp.ProviderTransactionRef,
		ReasonCode:             resp.ReasonCode,
		Currency:               resp.Currency,
	}
	switch Status(strings.ToLower(resp.Status)) {
	case StatusSuccess:
		result.Status = StatusSuccess
	case StatusFailed:
		result.Status = StatusFailed
	case StatusNotFound:
		result.Status = StatusNotFound
	default:
		result.Status = StatusPending
	}
	if resp.Amount != "" {
		if amt, err := decimal.NewFromString(resp.Amount); err == nil {
			result.Amount = &amt
		}
	}
	return result, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", c.signer.Sign(append(append([]byte{}, body...), []byte("."+ts)...)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Payout gateway unreachable", map[string]interface{}{
			"method": method,
			"path":   path,
			"error":  err,
		})
		return 0, nil, fmt.Errorf("%w: %v", errors.ErrGatewayTimeout, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading response: %v", errors.ErrGatewayTimeout, err)
	}

	c.logger.Debug("Payout gateway responded", map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": resp.StatusCode,
	})
	return resp.StatusCode, respBody, nil
}
