package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"oracle-service/internal/models"

	"github.com/shopspring/decimal"
)

// Request moves Amount to ToAddress. IdempotencyKey is stable across retries
// of the same payout so the rail can drop duplicates.
type Request struct {
	ToAddress      string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Reference      string
}

// Client talks to the payment rail that executes payouts.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type transferPayload struct {
	ToAddress string          `json:"to_address"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference,omitempty"`
}

type transferResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// ErrorResponse is the rail's error body.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Code == "" && e.Message == "" {
		return "unknown transfer api error"
	}
	return fmt.Sprintf("transfer api error: %s - %s", e.Code, e.Message)
}

// Transfer returns the rail's transaction reference. Errors wrap
// models.ErrTransferFailed when the money definitely did not move, and
// models.ErrTransferAmbiguous when it may have.
func (c *Client) Transfer(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(transferPayload{
		ToAddress: req.ToAddress,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: req.Reference,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal transfer request: %v", models.ErrTransferFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create transfer request: %v", models.ErrTransferFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	if c.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if isDialError(err) {
			return "", fmt.Errorf("%w: %v", models.ErrTransferFailed, err)
		}
		return "", fmt.Errorf("%w: %v", models.ErrTransferAmbiguous, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read transfer response: %v", models.ErrTransferAmbiguous, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr ErrorResponse
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr != nil {
			apiErr.Message = fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
		}
		return "", fmt.Errorf("%w: %v", classifyStatus(resp.StatusCode), &apiErr)
	}

	var out transferResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("%w: failed to decode transfer response: %v", models.ErrTransferAmbiguous, err)
	}

	switch strings.ToLower(out.Status) {
	case "completed", "success", "succeeded":
		if out.TransactionID == "" {
			return "", fmt.Errorf("%w: completed transfer without transaction id", models.ErrTransferAmbiguous)
		}
		return out.TransactionID, nil
	case "failed", "rejected":
		return "", fmt.Errorf("%w: transfer %s reported %s", models.ErrTransferFailed, out.TransactionID, out.Status)
	default:
		return "", fmt.Errorf("%w: transfer %s in status %q", models.ErrTransferAmbiguous, out.TransactionID, out.Status)
	}
}

// classifyStatus treats client errors and 503 as definitive rejections. Other
// server errors may have happened after the debit.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusConflict:
		return models.ErrTransferAmbiguous
	case status >= 400 && status < 500:
		return models.ErrTransferFailed
	case status == http.StatusServiceUnavailable:
		return models.ErrTransferFailed
	default:
		return models.ErrTransferAmbiguous
	}
}

// isDialError is true when the request never reached the rail.
func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
