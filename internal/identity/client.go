package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"oracle-service/internal/config"
)

// Client asks the auth service whether a holder has finished eKYC.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type ekycProgress struct {
	UserID         string `json:"user_id"`
	IsOcrDone      bool   `json:"is_ocr_done"`
	IsFaceVerified bool   `json:"is_face_verified"`
}

type ekycEnvelope struct {
	Success bool         `json:"success"`
	Data    ekycProgress `json:"data"`
}

// IsVerified is true once both the ID card OCR and face liveness steps are
// done. A holder with no eKYC record is not verified.
func (c *Client) IsVerified(ctx context.Context, userID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/auth/protected/api/v2/ekyc-progress/%s", c.BaseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create ekyc request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to query ekyc progress: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("ekyc progress returned status %d", resp.StatusCode)
	}

	var body ekycEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to decode ekyc progress: %w", err)
	}

	return body.Success && body.Data.IsOcrDone && body.Data.IsFaceVerified, nil
}

// StaticVerifier answers from a fixed set. Used when no auth service is
// configured.
type StaticVerifier struct {
	AllowAll bool
	Verified map[string]bool
}

func (s StaticVerifier) IsVerified(_ context.Context, userID string) (bool, error) {
	return s.AllowAll || s.Verified[userID], nil
}

const (
	ModeHTTP   = "http"
	ModeStatic = "static"
)

// Verifier is what claim intake needs from identity.
type Verifier interface {
	IsVerified(ctx context.Context, userID string) (bool, error)
}

// NewVerifier builds the verifier for IDENTITY_MODE.
func NewVerifier(cfg config.IdentityConfig) (Verifier, error) {
	switch cfg.Mode {
	case "", ModeHTTP:
		return NewClient(cfg.AuthServiceURL, cfg.Timeout), nil
	case ModeStatic:
		slog.Warn("IDENTITY_MODE is static, every holder is treated as eKYC verified")
		return StaticVerifier{AllowAll: true}, nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Mode)
	}
}
