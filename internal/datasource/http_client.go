package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"oracle-service/internal/models"
)

// providerClient is the HTTP plumbing shared by every provider adapter.
type providerClient struct {
	name       string
	baseURL    string
	apiKey     string
	trust      float64
	httpClient *http.Client
}

func newProviderClient(name, baseURL, apiKey string, trust float64) providerClient {
	if trust <= 0 || trust > 1 {
		trust = 0.9
	}
	return providerClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		trust:   trust,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *providerClient) Name() string { return c.name }

// getJSON issues a GET and decodes the body into dest, mapping transport
// failures onto the adapter error kinds.
func (c *providerClient) getJSON(ctx context.Context, path string, params url.Values, dest any) error {
	if c.baseURL == "" {
		return models.NewAdapterError(models.ErrUnavailable, c.name, errors.New("provider base url not configured"))
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.NewAdapterError(models.ErrInvalidQuery, c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewAdapterError(classifyTransportError(ctx, err), c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.NewAdapterError(classifyTransportError(ctx, err), c.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return models.NewAdapterError(models.ErrInvalidQuery, c.name,
			fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(body, 200)))
	case resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout:
		return models.NewAdapterError(models.ErrTimeout, c.name, fmt.Errorf("provider returned %d", resp.StatusCode))
	default:
		return models.NewAdapterError(models.ErrUnavailable, c.name,
			fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return models.NewAdapterError(models.ErrUnavailable, c.name, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrTimeout
	}
	return models.ErrUnavailable
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func parseObservedAt(raw string) time.Time {
	if raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
