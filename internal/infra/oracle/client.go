// Package oracle is the request/response boundary to the persona commentary
// service. The service is opaque: it receives an opportunity and returns text.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"predict_go/internal/domain"
	"predict_go/internal/infra"
)

const maxAttempts = 3

type request struct {
	Ticker      string   `json:"ticker"`
	Price       float64  `json:"price"`
	Probability float64  `json:"probability"`
	EV          float64  `json:"ev"`
	Context     []string `json:"context,omitempty"`
}

type response struct {
	Commentary string `json:"commentary"`
}

// Client calls an HTTP oracle.
type Client struct {
	url        string
	httpClient *http.Client
}

// New returns the HTTP client for url, or a no-op oracle when url is empty.
func New(url string, timeout time.Duration) domain.Oracle {
	if url == "" {
		return Noop{}
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Commentary asks the oracle about o, retrying transient failures.
func (c *Client) Commentary(ctx context.Context, o domain.Opportunity, ev float64) (string, error) {
	body, err := json.Marshal(request{
		Ticker:      o.Ticker,
		Price:       o.Price,
		Probability: o.Probability,
		EV:          ev,
		Context:     o.Context,
	})
	if err != nil {
		return "", err
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			delay := infra.CalculateBackoff(i - 1)
			slog.Debug("retrying oracle request", slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		text, retry, err := c.do(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return "", lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", true, fmt.Errorf("oracle status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("oracle status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, err
	}
	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", false, fmt.Errorf("decode oracle response: %w", err)
	}
	return out.Commentary, false, nil
}

// Noop is the oracle used when none is configured.
type Noop struct{}

// Commentary returns an empty string.
func (Noop) Commentary(context.Context, domain.Opportunity, float64) (string, error) {
	return "", nil
}
