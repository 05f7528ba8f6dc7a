package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// httpClient wraps outbound HTTP to a single provider behind a circuit
// breaker. A tripped breaker fails fast with ErrUnreachable instead of
// piling requests onto a struggling gateway.
type httpClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func newHTTPClient(name string, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &httpClient{
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// PostJSON sends a JSON body and returns the raw response body.
func (c *httpClient) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// PostForm sends urlencoded form data and returns the raw response body.
func (c *httpClient) PostForm(ctx context.Context, url, form string) ([]byte, error) {
	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(form)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

func (c *httpClient) do(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	respBody, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, body)
		}

		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnreachable)
		}
		return nil, err
	}
	return respBody, nil
}
