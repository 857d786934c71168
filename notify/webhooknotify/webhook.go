// Package webhooknotify publishes run-completion events to an HTTP
// webhook endpoint. Retry/backoff shape is grounded on the reference
// webhook adapter's hand-rolled exponential backoff loop.
package webhooknotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/justapithecus/cascadewatch/iox"
	"github.com/justapithecus/cascadewatch/notify"
)

// Config controls webhook delivery.
type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Retries int
}

// Adapter publishes RunCompletedEvent payloads to a webhook URL.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook Adapter.
func New(config Config) *Adapter {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Adapter{config: config, client: &http.Client{Timeout: config.Timeout}}
}

// StatusError carries the HTTP status code from a failed delivery.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("webhook: unexpected status %d", e.Code) }

// Publish delivers event to the configured webhook, retrying transient
// failures with exponential backoff (500ms, doubling per retry) up to Retries
// additional attempts. 4xx responses are treated as terminal.
func (a *Adapter) Publish(ctx context.Context, event *notify.RunCompletedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	attempts := 1 + a.config.Retries
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("webhook: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}
		lastErr = a.doRequest(ctx, body)
		if lastErr == nil {
			return nil
		}
		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return fmt.Errorf("webhook: non-retriable error: %w", lastErr)
		}
	}
	return fmt.Errorf("webhook: all attempts failed: %w", lastErr)
}

func (a *Adapter) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases adapter resources (none held beyond the HTTP client).
func (a *Adapter) Close() error { return nil }
