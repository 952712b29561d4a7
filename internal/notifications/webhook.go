package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Webhook posts JSON turn results to caller-supplied URLs.
type Webhook struct {
	logger *log.Logger
	client *http.Client
}

// NewWebhook creates a webhook notifier. A zero timeout defaults to 10s.
func NewWebhook(timeout time.Duration, logger *log.Logger) *Webhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		logger: logger,
		client: &http.Client{Timeout: timeout},
	}
}

// StatusError is returned when the webhook answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
}

// Post sends payload as JSON to url and waits for the response.
func (w *Webhook) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Dispatch posts payload in the background. Errors are logged and also
// delivered on the returned channel, which receives exactly one value and
// is buffered so nobody has to read it.
func (w *Webhook) Dispatch(ctx context.Context, url string, payload any) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := w.Post(ctx, url, payload)
		if err != nil {
			w.logger.Printf("webhook: delivery to %s failed: %v", url, err)
		}
		done <- err
	}()
	return done
}
