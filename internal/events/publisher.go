package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Publisher hands an event to the broadcast relay. Delivery is best-effort:
// callers log a returned error and move on, they never roll back the state
// change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// HTTPPublisher posts events to the relay's /broadcast ingress endpoint.
type HTTPPublisher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPublisher creates a publisher for the relay at baseURL, e.g.
// "http://localhost:8081".
func NewHTTPPublisher(baseURL string) *HTTPPublisher {
	return &HTTPPublisher{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/broadcast", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post broadcast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay returned status code: %d, response: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// NopPublisher discards events. Used when no relay is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
