package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noah-isme/sma-gate-api/pkg/config"
)

// Message is one outbound notification.
type Message struct {
	RecipientID string `json:"recipient_id"`
	Phone       string `json:"phone,omitempty"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// Sender delivers notifications to the external messaging gateway over
// HTTP. Failures are returned to the caller; retry policy lives in the
// queue, not here.
type Sender struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewSender builds a sender from config.
func NewSender(cfg config.NotifyConfig) *Sender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Send posts one message. A non-2xx response is an error.
func (s *Sender) Send(ctx context.Context, msg Message) error {
	if s.endpoint == "" {
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification gateway returned %d", resp.StatusCode)
	}
	return nil
}
