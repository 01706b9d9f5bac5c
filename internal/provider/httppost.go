package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/notify-engine/internal/pkg/httpretry"
)

// HTTPPostProvider is a generic JSON-over-HTTP adapter. SMS gateways,
// push fan-out services, and chat webhooks (Slack-compatible incoming
// webhooks for the human escalation channel) all speak this shape:
// POST a JSON document, 2xx means accepted.
type HTTPPostProvider struct {
	name     string
	channel  string
	endpoint string
	apiKey   string
	client   httpretry.HTTPDoer
}

// NewHTTPPostProvider creates an HTTP provider for the given channel.
// Transport-level retries are bounded and safe: the payload carries a
// stable message_id so a gateway that received a timed-out attempt can
// dedupe. Delivery-level retry policy stays with the tracker.
func NewHTTPPostProvider(name, channel, endpoint, apiKey string) *HTTPPostProvider {
	return &HTTPPostProvider{
		name:     name,
		channel:  channel,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   httpretry.NewRetryClient(&http.Client{Timeout: 15 * time.Second}, 2),
	}
}

func (p *HTTPPostProvider) Name() string    { return p.name }
func (p *HTTPPostProvider) Channel() string { return p.channel }

type httpPostPayload struct {
	MessageID string                 `json:"message_id"`
	To        string                 `json:"to"`
	Template  string                 `json:"template"`
	Subject   string                 `json:"subject,omitempty"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func (p *HTTPPostProvider) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	messageID := uuid.New().String()
	payload, err := json.Marshal(httpPostPayload{
		MessageID: messageID,
		To:        msg.Address,
		Template:  msg.Template,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Data:      msg.Data,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &SendResult{Success: false, Provider: p.name, Error: err}, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &SendResult{
			Success:  false,
			Provider: p.name,
			Error:    fmt.Errorf("%s returned status %d", p.name, resp.StatusCode),
		}, nil
	}

	return &SendResult{
		Success:           true,
		Provider:          p.name,
		ProviderMessageID: messageID,
		SentAt:            time.Now(),
	}, nil
}
