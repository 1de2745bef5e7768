package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const webhookErrorExcerpt = 256

// WebhookChannel posts each alert as JSON to a fixed endpoint.
type WebhookChannel struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

func NewWebhookChannel(endpoint string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Elara-Alert", alert.ID)
	req.Header.Set("X-Elara-Risk-Level", string(alert.RiskLevel))

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, webhookErrorExcerpt))
		return fmt.Errorf("webhook %s: status %d: %s", alert.ID, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
