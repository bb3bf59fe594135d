package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookChannel posts rendered messages to an HTTP receiver, typically a
// bridge in front of the actual messenger automation.
type WebhookChannel struct {
	logger     *slog.Logger
	httpClient *http.Client
	url        string
}

func NewWebhookChannel(logger *slog.Logger, url string, httpClient *http.Client) *WebhookChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &WebhookChannel{
		logger:     logger.With("channel", "webhook"),
		httpClient: httpClient,
		url:        url,
	}
}

type webhookPayload struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

type webhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (c *WebhookChannel) Deliver(ctx context.Context, recipient, body string) (*DeliveryResult, error) {
	reqBytes, err := json.Marshal(webhookPayload{Recipient: recipient, Body: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.ErrorContext(ctx, "Webhook request failed", "error", err, "recipient", recipient)
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		detail := fmt.Sprintf("DELIVERED_%d", httpResp.StatusCode)
		var parsed webhookResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Status != "" {
			detail = parsed.Status
		}
		c.logger.InfoContext(ctx, "Webhook delivery accepted", "recipient", recipient, "detail", detail)
		return &DeliveryResult{Accepted: true, Detail: detail}, nil
	}

	detail := fmt.Sprintf("FAILED_%d", httpResp.StatusCode)
	errMsg := fmt.Sprintf("webhook rejected delivery: status %d", httpResp.StatusCode)
	var parsed webhookResponse
	if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Message != "" {
		errMsg = fmt.Sprintf("%s, message: %s", errMsg, parsed.Message)
	}
	c.logger.WarnContext(ctx, "Webhook delivery rejected", "recipient", recipient, "status_code", httpResp.StatusCode)
	return &DeliveryResult{Accepted: false, Detail: detail}, fmt.Errorf("%s", errMsg)
}

func (c *WebhookChannel) Name() string {
	return "webhook"
}
