package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/patcher"
)

// WebhookSink posts the run summary as JSON to an HTTP endpoint.
type WebhookSink struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookSink creates a webhook sink for url.
func NewWebhookSink(url string, timeout time.Duration, logger *zap.Logger) *WebhookSink {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookSink{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// ConsumeTenant implements patcher.Sink; only run summaries are posted.
func (s *WebhookSink) ConsumeTenant(ctx context.Context, r *patcher.TenantReport) error {
	return nil
}

// ConsumeRun implements patcher.RunSink.
func (s *WebhookSink) ConsumeRun(ctx context.Context, r *patcher.RunReport) error {
	msg := NewRunSummary(r)

	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(msg).
		Post(s.url)
	if err != nil {
		s.logger.Error("Webhook call failed", zap.Error(err))
		return fmt.Errorf("failed to post run summary: %w", err)
	}
	if resp.IsError() {
		s.logger.Error("Webhook returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("webhook error: status %d", resp.StatusCode())
	}

	s.logger.Info("Posted run summary",
		zap.String("run_id", r.RunID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
