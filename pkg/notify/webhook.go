package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/platinummonkey/flock/pkg/observability"
)

// Headers set on every webhook delivery
const (
	HeaderEvent     = "X-Flock-Event"
	HeaderEventID   = "X-Flock-Event-ID"
	HeaderSignature = "X-Flock-Signature"
)

// WebhookConfig configures a WebhookNotifier
type WebhookConfig struct {
	URL          string
	Secret       string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Client       *http.Client
}

// WebhookNotifier POSTs each event as JSON to a single endpoint. 5xx
// responses and transport errors are retried with exponential backoff; 4xx
// responses are not.
type WebhookNotifier struct {
	cfg     WebhookConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewWebhookNotifier creates a webhook publisher
func NewWebhookNotifier(cfg WebhookConfig, logger *observability.Logger, metrics *observability.Metrics) *WebhookNotifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &WebhookNotifier{
		cfg:     cfg,
		logger:  logger.WithField("component", "notify"),
		metrics: metrics,
	}
}

func (n *WebhookNotifier) OnMembershipCreated(ctx context.Context, event MembershipEvent) {
	err := n.deliver(ctx, event)
	n.metrics.RecordNotification("webhook", err)
	if err != nil {
		n.logger.WithError(err).WithFields(map[string]interface{}{
			"community_id": event.CommunityID,
			"event_id":     event.ID,
		}).Warn("Failed to deliver membership webhook")
	}
}

func (n *WebhookNotifier) deliver(ctx context.Context, event MembershipEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	b := retry.NewExponential(n.cfg.InitialDelay)
	b = retry.WithCappedDuration(n.cfg.MaxDelay, b)
	b = retry.WithMaxRetries(uint64(n.cfg.MaxAttempts-1), b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		status, err := n.send(ctx, event, payload)
		if err == nil {
			return nil
		}
		n.logger.WithError(err).WithFields(map[string]interface{}{
			"event_id": event.ID,
			"attempt":  attempt,
			"status":   status,
		}).Debug("Webhook attempt failed")
		if status >= 400 && status < 500 {
			return err
		}
		return retry.RetryableError(err)
	})
}

func (n *WebhookNotifier) send(ctx context.Context, event MembershipEvent, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)
	if n.cfg.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, n.cfg.Secret))
	}

	resp, err := n.cfg.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign returns the HMAC-SHA256 signature of payload as "sha256=<hex>"
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
