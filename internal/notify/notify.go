// Package notify backs llm.NotificationChannel with a fire-and-forget
// webhook POST, used by the orchestrator to surface upstream 5xx/timeout
// bursts and all-providers-failed exhaustion to an operator channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/llm"
	"go.uber.org/zap"
)

// WebhookChannel posts a JSON payload to a single configured URL. A blank
// URL makes Notify a no-op, so the gateway runs fine with notifications
// disabled.
type WebhookChannel struct {
	URL    string
	Client *http.Client
	Logger *zap.Logger
}

// New builds a WebhookChannel posting to url. A 5s client timeout keeps a
// slow or unreachable webhook from blocking the caller's request path.
func New(url string, logger *zap.Logger) *WebhookChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookChannel{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
		Logger: logger.With(zap.String("component", "notification_channel")),
	}
}

var _ llm.NotificationChannel = (*WebhookChannel)(nil)

type payload struct {
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Notify posts {severity, message, timestamp} to the configured webhook in
// its own goroutine. Failures are logged, never surfaced to the caller:
// a broken notification channel must not affect request serving.
func (w *WebhookChannel) Notify(ctx context.Context, severity, message string) {
	if w.URL == "" {
		return
	}
	go func() {
		body, err := json.Marshal(payload{Severity: severity, Message: message, Timestamp: time.Now().Unix()})
		if err != nil {
			w.Logger.Warn("failed to marshal notification payload", zap.Error(err))
			return
		}
		reqCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			w.Logger.Warn("failed to build notification request", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.Client.Do(req)
		if err != nil {
			w.Logger.Warn("notification webhook request failed", zap.Error(err), zap.String("severity", severity))
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			w.Logger.Warn("notification webhook returned an error status", zap.Int("status", resp.StatusCode))
		}
	}()
}
