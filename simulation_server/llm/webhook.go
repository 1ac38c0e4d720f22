package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// WebhookNotifier reports LLM errors to an operator endpoint. Notifications
// are fire-and-forget: they run on their own goroutine with their own
// timeout and never block the decision path.
type WebhookNotifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
	log     *slog.Logger
}

func NewWebhookNotifier(url string, timeout time.Duration, log *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

type webhookPayload struct {
	Type       string            `json:"type"`
	Error      Classified        `json:"error"`
	Simulation webhookSimulation `json:"simulation"`
}

type webhookSimulation struct {
	WillPause bool `json:"willPause"`
}

// Notify posts the classified error. Failures are logged and dropped.
func (w *WebhookNotifier) Notify(c Classified, willPause bool) {
	if w == nil || w.url == "" {
		return
	}

	body, err := json.Marshal(webhookPayload{
		Type:       "llm_error",
		Error:      c,
		Simulation: webhookSimulation{WillPause: willPause},
	})
	if err != nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			if w.log != nil {
				w.log.Warn("webhook_notify_fail", slog.String("type", "webhook"), slog.Any("err", err))
			}
			return
		}
		_ = resp.Body.Close()
	}()
}
