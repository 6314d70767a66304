package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/ladder-replay-ingest/internal/obslog"
)

// WebhookNotifier POSTs audit events to an admin endpoint. Delivery is
// best-effort with a short retry; failures are logged and dropped.
type WebhookNotifier struct {
	url  string
	http *fasthttp.Client

	timeout  time.Duration
	retryMax int
}

type WebhookOption func(*WebhookNotifier)

func WithTimeout(d time.Duration) WebhookOption {
	return func(n *WebhookNotifier) { n.timeout = d }
}

func WithRetry(max int) WebhookOption {
	return func(n *WebhookNotifier) { n.retryMax = max }
}

// NewWebhookNotifier returns nil when url is empty, so callers can wire it
// unconditionally.
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	n := &WebhookNotifier{
		url:      strings.TrimSpace(url),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		timeout:  5 * time.Second,
		retryMax: 2,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type webhookPayload struct {
	EventType string          `json:"event_type"`
	SubjectID string          `json:"subject_id"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, eventType, subjectID string, metadata []byte) {
	if n == nil {
		return
	}
	body, err := json.Marshal(webhookPayload{
		EventType: eventType,
		SubjectID: subjectID,
		Metadata:  metadata,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		obslog.L().Warn("audit_webhook_marshal_failed", zap.Error(err))
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(n.url)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	attempts := n.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err := n.http.DoDeadline(req, resp, n.computeDeadline(ctx))
		if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
			return
		}
		if err == nil {
			err = fmt.Errorf("webhook error: status=%d body=%s", resp.StatusCode(), truncate(string(resp.Body()), 256))
		}
		if attempt == attempts {
			obslog.L().Warn("audit_webhook_failed",
				zap.String("event", eventType),
				zap.String("subject", subjectID),
				zap.Error(err),
			)
			return
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return
		}
	}
}

func (n *WebhookNotifier) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(n.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
