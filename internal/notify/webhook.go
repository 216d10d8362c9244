package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	defaultWebhookTimeout    = 10 * time.Second
	defaultWebhookMaxElapsed = 30 * time.Second
)

// WebhookOptions tunes a Webhook. Zero values pick defaults.
type WebhookOptions struct {
	// PerMinute caps deliveries; 0 means 60.
	PerMinute int
	// MaxElapsed bounds the total retry time for one notice.
	MaxElapsed time.Duration
	// InitialInterval is the first retry delay; 0 keeps the backoff default.
	InitialInterval time.Duration
	Client          *http.Client
}

// Webhook POSTs notices as JSON. Server errors and transport failures are
// retried with exponential backoff; client errors are not.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	opts    WebhookOptions
}

// NewWebhook returns a webhook notifier posting to url.
func NewWebhook(url string, opts WebhookOptions) *Webhook {
	if opts.PerMinute <= 0 {
		opts.PerMinute = 60
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = defaultWebhookMaxElapsed
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &Webhook{
		url:     url,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.PerMinute)), 1),
		opts:    opts,
	}
}

func (w *Webhook) newBackoff() backoff.BackOff {
	// BackOff implementations are stateful; build one per notice.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = w.opts.MaxElapsed
	if w.opts.InitialInterval > 0 {
		bo.InitialInterval = w.opts.InitialInterval
		bo.MaxInterval = 10 * w.opts.InitialInterval
	}
	return bo
}

func (w *Webhook) Notify(ctx context.Context, n Notice) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit: %w", err)
	}

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("post webhook: %w", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook %s: %s", w.url, resp.Status)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("webhook %s: %s", w.url, resp.Status))
		}
		return nil
	}, backoff.WithContext(w.newBackoff(), ctx))
}
