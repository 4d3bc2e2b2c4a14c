package keepalive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultInterval = 14 * time.Minute
	requestTimeout  = 30 * time.Second
)

// Pinger requests a public URL on a fixed interval so hosting platforms that
// idle quiet services keep this one awake.
type Pinger struct {
	url      string
	interval time.Duration
	client   *http.Client
}

// New returns a pinger. A nil client gets a default one with a timeout.
func New(url string, interval time.Duration, client *http.Client) *Pinger {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Pinger{url: url, interval: interval, client: client}
}

// Start runs the ping loop in the background until ctx is cancelled.
func (p *Pinger) Start(ctx context.Context) {
	if p == nil || p.url == "" {
		return
	}
	slog.Info("keepalive enabled", "url", p.url, "interval", p.interval)
	go p.loop(ctx)
}

func (p *Pinger) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Ping(ctx); err != nil {
				slog.Warn("keepalive ping failed", "url", p.url, "err", err)
			}
		}
	}
}

// Ping issues one GET and treats any non-2xx status as a failure.
func (p *Pinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build ping: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ping: unexpected status %d", resp.StatusCode)
	}
	slog.Debug("keepalive ping ok", "url", p.url)
	return nil
}
