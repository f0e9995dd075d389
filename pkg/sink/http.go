package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bft-labs/logrelay/pkg/event"
	"github.com/bft-labs/logrelay/pkg/log"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Metadata provides context for batch uploads. It is included in HTTP
// headers for server-side tracking.
type Metadata struct {
	// Source identifies the producing application.
	Source string

	// Hostname is the producing host; filled from os.Hostname if empty.
	Hostname string

	// AuthKey is the API authentication key sent as a bearer token.
	AuthKey string
}

// Default retry tuning for HTTP dispatch.
const (
	defaultMaxAttempts  = 3
	defaultRetryInitial = 500 * time.Millisecond
	defaultRetryMax     = 5 * time.Second
)

// HTTP ships batches to an ingestion endpoint as JSON arrays. Transient
// failures are retried with exponential backoff inside Accept; the final
// error is returned so the relay can requeue the batch.
type HTTP struct {
	client HTTPClient
	url    string
	meta   Metadata
	logger log.Logger

	// MaxAttempts is the number of delivery attempts per batch.
	MaxAttempts int

	// RetryInitial and RetryMax bound the backoff between attempts.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// NewHTTP creates an HTTP sink posting to url.
func NewHTTP(client HTTPClient, url string, meta Metadata, logger log.Logger) *HTTP {
	if meta.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			meta.Hostname = h
		}
	}
	return &HTTP{
		client:       client,
		url:          url,
		meta:         meta,
		logger:       logger,
		MaxAttempts:  defaultMaxAttempts,
		RetryInitial: defaultRetryInitial,
		RetryMax:     defaultRetryMax,
	}
}

// Accept transmits one batch. Returns nil once the server acknowledges it.
func (s *HTTP) Accept(ctx context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := event.EncodeBatch(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	back := newBackoff(s.RetryInitial, s.RetryMax)
	var lastErr error
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := back.Sleep(ctx); err != nil {
				return err
			}
		}
		if lastErr = s.post(ctx, body); lastErr == nil {
			return nil
		}
		s.logger.Warn("batch upload attempt failed",
			log.Int("attempt", attempt),
			log.Int("events", len(batch)),
			log.Err(lastErr))
	}
	return lastErr
}

// FlushPending is a no-op: Accept delivers synchronously, so nothing is
// outstanding once it returns.
func (s *HTTP) FlushPending(ctx context.Context) error { return nil }

func (s *HTTP) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.meta.AuthKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.meta.AuthKey)
	}
	if s.meta.Source != "" {
		req.Header.Set("X-Relay-Source", s.meta.Source)
	}
	if s.meta.Hostname != "" {
		req.Header.Set("X-Relay-Hostname", s.meta.Hostname)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
