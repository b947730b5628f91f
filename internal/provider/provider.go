// Package provider wraps the external data and AI services metered calls are
// proxied to. Every provider is a black box with a fixed per-call credit
// cost; only the gateway decides whether a call gets billed.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Result carries the provider's response back to the gateway. A Result is
// only produced for confirmed success; anything else is an error.
type Result struct {
	Provider string          `json:"provider"`
	Body     json.RawMessage `json:"body"`
	Elapsed  time.Duration   `json:"-"`
}

type Provider interface {
	Name() string
	Call(ctx context.Context, params json.RawMessage) (*Result, error)
}

// ErrTimeout marks calls that exceeded their deadline. The gateway maps it to
// a distinct error code because an ambiguous outcome must never be billed.
var ErrTimeout = errors.New("provider call timed out")

const maxResponseBytes = 1 << 20

// HTTPProvider posts the caller's parameters to one upstream endpoint.
type HTTPProvider struct {
	name   string
	url    string
	client *http.Client
}

func NewHTTPProvider(name, url string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

func (p *HTTPProvider) Call(ctx context.Context, params json.RawMessage) (*Result, error) {
	if params == nil {
		params = json.RawMessage("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(params))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Error().
				Str("provider", p.name).
				Dur("elapsed", elapsed).
				Msg("provider call timed out")
			return nil, ErrTimeout
		}
		log.Error().
			Err(err).
			Str("provider", p.name).
			Dur("elapsed", elapsed).
			Msg("provider call failed")
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().
			Str("provider", p.name).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("provider returned error status")
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	log.Debug().
		Str("provider", p.name).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("provider call succeeded")

	return &Result{
		Provider: p.name,
		Body:     body,
		Elapsed:  elapsed,
	}, nil
}
