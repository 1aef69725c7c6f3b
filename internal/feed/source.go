package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// ErrNotConnected is returned by push sources whose upstream link is down.
var ErrNotConnected = errors.New("feed: source not connected")

// Source yields price observations. A source may return observations for
// any number of assets, in any order; resolution happens downstream.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]pricing.Observation, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	Label string
	Func  func(ctx context.Context) ([]pricing.Observation, error)
}

func (s SourceFunc) Name() string { return s.Label }

func (s SourceFunc) Fetch(ctx context.Context) ([]pricing.Observation, error) {
	return s.Func(ctx)
}

// HTTPSource polls a URL serving a JSON array of
// {"currency","price","date"} records.
type HTTPSource struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPSource builds a source for url. A nil client gets a 10s timeout.
func NewHTTPSource(name, url string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{name: label(name, "http"), url: url, client: client}
}

func (s *HTTPSource) Name() string { return s.name }

// Fetch downloads and decodes the record list.
func (s *HTTPSource) Fetch(ctx context.Context) ([]pricing.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: %s: build request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed: %s: status %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	obs, err := pricing.ParseRecords(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: %s: %w", s.name, err)
	}
	return obs, nil
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}
