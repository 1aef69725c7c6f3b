package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// Metrics receives poller counters.
type Metrics interface {
	ObserveFetch(source, result string)
	SetTableSize(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveFetch(string, string) {}
func (nopMetrics) SetTableSize(int)            {}

// Store persists observations between restarts.
type Store interface {
	Save(ctx context.Context, obs []pricing.Observation, at time.Time) error
	Load(ctx context.Context) ([]pricing.Observation, error)
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Poller) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithHealth reports fetch outcomes to h.
func WithHealth(h *Health) Option {
	return func(p *Poller) { p.health = h }
}

// WithStore warms the poller from s on Run and saves every new table to it.
func WithStore(s Store) Option {
	return func(p *Poller) { p.store = s }
}

// WithTrigger adds an extra tick every time ch fires, e.g. a stream update.
func WithTrigger(ch <-chan struct{}) Option {
	return func(p *Poller) {
		if ch != nil {
			p.triggers = append(p.triggers, ch)
		}
	}
}

// Poller fetches every source on an interval, merges their observations and
// publishes the resolved table whenever it changes. A failing source keeps
// contributing its last good observations.
type Poller struct {
	sources  []Source
	interval time.Duration
	out      *Broadcaster
	logger   *slog.Logger
	metrics  Metrics
	health   *Health
	store    Store
	triggers []<-chan struct{}
	nowFunc  func() time.Time

	mu    sync.Mutex
	bySrc map[string][]pricing.Observation
	warm  []pricing.Observation
	last  pricing.Table
	seen  bool
}

// NewPoller validates its inputs and returns a ready Poller.
func NewPoller(sources []Source, interval time.Duration, out *Broadcaster, opts ...Option) (*Poller, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("feed: at least one source required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("feed: interval must be positive")
	}
	if out == nil {
		return nil, fmt.Errorf("feed: broadcaster required")
	}
	p := &Poller{
		sources:  append([]Source{}, sources...),
		interval: interval,
		out:      out,
		logger:   slog.Default(),
		metrics:  nopMetrics{},
		nowFunc:  time.Now,
		bySrc:    make(map[string][]pricing.Observation),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Run warms from the store, then ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.Warm(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	trigger := mergeTriggers(ctx, p.triggers)

	p.logger.Info("feed: poller started", "sources", len(p.sources), "interval", p.interval)
	for {
		if err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("feed: tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-trigger:
		}
	}
}

// Warm loads cached observations and publishes them if nothing has been
// published yet. Store failures are logged only.
func (p *Poller) Warm(ctx context.Context) {
	if p.store == nil {
		return
	}
	obs, err := p.store.Load(ctx)
	if err != nil {
		p.logger.Warn("feed: warm start failed", "error", err)
		return
	}
	if len(obs) == 0 {
		return
	}

	p.mu.Lock()
	p.warm = obs
	p.mu.Unlock()
	p.logger.Info("feed: warmed from cache", "assets", len(obs))
	p.publish(ctx, false)
}

// Tick runs one fetch cycle across all sources. It fails only when every
// source failed.
func (p *Poller) Tick(ctx context.Context) error {
	var errs []error
	for _, src := range p.sources {
		obs, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("feed: fetch failed", "source", src.Name(), "error", err)
			p.metrics.ObserveFetch(src.Name(), "error")
			if p.health != nil {
				p.health.RecordFailure(src.Name(), err)
			}
			errs = append(errs, err)
			continue
		}

		p.metrics.ObserveFetch(src.Name(), "ok")
		if p.health != nil {
			if len(obs) > 0 {
				p.health.RecordSuccess(src.Name())
			}
		}
		if len(obs) == 0 {
			continue
		}
		p.mu.Lock()
		p.bySrc[src.Name()] = obs
		p.mu.Unlock()
	}

	p.publish(ctx, true)
	if len(errs) == len(p.sources) {
		return errors.Join(errs...)
	}
	return nil
}

// Observations returns the merged series in source order, cache last.
func (p *Poller) Observations() []pricing.Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mergedLocked()
}

func (p *Poller) mergedLocked() []pricing.Observation {
	var merged []pricing.Observation
	for _, src := range p.sources {
		merged = append(merged, p.bySrc[src.Name()]...)
	}
	return append(merged, p.warm...)
}

// publish resolves the merged series and broadcasts it if it changed. save
// controls whether a changed table is written back to the store.
func (p *Poller) publish(ctx context.Context, save bool) {
	p.mu.Lock()
	merged := p.mergedLocked()
	if len(merged) == 0 {
		p.mu.Unlock()
		return
	}
	table := pricing.Resolve(merged)
	if p.seen && table.Equal(p.last) {
		p.mu.Unlock()
		return
	}
	p.last = table
	p.seen = true
	p.mu.Unlock()

	p.metrics.SetTableSize(table.Len())
	p.out.Publish(table)

	if save && p.store != nil {
		if err := p.store.Save(ctx, merged, p.nowFunc()); err != nil {
			p.logger.Warn("feed: cache save failed", "error", err)
		}
	}
}

// mergeTriggers fans every trigger channel into one.
func mergeTriggers(ctx context.Context, triggers []<-chan struct{}) <-chan struct{} {
	out := make(chan struct{}, 1)
	for _, ch := range triggers {
		go func(ch <-chan struct{}) {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-ch:
					if !ok {
						return
					}
					select {
					case out <- struct{}{}:
					default:
					}
				}
			}
		}(ch)
	}
	return out
}
