package feed

import (
	"sort"
	"sync"
	"time"
)

// HealthConfig holds tunable parameters for Health.
type HealthConfig struct {
	// StaleAfter is the longest a source may go without a successful fetch
	// before it stops counting as available.
	StaleAfter time.Duration

	// CoolOff is how long a recovered source must stay healthy before it
	// counts again.
	CoolOff time.Duration
}

// DefaultHealthConfig returns defaults for a poller ticking every few
// seconds.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		StaleAfter: 30 * time.Second,
		CoolOff:    5 * time.Second,
	}
}

// Connectivity reports whether a push source's link is up.
type Connectivity interface {
	Connected() bool
}

// SourceStatus is the health snapshot of one source.
type SourceStatus struct {
	Name        string    `json:"name"`
	Available   bool      `json:"available"`
	Connected   bool      `json:"connected"`
	LastSuccess time.Time `json:"lastSuccess,omitzero"`
	LastError   string    `json:"lastError,omitempty"`
	Failures    int       `json:"consecutiveFailures"`
}

type sourceState struct {
	lastSuccess time.Time
	recoveredAt time.Time
	healthy     bool
	lastErr     string
	failures    int
}

// Health tracks per-source freshness. The desk treats prices as available
// while at least one source is fresh, connected and past its cool-off.
type Health struct {
	cfg HealthConfig

	connMu sync.RWMutex
	conns  map[string]Connectivity

	mu      sync.RWMutex
	sources map[string]*sourceState

	nowFunc func() time.Time
}

// NewHealth creates an empty tracker.
func NewHealth(cfg HealthConfig) *Health {
	return &Health{
		cfg:     cfg,
		conns:   make(map[string]Connectivity),
		sources: make(map[string]*sourceState),
		nowFunc: time.Now,
	}
}

// WatchConnection ties a source's availability to a live connection.
func (h *Health) WatchConnection(source string, conn Connectivity) {
	h.connMu.Lock()
	h.conns[source] = conn
	h.connMu.Unlock()
}

// RecordSuccess marks a successful fetch. A source returning after a failure
// starts its cool-off now; the very first success does not.
func (h *Health) RecordSuccess(source string) {
	now := h.nowFunc()

	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(source)
	if !st.healthy && !st.lastSuccess.IsZero() {
		st.recoveredAt = now
	}
	st.healthy = true
	st.lastSuccess = now
	st.lastErr = ""
	st.failures = 0
}

// RecordFailure marks a failed fetch.
func (h *Health) RecordFailure(source string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(source)
	st.healthy = false
	st.failures++
	if err != nil {
		st.lastErr = err.Error()
	}
}

// SourceAvailable reports whether one source currently counts.
func (h *Health) SourceAvailable(source string) bool {
	h.mu.RLock()
	st, ok := h.sources[source]
	var copyState sourceState
	if ok {
		copyState = *st
	}
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.evaluate(source, copyState, h.nowFunc())
}

// Available reports whether any source counts.
func (h *Health) Available() bool {
	for _, s := range h.Snapshot() {
		if s.Available {
			return true
		}
	}
	return false
}

// Snapshot returns every known source, sorted by name.
func (h *Health) Snapshot() []SourceStatus {
	now := h.nowFunc()

	h.mu.RLock()
	states := make(map[string]sourceState, len(h.sources))
	for name, st := range h.sources {
		states[name] = *st
	}
	h.mu.RUnlock()

	out := make([]SourceStatus, 0, len(states))
	for name, st := range states {
		out = append(out, SourceStatus{
			Name:        name,
			Available:   h.evaluate(name, st, now),
			Connected:   h.connected(name),
			LastSuccess: st.lastSuccess,
			LastError:   st.lastErr,
			Failures:    st.failures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// evaluate applies, in order: connection up, fresh data, cool-off elapsed.
func (h *Health) evaluate(name string, st sourceState, now time.Time) bool {
	if !h.connected(name) {
		return false
	}
	if !st.healthy || st.lastSuccess.IsZero() {
		return false
	}
	if h.cfg.StaleAfter > 0 && now.Sub(st.lastSuccess) > h.cfg.StaleAfter {
		return false
	}
	if !st.recoveredAt.IsZero() && now.Sub(st.recoveredAt) < h.cfg.CoolOff {
		return false
	}
	return true
}

func (h *Health) connected(name string) bool {
	h.connMu.RLock()
	conn, ok := h.conns[name]
	h.connMu.RUnlock()
	return !ok || conn.Connected()
}

// state returns the entry for source, creating it. Caller must hold h.mu.
func (h *Health) state(source string) *sourceState {
	st, ok := h.sources[source]
	if !ok {
		st = &sourceState{}
		h.sources[source] = st
	}
	return st
}
