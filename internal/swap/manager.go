package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Executor receives confirmed swaps. What happens afterwards is outside
// the desk's knowledge.
type Executor interface {
	Execute(ctx context.Context, summary ExchangeSummary) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, summary ExchangeSummary) error

func (f ExecutorFunc) Execute(ctx context.Context, summary ExchangeSummary) error {
	return f(ctx, summary)
}

// Metrics is what the Manager reports beyond per-session recomputations.
type Metrics interface {
	Recorder
	SetActiveSessions(n int)
	ObserveExchange(result string)
}

type nopMetrics struct{ nopRecorder }

func (nopMetrics) SetActiveSessions(int)  {}
func (nopMetrics) ObserveExchange(string) {}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionDebounce sets the debounce delay of every session.
func WithSessionDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) { m.debounce = d }
}

// WithSessionClock sets the clock shared by every session.
func WithSessionClock(c Clock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMetrics installs a metrics sink.
func WithMetrics(mt Metrics) ManagerOption {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithManagerLogger installs a custom logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIDFunc overrides session id generation.
func WithIDFunc(f func() string) ManagerOption {
	return func(m *Manager) {
		if f != nil {
			m.newID = f
		}
	}
}

// Manager owns every live session and is the only component that pushes
// price tables into them.
type Manager struct {
	executor Executor
	debounce time.Duration
	clock    Clock
	metrics  Metrics
	logger   *slog.Logger
	newID    func() string

	mu       sync.RWMutex
	sessions map[string]*Session
	table    pricing.Table
}

// NewManager creates a Manager that forwards confirmed swaps to exec.
func NewManager(exec Executor, opts ...ManagerOption) *Manager {
	m := &Manager{
		executor: exec,
		debounce: DefaultDebounce,
		clock:    SystemClock{},
		metrics:  nopMetrics{},
		logger:   slog.Default(),
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Open creates a session seeded with the current price table.
func (m *Manager) Open() *Session {
	s := NewSession(m.newID(),
		WithDebounce(m.debounce),
		WithClock(m.clock),
		WithRecorder(m.metrics),
		WithLogger(m.logger),
	)

	// The session holds m.table before SetTable can see it.
	m.mu.Lock()
	s.SetTable(m.table)
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveSessions(n)
	m.logger.Info("swap: session opened", "session", s.ID())
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close disposes the session and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.Dispose()
	m.metrics.SetActiveSessions(n)
	m.logger.Info("swap: session closed", "session", id)
	return nil
}

// CloseAll disposes every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
	m.metrics.SetActiveSessions(0)
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Table returns the most recent price table.
func (m *Manager) Table() pricing.Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table
}

// SetTable records a new price table and pushes it into every session.
func (m *Manager) SetTable(table pricing.Table) {
	m.mu.Lock()
	m.table = table
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.SetTable(table)
	}
}

// Run applies every table received on tables until ctx is cancelled or the
// channel closes. On return all sessions are disposed.
func (m *Manager) Run(ctx context.Context, tables <-chan pricing.Table) {
	defer m.CloseAll()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-tables:
			if !ok {
				return
			}
			m.SetTable(t)
		}
	}
}

// Exchange submits the session, hands the summary to the executor and, on
// success, clears the submitted amounts. Only one exchange per session runs
// at a time; a concurrent call fails with ErrExchangeInFlight.
func (m *Manager) Exchange(ctx context.Context, id string) (ExchangeSummary, error) {
	s, err := m.Get(id)
	if err != nil {
		return ExchangeSummary{}, err
	}

	summary, err := s.Submit()
	if err != nil {
		m.metrics.ObserveExchange("rejected")
		return ExchangeSummary{}, err
	}

	if err := m.executor.Execute(ctx, summary); err != nil {
		s.Abort()
		m.metrics.ObserveExchange("failed")
		return ExchangeSummary{}, fmt.Errorf("swap: execute %s: %w", id, err)
	}

	s.Complete(summary)
	m.metrics.ObserveExchange("executed")
	m.logger.Info("swap: exchange executed",
		"session", id,
		"send_asset", summary.SendAsset, "send_amount", summary.SendAmount,
		"receive_asset", summary.ReceiveAsset, "receive_amount", summary.ReceiveAmount)
	return summary, nil
}
