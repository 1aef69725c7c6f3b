package swap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// DefaultDebounce is the quiet period after the last keystroke before the
// peer amount is derived.
const DefaultDebounce = 250 * time.Millisecond

var (
	// ErrSessionClosed is returned by Submit on a disposed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrExchangeInFlight is returned by Submit while an earlier submission
	// has been neither completed nor aborted.
	ErrExchangeInFlight = errors.New("exchange already in progress")
)

// Option configures a Session.
type Option func(*Session)

// WithDebounce sets the quiet period. A delay of zero or less derives the
// peer amount synchronously on every edit.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) { s.delay = d }
}

// WithClock installs the clock used for debounce timers and summary stamps.
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRecorder installs a recomputation observer.
func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session keeps a send amount and a receive amount consistent with each
// other under the current price table. Amount edits derive the opposite
// field after a debounce; asset changes rederive the receive amount from the
// send amount immediately. The field being edited is never recomputed, and
// a derived value never triggers a derivation of its own.
//
// All methods are safe for concurrent use; mutations are serialized.
type Session struct {
	id       string
	clock    Clock
	delay    time.Duration
	recorder Recorder
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	table    pricing.Table
	disposed bool
	inFlight bool
	watchers map[int]chan State
	nextW    int

	// deriveReceive runs after send-amount edits, deriveSend after
	// receive-amount edits.
	deriveReceive *Debouncer
	deriveSend    *Debouncer
}

// NewSession creates an empty session. Assets are seeded on the first
// SetTable with a non-empty table.
func NewSession(id string, opts ...Option) *Session {
	s := &Session{
		id:       id,
		clock:    SystemClock{},
		delay:    DefaultDebounce,
		recorder: nopRecorder{},
		logger:   slog.Default(),
		watchers: make(map[int]chan State),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.deriveReceive = NewDebouncer(s.clock, s.delay)
	s.deriveSend = NewDebouncer(s.clock, s.delay)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the current fields.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Table returns the price table the session currently derives against.
func (s *Session) Table() pricing.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

// View returns the current fields together with the table they were
// derived against.
func (s *Session) View() (State, pricing.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.table
}

// Valid reports whether the current state passes the submission gate.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed && IsValid(s.state)
}

// SetTable installs a new price table. Once the table has assets, empty
// selections default to the first asset (send) and the second distinct
// asset, or the first if there is only one (receive). A send amount typed
// before prices arrived is converted right away.
func (s *Session) SetTable(table pricing.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	s.table = table
	if assets := table.Assets(); len(assets) > 0 {
		if s.state.SendAsset == "" {
			s.state.SendAsset = assets[0]
		}
		if s.state.ReceiveAsset == "" {
			if len(assets) > 1 {
				s.state.ReceiveAsset = assets[1]
			} else {
				s.state.ReceiveAsset = assets[0]
			}
		}
		if !s.state.SendAmount.IsEmpty() {
			s.deriveReceiveLocked(TriggerPrices)
		}
	}
	s.notifyLocked()
}

// EditSendAmount records a user edit of the send field and schedules the
// receive amount to be derived from it.
func (s *Session) EditSendAmount(v pricing.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	s.state.LastEdited = SideSend
	s.state.SendAmount = v
	s.deriveSend.Cancel()
	s.scheduleLocked(s.deriveReceive, SideSend, func() { s.deriveReceiveLocked(TriggerSendAmount) })
	s.notifyLocked()
}

// EditReceiveAmount records a user edit of the receive field and schedules
// the send amount to be derived from it.
func (s *Session) EditReceiveAmount(v pricing.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	s.state.LastEdited = SideReceive
	s.state.ReceiveAmount = v
	s.deriveReceive.Cancel()
	s.scheduleLocked(s.deriveSend, SideReceive, func() { s.deriveSendLocked(TriggerReceiveAmount) })
	s.notifyLocked()
}

// ChangeSendAsset selects the send asset and immediately rederives the
// receive amount.
func (s *Session) ChangeSendAsset(asset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	s.state.SendAsset = asset
	s.deriveReceiveLocked(TriggerSendAsset)
	s.notifyLocked()
}

// ChangeReceiveAsset selects the receive asset and immediately rederives
// the receive amount from the send amount. The send side stays
// authoritative here even when the last amount edit was on the receive side.
func (s *Session) ChangeReceiveAsset(asset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	s.state.ReceiveAsset = asset
	s.deriveReceiveLocked(TriggerReceiveAsset)
	s.notifyLocked()
}

// Submit checks the gate and builds the summary for the current state. A
// successful Submit marks the session in flight until Complete or Abort is
// called; a second Submit in the meantime fails with ErrExchangeInFlight.
func (s *Session) Submit() (ExchangeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ExchangeSummary{}, ErrSessionClosed
	}
	if s.inFlight {
		return ExchangeSummary{}, fmt.Errorf("%w: %w", ErrInvalidSession, ErrExchangeInFlight)
	}
	if err := Validate(s.state); err != nil {
		return ExchangeSummary{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	summary := Build(s.state, s.table)
	summary.CreatedAt = s.clock.Now().UTC()
	s.inFlight = true
	return summary, nil
}

// Complete ends the in-flight submission of summary. Amounts still equal to
// the submitted ones are cleared; amounts edited since Submit are kept.
func (s *Session) Complete(summary ExchangeSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if s.disposed {
		return
	}

	sendSame := s.state.SendAmount == pricing.Some(summary.SendAmount)
	receiveSame := s.state.ReceiveAmount == pricing.Some(summary.ReceiveAmount)
	switch {
	case sendSame && receiveSame:
		s.clearLocked()
	case sendSame:
		s.state.SendAmount = pricing.None()
	case receiveSame:
		s.state.ReceiveAmount = pricing.None()
	default:
		return
	}
	s.notifyLocked()
}

// Abort ends the in-flight submission and leaves the fields untouched.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
}

// Reset clears both amounts and any pending derivation, keeping the asset
// selections. It also ends any in-flight submission.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if s.disposed {
		return
	}

	s.clearLocked()
	s.notifyLocked()
}

func (s *Session) clearLocked() {
	s.deriveReceive.Cancel()
	s.deriveSend.Cancel()
	s.state.SendAmount = pricing.None()
	s.state.ReceiveAmount = pricing.None()
	s.state.LastEdited = SideNone
}

// Dispose cancels pending timers and closes all watchers. Any timer that
// still fires afterwards does nothing. Dispose is idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	s.disposed = true
	s.deriveReceive.Cancel()
	s.deriveSend.Cancel()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
}

// Watch returns a channel that receives the state after every change. The
// channel holds only the latest state: a slow reader skips intermediate
// ones. Call the returned stop func to release it; the channel is closed on
// stop or Dispose.
func (s *Session) Watch() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	if s.disposed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextW
	s.nextW++
	s.watchers[id] = ch
	ch <- s.state

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			close(w)
			delete(s.watchers, id)
		}
	}
}

// scheduleLocked arranges for derive to run after the quiet period, unless
// the user has moved on to the other field by then. Caller must hold s.mu.
func (s *Session) scheduleLocked(d *Debouncer, side Side, derive func()) {
	if s.delay <= 0 {
		derive()
		return
	}
	d.Schedule(func(gen uint64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.disposed || !d.Current(gen) {
			return
		}
		d.Done(gen)
		if s.state.LastEdited != side {
			return
		}
		derive()
		s.notifyLocked()
	})
}

// deriveReceiveLocked sets the receive amount from the send amount when the
// conversion yields a value. Caller must hold s.mu.
func (s *Session) deriveReceiveLocked(trigger Trigger) {
	r := pricing.ReceivedFromSend(s.state.SendAmount, s.state.SendAsset, s.state.ReceiveAsset, s.table)
	s.applyLocked(trigger, r, &s.state.ReceiveAmount)
}

// deriveSendLocked sets the send amount from the receive amount when the
// conversion yields a value. Caller must hold s.mu.
func (s *Session) deriveSendLocked(trigger Trigger) {
	r := pricing.SendFromReceived(s.state.ReceiveAmount, s.state.SendAsset, s.state.ReceiveAsset, s.table)
	s.applyLocked(trigger, r, &s.state.SendAmount)
}

func (s *Session) applyLocked(trigger Trigger, result pricing.Amount, dst *pricing.Amount) {
	applied := result.Finite()
	if applied {
		*dst = result
	} else {
		s.logger.Debug("swap: derivation skipped, keeping last value",
			"session", s.id, "trigger", string(trigger),
			"send_asset", s.state.SendAsset, "receive_asset", s.state.ReceiveAsset)
	}
	s.recorder.ObserveRecompute(trigger, applied)
}

// notifyLocked pushes the state to every watcher without blocking. Caller
// must hold s.mu.
func (s *Session) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- s.state
	}
}
