package swap

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

var epoch = time.Date(2023, 8, 29, 7, 10, 0, 0, time.UTC)

func btcEthTable() pricing.Table {
	return pricing.Resolve([]pricing.Observation{
		{Asset: "BTC", Price: 50000, ObservedAt: epoch},
		{Asset: "ETH", Price: 3000, ObservedAt: epoch},
	})
}

// countingRecorder tallies recomputations by outcome.
type countingRecorder struct {
	mu      sync.Mutex
	applied map[Trigger]int
	skipped map[Trigger]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{applied: map[Trigger]int{}, skipped: map[Trigger]int{}}
}

func (r *countingRecorder) ObserveRecompute(trigger Trigger, applied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if applied {
		r.applied[trigger]++
	} else {
		r.skipped[trigger]++
	}
}

func (r *countingRecorder) total(trigger Trigger) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied[trigger] + r.skipped[trigger]
}

func newTestSession(t *testing.T, opts ...Option) (*Session, *ManualClock, *countingRecorder) {
	t.Helper()
	clock := NewManualClock(epoch)
	rec := newCountingRecorder()
	base := []Option{WithClock(clock), WithRecorder(rec)}
	s := NewSession("test", append(base, opts...)...)
	t.Cleanup(s.Dispose)
	return s, clock, rec
}

func mustAmount(t *testing.T, a pricing.Amount) float64 {
	t.Helper()
	v, ok := a.Value()
	if !ok {
		t.Fatal("expected a non-empty amount")
	}
	return v
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestSession_DefaultsFromTable(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.SetTable(btcEthTable())

	st := s.Snapshot()
	if st.SendAsset != "BTC" || st.ReceiveAsset != "ETH" {
		t.Fatalf("defaults: want BTC->ETH, got %s->%s", st.SendAsset, st.ReceiveAsset)
	}
	if st.LastEdited != SideNone {
		t.Fatalf("expected SideNone, got %s", st.LastEdited)
	}
}

func TestSession_DefaultsKeepExistingSelection(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.ChangeReceiveAsset("BTC")
	s.SetTable(btcEthTable())

	st := s.Snapshot()
	if st.SendAsset != "BTC" || st.ReceiveAsset != "BTC" {
		t.Fatalf("want BTC->BTC, got %s->%s", st.SendAsset, st.ReceiveAsset)
	}
}

func TestSession_SingleAssetDefaultsToSameAsset(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(pricing.Resolve([]pricing.Observation{
		{Asset: "USDT", Price: 1, ObservedAt: epoch},
		{Asset: "USDT", Price: 1.0001, ObservedAt: epoch.Add(time.Second)},
	}))

	st := s.Snapshot()
	if st.SendAsset != "USDT" || st.ReceiveAsset != "USDT" {
		t.Fatalf("want USDT->USDT, got %s->%s", st.SendAsset, st.ReceiveAsset)
	}

	s.EditSendAmount(pricing.Some(10))
	clock.Advance(DefaultDebounce)

	st = s.Snapshot()
	if got := mustAmount(t, st.ReceiveAmount); !approxEqual(got, 10) {
		t.Fatalf("expected 1:1 conversion, got %f", got)
	}
	if s.Valid() {
		t.Fatal("same-asset session must not be valid")
	}
}

func TestSession_SendEditDerivesReceiveAfterDebounce(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	if !s.Snapshot().ReceiveAmount.IsEmpty() {
		t.Fatal("receive must not be derived before the quiet period")
	}

	clock.Advance(DefaultDebounce - time.Millisecond)
	if !s.Snapshot().ReceiveAmount.IsEmpty() {
		t.Fatal("receive derived too early")
	}

	clock.Advance(time.Millisecond)
	got := mustAmount(t, s.Snapshot().ReceiveAmount)
	if !approxEqual(got, 50000.0/3000.0) {
		t.Fatalf("receive: want %f, got %f", 50000.0/3000.0, got)
	}
	if !s.Valid() {
		t.Fatal("expected session to be valid")
	}
}

func TestSession_ReceiveEditDerivesSend(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())

	s.EditReceiveAmount(pricing.Some(1))
	clock.Advance(DefaultDebounce)

	st := s.Snapshot()
	if got := mustAmount(t, st.SendAmount); !approxEqual(got, 0.06) {
		t.Fatalf("send: want 0.06, got %f", got)
	}
	if mustAmount(t, st.ReceiveAmount) != 1 {
		t.Fatalf("receive must keep the typed value, got %v", st.ReceiveAmount)
	}
	if st.LastEdited != SideReceive {
		t.Fatalf("expected SideReceive, got %s", st.LastEdited)
	}
}

func TestSession_RepeatedEditsFireOnceWithLatestValue(t *testing.T) {
	s, clock, rec := newTestSession(t)
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	clock.Advance(100 * time.Millisecond)
	s.EditSendAmount(pricing.Some(3))
	clock.Advance(200 * time.Millisecond)

	if !s.Snapshot().ReceiveAmount.IsEmpty() {
		t.Fatal("first edit's timer should have been cancelled")
	}

	clock.Advance(50 * time.Millisecond)
	if got := mustAmount(t, s.Snapshot().ReceiveAmount); !approxEqual(got, 3*50000.0/3000.0) {
		t.Fatalf("receive: want %f, got %f", 3*50000.0/3000.0, got)
	}
	if n := rec.total(TriggerSendAmount); n != 1 {
		t.Fatalf("expected exactly one recomputation, got %d", n)
	}
}

func TestSession_FireUsesTableCurrentAtFireTime(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	s.SetTable(pricing.Resolve([]pricing.Observation{
		{Asset: "BTC", Price: 60000, ObservedAt: epoch},
		{Asset: "ETH", Price: 3000, ObservedAt: epoch},
	}))
	clock.Advance(DefaultDebounce)

	if got := mustAmount(t, s.Snapshot().ReceiveAmount); !approxEqual(got, 20) {
		t.Fatalf("receive: want 20, got %f", got)
	}
}

func TestSession_MissingPriceKeepsPeerValue(t *testing.T) {
	s, clock, rec := newTestSession(t)
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	clock.Advance(DefaultDebounce)
	before := mustAmount(t, s.Snapshot().ReceiveAmount)

	s.SetTable(pricing.Resolve([]pricing.Observation{
		{Asset: "BTC", Price: 50000, ObservedAt: epoch},
	}))
	s.EditSendAmount(pricing.Some(2))
	clock.Advance(DefaultDebounce)

	st := s.Snapshot()
	after := mustAmount(t, st.ReceiveAmount)
	if after != before {
		t.Fatalf("receive should keep %f, got %f", before, after)
	}
	if math.IsNaN(after) {
		t.Fatal("receive became NaN")
	}
	if rec.skipped[TriggerSendAmount] != 1 {
		t.Fatalf("expected one skipped recompute, got %d", rec.skipped[TriggerSendAmount])
	}
}

func TestSession_TypingSideIsNeverOverwritten(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	clock.Advance(100 * time.Millisecond)
	s.EditReceiveAmount(pricing.Some(5))
	clock.Advance(DefaultDebounce)

	st := s.Snapshot()
	if mustAmount(t, st.ReceiveAmount) != 5 {
		t.Fatalf("receive was overwritten: %v", st.ReceiveAmount)
	}
	if got := mustAmount(t, st.SendAmount); !approxEqual(got, 0.3) {
		t.Fatalf("send: want 0.3, got %f", got)
	}
}

func TestSession_TypedBeforePricesConvertsImmediately(t *testing.T) {
	s, clock, _ := newTestSession(t)

	s.EditSendAmount(pricing.Some(2))
	clock.Advance(DefaultDebounce)
	if !s.Snapshot().ReceiveAmount.IsEmpty() {
		t.Fatal("no prices yet, receive must stay empty")
	}

	s.SetTable(btcEthTable())
	if got := mustAmount(t, s.Snapshot().ReceiveAmount); !approxEqual(got, 2*50000.0/3000.0) {
		t.Fatalf("receive: want %f, got %f", 2*50000.0/3000.0, got)
	}
}

func TestSession_AssetChangeDerivesImmediately(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(pricing.Resolve([]pricing.Observation{
		{Asset: "BTC", Price: 50000, ObservedAt: epoch},
		{Asset: "ETH", Price: 3000, ObservedAt: epoch},
		{Asset: "USDC", Price: 1, ObservedAt: epoch},
	}))
	s.EditSendAmount(pricing.Some(1))
	clock.Advance(DefaultDebounce)

	s.ChangeReceiveAsset("USDC")
	if got := mustAmount(t, s.Snapshot().ReceiveAmount); !approxEqual(got, 50000) {
		t.Fatalf("receive: want 50000, got %f", got)
	}

	s.ChangeSendAsset("ETH")
	if got := mustAmount(t, s.Snapshot().ReceiveAmount); !approxEqual(got, 3000) {
		t.Fatalf("receive: want 3000, got %f", got)
	}
}

func TestSession_ReceiveAssetChangeKeepsSendAuthoritative(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(pricing.Resolve([]pricing.Observation{
		{Asset: "BTC", Price: 50000, ObservedAt: epoch},
		{Asset: "ETH", Price: 3000, ObservedAt: epoch},
		{Asset: "USDC", Price: 1, ObservedAt: epoch},
	}))
	s.EditReceiveAmount(pricing.Some(3))
	clock.Advance(DefaultDebounce)
	send := mustAmount(t, s.Snapshot().SendAmount)

	s.ChangeReceiveAsset("USDC")

	st := s.Snapshot()
	if mustAmount(t, st.SendAmount) != send {
		t.Fatal("send amount must not change on a receive asset change")
	}
	if got := mustAmount(t, st.ReceiveAmount); !approxEqual(got, send*50000) {
		t.Fatalf("receive: want %f, got %f", send*50000, got)
	}
}

func TestSession_AssetChangeToUnpricedAssetKeepsValue(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())
	s.EditSendAmount(pricing.Some(1))
	clock.Advance(DefaultDebounce)
	before := s.Snapshot().ReceiveAmount

	s.ChangeReceiveAsset("DOGE")
	if s.Snapshot().ReceiveAmount != before {
		t.Fatal("receive must keep its last value when the new asset is unpriced")
	}
}

func TestSession_ZeroDelayIsSynchronous(t *testing.T) {
	s, clock, _ := newTestSession(t, WithDebounce(0))
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	if got := mustAmount(t, s.Snapshot().ReceiveAmount); !approxEqual(got, 50000.0/3000.0) {
		t.Fatalf("receive: want %f, got %f", 50000.0/3000.0, got)
	}
	if clock.Pending() != 0 {
		t.Fatalf("no timers expected, got %d", clock.Pending())
	}
}

func TestSession_DisposeCancelsTimers(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	if clock.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", clock.Pending())
	}
	s.Dispose()
	if clock.Pending() != 0 {
		t.Fatalf("dispose left %d timers pending", clock.Pending())
	}

	clock.Advance(DefaultDebounce)
	if !s.Snapshot().ReceiveAmount.IsEmpty() {
		t.Fatal("disposed session was mutated")
	}
}

// stubbornClock ignores Stop, so callbacks fire even after cancellation.
type stubbornClock struct{ *ManualClock }

type stubbornTimer struct{}

func (stubbornTimer) Stop() bool { return false }

func (c stubbornClock) AfterFunc(d time.Duration, f func()) Timer {
	c.ManualClock.AfterFunc(d, f)
	return stubbornTimer{}
}

func TestSession_LateFireAfterDisposeIsNoop(t *testing.T) {
	clock := stubbornClock{NewManualClock(epoch)}
	s := NewSession("late", WithClock(clock))
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	s.Dispose()
	clock.Advance(DefaultDebounce)

	if !s.Snapshot().ReceiveAmount.IsEmpty() {
		t.Fatal("timer fired into a disposed session")
	}
}

func TestSession_LateFireOfReplacedTimerIsNoop(t *testing.T) {
	clock := stubbornClock{NewManualClock(epoch)}
	rec := newCountingRecorder()
	s := NewSession("late", WithClock(clock), WithRecorder(rec))
	defer s.Dispose()
	s.SetTable(btcEthTable())

	s.EditSendAmount(pricing.Some(1))
	clock.Advance(10 * time.Millisecond)
	s.EditSendAmount(pricing.Some(2))
	clock.Advance(DefaultDebounce)

	if n := rec.total(TriggerSendAmount); n != 1 {
		t.Fatalf("expected one recomputation, got %d", n)
	}
}

func TestSession_SubmitValid(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())
	s.EditSendAmount(pricing.Some(1))
	clock.Advance(DefaultDebounce)

	sum, err := s.Submit()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sum.SendAsset != "BTC" || sum.ReceiveAsset != "ETH" {
		t.Fatalf("unexpected assets: %+v", sum)
	}
	if sum.ApproxUSDSendAmount != 50000 {
		t.Fatalf("send usd: want 50000, got %f", sum.ApproxUSDSendAmount)
	}
	if !sum.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("created at: want %s, got %s", clock.Now(), sum.CreatedAt)
	}
}

func TestSession_SubmitInvalid(t *testing.T) {
	s, _, _ := newTestSession(t, WithDebounce(0))
	s.SetTable(btcEthTable())
	s.ChangeReceiveAsset("BTC")
	s.EditSendAmount(pricing.Some(1))

	_, err := s.Submit()
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if !errors.Is(err, ErrSameAsset) {
		t.Fatalf("expected ErrSameAsset in chain, got %v", err)
	}
}

func TestSession_SubmitAfterDispose(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Dispose()
	if _, err := s.Submit(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_SubmitWhileInFlight(t *testing.T) {
	s, _, _ := newTestSession(t, WithDebounce(0))
	s.SetTable(btcEthTable())
	s.EditSendAmount(pricing.Some(1))

	sum, err := s.Submit()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := s.Submit(); !errors.Is(err, ErrExchangeInFlight) {
		t.Fatalf("expected ErrExchangeInFlight, got %v", err)
	}

	s.Abort()
	if _, err := s.Submit(); err != nil {
		t.Fatalf("submit after abort: %v", err)
	}
	s.Complete(sum)
	st := s.Snapshot()
	if !st.SendAmount.IsEmpty() || !st.ReceiveAmount.IsEmpty() || st.LastEdited != SideNone {
		t.Fatalf("complete did not clear submitted amounts: %+v", st)
	}
	if _, err := s.Submit(); !errors.Is(err, ErrAmountMissing) {
		t.Fatalf("expected gate error after completion, got %v", err)
	}
}

func TestSession_CompleteKeepsChangedAmounts(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())
	s.EditSendAmount(pricing.Some(1))
	clock.Advance(DefaultDebounce)

	sum, err := s.Submit()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Typed but not yet derived: receive still holds the submitted value.
	s.EditSendAmount(pricing.Some(2))
	s.Complete(sum)

	st := s.Snapshot()
	if v, _ := st.SendAmount.Value(); v != 2 {
		t.Fatalf("send edit lost: %+v", st)
	}
	if !st.ReceiveAmount.IsEmpty() {
		t.Fatalf("submitted receive amount not cleared: %+v", st)
	}

	clock.Advance(DefaultDebounce)
	if got := mustAmount(t, s.Snapshot().ReceiveAmount); !approxEqual(got, 2*50000.0/3000) {
		t.Fatalf("pending derivation did not run after complete: %v", got)
	}
}

func TestSession_ViewPairsStateWithTable(t *testing.T) {
	s, _, _ := newTestSession(t, WithDebounce(0))
	s.SetTable(btcEthTable())
	s.EditSendAmount(pricing.Some(1))

	st, table := s.View()
	if st != s.Snapshot() {
		t.Fatalf("view state differs from snapshot: %+v", st)
	}
	if !table.Equal(btcEthTable()) {
		t.Fatal("view table differs from installed table")
	}
}

func TestSession_Reset(t *testing.T) {
	s, clock, _ := newTestSession(t)
	s.SetTable(btcEthTable())
	s.EditSendAmount(pricing.Some(1))
	clock.Advance(DefaultDebounce)
	s.EditReceiveAmount(pricing.Some(4))

	s.Reset()
	if clock.Pending() != 0 {
		t.Fatalf("reset left %d timers pending", clock.Pending())
	}

	st := s.Snapshot()
	if !st.SendAmount.IsEmpty() || !st.ReceiveAmount.IsEmpty() {
		t.Fatalf("amounts not cleared: %+v", st)
	}
	if st.SendAsset != "BTC" || st.ReceiveAsset != "ETH" {
		t.Fatalf("asset selection lost: %+v", st)
	}
	if st.LastEdited != SideNone {
		t.Fatalf("expected SideNone, got %s", st.LastEdited)
	}
}

func TestSession_Watch(t *testing.T) {
	s, _, _ := newTestSession(t, WithDebounce(0))
	ch, stop := s.Watch()
	defer stop()

	if st := <-ch; st.SendAsset != "" {
		t.Fatalf("initial state should be empty, got %+v", st)
	}

	s.SetTable(btcEthTable())
	s.EditSendAmount(pricing.Some(1))

	// Conflated: only the latest state is buffered.
	st := <-ch
	if mustAmount(t, st.SendAmount) != 1 || st.ReceiveAmount.IsEmpty() {
		t.Fatalf("expected latest state, got %+v", st)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected buffered state: %+v", extra)
	default:
	}

	s.Dispose()
	if _, ok := <-ch; ok {
		t.Fatal("watch channel should be closed on dispose")
	}
}
