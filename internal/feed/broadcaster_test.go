package feed

import (
	"testing"
	"time"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

var t0 = time.Date(2023, 8, 29, 7, 10, 40, 0, time.UTC)

func tableOf(prices ...any) pricing.Table {
	var obs []pricing.Observation
	for i := 0; i+1 < len(prices); i += 2 {
		obs = append(obs, pricing.Observation{
			Asset:      prices[i].(string),
			Price:      prices[i+1].(float64),
			ObservedAt: t0,
		})
	}
	return pricing.Resolve(obs)
}

func TestBroadcaster_SlowSubscriberGetsLatest(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()

	b.Publish(tableOf("BTC", 1.0))
	b.Publish(tableOf("BTC", 2.0))
	b.Publish(tableOf("BTC", 3.0))

	got := <-sub
	if p, _ := got.Price("BTC"); p != 3 {
		t.Fatalf("expected latest table, got BTC=%v", p)
	}
	select {
	case extra := <-sub:
		t.Fatalf("expected a single pending table, got another: %v", extra.Prices())
	default:
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	a, c := b.Subscribe(), b.Subscribe()

	b.Publish(tableOf("ETH", 3000.0))

	for i, ch := range []<-chan pricing.Table{a, c} {
		select {
		case tbl := <-ch:
			if tbl.Len() != 1 {
				t.Fatalf("subscriber %d: unexpected table %v", i, tbl.Prices())
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestBroadcaster_LateSubscriberReceivesLatest(t *testing.T) {
	b := NewBroadcaster()
	if _, ok := b.Latest(); ok {
		t.Fatal("expected no table before the first publish")
	}
	b.Publish(tableOf("BTC", 50000.0))

	sub := b.Subscribe()
	select {
	case tbl := <-sub:
		if p, _ := tbl.Price("BTC"); p != 50000 {
			t.Fatalf("unexpected table %v", tbl.Prices())
		}
	default:
		t.Fatal("late subscriber did not receive the latest table")
	}
	if _, ok := b.Latest(); !ok {
		t.Fatal("Latest should report the published table")
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	b.Close()
	b.Close()
	b.Publish(tableOf("BTC", 1.0))

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("subscribe after close should return a closed channel")
	}
}
