package feed

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gbinance "github.com/adshao/go-binance/v2"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// BinanceSource reads spot ticker prices and reports every symbol quoted in
// a single quote asset, priced in that asset. The quote asset itself is
// reported at 1 so it can be selected like any other.
type BinanceSource struct {
	client *gbinance.Client
	quote  string
	now    func() time.Time
}

// NewBinanceSource builds a public-data client. baseURL overrides the API
// host when non-empty.
func NewBinanceSource(quote, baseURL string) *BinanceSource {
	client := gbinance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: 7 * time.Second}
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	q := strings.ToUpper(strings.TrimSpace(quote))
	if q == "" {
		q = "USDT"
	}
	return &BinanceSource{client: client, quote: q, now: time.Now}
}

func (b *BinanceSource) Name() string { return "binance" }

// Fetch lists all ticker prices and keeps the pairs against the quote asset.
func (b *BinanceSource) Fetch(ctx context.Context) ([]pricing.Observation, error) {
	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: binance: list prices: %w", err)
	}

	at := b.now().UTC()
	out := make([]pricing.Observation, 0, len(prices)+1)
	out = append(out, pricing.Observation{Asset: b.quote, Price: 1, ObservedAt: at})
	for _, p := range prices {
		if p == nil {
			continue
		}
		base, ok := strings.CutSuffix(p.Symbol, b.quote)
		if !ok || base == "" {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || v <= 0 {
			continue
		}
		out = append(out, pricing.Observation{Asset: base, Price: v, ObservedAt: at})
	}
	return out, nil
}
