package pricing

import "time"

// Observation is one timestamped price sample for an asset.
type Observation struct {
	Asset      string
	Price      float64
	ObservedAt time.Time
}

// Table maps each asset to its latest resolved price. A Table is never
// mutated after Resolve returns; rebuild it when the observations change.
type Table struct {
	prices map[string]float64
	assets []string // distinct assets, first-seen order
}

// Resolve reduces an observation series to one price per asset: the price of
// the observation with the greatest ObservedAt. Only a strictly later
// timestamp replaces the kept observation, so ties keep the first seen.
func Resolve(observations []Observation) Table {
	kept := make(map[string]Observation, len(observations))
	assets := make([]string, 0, len(observations))

	for _, o := range observations {
		prev, ok := kept[o.Asset]
		if !ok {
			kept[o.Asset] = o
			assets = append(assets, o.Asset)
			continue
		}
		if o.ObservedAt.After(prev.ObservedAt) {
			kept[o.Asset] = o
		}
	}

	prices := make(map[string]float64, len(kept))
	for asset, o := range kept {
		prices[asset] = o.Price
	}
	return Table{prices: prices, assets: assets}
}

// Latest compacts a series to the winning observation per asset, in
// first-seen asset order. Resolve(Latest(x)) equals Resolve(x).
func Latest(observations []Observation) []Observation {
	kept := make(map[string]int, len(observations))
	out := make([]Observation, 0, len(observations))
	for _, o := range observations {
		i, ok := kept[o.Asset]
		if !ok {
			kept[o.Asset] = len(out)
			out = append(out, o)
			continue
		}
		if o.ObservedAt.After(out[i].ObservedAt) {
			out[i] = o
		}
	}
	return out
}

// Price returns the resolved price for asset.
func (t Table) Price(asset string) (float64, bool) {
	p, ok := t.prices[asset]
	return p, ok
}

// Len is the number of distinct assets.
func (t Table) Len() int { return len(t.assets) }

// Assets returns the distinct assets in the order they first appeared in
// the source observations.
func (t Table) Assets() []string {
	out := make([]string, len(t.assets))
	copy(out, t.assets)
	return out
}

// Prices returns a copy of the asset → price mapping.
func (t Table) Prices() map[string]float64 {
	out := make(map[string]float64, len(t.prices))
	for k, v := range t.prices {
		out[k] = v
	}
	return out
}

// Equal reports whether both tables hold the same assets, order and prices.
func (t Table) Equal(other Table) bool {
	if len(t.assets) != len(other.assets) {
		return false
	}
	for i, a := range t.assets {
		if other.assets[i] != a || other.prices[a] != t.prices[a] {
			return false
		}
	}
	return true
}
