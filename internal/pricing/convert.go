package pricing

import "math"

// ReceivedFromSend returns how much of toAsset an amount of fromAsset buys:
// amount * price(from) / price(to). The result is empty when the amount or
// either asset is empty, when a price is missing or zero, or when the
// arithmetic is not finite.
func ReceivedFromSend(amount Amount, fromAsset, toAsset string, table Table) Amount {
	pFrom, pTo, ok := pricePair(amount, fromAsset, toAsset, table)
	if !ok {
		return None()
	}
	return finite(amount.value * pFrom / pTo)
}

// SendFromReceived is the inverse of ReceivedFromSend: the amount of
// fromSend needed to receive amount of toReceive,
// amount * price(toReceive) / price(fromSend).
func SendFromReceived(amount Amount, fromSend, toReceive string, table Table) Amount {
	pSend, pReceive, ok := pricePair(amount, fromSend, toReceive, table)
	if !ok {
		return None()
	}
	return finite(amount.value * pReceive / pSend)
}

// USDValue is amount * price(asset), treating an empty amount or a missing
// price as 0.
func USDValue(amount Amount, asset string, table Table) float64 {
	if amount.IsEmpty() || asset == "" {
		return 0
	}
	p, ok := table.Price(asset)
	if !ok {
		return 0
	}
	v := amount.value * p
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func pricePair(amount Amount, a, b string, table Table) (float64, float64, bool) {
	if amount.IsEmpty() || a == "" || b == "" {
		return 0, 0, false
	}
	pa, ok := table.Price(a)
	if !ok || pa == 0 {
		return 0, 0, false
	}
	pb, ok := table.Price(b)
	if !ok || pb == 0 {
		return 0, 0, false
	}
	return pa, pb, true
}

func finite(v float64) Amount {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return None()
	}
	return Some(v)
}
