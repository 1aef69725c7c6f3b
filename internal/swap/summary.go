package swap

import "github.com/caesar-terminal/swapdesk/internal/pricing"

// Build turns a session state into an ExchangeSummary. It does not check
// IsValid; callers gate on that first. Empty amounts and missing prices
// contribute 0 to the USD approximations.
func Build(s State, table pricing.Table) ExchangeSummary {
	return ExchangeSummary{
		SendAmount:             s.SendAmount.Float(),
		ReceiveAmount:          s.ReceiveAmount.Float(),
		ApproxUSDSendAmount:    pricing.USDValue(s.SendAmount, s.SendAsset, table),
		ApproxUSDReceiveAmount: pricing.USDValue(s.ReceiveAmount, s.ReceiveAsset, table),
		SendAsset:              s.SendAsset,
		ReceiveAsset:           s.ReceiveAsset,
	}
}
