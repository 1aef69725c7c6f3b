package swap

import (
	"time"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// Side names one of the two amount fields of a session.
type Side uint8

const (
	SideNone Side = iota
	SideSend
	SideReceive
)

func (s Side) String() string {
	switch s {
	case SideSend:
		return "send"
	case SideReceive:
		return "receive"
	default:
		return "none"
	}
}

// MarshalText renders the side as its name.
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is a point-in-time copy of a session's fields.
type State struct {
	SendAmount    pricing.Amount `json:"sendAmount"`
	ReceiveAmount pricing.Amount `json:"receiveAmount"`
	SendAsset     string         `json:"sendAsset"`
	ReceiveAsset  string         `json:"receiveAsset"`
	LastEdited    Side           `json:"lastEdited"`
}

// ExchangeSummary is the immutable record handed to the executor when a
// swap is confirmed.
type ExchangeSummary struct {
	SendAmount             float64   `json:"sendAmount"`
	ReceiveAmount          float64   `json:"receiveAmount"`
	ApproxUSDSendAmount    float64   `json:"approxUsdSendAmount"`
	ApproxUSDReceiveAmount float64   `json:"approxUsdReceiveAmount"`
	SendAsset              string    `json:"sendAsset"`
	ReceiveAsset           string    `json:"receiveAsset"`
	CreatedAt              time.Time `json:"timestamp"`
}

// Trigger labels what caused a recomputation, for metrics.
type Trigger string

const (
	TriggerPrices        Trigger = "prices"
	TriggerSendAmount    Trigger = "send_amount"
	TriggerReceiveAmount Trigger = "receive_amount"
	TriggerSendAsset     Trigger = "send_asset"
	TriggerReceiveAsset  Trigger = "receive_asset"
)

// Recorder observes recomputations. applied is false when the result was
// empty and the peer field kept its previous value.
type Recorder interface {
	ObserveRecompute(trigger Trigger, applied bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRecompute(Trigger, bool) {}
