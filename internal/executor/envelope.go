package executor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/caesar-terminal/swapdesk/internal/swap"
)

// ErrMalformed is returned for an envelope that cannot be decoded.
var ErrMalformed = errors.New("executor: malformed envelope")

// Signer signs summaries on behalf of the desk.
type Signer interface {
	Sign(summary swap.ExchangeSummary) ([]byte, error)
	Address() common.Address
}

// Envelope is a confirmed exchange as it travels to the executor.
type Envelope struct {
	Summary   swap.ExchangeSummary `json:"summary"`
	Signature string               `json:"signature,omitempty"` // 0x-prefixed hex
	Signer    string               `json:"signer,omitempty"`
}

// Seal builds an envelope for summary, signed when s is non-nil.
func Seal(summary swap.ExchangeSummary, s Signer) (Envelope, error) {
	env := Envelope{Summary: summary}
	if s == nil {
		return env, nil
	}
	sig, err := s.Sign(summary)
	if err != nil {
		return Envelope{}, fmt.Errorf("executor: sign summary: %w", err)
	}
	env.Signature = "0x" + hex.EncodeToString(sig)
	env.Signer = s.Address().Hex()
	return env, nil
}

// SignatureBytes decodes the hex signature.
func (e Envelope) SignatureBytes() ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(e.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %w", ErrMalformed, err)
	}
	return raw, nil
}

// toStruct encodes the envelope as a protobuf Struct. The timestamp is kept
// as an RFC3339 string with nanoseconds so it survives exactly.
func toStruct(e Envelope) (*structpb.Struct, error) {
	s := e.Summary
	return structpb.NewStruct(map[string]any{
		"sendAsset":              s.SendAsset,
		"receiveAsset":           s.ReceiveAsset,
		"sendAmount":             s.SendAmount,
		"receiveAmount":          s.ReceiveAmount,
		"approxUsdSendAmount":    s.ApproxUSDSendAmount,
		"approxUsdReceiveAmount": s.ApproxUSDReceiveAmount,
		"timestamp":              s.CreatedAt.UTC().Format(time.RFC3339Nano),
		"signature":              e.Signature,
		"signer":                 e.Signer,
	})
}

func fromStruct(pb *structpb.Struct) (Envelope, error) {
	if pb == nil {
		return Envelope{}, fmt.Errorf("%w: empty request", ErrMalformed)
	}
	f := pb.GetFields()

	str := func(key string) (string, error) {
		v, ok := f[key].GetKind().(*structpb.Value_StringValue)
		if !ok {
			return "", fmt.Errorf("%w: %s must be a string", ErrMalformed, key)
		}
		return v.StringValue, nil
	}
	num := func(key string) (float64, error) {
		v, ok := f[key].GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return 0, fmt.Errorf("%w: %s must be a number", ErrMalformed, key)
		}
		return v.NumberValue, nil
	}

	var (
		env  Envelope
		err  error
		ts   string
		errs []error
	)
	collect := func(e error) {
		if e != nil {
			errs = append(errs, e)
		}
	}
	env.Summary.SendAsset, err = str("sendAsset")
	collect(err)
	env.Summary.ReceiveAsset, err = str("receiveAsset")
	collect(err)
	env.Summary.SendAmount, err = num("sendAmount")
	collect(err)
	env.Summary.ReceiveAmount, err = num("receiveAmount")
	collect(err)
	env.Summary.ApproxUSDSendAmount, err = num("approxUsdSendAmount")
	collect(err)
	env.Summary.ApproxUSDReceiveAmount, err = num("approxUsdReceiveAmount")
	collect(err)
	ts, err = str("timestamp")
	collect(err)
	env.Signature, err = str("signature")
	collect(err)
	env.Signer, err = str("signer")
	collect(err)
	if len(errs) > 0 {
		return Envelope{}, errors.Join(errs...)
	}

	env.Summary.CreatedAt, err = time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: timestamp: %w", ErrMalformed, err)
	}
	return env, nil
}
