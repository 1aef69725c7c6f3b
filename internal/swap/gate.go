package swap

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Validate.
var (
	ErrAmountMissing     = errors.New("send and receive amounts are required")
	ErrAssetMissing      = errors.New("send and receive assets are required")
	ErrSameAsset         = errors.New("send and receive assets must differ")
	ErrAmountNotPositive = errors.New("amounts must be greater than zero")
	ErrInvalidSession    = errors.New("session is not ready for exchange")
)

// Validate runs the submission checks in order and returns the first that
// fails, or nil if the state may be exchanged.
func Validate(s State) error {
	// 1. Both amounts present.
	if s.SendAmount.IsEmpty() || s.ReceiveAmount.IsEmpty() {
		return ErrAmountMissing
	}

	// 2. Both assets selected.
	if s.SendAsset == "" || s.ReceiveAsset == "" {
		return ErrAssetMissing
	}

	// 3. Distinct assets.
	if s.SendAsset == s.ReceiveAsset {
		return fmt.Errorf("%w: %s", ErrSameAsset, s.SendAsset)
	}

	// 4. Strictly positive amounts. NaN fails the comparison too.
	send, _ := s.SendAmount.Value()
	recv, _ := s.ReceiveAmount.Value()
	if !(send > 0) || !(recv > 0) {
		return fmt.Errorf("%w: send=%v receive=%v", ErrAmountNotPositive, send, recv)
	}

	return nil
}

// IsValid reports whether the submit action should be enabled.
func IsValid(s State) bool {
	return Validate(s) == nil
}
