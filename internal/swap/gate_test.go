package swap

import (
	"errors"
	"math"
	"testing"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

func validState() State {
	return State{
		SendAmount:    pricing.Some(1),
		ReceiveAmount: pricing.Some(16.5),
		SendAsset:     "BTC",
		ReceiveAsset:  "ETH",
		LastEdited:    SideSend,
	}
}

func TestValidate_Success(t *testing.T) {
	if err := Validate(validState()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !IsValid(validState()) {
		t.Fatal("expected IsValid")
	}
}

func TestValidate_MissingSendAmount(t *testing.T) {
	s := validState()
	s.SendAmount = pricing.None()

	if err := Validate(s); !errors.Is(err, ErrAmountMissing) {
		t.Fatalf("expected ErrAmountMissing, got %v", err)
	}
}

func TestValidate_MissingReceiveAmount(t *testing.T) {
	s := validState()
	s.ReceiveAmount = pricing.None()

	if err := Validate(s); !errors.Is(err, ErrAmountMissing) {
		t.Fatalf("expected ErrAmountMissing, got %v", err)
	}
}

func TestValidate_MissingAsset(t *testing.T) {
	s := validState()
	s.ReceiveAsset = ""

	if err := Validate(s); !errors.Is(err, ErrAssetMissing) {
		t.Fatalf("expected ErrAssetMissing, got %v", err)
	}
}

func TestValidate_SameAsset(t *testing.T) {
	s := validState()
	s.ReceiveAsset = s.SendAsset

	if err := Validate(s); !errors.Is(err, ErrSameAsset) {
		t.Fatalf("expected ErrSameAsset, got %v", err)
	}
	if IsValid(s) {
		t.Fatal("equal assets must never be valid")
	}
}

func TestValidate_ZeroAmount(t *testing.T) {
	s := validState()
	s.SendAmount = pricing.Some(0)

	if err := Validate(s); !errors.Is(err, ErrAmountNotPositive) {
		t.Fatalf("expected ErrAmountNotPositive, got %v", err)
	}
}

func TestValidate_NegativeAmount(t *testing.T) {
	s := validState()
	s.ReceiveAmount = pricing.Some(-3)

	if err := Validate(s); !errors.Is(err, ErrAmountNotPositive) {
		t.Fatalf("expected ErrAmountNotPositive, got %v", err)
	}
}

func TestValidate_NaNAmount(t *testing.T) {
	s := validState()
	s.SendAmount = pricing.Some(math.NaN())

	if IsValid(s) {
		t.Fatal("NaN amount must not be valid")
	}
}
