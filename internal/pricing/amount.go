package pricing

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

// Amount is an optional quantity. The zero value is empty, which is how an
// input field the user has cleared is represented.
type Amount struct {
	value float64
	set   bool
}

// Some returns a non-empty Amount holding v.
func Some(v float64) Amount { return Amount{value: v, set: true} }

// None returns the empty Amount.
func None() Amount { return Amount{} }

// Value returns the amount and whether it is set.
func (a Amount) Value() (float64, bool) { return a.value, a.set }

// IsEmpty reports whether no value is held.
func (a Amount) IsEmpty() bool { return !a.set }

// Float returns the value, or 0 when empty.
func (a Amount) Float() float64 {
	if !a.set {
		return 0
	}
	return a.value
}

// Finite reports whether the amount is set and is neither NaN nor ±Inf.
func (a Amount) Finite() bool {
	return a.set && !math.IsNaN(a.value) && !math.IsInf(a.value, 0)
}

func (a Amount) String() string {
	if !a.set {
		return ""
	}
	return strconv.FormatFloat(a.value, 'f', -1, 64)
}

// MarshalJSON encodes an empty amount as null.
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.set {
		return []byte("null"), nil
	}
	return json.Marshal(a.value)
}

// UnmarshalJSON accepts a number, null, or "" (a cleared input).
func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
		*a = Amount{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*a = Some(v)
	return nil
}
