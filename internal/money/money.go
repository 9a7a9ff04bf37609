// Package money implements the ledger's fixed-precision currency value.
// All balances are held in minor units (cents), so arithmetic is exact and
// rounding happens exactly once, at the boundary where a raw amount enters
// the system.
package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Decimals is the number of fractional digits carried by every value.
const Decimals = 2

const unit = 100 // 10^Decimals

var ErrInvalidAmount = errors.New("invalid amount")

// Money is an amount in minor units (cents).
type Money int64

// Normalize rounds a raw amount to cent precision, half away from zero.
// NaN and infinities are rejected with ErrInvalidAmount.
func Normalize(raw float64) (Money, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return 0, ErrInvalidAmount
	}
	scaled := math.Round(raw * unit)
	if scaled > math.MaxInt64 || scaled < math.MinInt64 {
		return 0, ErrInvalidAmount
	}
	return Money(scaled), nil
}

// FromMinor wraps an amount already expressed in minor units.
func FromMinor(cents int64) Money { return Money(cents) }

func (m Money) Minor() int64 { return int64(m) }

func (m Money) Add(o Money) Money { return m + o }
func (m Money) Sub(o Money) Money { return m - o }

func (m Money) Negative() bool { return m < 0 }

// String renders the fixed 2-decimal form, e.g. "69.50" or "-0.25".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/unit, v%unit)
}

// Percent renders part/total*100 with 2 decimals. A zero total reads as
// "0.00" so leaderboards over an empty economy stay well defined.
func Percent(part, total Money) string {
	if total == 0 {
		return "0.00"
	}
	return strconv.FormatFloat(float64(part)/float64(total)*100, 'f', 2, 64)
}

// MarshalJSON emits a bare 2-decimal number so snapshots stay readable
// and shaped like the legacy account files.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts any finite JSON number and renormalizes it, so a
// snapshot hand-edited or written with excess precision loads clean.
func (m *Money) UnmarshalJSON(b []byte) error {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("money: %w", ErrInvalidAmount)
	}
	v, err := Normalize(f)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
