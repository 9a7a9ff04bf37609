package money

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNormalize_HalfAwayFromZero(t *testing.T) {
	cases := []struct {
		raw  float64
		want Money
	}{
		{0, 0},
		{1, 100},
		{30.50, 3050},
		{2.005, 201},
		{-2.005, -201},
		{0.004, 0},
		{0.005, 1},
		{-0.005, -1},
		{99.999, 10000},
	}
	for _, c := range cases {
		got, err := Normalize(c.raw)
		if err != nil {
			t.Fatalf("Normalize(%v): %v", c.raw, err)
		}
		if got != c.want {
			t.Fatalf("Normalize(%v) = %d, want %d", c.raw, got, c.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, raw := range []float64{0, 1.239, -77.775, 1234.5678} {
		once, err := Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%v): %v", raw, err)
		}
		twice, err := Normalize(float64(once) / 100)
		if err != nil {
			t.Fatalf("renormalize: %v", err)
		}
		if once != twice {
			t.Fatalf("normalize not idempotent for %v: %d vs %d", raw, once, twice)
		}
	}
}

func TestNormalize_RejectsNonFinite(t *testing.T) {
	for _, raw := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Normalize(raw); err == nil {
			t.Fatalf("expected error for %v", raw)
		}
	}
}

func TestString(t *testing.T) {
	cases := []struct {
		m    Money
		want string
	}{
		{0, "0.00"},
		{3050, "30.50"},
		{6950, "69.50"},
		{-25, "-0.25"},
		{100000, "1000.00"},
	}
	for _, c := range cases {
		if got := c.m.String(); got != c.want {
			t.Fatalf("%d.String() = %q, want %q", c.m, got, c.want)
		}
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(6000, 10000); got != "60.00" {
		t.Fatalf("Percent = %q, want 60.00", got)
	}
	if got := Percent(0, 0); got != "0.00" {
		t.Fatalf("Percent with zero total = %q, want 0.00", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(Money(6950))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "69.50" {
		t.Fatalf("marshal = %s, want 69.50", b)
	}

	var m Money
	if err := json.Unmarshal([]byte("69.5000001"), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m != 6950 {
		t.Fatalf("unmarshal = %d, want 6950", m)
	}
	if err := json.Unmarshal([]byte(`"nope"`), &m); err == nil {
		t.Fatalf("expected error for non-number")
	}
}
