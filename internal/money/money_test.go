package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRoundHalfUpAtTwoPlaces(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2.004", "2"},
		{"2.005", "2.01"},
		{"2.0050", "2.01"},
		{"2.675", "2.68"},
		{"10.125", "10.13"},
		{"0.004999", "0"},
		{"19.995", "20"},
		{"3", "3"},
	}
	for _, tc := range cases {
		got := Round(dec(tc.in))
		if !got.Equal(dec(tc.want)) {
			t.Fatalf("Round(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestRoundCostKeepsFourPlaces(t *testing.T) {
	got := RoundCost(dec("0.123456"))
	if !got.Equal(dec("0.1235")) {
		t.Fatalf("RoundCost = %s, want 0.1235", got)
	}
}

func TestRoundQtyKeepsSixPlaces(t *testing.T) {
	got := RoundQty(dec("0.1234565"))
	if !got.Equal(dec("0.123457")) {
		t.Fatalf("RoundQty = %s, want 0.123457", got)
	}
	got = RoundQty(dec("1.5"))
	if !got.Equal(dec("1.5")) {
		t.Fatalf("RoundQty = %s, want 1.5", got)
	}
}

func TestPercent(t *testing.T) {
	got := Percent(dec("5"), dec("20"))
	if !got.Equal(dec("25")) {
		t.Fatalf("Percent(5, 20) = %s, want 25", got)
	}
	got = Percent(dec("1"), dec("3"))
	if !got.Equal(dec("33.33")) {
		t.Fatalf("Percent(1, 3) = %s, want 33.33", got)
	}
	got = Percent(dec("5"), decimal.Zero)
	if !got.IsZero() {
		t.Fatalf("Percent with zero whole = %s, want 0", got)
	}
}
