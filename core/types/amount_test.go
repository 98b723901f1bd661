package types

import (
	"math/big"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{100, "1.00"},
		{12345, "123.45"},
		{-250, "-2.50"},
	}
	for _, tc := range cases {
		if got := FormatAmount(big.NewInt(tc.in)); got != tc.want {
			t.Fatalf("FormatAmount(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
	if got := FormatAmount(nil); got != "0.00" {
		t.Fatalf("FormatAmount(nil) = %q, want 0.00", got)
	}
}

func TestParseAmountRoundTrip(t *testing.T) {
	for _, raw := range []string{"0.00", "1.00", "123.45", "-2.50", "0.05"} {
		parsed, err := ParseAmount(raw)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", raw, err)
		}
		if got := FormatAmount(parsed); got != raw {
			t.Fatalf("round trip %q -> %q", raw, got)
		}
	}
}

func TestParseAmountRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "abc", "1.234", "1."} {
		if _, err := ParseAmount(raw); err == nil {
			t.Fatalf("ParseAmount(%q) expected error", raw)
		}
	}
}

func TestNormalizeToken(t *testing.T) {
	got, err := NormalizeToken(" usdc ")
	if err != nil {
		t.Fatalf("NormalizeToken: %v", err)
	}
	if got != "USDC" {
		t.Fatalf("NormalizeToken = %q, want USDC", got)
	}
	if _, err := NormalizeToken("DOGE"); err == nil {
		t.Fatal("expected unsupported token error")
	}
}
