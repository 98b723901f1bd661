package types

import (
	"fmt"
	"math/big"
	"strings"
)

// Amounts are carried as *big.Int values denominated in minor units (one
// hundredth of the token). FormatAmount renders the canonical two-decimal
// string used in receipts and mandate records.
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0.00"
	}
	sign := ""
	abs := new(big.Int).Abs(v)
	if v.Sign() < 0 {
		sign = "-"
	}
	units, cents := new(big.Int).DivMod(abs, big.NewInt(100), new(big.Int))
	return fmt.Sprintf("%s%s.%02d", sign, units.String(), cents.Int64())
}

// ParseAmount converts a two-decimal string (e.g. "12.50") into minor units.
func ParseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	neg := strings.HasPrefix(trimmed, "-")
	trimmed = strings.TrimPrefix(trimmed, "-")
	parts := strings.SplitN(trimmed, ".", 2)
	units, ok := new(big.Int).SetString(parts[0], 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	total := new(big.Int).Mul(units, big.NewInt(100))
	if len(parts) == 2 {
		frac := parts[1]
		if len(frac) > 2 || len(frac) == 0 {
			return nil, fmt.Errorf("invalid amount %q: expected at most two decimals", s)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, ok := new(big.Int).SetString(frac, 10)
		if !ok || cents.Sign() < 0 {
			return nil, fmt.Errorf("invalid amount %q", s)
		}
		total.Add(total, cents)
	}
	if neg {
		total.Neg(total)
	}
	return total, nil
}

// NormalizeToken ensures the provided token symbol matches a supported value
// and returns the canonical uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	switch trimmed {
	case "USDC", "AGN":
		return trimmed, nil
	default:
		return "", fmt.Errorf("unsupported settlement token: %s", symbol)
	}
}
