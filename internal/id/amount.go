package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/swapdesk/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// NormalizeAmount accepts either a base-unit integer or a decimal string and
// returns both forms.
func NormalizeAmount(baseUnits, dec string, decimals int) (string, string, error) {
	if baseUnits != "" && dec != "" {
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount-base or --amount, not both")
	}
	if baseUnits == "" && dec == "" {
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		n, ok := new(big.Int).SetString(baseUnits, 10)
		if !ok {
			return "", "", clierr.New(clierr.CodeUsage, "--amount-base must be an integer string")
		}
		if n.Sign() < 0 {
			return "", "", clierr.New(clierr.CodeUsage, "--amount-base must be non-negative")
		}
		return n.String(), FormatUnits(n, decimals), nil
	}

	n, err := ParseUnits(dec, decimals)
	if err != nil {
		return "", "", err
	}
	return n.String(), FormatUnits(n, decimals), nil
}

// ParseUnits converts a human decimal amount into base units. Precision beyond
// the token's decimals is rejected, not rounded.
func ParseUnits(dec string, decimals int) (*big.Int, error) {
	dec = strings.TrimSpace(dec)
	if !decimalPattern.MatchString(dec) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid amount %q, use decimal form like 1.23", dec))
	}
	if parts := strings.SplitN(dec, ".", 2); len(parts) == 2 && len(parts[1]) > decimals {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	d, err := decimal.NewFromString(dec)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "invalid decimal amount", err)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// ToDecimal expresses base units as a decimal value.
func ToDecimal(baseUnits *big.Int, decimals int) decimal.Decimal {
	if baseUnits == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(baseUnits, int32(-decimals))
}

// FormatUnits renders base units without trailing zeros.
func FormatUnits(baseUnits *big.Int, decimals int) string {
	return ToDecimal(baseUnits, decimals).String()
}

// FormatBaseUnits is FormatUnits for integer strings; malformed input renders
// as "0".
func FormatBaseUnits(baseUnits string, decimals int) string {
	n, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return "0"
	}
	return FormatUnits(n, decimals)
}
