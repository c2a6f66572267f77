package amount

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/xswap/internal/errors"
)

// DisplayPrecision is the number of fractional digits used for display amounts.
const DisplayPrecision = 6

// MaxDecimals bounds token decimals accepted from providers.
const MaxDecimals = 77

var (
	decimalPattern   = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	baseUnitsPattern = regexp.MustCompile(`^[0-9]+$`)
	minDisplay       = decimal.New(1, -DisplayPrecision)
)

// ToBaseUnits converts a non-negative decimal string into an integer string of
// base units. Digits beyond the token's precision are floored.
func ToBaseUnits(value string, decimals int) (string, error) {
	value = strings.TrimSpace(value)
	if err := checkDecimals(decimals); err != nil {
		return "", err
	}
	if !decimalPattern.MatchString(value) {
		return "", clierr.New(clierr.CodeValidation, fmt.Sprintf("invalid decimal amount %q", value))
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeValidation, "parse decimal amount", err)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt().String(), nil
}

// ToDecimalAmount converts a base-unit integer string into a display amount
// with DisplayPrecision fractional digits. Non-zero values too small to show
// at that precision are rendered in exponential form instead of as zero.
func ToDecimalAmount(baseUnits string, decimals int) (string, error) {
	d, err := fromBaseUnits(baseUnits, decimals)
	if err != nil {
		return "", err
	}
	return FormatDisplay(d), nil
}

// FormatDisplay renders d the same way ToDecimalAmount does.
func FormatDisplay(d decimal.Decimal) string {
	if d.IsPositive() && d.LessThan(minDisplay) {
		f, _ := d.Float64()
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	return d.Truncate(DisplayPrecision).StringFixed(DisplayPrecision)
}

// ParseDisplay parses a display amount produced by FormatDisplay, including
// the exponential form.
func ParseDisplay(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeValidation, "parse display amount", err)
	}
	return d, nil
}

// Exact renders base units as a decimal string without display rounding and
// without trailing zeros.
func Exact(baseUnits string, decimals int) (string, error) {
	d, err := fromBaseUnits(baseUnits, decimals)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

func fromBaseUnits(baseUnits string, decimals int) (decimal.Decimal, error) {
	baseUnits = strings.TrimSpace(baseUnits)
	if err := checkDecimals(decimals); err != nil {
		return decimal.Zero, err
	}
	if !baseUnitsPattern.MatchString(baseUnits) {
		return decimal.Zero, clierr.New(clierr.CodeValidation, fmt.Sprintf("invalid base-unit amount %q", baseUnits))
	}
	n, ok := new(big.Int).SetString(baseUnits, 10)
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeValidation, fmt.Sprintf("invalid base-unit amount %q", baseUnits))
	}
	return decimal.NewFromBigInt(n, -int32(decimals)), nil
}

func checkDecimals(decimals int) error {
	if decimals < 0 || decimals > MaxDecimals {
		return clierr.New(clierr.CodeValidation, fmt.Sprintf("decimals must be between 0 and %d", MaxDecimals))
	}
	return nil
}

// NormalizeAmount accepts exactly one of a base-unit amount or a decimal
// amount (as given on the command line) and returns both forms.
func NormalizeAmount(baseUnits, value string, decimals int) (string, string, error) {
	if baseUnits != "" && value != "" {
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && value == "" {
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		exact, err := Exact(baseUnits, decimals)
		if err != nil {
			return "", "", clierr.New(clierr.CodeUsage, "--amount must be a non-negative integer string")
		}
		return baseUnits, exact, nil
	}

	if !decimalPattern.MatchString(value) {
		return "", "", clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	if parts := strings.SplitN(value, ".", 2); len(parts) == 2 && len(parts[1]) > decimals {
		return "", "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	base, err := ToBaseUnits(value, decimals)
	if err != nil {
		return "", "", clierr.Wrap(clierr.CodeUsage, "invalid --amount-decimal", err)
	}
	d, _ := decimal.NewFromString(value)
	return base, d.String(), nil
}
