package domain

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// ErrUnknownCurrency is returned for codes that are not ISO 4217.
var ErrUnknownCurrency = errors.New("money: unknown currency")

// MinorUnitScale returns the number of decimal digits of the currency's minor unit.
func MinorUnitScale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// FormatAmount renders minor units as "CODE 1,234.50" for user-facing messages.
func FormatAmount(amount int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale, err := MinorUnitScale(code)
	if err != nil {
		return fmt.Sprintf("%s %d", code, amount)
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	divisor := int64(1)
	for i := 0; i < scale; i++ {
		divisor *= 10
	}
	major := groupThousands(amount / divisor)
	if scale == 0 {
		return fmt.Sprintf("%s %s%s", code, sign, major)
	}
	return fmt.Sprintf("%s %s%s.%0*d", code, sign, major, scale, amount%divisor)
}

// ApplyRateBPS returns amount x bps / 10000 rounded half up.
func ApplyRateBPS(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return (amount*bps + 5_000) / 10_000
}

func groupThousands(n int64) string {
	digits := fmt.Sprintf("%d", n)
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
