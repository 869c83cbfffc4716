// Package money holds the fixed-point helpers used for every monetary value.
// Amounts are decimal.Decimal rounded to two places, half away from zero.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of fractional digits kept on every stored amount.
const Places = 2

// Zero is the zero amount.
var Zero = decimal.Zero

// ErrInvalidAmount indicates a value that could not be read as a decimal amount.
var ErrInvalidAmount = errors.New("money: invalid amount")

// ErrOutOfRange wraps ErrInvalidAmount for amounts a NUMERIC(12,2) column cannot hold.
var ErrOutOfRange = fmt.Errorf("%w: amount out of range", ErrInvalidAmount)

// Max is the largest magnitude stored in any amount column.
var Max = decimal.RequireFromString("9999999999.99")

const (
	maxInputLen = 32
	minExponent = -12
	maxExponent = 10
)

// InRange reports whether d fits the amount columns.
func InRange(d decimal.Decimal) bool {
	return d.Abs().LessThanOrEqual(Max)
}

// Round applies the monetary rounding rule.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse reads a boundary value into an amount. Floats never enter the pipeline
// and values outside the column range fail with ErrOutOfRange.
func Parse(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Zero, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	if len(s) > maxInputLen {
		return Zero, ErrOutOfRange
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	// The exponent check runs before any comparison or rounding, both of
	// which expand the coefficient to the full digit count.
	if exp := d.Exponent(); exp < minExponent || exp > maxExponent || !InRange(d) {
		return Zero, ErrOutOfRange
	}
	return Round(d), nil
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// Sum adds amounts and rounds the result.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return Round(total)
}

// Format renders an amount with exactly two decimals.
func Format(d decimal.Decimal) string {
	return Round(d).StringFixed(Places)
}

// Raw keeps the literal text of a JSON amount so it can be parsed as a decimal.
// Both "12.50" and 12.50 are accepted; anything else fails later in Parse.
type Raw string

// UnmarshalJSON implements json.Unmarshaler.
func (r *Raw) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*r = ""
		return nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = Raw(s)
		return nil
	}
	*r = Raw(text)
	return nil
}

// Decimal parses the raw value.
func (r Raw) Decimal() (decimal.Decimal, error) {
	return Parse(string(r))
}

// IsSet reports whether any value was supplied.
func (r Raw) IsSet() bool {
	return strings.TrimSpace(string(r)) != ""
}
