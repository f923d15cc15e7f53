// Package money converts ledger minor units for presentation.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Formatter renders minor-unit amounts in major units for one currency.
type Formatter struct {
	exponent int32
	currency string
	printer  *message.Printer
}

// NewFormatter builds a formatter. exponent is the number of minor digits
// (2 for KES cents); locale is a BCP 47 tag such as "en-KE".
func NewFormatter(exponent int, currency, locale string) (*Formatter, error) {
	if exponent < 0 || exponent > 6 {
		return nil, fmt.Errorf("money: exponent %d out of range", exponent)
	}
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return nil, fmt.Errorf("money: locale %q: %w", locale, err)
	}
	return &Formatter{
		exponent: int32(exponent),
		currency: strings.ToUpper(strings.TrimSpace(currency)),
		printer:  message.NewPrinter(tag),
	}, nil
}

// Major converts minor units to an exact decimal in major units.
func (f *Formatter) Major(minor int64) decimal.Decimal {
	return decimal.New(minor, -f.exponent)
}

// Minor converts a major-unit decimal to minor units, rejecting sub-minor precision.
func (f *Formatter) Minor(major decimal.Decimal) (int64, error) {
	scaled := major.Shift(f.exponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("money: %s has more than %d decimal places", major, f.exponent)
	}
	if scaled.Abs().GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("money: %s out of range", major)
	}
	return scaled.IntPart(), nil
}

// Format renders minor units with locale grouping and the currency code,
// e.g. "KES 1,200.00".
func (f *Formatter) Format(minor int64) string {
	value := f.Major(minor).InexactFloat64()
	text := f.printer.Sprint(number.Decimal(value, number.Scale(int(f.exponent))))
	if f.currency == "" {
		return text
	}
	return f.currency + " " + text
}

// Currency returns the ISO code the formatter renders.
func (f *Formatter) Currency() string {
	return f.currency
}
