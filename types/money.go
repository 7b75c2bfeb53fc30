package types

import (
	"strconv"
	"strings"
)

// Money is an amount in the smallest unit of its currency. Commissions are
// always denominated in the currency of the invoice that produced them.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New returns Money with a normalized currency code.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: NormalizeCurrency(currency)}
}

// NormalizeCurrency returns the lowercase ISO 4217 form stored on records.
func NormalizeCurrency(currency string) string {
	return strings.ToLower(strings.TrimSpace(currency))
}

// zero-decimal currencies carry whole units in Amount.
var zeroDecimal = map[string]bool{
	"jpy": true,
	"krw": true,
	"vnd": true,
	"clp": true,
}

// String renders the amount in major units followed by the currency code,
// e.g. "12.50 usd" or "100 jpy". Used in logs.
func (m Money) String() string {
	n := m.Amount
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}

	cur := m.Currency
	if cur == "" {
		cur = "?"
	}

	if zeroDecimal[m.Currency] {
		return sign + strconv.FormatInt(n, 10) + " " + cur
	}

	minor := strconv.FormatInt(n%100, 10)
	if len(minor) == 1 {
		minor = "0" + minor
	}
	return sign + strconv.FormatInt(n/100, 10) + "." + minor + " " + cur
}
