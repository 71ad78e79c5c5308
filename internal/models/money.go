package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Money is an amount in cents. All prices, line totals and bill amounts use it
// so that repeated computation never drifts.
type Money int64

// MaxMoney caps parsed amounts well below the int64 range so that
// multiplication by quantities and rates cannot overflow.
const MaxMoney Money = 1_000_000_000_00

// Cents builds a Money value from a cent count.
func Cents(c int64) Money {
	return Money(c)
}

// Cents returns the amount in cents.
func (m Money) Cents() int64 {
	return int64(m)
}

// Mul returns the amount multiplied by a quantity.
func (m Money) Mul(qty int) Money {
	return m * Money(qty)
}

// ApplyRate returns m * bps / 10000 rounded half-up to the cent.
func (m Money) ApplyRate(bps int64) Money {
	v := int64(m)
	if v < 0 {
		return -Money((-v*bps + 5000) / 10000)
	}
	return Money((v*bps + 5000) / 10000)
}

// String formats the amount with two decimals, e.g. "25.50".
func (m Money) String() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney parses a decimal string with at most two fractional digits.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount is empty")
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" || !isDigits(whole) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if hasFrac && (frac == "" || len(frac) > 2 || !isDigits(frac)) {
		return 0, fmt.Errorf("invalid amount %q: at most two decimals allowed", s)
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > int64(MaxMoney/100) {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)

	m := Money(units*100 + cents)
	if m > MaxMoney {
		return 0, fmt.Errorf("amount %q out of range", s)
	}
	if neg {
		m = -m
	}
	return m, nil
}

// MarshalJSON encodes the amount as a decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts either "10.50" or 10.50. Numbers are parsed from their
// literal text, never through a float.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
