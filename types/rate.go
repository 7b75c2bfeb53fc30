package types

import (
	"fmt"
	"strconv"
)

// BasisPointsDenominator is the number of basis points in 100%.
const BasisPointsDenominator = 10_000

// BasisPoints is a rate expressed in hundredths of a percent (5000 = 50%).
type BasisPoints int

// Valid reports whether the rate lies in [0, 10000].
func (b BasisPoints) Valid() bool {
	return b >= 0 && b <= BasisPointsDenominator
}

// Of returns floor(amount * b / 10000) for a non-negative amount.
// The product is split on the denominator so large amounts cannot overflow.
func (b BasisPoints) Of(amount int64) int64 {
	whole := amount / BasisPointsDenominator
	rem := amount % BasisPointsDenominator
	return whole*int64(b) + rem*int64(b)/BasisPointsDenominator
}

// String renders the rate as a percentage, e.g. "50%" or "12.5%".
func (b BasisPoints) String() string {
	pct := float64(b) / 100
	return strconv.FormatFloat(pct, 'f', -1, 64) + "%"
}

// ParseBasisPoints parses an integer basis-point value and validates its range.
func ParseBasisPoints(s string) (BasisPoints, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("types: parse basis points %q: %w", s, err)
	}
	bp := BasisPoints(n)
	if !bp.Valid() {
		return 0, fmt.Errorf("types: basis points %d out of range", n)
	}
	return bp, nil
}
