package commission

import (
	"errors"

	"github.com/xraph/referral/types"
)

// ErrNegativeAmount is returned by Compute for refunds or corrupt payloads.
var ErrNegativeAmount = errors.New("commission: payment amount is negative")

// ErrInvalidRate is returned by Compute for rates outside [0, 10000] bps.
var ErrInvalidRate = errors.New("commission: rate out of range")

// Compute returns floor(paymentCents * rate / 10000).
func Compute(paymentCents int64, rate types.BasisPoints) (int64, error) {
	if paymentCents < 0 {
		return 0, ErrNegativeAmount
	}
	if !rate.Valid() {
		return 0, ErrInvalidRate
	}
	return rate.Of(paymentCents), nil
}
