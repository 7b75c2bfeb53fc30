package commission

import (
	"context"
	"time"

	"github.com/xraph/referral/id"
)

// Store persists commissions.
type Store interface {
	GetCommissionByInvoice(ctx context.Context, stripeInvoiceID string) (*Commission, error)
	// CreateCommission inserts c unless a row with the same StripeInvoiceID
	// exists, in which case it does nothing and reports created=false.
	CreateCommission(ctx context.Context, c *Commission) (created bool, err error)
	ListCommissions(ctx context.Context, referrerUserID string, opts ListOpts) ([]*Commission, error)
	// UpdateCommissionStatus applies from -> to conditionally and reports
	// whether the row was still in from.
	UpdateCommissionStatus(ctx context.Context, commissionID id.CommissionID, from, to Status, at time.Time) (bool, error)
	GetCommission(ctx context.Context, commissionID id.CommissionID) (*Commission, error)
	// SumCommissionsByStatus groups the referrer's commission amounts by status.
	SumCommissionsByStatus(ctx context.Context, referrerUserID string) (map[Status]int64, error)
}

// ListOpts filters commission listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
