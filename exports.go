package referral

import (
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/types"
)

// Re-exports so callers can stay on the root package for common values.

// ID is the primary identifier type for referral entities.
type ID = id.ID

// Money is re-exported from types package.
type Money = types.Money

// BasisPoints is re-exported from types package.
type BasisPoints = types.BasisPoints

// Entity is re-exported from types package.
type Entity = types.Entity
