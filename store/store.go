// Package store defines the persistence contract shared by every backend.
package store

import (
	"context"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/ledger"
)

// Store is the unified storage interface for codes, referrals and
// commissions. Backends must enforce the unique indexes each entity store
// documents and translate violations to the root ErrConflict; the engine
// relies on them instead of locks.
type Store interface {
	code.Store
	ledger.Store
	commission.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
