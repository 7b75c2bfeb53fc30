// Package memory provides an in-process store.Store for tests and
// single-instance development. It enforces the same unique constraints as
// the database backends.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/referral"
	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps every record in maps guarded by one RWMutex. Records are
// copied on the way in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	// Code storage, indexed by user and by value
	codes       map[string]*code.ReferralCode
	codeByValue map[string]string

	// Referral storage plus the open-referral index
	referrals map[string]*ledger.Referral
	open      map[string]string

	// Commission storage, indexed by invoice
	commissions map[string]*commission.Commission
	byInvoice   map[string]string

	closed bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		codes:       make(map[string]*code.ReferralCode),
		codeByValue: make(map[string]string),
		referrals:   make(map[string]*ledger.Referral),
		open:        make(map[string]string),
		commissions: make(map[string]*commission.Commission),
		byInvoice:   make(map[string]string),
	}
}

// ──────────────────────────────────────────────────
// Code Store
// ──────────────────────────────────────────────────

func (s *Store) CreateCode(_ context.Context, c *code.ReferralCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[c.UserID]; exists {
		return referral.ErrConflict
	}
	if _, exists := s.codeByValue[c.Value]; exists {
		return referral.ErrConflict
	}

	cp := *c
	s.codes[c.UserID] = &cp
	s.codeByValue[c.Value] = c.UserID
	return nil
}

func (s *Store) GetCodeByUser(_ context.Context, userID string) (*code.ReferralCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.codes[userID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, referral.ErrCodeNotFound
}

func (s *Store) GetCodeByValue(_ context.Context, value string) (*code.ReferralCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if userID, ok := s.codeByValue[value]; ok {
		cp := *s.codes[userID]
		return &cp, nil
	}
	return nil, referral.ErrCodeNotFound
}

func (s *Store) SetCodeActive(_ context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[userID]
	if !ok {
		return referral.ErrCodeNotFound
	}
	c.IsActive = active
	c.Touch(time.Now())
	return nil
}

// ──────────────────────────────────────────────────
// Referral Store
// ──────────────────────────────────────────────────

func (s *Store) CreateReferral(_ context.Context, r *ledger.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.referrals[r.ID.String()]; exists {
		return referral.ErrConflict
	}
	if r.Status.IsOpen() {
		if _, exists := s.open[r.ReferredUserID]; exists {
			return referral.ErrConflict
		}
		s.open[r.ReferredUserID] = r.ID.String()
	}

	cp := *r
	s.referrals[r.ID.String()] = &cp
	return nil
}

func (s *Store) GetReferral(_ context.Context, referralID id.ReferralID) (*ledger.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.referrals[referralID.String()]; ok {
		return copyReferral(r), nil
	}
	return nil, referral.ErrReferralNotFound
}

func (s *Store) GetOpenReferral(_ context.Context, referredUserID string) (*ledger.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.open[referredUserID]; ok {
		return copyReferral(s.referrals[key]), nil
	}
	return nil, referral.ErrReferralNotFound
}

func (s *Store) GetReferralByStatus(_ context.Context, referredUserID string, status ledger.Status) (*ledger.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *ledger.Referral
	for _, r := range s.referrals {
		if r.ReferredUserID != referredUserID || r.Status != status {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = r
		}
	}
	if found == nil {
		return nil, referral.ErrReferralNotFound
	}
	return copyReferral(found), nil
}

func (s *Store) ActivateReferral(_ context.Context, referralID id.ReferralID, subscribedAt, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.referrals[referralID.String()]
	if !ok || r.Status != ledger.StatusPending {
		return false, nil
	}

	sub, exp := subscribedAt.UTC(), expiresAt.UTC()
	r.Status = ledger.StatusActive
	r.SubscribedAt = &sub
	r.ExpiresAt = &exp
	r.Touch(sub)
	return true, nil
}

func (s *Store) ChurnReferrals(_ context.Context, referredUserID string, churnedAt time.Time) ([]id.ReferralID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.open[referredUserID]
	if !ok {
		return nil, nil
	}

	r := s.referrals[key]
	at := churnedAt.UTC()
	r.Status = ledger.StatusChurned
	r.ChurnedAt = &at
	r.Touch(at)
	delete(s.open, referredUserID)

	return []id.ReferralID{r.ID}, nil
}

func (s *Store) ExpireReferral(_ context.Context, referralID id.ReferralID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.referrals[referralID.String()]
	if !ok || r.Status != ledger.StatusActive {
		return false, nil
	}

	r.Status = ledger.StatusExpired
	r.Touch(at)
	delete(s.open, r.ReferredUserID)
	return true, nil
}

func (s *Store) ListReferrals(_ context.Context, referrerUserID string, opts ledger.ListOpts) ([]*ledger.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ledger.Referral, 0)
	for _, r := range s.referrals {
		if r.ReferrerUserID != referrerUserID {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		result = append(result, copyReferral(r))
	}

	slices.SortFunc(result, func(a, b *ledger.Referral) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListExpiredActive(_ context.Context, asOf time.Time, limit int) ([]*ledger.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ledger.Referral, 0)
	for _, r := range s.referrals {
		if r.Status == ledger.StatusActive && r.ExpiredAt(asOf) {
			result = append(result, copyReferral(r))
		}
	}

	slices.SortFunc(result, func(a, b *ledger.Referral) int {
		return a.ExpiresAt.Compare(*b.ExpiresAt)
	})

	return page(result, 0, limit), nil
}

func (s *Store) CountReferralsByStatus(_ context.Context, referrerUserID string) (map[ledger.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[ledger.Status]int64)
	for _, r := range s.referrals {
		if r.ReferrerUserID == referrerUserID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Commission Store
// ──────────────────────────────────────────────────

func (s *Store) GetCommissionByInvoice(_ context.Context, stripeInvoiceID string) (*commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if key, ok := s.byInvoice[stripeInvoiceID]; ok {
		cp := *s.commissions[key]
		return &cp, nil
	}
	return nil, referral.ErrCommissionNotFound
}

func (s *Store) CreateCommission(_ context.Context, c *commission.Commission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byInvoice[c.StripeInvoiceID]; exists {
		return false, nil
	}

	cp := *c
	s.commissions[c.ID.String()] = &cp
	s.byInvoice[c.StripeInvoiceID] = c.ID.String()
	return true, nil
}

func (s *Store) GetCommission(_ context.Context, commissionID id.CommissionID) (*commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.commissions[commissionID.String()]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, referral.ErrCommissionNotFound
}

func (s *Store) ListCommissions(_ context.Context, referrerUserID string, opts commission.ListOpts) ([]*commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*commission.Commission, 0)
	for _, c := range s.commissions {
		if c.ReferrerUserID != referrerUserID {
			continue
		}
		if opts.Status != "" && c.Status != opts.Status {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}

	slices.SortFunc(result, func(a, b *commission.Commission) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateCommissionStatus(_ context.Context, commissionID id.CommissionID, from, to commission.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.commissions[commissionID.String()]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.Touch(at)
	return true, nil
}

func (s *Store) SumCommissionsByStatus(_ context.Context, referrerUserID string) (map[commission.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[commission.Status]int64)
	for _, c := range s.commissions {
		if c.ReferrerUserID == referrerUserID {
			sums[c.Status] += c.AmountCents
		}
	}
	return sums, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return referral.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// copyReferral deep-copies the time pointers as well.
func copyReferral(r *ledger.Referral) *ledger.Referral {
	cp := *r
	cp.SubscribedAt = copyTime(r.SubscribedAt)
	cp.ExpiresAt = copyTime(r.ExpiresAt)
	cp.ChurnedAt = copyTime(r.ChurnedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func page[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
