package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/referral"
	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	referralstore "github.com/xraph/referral/store"
)

// compile-time interface check
var _ referralstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("referral/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("referral/sqlite: %w: %w", referral.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Code Store ====================

func (s *Store) CreateCode(ctx context.Context, c *code.ReferralCode) error {
	_, err := s.sdb.NewInsert(toCodeModel(c)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetCodeByUser(ctx context.Context, userID string) (*code.ReferralCode, error) {
	return s.getCode(ctx, "user_id = ?", userID)
}

func (s *Store) GetCodeByValue(ctx context.Context, value string) (*code.ReferralCode, error) {
	return s.getCode(ctx, "code = ?", value)
}

func (s *Store) getCode(ctx context.Context, where string, arg any) (*code.ReferralCode, error) {
	m := new(codeModel)
	err := s.sdb.NewSelect(m).Where(where, arg).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, referral.ErrCodeNotFound
		}
		return nil, err
	}
	return fromCodeModel(m)
}

func (s *Store) SetCodeActive(ctx context.Context, userID string, active bool) error {
	res, err := s.sdb.NewUpdate((*codeModel)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return referral.ErrCodeNotFound
	}
	return nil
}

// ==================== Referral Store ====================

func (s *Store) CreateReferral(ctx context.Context, r *ledger.Referral) error {
	_, err := s.sdb.NewInsert(toReferralModel(r)).Exec(ctx)
	return mapWriteErr(err)
}

func (s *Store) GetReferral(ctx context.Context, referralID id.ReferralID) (*ledger.Referral, error) {
	m := new(referralModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", referralID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, referral.ErrReferralNotFound
		}
		return nil, err
	}
	return fromReferralModel(m)
}

func (s *Store) GetOpenReferral(ctx context.Context, referredUserID string) (*ledger.Referral, error) {
	m := new(referralModel)
	err := s.sdb.NewSelect(m).
		Where("referred_user_id = ?", referredUserID).
		Where("status IN (?, ?)", string(ledger.StatusPending), string(ledger.StatusActive)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, referral.ErrReferralNotFound
		}
		return nil, err
	}
	return fromReferralModel(m)
}

func (s *Store) GetReferralByStatus(ctx context.Context, referredUserID string, status ledger.Status) (*ledger.Referral, error) {
	m := new(referralModel)
	err := s.sdb.NewSelect(m).
		Where("referred_user_id = ?", referredUserID).
		Where("status = ?", string(status)).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, referral.ErrReferralNotFound
		}
		return nil, err
	}
	return fromReferralModel(m)
}

func (s *Store) ActivateReferral(ctx context.Context, referralID id.ReferralID, subscribedAt, expiresAt time.Time) (bool, error) {
	res, err := s.sdb.NewUpdate((*referralModel)(nil)).
		Set("status = ?", string(ledger.StatusActive)).
		Set("subscribed_at = ?", subscribedAt.UTC()).
		Set("expires_at = ?", expiresAt.UTC()).
		Set("updated_at = ?", subscribedAt.UTC()).
		Where("id = ?", referralID.String()).
		Where("status = ?", string(ledger.StatusPending)).
		Exec(ctx)
	return affected(res, err)
}

func (s *Store) ChurnReferrals(ctx context.Context, referredUserID string, churnedAt time.Time) ([]id.ReferralID, error) {
	var models []referralModel
	err := s.sdb.NewSelect(&models).
		Where("referred_user_id = ?", referredUserID).
		Where("status IN (?, ?)", string(ledger.StatusPending), string(ledger.StatusActive)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	var changed []id.ReferralID
	for i := range models {
		res, err := s.sdb.NewUpdate((*referralModel)(nil)).
			Set("status = ?", string(ledger.StatusChurned)).
			Set("churned_at = ?", churnedAt.UTC()).
			Set("updated_at = ?", churnedAt.UTC()).
			Where("id = ?", models[i].ID).
			Where("status IN (?, ?)", string(ledger.StatusPending), string(ledger.StatusActive)).
			Exec(ctx)
		ok, err := affected(res, err)
		if err != nil {
			return changed, err
		}
		if !ok {
			continue
		}
		refID, err := id.ParseReferralID(models[i].ID)
		if err != nil {
			return changed, err
		}
		changed = append(changed, refID)
	}
	return changed, nil
}

func (s *Store) ExpireReferral(ctx context.Context, referralID id.ReferralID, at time.Time) (bool, error) {
	res, err := s.sdb.NewUpdate((*referralModel)(nil)).
		Set("status = ?", string(ledger.StatusExpired)).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", referralID.String()).
		Where("status = ?", string(ledger.StatusActive)).
		Exec(ctx)
	return affected(res, err)
}

func (s *Store) ListReferrals(ctx context.Context, referrerUserID string, opts ledger.ListOpts) ([]*ledger.Referral, error) {
	var models []referralModel
	q := s.sdb.NewSelect(&models).Where("referrer_user_id = ?", referrerUserID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromReferralModels(models)
}

func (s *Store) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*ledger.Referral, error) {
	var models []referralModel
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(ledger.StatusActive)).
		Where("expires_at < ?", asOf.UTC()).
		OrderExpr("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromReferralModels(models)
}

func (s *Store) CountReferralsByStatus(ctx context.Context, referrerUserID string) (map[ledger.Status]int64, error) {
	counts := make(map[ledger.Status]int64, len(ledger.Statuses))
	for _, status := range ledger.Statuses {
		var n int64
		err := s.sdb.NewRaw(`
			SELECT COUNT(*) FROM referral_referrals
			WHERE referrer_user_id = ? AND status = ?
		`, referrerUserID, string(status)).Scan(ctx, &n)
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}

// ==================== Commission Store ====================

func (s *Store) GetCommissionByInvoice(ctx context.Context, stripeInvoiceID string) (*commission.Commission, error) {
	m := new(commissionModel)
	err := s.sdb.NewSelect(m).
		Where("stripe_invoice_id = ?", stripeInvoiceID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, referral.ErrCommissionNotFound
		}
		return nil, err
	}
	return fromCommissionModel(m)
}

func (s *Store) CreateCommission(ctx context.Context, c *commission.Commission) (bool, error) {
	res, err := s.sdb.NewInsert(toCommissionModel(c)).
		OnConflict("(stripe_invoice_id) DO NOTHING").
		Exec(ctx)
	return affected(res, err)
}

func (s *Store) GetCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Commission, error) {
	m := new(commissionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", commissionID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, referral.ErrCommissionNotFound
		}
		return nil, err
	}
	return fromCommissionModel(m)
}

func (s *Store) ListCommissions(ctx context.Context, referrerUserID string, opts commission.ListOpts) ([]*commission.Commission, error) {
	var models []commissionModel
	q := s.sdb.NewSelect(&models).Where("referrer_user_id = ?", referrerUserID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*commission.Commission, len(models))
	for i := range models {
		c, err := fromCommissionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) UpdateCommissionStatus(ctx context.Context, commissionID id.CommissionID, from, to commission.Status, at time.Time) (bool, error) {
	res, err := s.sdb.NewUpdate((*commissionModel)(nil)).
		Set("status = ?", string(to)).
		Set("updated_at = ?", at.UTC()).
		Where("id = ?", commissionID.String()).
		Where("status = ?", string(from)).
		Exec(ctx)
	return affected(res, err)
}

func (s *Store) SumCommissionsByStatus(ctx context.Context, referrerUserID string) (map[commission.Status]int64, error) {
	sums := make(map[commission.Status]int64, len(commission.Statuses))
	for _, status := range commission.Statuses {
		var total int64
		err := s.sdb.NewRaw(`
			SELECT COALESCE(SUM(amount_cents), 0) FROM referral_commissions
			WHERE referrer_user_id = ? AND status = ?
		`, referrerUserID, string(status)).Scan(ctx, &total)
		if err != nil {
			return nil, err
		}
		sums[status] = total
	}
	return sums, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports whether err is a unique index or primary key
// violation.
func isUniqueViolation(err error) bool {
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// mapWriteErr translates unique violations into referral.ErrConflict.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("referral/sqlite: %w: %w", referral.ErrConflict, err)
	}
	return err
}

// rowsResult is the part of an Exec result the conditional writes need.
type rowsResult interface {
	RowsAffected() (int64, error)
}

// affected reports whether a conditional write touched a row.
func affected(res rowsResult, err error) (bool, error) {
	if err != nil {
		return false, mapWriteErr(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
