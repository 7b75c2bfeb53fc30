package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/referral"
	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	referralstore "github.com/xraph/referral/store"
)

// Collection name constants.
const (
	colCodes       = "referral_codes"
	colReferrals   = "referral_referrals"
	colCommissions = "referral_commissions"
)

// compile-time interface check
var _ referralstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all referral collections. The unique indexes
// are what keep concurrent writers consistent.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("referral/mongo: migrate %s indexes: %w: %w", col, referral.ErrMigrationFailed, err)
		}
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
	_, err := s.mdb.NewInsert(toCodeModel(c)).Exec(ctx)
	if err != nil {
		return mapWriteErr("create code", err)
	}
	return nil
}

func (s *Store) GetCodeByUser(ctx context.Context, userID string) (*code.ReferralCode, error) {
	return s.getCode(ctx, bson.M{"user_id": userID})
}

func (s *Store) GetCodeByValue(ctx context.Context, value string) (*code.ReferralCode, error) {
	return s.getCode(ctx, bson.M{"code": value})
}

func (s *Store) getCode(ctx context.Context, filter bson.M) (*code.ReferralCode, error) {
	var m codeModel
	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, referral.ErrCodeNotFound
		}
		return nil, fmt.Errorf("referral/mongo: get code: %w", err)
	}
	return fromCodeModel(&m)
}

func (s *Store) SetCodeActive(ctx context.Context, userID string, active bool) error {
	res, err := s.mdb.NewUpdate((*codeModel)(nil)).
		Filter(bson.M{"user_id": userID}).
		Set("is_active", active).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("referral/mongo: set code active: %w", err)
	}
	if res.MatchedCount() == 0 {
		return referral.ErrCodeNotFound
	}
	return nil
}

// ==================== Referral Store ====================

func (s *Store) CreateReferral(ctx context.Context, r *ledger.Referral) error {
	_, err := s.mdb.NewInsert(toReferralModel(r)).Exec(ctx)
	if err != nil {
		return mapWriteErr("create referral", err)
	}
	return nil
}

func (s *Store) GetReferral(ctx context.Context, referralID id.ReferralID) (*ledger.Referral, error) {
	return s.findReferral(ctx, bson.M{"_id": referralID.String()})
}

func (s *Store) GetOpenReferral(ctx context.Context, referredUserID string) (*ledger.Referral, error) {
	return s.findReferral(ctx, bson.M{"referred_user_id": referredUserID, "open": true})
}

func (s *Store) GetReferralByStatus(ctx context.Context, referredUserID string, status ledger.Status) (*ledger.Referral, error) {
	return s.findReferral(ctx, bson.M{"referred_user_id": referredUserID, "status": string(status)})
}

func (s *Store) findReferral(ctx context.Context, filter bson.M) (*ledger.Referral, error) {
	var m referralModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, referral.ErrReferralNotFound
		}
		return nil, fmt.Errorf("referral/mongo: get referral: %w", err)
	}
	return fromReferralModel(&m)
}

func (s *Store) ActivateReferral(ctx context.Context, referralID id.ReferralID, subscribedAt, expiresAt time.Time) (bool, error) {
	res, err := s.mdb.NewUpdate((*referralModel)(nil)).
		Filter(bson.M{"_id": referralID.String(), "status": string(ledger.StatusPending)}).
		Set("status", string(ledger.StatusActive)).
		Set("subscribed_at", subscribedAt.UTC()).
		Set("expires_at", expiresAt.UTC()).
		Set("updated_at", subscribedAt.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("referral/mongo: activate referral: %w", err)
	}
	return res.MatchedCount() > 0, nil
}

func (s *Store) ChurnReferrals(ctx context.Context, referredUserID string, churnedAt time.Time) ([]id.ReferralID, error) {
	var models []referralModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"referred_user_id": referredUserID, "open": true}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("referral/mongo: find open referrals: %w", err)
	}

	var changed []id.ReferralID
	for i := range models {
		res, err := s.mdb.NewUpdate((*referralModel)(nil)).
			Filter(bson.M{"_id": models[i].ID, "open": true}).
			Set("status", string(ledger.StatusChurned)).
			Set("open", false).
			Set("churned_at", churnedAt.UTC()).
			Set("updated_at", churnedAt.UTC()).
			Exec(ctx)
		if err != nil {
			return changed, fmt.Errorf("referral/mongo: churn referral: %w", err)
		}
		if res.MatchedCount() == 0 {
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
	res, err := s.mdb.NewUpdate((*referralModel)(nil)).
		Filter(bson.M{"_id": referralID.String(), "status": string(ledger.StatusActive)}).
		Set("status", string(ledger.StatusExpired)).
		Set("open", false).
		Set("updated_at", at.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("referral/mongo: expire referral: %w", err)
	}
	return res.MatchedCount() > 0, nil
}

func (s *Store) ListReferrals(ctx context.Context, referrerUserID string, opts ledger.ListOpts) ([]*ledger.Referral, error) {
	var models []referralModel

	filter := bson.M{"referrer_user_id": referrerUserID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("referral/mongo: list referrals: %w", err)
	}
	return fromReferralModels(models)
}

func (s *Store) ListExpiredActive(ctx context.Context, asOf time.Time, limit int) ([]*ledger.Referral, error) {
	var models []referralModel
	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":     string(ledger.StatusActive),
			"expires_at": bson.M{"$lt": asOf.UTC()},
		}).
		Sort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("referral/mongo: list expired referrals: %w", err)
	}
	return fromReferralModels(models)
}

func (s *Store) CountReferralsByStatus(ctx context.Context, referrerUserID string) (map[ledger.Status]int64, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"referrer_user_id": referrerUserID}},
		bson.M{"$group": bson.M{"_id": "$status", "n": bson.M{"$sum": 1}}},
	}

	var results []struct {
		Status string `bson:"_id"`
		N      int64  `bson:"n"`
	}
	if err := s.aggregate(ctx, colReferrals, pipeline, &results); err != nil {
		return nil, err
	}

	counts := make(map[ledger.Status]int64, len(results))
	for _, r := range results {
		counts[ledger.Status(r.Status)] = r.N
	}
	return counts, nil
}

// ==================== Commission Store ====================

func (s *Store) GetCommissionByInvoice(ctx context.Context, stripeInvoiceID string) (*commission.Commission, error) {
	return s.findCommission(ctx, bson.M{"stripe_invoice_id": stripeInvoiceID})
}

func (s *Store) GetCommission(ctx context.Context, commissionID id.CommissionID) (*commission.Commission, error) {
	return s.findCommission(ctx, bson.M{"_id": commissionID.String()})
}

func (s *Store) findCommission(ctx context.Context, filter bson.M) (*commission.Commission, error) {
	var m commissionModel
	err := s.mdb.NewFind(&m).Filter(filter).Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, referral.ErrCommissionNotFound
		}
		return nil, fmt.Errorf("referral/mongo: get commission: %w", err)
	}
	return fromCommissionModel(&m)
}

func (s *Store) CreateCommission(ctx context.Context, c *commission.Commission) (bool, error) {
	_, err := s.mdb.NewInsert(toCommissionModel(c)).Exec(ctx)
	if err != nil {
		// The invoice was credited by a concurrent delivery.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("referral/mongo: create commission: %w", err)
	}
	return true, nil
}

func (s *Store) ListCommissions(ctx context.Context, referrerUserID string, opts commission.ListOpts) ([]*commission.Commission, error) {
	var models []commissionModel

	filter := bson.M{"referrer_user_id": referrerUserID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("referral/mongo: list commissions: %w", err)
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
	res, err := s.mdb.NewUpdate((*commissionModel)(nil)).
		Filter(bson.M{"_id": commissionID.String(), "status": string(from)}).
		Set("status", string(to)).
		Set("updated_at", at.UTC()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("referral/mongo: update commission status: %w", err)
	}
	return res.MatchedCount() > 0, nil
}

func (s *Store) SumCommissionsByStatus(ctx context.Context, referrerUserID string) (map[commission.Status]int64, error) {
	pipeline := bson.A{
		bson.M{"$match": bson.M{"referrer_user_id": referrerUserID}},
		bson.M{"$group": bson.M{"_id": "$status", "total": bson.M{"$sum": "$amount_cents"}}},
	}

	var results []struct {
		Status string `bson:"_id"`
		Total  int64  `bson:"total"`
	}
	if err := s.aggregate(ctx, colCommissions, pipeline, &results); err != nil {
		return nil, err
	}

	sums := make(map[commission.Status]int64, len(results))
	for _, r := range results {
		sums[commission.Status(r.Status)] = r.Total
	}
	return sums, nil
}

// ==================== Helpers ====================

func (s *Store) aggregate(ctx context.Context, col string, pipeline bson.A, out any) error {
	cursor, err := s.mdb.Collection(col).Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("referral/mongo: aggregate %s: %w", col, err)
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("referral/mongo: aggregate decode: %w", err)
	}
	return nil
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// mapWriteErr translates duplicate-key errors into referral.ErrConflict.
func mapWriteErr(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("referral/mongo: %s: %w: %w", op, referral.ErrConflict, err)
	}
	return fmt.Errorf("referral/mongo: %s: %w", op, err)
}

// migrationIndexes returns the index definitions for each collection.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colCodes: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colReferrals: {
			{
				Keys: bson.D{{Key: "referred_user_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"open": true}),
			},
			{Keys: bson.D{{Key: "referrer_user_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "referred_user_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colCommissions: {
			{
				Keys:    bson.D{{Key: "stripe_invoice_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "referrer_user_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "referral_id", Value: 1}}},
		},
	}
}
