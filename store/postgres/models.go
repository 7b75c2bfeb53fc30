package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/types"
)

// ==================== Code models ====================

type codeModel struct {
	grove.BaseModel `grove:"table:referral_codes"`

	ID        string    `grove:"id,pk"`
	UserID    string    `grove:"user_id"`
	Code      string    `grove:"code"`
	IsActive  bool      `grove:"is_active"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toCodeModel(c *code.ReferralCode) *codeModel {
	return &codeModel{
		ID:        c.ID.String(),
		UserID:    c.UserID,
		Code:      c.Value,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromCodeModel(m *codeModel) (*code.ReferralCode, error) {
	codeID, err := id.ParseReferralCodeID(m.ID)
	if err != nil {
		return nil, err
	}
	return &code.ReferralCode{
		Entity:   types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:       codeID,
		UserID:   m.UserID,
		Value:    m.Code,
		IsActive: m.IsActive,
	}, nil
}

// ==================== Referral models ====================

type referralModel struct {
	grove.BaseModel `grove:"table:referral_referrals"`

	ID                       string     `grove:"id,pk"`
	ReferrerUserID           string     `grove:"referrer_user_id"`
	ReferredUserID           string     `grove:"referred_user_id"`
	ReferralCodeID           string     `grove:"referral_code_id"`
	Status                   string     `grove:"status"`
	CommissionRateBps        int        `grove:"commission_rate_bps"`
	CommissionDurationMonths int        `grove:"commission_duration_months"`
	SubscribedAt             *time.Time `grove:"subscribed_at"`
	ExpiresAt                *time.Time `grove:"expires_at"`
	ChurnedAt                *time.Time `grove:"churned_at"`
	CreatedAt                time.Time  `grove:"created_at"`
	UpdatedAt                time.Time  `grove:"updated_at"`
}

func toReferralModel(r *ledger.Referral) *referralModel {
	return &referralModel{
		ID:                       r.ID.String(),
		ReferrerUserID:           r.ReferrerUserID,
		ReferredUserID:           r.ReferredUserID,
		ReferralCodeID:           r.ReferralCodeID.String(),
		Status:                   string(r.Status),
		CommissionRateBps:        int(r.CommissionRateBps),
		CommissionDurationMonths: r.CommissionDurationMonths,
		SubscribedAt:             r.SubscribedAt,
		ExpiresAt:                r.ExpiresAt,
		ChurnedAt:                r.ChurnedAt,
		CreatedAt:                r.CreatedAt,
		UpdatedAt:                r.UpdatedAt,
	}
}

func fromReferralModel(m *referralModel) (*ledger.Referral, error) {
	refID, err := id.ParseReferralID(m.ID)
	if err != nil {
		return nil, err
	}
	var codeID id.ReferralCodeID
	if m.ReferralCodeID != "" {
		if codeID, err = id.ParseReferralCodeID(m.ReferralCodeID); err != nil {
			return nil, err
		}
	}
	return &ledger.Referral{
		Entity:                   types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                       refID,
		ReferrerUserID:           m.ReferrerUserID,
		ReferredUserID:           m.ReferredUserID,
		ReferralCodeID:           codeID,
		Status:                   ledger.Status(m.Status),
		CommissionRateBps:        types.BasisPoints(m.CommissionRateBps),
		CommissionDurationMonths: m.CommissionDurationMonths,
		SubscribedAt:             m.SubscribedAt,
		ExpiresAt:                m.ExpiresAt,
		ChurnedAt:                m.ChurnedAt,
	}, nil
}

func fromReferralModels(models []referralModel) ([]*ledger.Referral, error) {
	result := make([]*ledger.Referral, len(models))
	for i := range models {
		r, err := fromReferralModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

// ==================== Commission models ====================

type commissionModel struct {
	grove.BaseModel `grove:"table:referral_commissions"`

	ID              string     `grove:"id,pk"`
	ReferralID      string     `grove:"referral_id"`
	ReferrerUserID  string     `grove:"referrer_user_id"`
	StripeInvoiceID string     `grove:"stripe_invoice_id"`
	AmountCents     int64      `grove:"amount_cents"`
	Currency        string     `grove:"currency"`
	Status          string     `grove:"status"`
	PeriodStart     *time.Time `grove:"period_start"`
	PeriodEnd       *time.Time `grove:"period_end"`
	CreatedAt       time.Time  `grove:"created_at"`
	UpdatedAt       time.Time  `grove:"updated_at"`
}

func toCommissionModel(c *commission.Commission) *commissionModel {
	return &commissionModel{
		ID:              c.ID.String(),
		ReferralID:      c.ReferralID.String(),
		ReferrerUserID:  c.ReferrerUserID,
		StripeInvoiceID: c.StripeInvoiceID,
		AmountCents:     c.AmountCents,
		Currency:        c.Currency,
		Status:          string(c.Status),
		PeriodStart:     c.PeriodStart,
		PeriodEnd:       c.PeriodEnd,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func fromCommissionModel(m *commissionModel) (*commission.Commission, error) {
	comID, err := id.ParseCommissionID(m.ID)
	if err != nil {
		return nil, err
	}
	refID, err := id.ParseReferralID(m.ReferralID)
	if err != nil {
		return nil, err
	}
	return &commission.Commission{
		Entity:          types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              comID,
		ReferralID:      refID,
		ReferrerUserID:  m.ReferrerUserID,
		StripeInvoiceID: m.StripeInvoiceID,
		AmountCents:     m.AmountCents,
		Currency:        m.Currency,
		Status:          commission.Status(m.Status),
		PeriodStart:     m.PeriodStart,
		PeriodEnd:       m.PeriodEnd,
	}, nil
}
