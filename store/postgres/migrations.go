package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the referral store.
var Migrations = migrate.NewGroup("referral")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_referral_codes",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS referral_codes (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    code       TEXT NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_referral_codes_user ON referral_codes (user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_referral_codes_code ON referral_codes (code);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS referral_codes`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_referral_referrals",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS referral_referrals (
    id                         TEXT PRIMARY KEY,
    referrer_user_id           TEXT NOT NULL,
    referred_user_id           TEXT NOT NULL,
    referral_code_id           TEXT NOT NULL DEFAULT '',
    status                     TEXT NOT NULL DEFAULT 'pending',
    commission_rate_bps        INT NOT NULL,
    commission_duration_months INT NOT NULL,
    subscribed_at              TIMESTAMPTZ,
    expires_at                 TIMESTAMPTZ,
    churned_at                 TIMESTAMPTZ,
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at                 TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT chk_referral_not_self CHECK (referrer_user_id <> referred_user_id),
    CONSTRAINT chk_referral_rate CHECK (commission_rate_bps BETWEEN 0 AND 10000)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_referral_referrals_open
    ON referral_referrals (referred_user_id)
    WHERE status IN ('pending', 'active');
CREATE INDEX IF NOT EXISTS idx_referral_referrals_referrer ON referral_referrals (referrer_user_id, status);
CREATE INDEX IF NOT EXISTS idx_referral_referrals_referred ON referral_referrals (referred_user_id, status);
CREATE INDEX IF NOT EXISTS idx_referral_referrals_expiry
    ON referral_referrals (expires_at)
    WHERE status = 'active';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS referral_referrals`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_referral_commissions",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS referral_commissions (
    id                TEXT PRIMARY KEY,
    referral_id       TEXT NOT NULL,
    referrer_user_id  TEXT NOT NULL,
    stripe_invoice_id TEXT NOT NULL,
    amount_cents      BIGINT NOT NULL CHECK (amount_cents >= 0),
    currency          TEXT NOT NULL DEFAULT 'usd',
    status            TEXT NOT NULL DEFAULT 'pending',
    period_start      TIMESTAMPTZ,
    period_end        TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_referral_commissions_invoice ON referral_commissions (stripe_invoice_id);
CREATE INDEX IF NOT EXISTS idx_referral_commissions_referrer ON referral_commissions (referrer_user_id, status);
CREATE INDEX IF NOT EXISTS idx_referral_commissions_referral ON referral_commissions (referral_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS referral_commissions`)
				return err
			},
		},
	)
}
