// Package referral issues referral codes, attributes sign-ups to referrers
// and records revenue-share commissions from a payment processor's webhook
// stream.
//
// Referral is a library, not a service. The Engine is stateless: every
// decision is made against a store.Store, and concurrent callers are kept
// consistent by the store's unique indexes and conditional updates rather
// than by locks.
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/referral"
//	    "github.com/xraph/referral/store/postgres"
//	)
//
//	s := postgres.New(db)
//
//	e := referral.New(s,
//	    referral.WithLogger(logger),
//	    referral.WithDefaultTerms(5000, 24), // 50% for 24 months
//	)
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Lifecycle
//
// A referrer gets a code:
//
//	res, err := e.GetOrCreateReferralCode(ctx, "user_r", "")
//
// A new user signs up with it. The referral starts pending:
//
//	ref, err := e.CreateReferral(ctx, "user_a", res.Code.Value)
//
// Billing events then drive it:
//
//	e.ActivateReferral(ctx, "user_a")            // subscription started
//	e.RecordCommission(ctx, referral.CommissionInput{
//	    ReferredUserID:     "user_a",
//	    StripeInvoiceID:    "in_1",
//	    PaymentAmountCents: 2000,
//	    Currency:           "usd",
//	})                                            // invoice paid
//	e.ExpireReferralOnChurn(ctx, "user_a")        // subscription canceled
//
// Commissions are floor(amount * bps / 10000) in the smallest currency unit.
// An invoice is credited at most once no matter how often it is delivered.
//
// Referrals past their commission window are expired lazily when the next
// commission is attempted. WithExpirySweep adds an optional background sweep.
//
// # Integration
//
// The webhook package turns processor payloads into engine calls, the api
// package exposes the engine over HTTP, and the extension package registers
// both with a Forge application.
package referral
