package referral_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/referral"
	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
	"github.com/xraph/referral/store/memory"
	"github.com/xraph/referral/types"
)

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, s *memory.Store, opts ...referral.Option) *referral.Engine {
	t.Helper()
	opts = append([]referral.Option{referral.WithLogger(quietLogger())}, opts...)
	e := referral.New(s, opts...)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	return e
}

var t0 = time.Date(2025, time.January, 31, 12, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Code generation
// ──────────────────────────────────────────────────

func TestGetOrCreateReferralCodeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())

	first, err := e.GetOrCreateReferralCode(ctx, "user_r", "")
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.Len(t, first.Code.Value, code.DefaultLength)
	assert.True(t, first.Code.IsActive)

	second, err := e.GetOrCreateReferralCode(ctx, "user_r", "")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.Code.Value, second.Code.Value)
	assert.Equal(t, first.Code.ID, second.Code.ID)

	// A custom code on a later call does not replace the existing one.
	third, err := e.GetOrCreateReferralCode(ctx, "user_r", "other")
	require.NoError(t, err)
	assert.False(t, third.IsNew)
	assert.Equal(t, first.Code.Value, third.Code.Value)
}

func TestGetOrCreateReferralCodeConcurrent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := newEngine(t, s)

	const callers = 32
	results := make([]*referral.CodeResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = e.GetOrCreateReferralCode(ctx, "user_r", "")
		}()
	}
	wg.Wait()

	stored, err := s.GetCodeByUser(ctx, "user_r")
	require.NoError(t, err)

	created := 0
	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, stored.Value, results[i].Code.Value)
		if results[i].IsNew {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestGetOrCreateReferralCodeCustom(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())

	res, err := e.GetOrCreateReferralCode(ctx, "user_r", "  SAVE10 ")
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, "save10", res.Code.Value)

	_, err = e.GetOrCreateReferralCode(ctx, "user_other", "Save10")
	require.ErrorIs(t, err, referral.ErrCodeAlreadyTaken)
	assert.True(t, referral.IsValidation(err))

	_, err = e.GetOrCreateReferralCode(ctx, "user_bad", "no spaces!")
	require.ErrorIs(t, err, referral.ErrInvalidCode)

	var ve referral.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "code", ve.Field)
}

func TestGetOrCreateReferralCodeRetriesCollisions(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	candidates := []string{"taken", "taken", "fresh"}
	var mu sync.Mutex
	gen := code.GeneratorFunc(func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		v := candidates[0]
		candidates = candidates[1:]
		return v, nil
	})

	e := newEngine(t, s, referral.WithCodeGenerator(gen))
	_, err := e.GetOrCreateReferralCode(ctx, "user_a", "taken")
	require.NoError(t, err)

	res, err := e.GetOrCreateReferralCode(ctx, "user_b", "")
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, "fresh", res.Code.Value)
}

func TestGetOrCreateReferralCodeExhausted(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	gen := code.GeneratorFunc(func() (string, error) {
		attempts++
		return "same", nil
	})

	e := newEngine(t, memory.New(),
		referral.WithCodeGenerator(gen),
		referral.WithMaxUniqueRetries(3),
	)
	_, err := e.GetOrCreateReferralCode(ctx, "user_a", "same")
	require.NoError(t, err)
	attempts = 0

	_, err = e.GetOrCreateReferralCode(ctx, "user_b", "")
	require.ErrorIs(t, err, referral.ErrCodeGenerationExhausted)
	assert.True(t, referral.IsRetryable(err))
	assert.Equal(t, 3, attempts)
}

func TestGetOrCreateReferralCodeRequiresUser(t *testing.T) {
	_, err := newEngine(t, memory.New()).GetOrCreateReferralCode(context.Background(), " ", "")
	require.ErrorIs(t, err, referral.ErrInvalidInput)
}

// ──────────────────────────────────────────────────
// Attribution
// ──────────────────────────────────────────────────

func TestLookupReferralCode(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())

	res, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)

	attr, err := e.LookupReferralCode(ctx, " save10")
	require.NoError(t, err)
	require.NotNil(t, attr)
	assert.Equal(t, "user_r", attr.ReferrerUserID)
	assert.Equal(t, res.Code.ID, attr.ReferralCodeID)

	attr, err = e.LookupReferralCode(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, attr)

	require.NoError(t, e.DeactivateReferralCode(ctx, "user_r"))
	attr, err = e.LookupReferralCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Nil(t, attr)

	require.NoError(t, e.ReactivateReferralCode(ctx, "user_r"))
	attr, err = e.LookupReferralCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.NotNil(t, attr)
}

func TestCreateReferralRules(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())

	_, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)
	_, err = e.GetOrCreateReferralCode(ctx, "user_s", "OTHER")
	require.NoError(t, err)

	t.Run("unknown code", func(t *testing.T) {
		_, err := e.CreateReferral(ctx, "user_a", "missing")
		require.ErrorIs(t, err, referral.ErrInvalidReferralCode)
	})

	t.Run("self referral", func(t *testing.T) {
		_, err := e.CreateReferral(ctx, "user_r", "save10")
		require.ErrorIs(t, err, referral.ErrSelfReferralNotAllowed)
	})

	t.Run("already referred", func(t *testing.T) {
		r, err := e.CreateReferral(ctx, "user_a", "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, r.Status)
		assert.Equal(t, "user_r", r.ReferrerUserID)
		assert.Equal(t, referral.DefaultRateBps, r.CommissionRateBps)
		assert.Equal(t, referral.DefaultDurationMonths, r.CommissionDurationMonths)
		assert.Nil(t, r.ExpiresAt)

		_, err = e.CreateReferral(ctx, "user_a", "OTHER")
		require.ErrorIs(t, err, referral.ErrAlreadyReferred)
		assert.True(t, referral.IsValidation(err))
	})

	t.Run("churned referral allows a new one", func(t *testing.T) {
		_, err := e.CreateReferral(ctx, "user_b", "SAVE10")
		require.NoError(t, err)
		_, err = e.ExpireReferralOnChurn(ctx, "user_b")
		require.NoError(t, err)

		r, err := e.CreateReferral(ctx, "user_b", "OTHER")
		require.NoError(t, err)
		assert.Equal(t, "user_s", r.ReferrerUserID)
	})
}

// racyStore hides open referrals from the pre-check so the insert's unique
// index is what rejects the duplicate.
type racyStore struct {
	*memory.Store
}

func (racyStore) GetOpenReferral(context.Context, string) (*ledger.Referral, error) {
	return nil, referral.ErrReferralNotFound
}

func TestCreateReferralInsertConflictIsAlreadyReferred(t *testing.T) {
	ctx := context.Background()
	e := referral.New(racyStore{memory.New()}, referral.WithLogger(quietLogger()))

	_, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)

	_, err = e.CreateReferral(ctx, "user_a", "SAVE10")
	require.NoError(t, err)

	_, err = e.CreateReferral(ctx, "user_a", "SAVE10")
	require.ErrorIs(t, err, referral.ErrAlreadyReferred)
}

func TestCreateReferralProfileSideEffect(t *testing.T) {
	ctx := context.Background()

	var got []string
	rec := referral.ProfileRecorderFunc(func(_ context.Context, userID, c string) error {
		got = append(got, userID+"="+c)
		return errors.New("profile service down")
	})

	e := newEngine(t, memory.New(), referral.WithProfileRecorder(rec))
	_, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)

	// A failing recorder does not fail the referral.
	_, err = e.CreateReferral(ctx, "user_a", "Save10")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_a=save10"}, got)
}

func TestCreateReferralSnapshotsTerms(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New(), referral.WithDefaultTerms(1500, 6))

	_, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)
	r, err := e.CreateReferral(ctx, "user_a", "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, types.BasisPoints(1500), r.CommissionRateBps)
	assert.Equal(t, 6, r.CommissionDurationMonths)

	bad := newEngine(t, memory.New(), referral.WithDefaultTerms(20000, 6))
	_, err = bad.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)
	_, err = bad.CreateReferral(ctx, "user_a", "SAVE10")
	require.ErrorIs(t, err, referral.ErrInvalidInput)
}

// ──────────────────────────────────────────────────
// Lifecycle and commissions
// ──────────────────────────────────────────────────

func TestReferralScenario(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	e := newEngine(t, memory.New(), referral.WithClock(clk.Now))

	_, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)

	r, err := e.CreateReferral(ctx, "user_a", "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, r.Status)

	active, err := e.ActivateReferral(ctx, "user_a")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, ledger.StatusActive, active.Status)
	require.NotNil(t, active.SubscribedAt)
	require.NotNil(t, active.ExpiresAt)
	assert.Equal(t, t0, *active.SubscribedAt)
	assert.Equal(t, time.Date(2027, time.January, 31, 12, 0, 0, 0, time.UTC), *active.ExpiresAt)

	again, err := e.ActivateReferral(ctx, "user_a")
	require.NoError(t, err)
	assert.Nil(t, again)

	res, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID:     "user_a",
		StripeInvoiceID:    "in_1",
		PaymentAmountCents: 2000,
		Currency:           "USD",
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int64(1000), res.CommissionCents)
	assert.Equal(t, "usd", res.Currency)
	assert.True(t, res.Created)
}

func TestActivateReferralWithoutPending(t *testing.T) {
	r, err := newEngine(t, memory.New()).ActivateReferral(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRecordCommissionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := newEngine(t, s)
	seedActive(t, e, "user_r", "user_a")

	first, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_1", PaymentAmountCents: 999, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(499), first.CommissionCents)

	second, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_1", PaymentAmountCents: 50000, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, first.CommissionCents, second.CommissionCents)
	assert.False(t, second.Created)

	list, err := e.ListCommissions(ctx, "user_r", commission.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecordCommissionReplayIgnoresAmount(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())
	seedActive(t, e, "user_r", "user_a")

	first, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_1", PaymentAmountCents: 2000, Currency: "usd",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1000), first.CommissionCents)

	replay, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_1", PaymentAmountCents: -5, Currency: "usd",
	})
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, int64(1000), replay.CommissionCents)
	assert.Equal(t, first.ReferralID, replay.ReferralID)
	assert.False(t, replay.Created)
}

func TestRecordCommissionTrimsUserID(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())
	seedActive(t, e, "user_r", "user_a")

	res, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "  user_a ", StripeInvoiceID: "in_1", PaymentAmountCents: 2000, Currency: " USD",
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, int64(1000), res.CommissionCents)
	assert.Equal(t, "usd", res.Currency)
}

func TestRecordCommissionConcurrentDelivery(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())
	seedActive(t, e, "user_r", "user_a")

	const deliveries = 16
	var wg sync.WaitGroup
	amounts := make([]int64, deliveries)
	for i := range deliveries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.RecordCommission(ctx, referral.CommissionInput{
				ReferredUserID: "user_a", StripeInvoiceID: "in_dup", PaymentAmountCents: 3000, Currency: "usd",
			})
			if assert.NoError(t, err) && assert.NotNil(t, res) {
				amounts[i] = res.CommissionCents
			}
		}()
	}
	wg.Wait()

	for _, a := range amounts {
		assert.Equal(t, int64(1500), a)
	}
	list, err := e.ListCommissions(ctx, "user_r", commission.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecordCommissionWithoutReferral(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())

	res, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "stranger", StripeInvoiceID: "in_1", PaymentAmountCents: 2000, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Nil(t, res)

	// Pending referrals earn nothing either.
	_, err = e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)
	_, err = e.CreateReferral(ctx, "user_a", "SAVE10")
	require.NoError(t, err)
	res, err = e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_2", PaymentAmountCents: 2000, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestRecordCommissionRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())

	_, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_1", PaymentAmountCents: -1, Currency: "usd",
	})
	require.ErrorIs(t, err, referral.ErrInvalidAmount)

	_, err = e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", PaymentAmountCents: 100, Currency: "usd",
	})
	require.ErrorIs(t, err, referral.ErrInvalidInput)
}

func TestRecordCommissionAfterExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newClock(time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC))
	e := newEngine(t, memory.New(), referral.WithClock(clk.Now))

	ref := seedActive(t, e, "user_r", "user_a")
	require.Equal(t, time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC), *ref.ExpiresAt)

	clk.Set(time.Date(2020, time.January, 1, 0, 0, 1, 0, time.UTC))

	res, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_late", PaymentAmountCents: 2000, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Nil(t, res)

	got, err := e.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusExpired, got.Status)

	list, err := e.ListCommissions(ctx, "user_r", commission.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExpireReferralOnChurn(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	clk := newClock(t0)
	e := newEngine(t, memory.New(),
		referral.WithClock(clk.Now),
		referral.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	ref := seedActive(t, e, "user_r", "user_a")

	clk.Set(t0.Add(time.Hour))
	ids, err := e.ExpireReferralOnChurn(ctx, "user_a")
	require.NoError(t, err)
	assert.Equal(t, []id.ReferralID{ref.ID}, ids)

	got, err := e.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusChurned, got.Status)
	require.NotNil(t, got.ChurnedAt)
	assert.Equal(t, t0.Add(time.Hour), *got.ChurnedAt)

	ids, err = e.ExpireReferralOnChurn(ctx, "user_a")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, 1, strings.Count(logs.String(), "referral churned"))
}

func TestChurnedReferralEarnsNothing(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())
	seedActive(t, e, "user_r", "user_a")

	_, err := e.ExpireReferralOnChurn(ctx, "user_a")
	require.NoError(t, err)

	res, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_1", PaymentAmountCents: 2000, Currency: "usd",
	})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestAdvanceCommission(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, memory.New())
	seedActive(t, e, "user_r", "user_a")

	_, err := e.RecordCommission(ctx, referral.CommissionInput{
		ReferredUserID: "user_a", StripeInvoiceID: "in_1", PaymentAmountCents: 2000, Currency: "usd",
	})
	require.NoError(t, err)

	list, err := e.ListCommissions(ctx, "user_r", commission.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	cid := list[0].ID

	_, err = e.AdvanceCommission(ctx, cid, commission.StatusPaid)
	require.ErrorIs(t, err, referral.ErrInvalidTransition)

	c, err := e.AdvanceCommission(ctx, cid, commission.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, commission.StatusApproved, c.Status)

	c, err = e.AdvanceCommission(ctx, cid, commission.StatusPaid)
	require.NoError(t, err)
	assert.Equal(t, commission.StatusPaid, c.Status)

	_, err = e.AdvanceCommission(ctx, id.NewCommissionID(), commission.StatusApproved)
	assert.True(t, referral.IsNotFound(err))
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	e := newEngine(t, memory.New(), referral.WithClock(clk.Now), referral.WithDefaultTerms(5000, 1))

	seedActive(t, e, "user_r", "user_a")
	seedActive(t, e, "user_r", "user_b")

	n, err := e.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Set(t0.AddDate(0, 2, 0))
	n, err = e.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := e.GetReferralStats(ctx, "user_r")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.ExpiredReferrals)
	assert.Zero(t, st.ActiveReferrals)
}

func TestListReferrals(t *testing.T) {
	ctx := context.Background()
	clk := newClock(t0)
	e := newEngine(t, memory.New(), referral.WithClock(clk.Now))

	_, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)
	for i := range 3 {
		clk.Set(t0.Add(time.Duration(i) * time.Minute))
		_, err := e.CreateReferral(ctx, fmt.Sprintf("user_%d", i), "SAVE10")
		require.NoError(t, err)
	}
	_, err = e.ActivateReferral(ctx, "user_1")
	require.NoError(t, err)

	all, err := e.ListReferrals(ctx, "user_r", ledger.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "user_2", all[0].ReferredUserID)

	active, err := e.ListReferrals(ctx, "user_r", ledger.ListOpts{Status: ledger.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "user_1", active[0].ReferredUserID)

	_, err = e.ListReferrals(ctx, "user_r", ledger.ListOpts{Status: "bogus"})
	require.ErrorIs(t, err, referral.ErrInvalidInput)
}

// ──────────────────────────────────────────────────
// Stats
// ──────────────────────────────────────────────────

func TestGetReferralStats(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := newEngine(t, s)

	_, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)

	buckets := map[ledger.Status]int{
		ledger.StatusActive:  5,
		ledger.StatusPending: 2,
		ledger.StatusChurned: 1,
		ledger.StatusExpired: 3,
	}
	n := 0
	for status, count := range buckets {
		for range count {
			n++
			require.NoError(t, s.CreateReferral(ctx, &ledger.Referral{
				Entity:         types.NewEntity(t0),
				ID:             id.NewReferralID(),
				ReferrerUserID: "user_r",
				ReferredUserID: fmt.Sprintf("user_%d", n),
				Status:         status,
			}))
		}
	}

	for i, c := range []struct {
		status commission.Status
		cents  int64
	}{
		{commission.StatusPending, 2000},
		{commission.StatusPending, 3000},
		{commission.StatusApproved, 3000},
		{commission.StatusPaid, 10000},
	} {
		created, err := s.CreateCommission(ctx, &commission.Commission{
			Entity:          types.NewEntity(t0),
			ID:              id.NewCommissionID(),
			ReferrerUserID:  "user_r",
			StripeInvoiceID: fmt.Sprintf("in_%d", i),
			AmountCents:     c.cents,
			Currency:        "usd",
			Status:          c.status,
		})
		require.NoError(t, err)
		require.True(t, created)
	}

	st, err := e.GetReferralStats(ctx, "user_r")
	require.NoError(t, err)
	assert.Equal(t, "save10", st.ReferralCode)
	assert.Equal(t, int64(11), st.TotalReferrals)
	assert.Equal(t, int64(5), st.ActiveReferrals)
	assert.Equal(t, int64(2), st.PendingReferrals)
	assert.Equal(t, int64(1), st.ChurnedReferrals)
	assert.Equal(t, int64(18000), st.TotalEarningsCents)
	assert.Equal(t, int64(5000), st.PendingEarningsCents)
	assert.Equal(t, int64(3000), st.ApprovedEarningsCents)
	assert.Equal(t, int64(10000), st.PaidEarningsCents)
}

func TestGetReferralStatsEmpty(t *testing.T) {
	st, err := newEngine(t, memory.New()).GetReferralStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, st.ReferralCode)
	assert.Zero(t, st.TotalReferrals)
	assert.Zero(t, st.TotalEarningsCents)
}

// ──────────────────────────────────────────────────
// Plugins
// ──────────────────────────────────────────────────

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) OnCodeCreated(_ context.Context, c *code.ReferralCode) error {
	r.add("code:" + c.Value)
	return nil
}

func (r *recorder) OnReferralCreated(_ context.Context, ref *ledger.Referral) error {
	r.add("created:" + ref.ReferredUserID)
	return nil
}

func (r *recorder) OnReferralActivated(_ context.Context, ref *ledger.Referral) error {
	r.add("activated:" + ref.ReferredUserID)
	return nil
}

func (r *recorder) OnCommissionRecorded(_ context.Context, c *commission.Commission) error {
	r.add("commission:" + c.StripeInvoiceID)
	return errors.New("hook failures are logged, not returned")
}

func (r *recorder) OnReferralChurned(_ context.Context, userID string, ids []id.ReferralID) error {
	r.add(fmt.Sprintf("churned:%s:%d", userID, len(ids)))
	return nil
}

func TestPluginHooks(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	e := newEngine(t, memory.New(), referral.WithPlugin(rec))

	_, err := e.GetOrCreateReferralCode(ctx, "user_r", "SAVE10")
	require.NoError(t, err)
	_, err = e.CreateReferral(ctx, "user_a", "SAVE10")
	require.NoError(t, err)
	_, err = e.ActivateReferral(ctx, "user_a")
	require.NoError(t, err)
	for range 2 {
		_, err = e.RecordCommission(ctx, referral.CommissionInput{
			ReferredUserID: "user_a", StripeInvoiceID: "in_1", PaymentAmountCents: 100, Currency: "usd",
		})
		require.NoError(t, err)
	}
	for range 2 {
		_, err = e.ExpireReferralOnChurn(ctx, "user_a")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"code:save10",
		"created:user_a",
		"activated:user_a",
		"commission:in_1",
		"churned:user_a:1",
	}, rec.events)
}

// seedActive creates a code for referrer (if needed), refers user and
// activates the referral.
func seedActive(t *testing.T, e *referral.Engine, referrer, user string) *ledger.Referral {
	t.Helper()
	ctx := context.Background()

	res, err := e.GetOrCreateReferralCode(ctx, referrer, "code-"+referrer)
	require.NoError(t, err)
	_, err = e.CreateReferral(ctx, user, res.Code.Value)
	require.NoError(t, err)
	r, err := e.ActivateReferral(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}
