package audithook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/referral/code"
	"github.com/xraph/referral/commission"
	"github.com/xraph/referral/id"
	"github.com/xraph/referral/ledger"
)

type captured struct {
	events []*AuditEvent
}

func (c *captured) Record(_ context.Context, ev *AuditEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captured) actions() []string {
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Action
	}
	return out
}

func TestExtensionRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &captured{}
	ext := New(rec)

	ref := &ledger.Referral{ID: id.NewReferralID(), ReferrerUserID: "user_a", ReferredUserID: "user_b"}
	com := &commission.Commission{ID: id.NewCommissionID(), ReferralID: ref.ID, AmountCents: 1000, Status: commission.StatusPaid}

	_ = ext.OnCodeCreated(ctx, &code.ReferralCode{ID: id.NewReferralCodeID(), UserID: "user_a", Value: "friend"})
	_ = ext.OnReferralCreated(ctx, ref)
	_ = ext.OnReferralActivated(ctx, ref)
	_ = ext.OnCommissionRecorded(ctx, com)
	_ = ext.OnCommissionAdvanced(ctx, com, commission.StatusApproved)
	_ = ext.OnReferralChurned(ctx, "user_b", []id.ReferralID{ref.ID})
	_ = ext.OnWebhookSkipped(ctx, "charge.refunded", "unhandled_event_type")

	want := []string{
		ActionCodeCreated,
		ActionReferralCreated,
		ActionReferralActivated,
		ActionCommissionRecorded,
		ActionCommissionPaid,
		ActionReferralChurned,
		ActionWebhookSkipped,
	}
	got := rec.actions()
	if len(got) != len(want) {
		t.Fatalf("recorded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}

	churn := rec.events[5]
	if churn.ResourceID != ref.ID.String() || churn.Severity != SeverityWarning {
		t.Errorf("churn event = %+v", churn)
	}
	if got := rec.events[3].Metadata["amount_cents"]; got != int64(1000) {
		t.Errorf("amount_cents = %v", got)
	}
	if skip := rec.events[6]; skip.Outcome != OutcomeSkipped || skip.Reason != "unhandled_event_type" {
		t.Errorf("skip event = %+v", skip)
	}
}

func TestExtensionActionFilters(t *testing.T) {
	ctx := context.Background()
	ref := &ledger.Referral{ID: id.NewReferralID()}

	rec := &captured{}
	ext := New(rec, WithEnabledActions(ActionReferralExpired))
	_ = ext.OnReferralCreated(ctx, ref)
	_ = ext.OnReferralExpired(ctx, ref)
	if len(rec.events) != 1 || rec.events[0].Action != ActionReferralExpired {
		t.Fatalf("enabled filter recorded %v", rec.actions())
	}

	rec = &captured{}
	ext = New(rec, WithDisabledActions(ActionReferralCreated))
	_ = ext.OnReferralCreated(ctx, ref)
	_ = ext.OnReferralExpired(ctx, ref)
	if len(rec.events) != 1 || rec.events[0].Action != ActionReferralExpired {
		t.Fatalf("disabled filter recorded %v", rec.actions())
	}
}

func TestExtensionSwallowsRecorderErrors(t *testing.T) {
	failing := RecorderFunc(func(context.Context, *AuditEvent) error {
		return errors.New("backend down")
	})
	ext := New(failing, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := ext.OnReferralExpired(context.Background(), &ledger.Referral{ID: id.NewReferralID()}); err != nil {
		t.Fatalf("hook returned %v, want nil", err)
	}
}
