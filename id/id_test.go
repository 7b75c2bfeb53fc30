package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/referral/id"
)

var constructors = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"ReferralCodeID", id.NewReferralCodeID, id.ParseReferralCodeID, "rcode_"},
	{"ReferralID", id.NewReferralID, id.ParseReferralID, "ref_"},
	{"CommissionID", id.NewCommissionID, id.ParseCommissionID, "rcom_"},
	{"WebhookEventID", id.NewWebhookEventID, id.ParseWebhookEventID, "whevt_"},
}

func TestConstructors(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, tt := range constructors {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParseReferralCodeID rejects ref_", id.NewReferralID().String(), id.ParseReferralCodeID},
		{"ParseReferralID rejects rcom_", id.NewCommissionID().String(), id.ParseReferralID},
		{"ParseCommissionID rejects rcode_", id.NewReferralCodeID().String(), id.ParseCommissionID},
		{"ParseWebhookEventID rejects ref_", id.NewReferralID().String(), id.ParseWebhookEventID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error for cross-type parse of %q, got nil", tt.input)
			}
		})
	}
}

func TestParseAny(t *testing.T) {
	for _, tt := range constructors {
		i := tt.newFn()
		parsed, err := id.ParseAny(i.String())
		if err != nil {
			t.Fatalf("ParseAny(%q) failed: %v", i.String(), err)
		}
		if parsed.Prefix() != i.Prefix() {
			t.Errorf("prefix mismatch: %q != %q", parsed.Prefix(), i.Prefix())
		}
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewReferralID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored.String() != original.String() {
		t.Errorf("mismatch: %q != %q", restored.String(), original.String())
	}

	var empty id.ID
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !empty.IsNil() {
		t.Error("expected nil after unmarshaling empty text")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewCommissionID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("mismatch: %q != %q", scanned.String(), original.String())
	}

	var fromBytes id.ID
	if err := fromBytes.Scan([]byte(original.String())); err != nil {
		t.Fatalf("Scan([]byte) failed: %v", err)
	}
	if fromBytes.String() != original.String() {
		t.Errorf("mismatch: %q != %q", fromBytes.String(), original.String())
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning an int")
	}
}

func TestUniqueness(t *testing.T) {
	a := id.NewReferralID()
	b := id.NewReferralID()
	if a.String() == b.String() {
		t.Errorf("two consecutive NewReferralID() calls returned the same ID: %q", a.String())
	}
}
