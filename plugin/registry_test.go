package plugin

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/referral/ledger"
)

type namedPlugin struct{ name string }

func (p namedPlugin) Name() string { return p.name }

type failingHook struct{ namedPlugin }

func (failingHook) OnReferralCreated(context.Context, *ledger.Referral) error {
	return errors.New("boom")
}

type slowHook struct {
	namedPlugin
	release chan struct{}
}

func (s slowHook) OnReferralExpired(context.Context, *ledger.Referral) error {
	<-s.release
	return nil
}

type countingHook struct {
	namedPlugin
	calls int
}

func (c *countingHook) OnReferralCreated(context.Context, *ledger.Referral) error {
	c.calls++
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry().WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	if err := r.Register(namedPlugin{"a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(namedPlugin{"a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 || r.Get("a") == nil || r.Get("b") != nil {
		t.Fatalf("registry state: count=%d", r.Count())
	}
}

func TestHookFailureIsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry().WithLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	counter := &countingHook{namedPlugin: namedPlugin{"counter"}}
	_ = r.Register(failingHook{namedPlugin{"failing"}})
	_ = r.Register(counter)

	r.EmitReferralCreated(context.Background(), &ledger.Referral{})

	if counter.calls != 1 {
		t.Fatalf("later hooks must still run, calls = %d", counter.calls)
	}
	if !strings.Contains(buf.String(), "plugin hook failed") {
		t.Fatalf("missing warning in log: %s", buf.String())
	}
}

func TestHookTimeout(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry().
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))).
		WithTimeout(10 * time.Millisecond)

	slow := slowHook{namedPlugin: namedPlugin{"slow"}, release: make(chan struct{})}
	defer close(slow.release)
	_ = r.Register(slow)

	start := time.Now()
	r.EmitReferralExpired(context.Background(), &ledger.Referral{})
	if time.Since(start) > time.Second {
		t.Fatal("emit did not honor the hook timeout")
	}
	if !strings.Contains(buf.String(), "plugin timeout: slow") {
		t.Fatalf("missing timeout warning: %s", buf.String())
	}
}

func TestImplementedInterfaces(t *testing.T) {
	got := implementedInterfaces(&countingHook{})
	if len(got) != 1 || got[0] != "OnReferralCreated" {
		t.Fatalf("implementedInterfaces = %v", got)
	}
}
