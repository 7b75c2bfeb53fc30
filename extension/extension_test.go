package extension

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/referral/store/memory"
)

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{DefaultRateBps: 2500, BasePath: "/refs"}
	prog := Config{
		DefaultRateBps:      9000,
		DisableMigrate:      true,
		WebhookSecret:       "whsec",
		ExpirySweepInterval: time.Minute,
	}

	got := mergeConfigurations(yaml, prog)

	if got.DefaultRateBps != 2500 {
		t.Errorf("DefaultRateBps = %d, want file value 2500", got.DefaultRateBps)
	}
	if got.BasePath != "/refs" {
		t.Errorf("BasePath = %q", got.BasePath)
	}
	if !got.DisableMigrate {
		t.Error("programmatic DisableMigrate should carry over")
	}
	if got.WebhookSecret != "whsec" || got.ExpirySweepInterval != time.Minute {
		t.Errorf("programmatic gaps not filled: %+v", got)
	}
	if got.DefaultDurationMonths != 24 || got.CodeLength != 8 {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestInitWithoutGroveUsesMemoryStore(t *testing.T) {
	e := New(WithWebhookSecret("whsec"))
	e.config = mergeWithDefaults(e.config)
	if err := e.init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, ok := e.store.(*memory.Store); !ok {
		t.Fatalf("store = %T, want *memory.Store", e.store)
	}
	if e.Handler() == nil {
		t.Fatal("handler should be built when routes are enabled")
	}

	if err := e.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = e.engine.Stop() })

	srv := httptest.NewServer(e.Routes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/referral/healthz")
	if err != nil {
		t.Fatalf("GET healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestInitDisableRoutes(t *testing.T) {
	e := New(WithDisableRoutes())
	e.config = mergeWithDefaults(e.config)
	if err := e.init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if e.Handler() != nil || e.Routes() != nil {
		t.Fatal("routes should be disabled")
	}
}

func TestBuildStoreWithoutGroveIgnoresDriver(t *testing.T) {
	e := New()
	e.config.StoreDriver = "oracle"
	s, err := e.buildStore()
	if err != nil {
		t.Fatalf("buildStore: %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Fatalf("store = %T, want *memory.Store", s)
	}
}
