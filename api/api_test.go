package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/referral"
	"github.com/xraph/referral/api"
	"github.com/xraph/referral/store/memory"
	"github.com/xraph/referral/webhook"
)

const secret = "whsec_test"

type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Code      string          `json:"code"`
	RequestID string          `json:"request_id"`
}

type fixture struct {
	engine *referral.Engine
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := memory.New()

	e := referral.New(s, referral.WithLogger(logger))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })

	h := api.NewHandler(e,
		api.WithLogger(logger),
		api.WithReadiness(s),
		api.WithWebhook(
			webhook.NewVerifier(secret),
			webhook.NewDispatcher(e, webhook.WithLogger(logger)),
		),
	)
	srv := httptest.NewServer(api.NewRouter(h))
	t.Cleanup(srv.Close)
	return &fixture{engine: e, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, userID string, body any) (*http.Response, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, f.server.URL+path, rdr)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set(api.HeaderUserID, userID)
	}
	return f.send(t, req)
}

func (f *fixture) send(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func (f *fixture) webhook(t *testing.T, payload []byte, signature string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, f.server.URL+"/webhooks/stripe", bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set(webhook.SignatureHeader, signature)
	return f.send(t, req)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp, env := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", env.Status)
	assert.NotEmpty(t, resp.Header.Get(api.HeaderRequestID))

	resp, _ = f.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCodeAndReferralRoutes(t *testing.T) {
	f := newFixture(t)

	resp, env := f.do(t, http.MethodPost, "/codes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", env.Code)

	resp, env = f.do(t, http.MethodPost, "/codes", "user_a", map[string]string{"custom_code": "Friend"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Code  string `json:"code"`
		IsNew bool   `json:"is_new"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "friend", created.Code)
	assert.True(t, created.IsNew)

	resp, _ = f.do(t, http.MethodPost, "/codes", "user_a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = f.do(t, http.MethodGet, "/codes/FRIEND", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var attr referral.Attribution
	require.NoError(t, json.Unmarshal(env.Data, &attr))
	assert.Equal(t, "user_a", attr.ReferrerUserID)

	resp, env = f.do(t, http.MethodGet, "/codes/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", env.Code)

	resp, env = f.do(t, http.MethodPost, "/referrals", "user_a", map[string]string{"code": "friend"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "self_referral_not_allowed", env.Code)

	resp, env = f.do(t, http.MethodPost, "/referrals", "user_b", map[string]string{"code": "missing"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "invalid_referral_code", env.Code)

	resp, _ = f.do(t, http.MethodPost, "/referrals", "user_b", map[string]string{"code": "friend"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, env = f.do(t, http.MethodPost, "/referrals", "user_b", map[string]string{"code": "friend"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_referred", env.Code)
	assert.NotEmpty(t, env.RequestID)
}

func TestUserRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GetOrCreateReferralCode(ctx, "user_a", "friend")
	require.NoError(t, err)
	_, err = f.engine.CreateReferral(ctx, "user_b", "friend")
	require.NoError(t, err)

	resp, env := f.do(t, http.MethodGet, "/users/user_a/stats", "user_a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s struct {
		ReferralCode     string `json:"referral_code"`
		PendingReferrals int64  `json:"pending_referrals"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Equal(t, "friend", s.ReferralCode)
	assert.Equal(t, int64(1), s.PendingReferrals)

	resp, env = f.do(t, http.MethodGet, "/users/user_a/referrals?status=pending&limit=10", "user_a", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var refs []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &refs))
	assert.Len(t, refs, 1)

	resp, env = f.do(t, http.MethodGet, "/users/user_a/referrals?status=bogus", "user_a", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", env.Code)

	resp, _ = f.do(t, http.MethodGet, "/users/user_a/commissions?limit=x", "user_a", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/users/user_a/commissions", "user_a", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = f.do(t, http.MethodGet, "/users/user_a/stats", "user_b", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", env.Code)
}

func TestStripeWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.GetOrCreateReferralCode(ctx, "user_a", "friend")
	require.NoError(t, err)
	_, err = f.engine.CreateReferral(ctx, "user_b", "friend")
	require.NoError(t, err)

	activated := []byte(`{"id":"evt_1","type":"customer.subscription.created",
		"data":{"object":{"id":"sub_1","status":"active","metadata":{"user_id":"user_b"}}}}`)

	resp, env := f.webhook(t, activated, "t=1,v1=00")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_signature", env.Code)

	resp, env = f.webhook(t, activated, webhook.Sign(secret, activated, time.Now()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out webhook.Outcome
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, webhook.StatusHandled, out.Status)

	paid := []byte(`{"id":"evt_2","type":"invoice.paid","data":{"object":{
		"id":"in_1","amount_paid":2000,"currency":"usd","metadata":{"user_id":"user_b"}}}}`)
	resp, env = f.webhook(t, paid, webhook.Sign(secret, paid, time.Now()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotNil(t, out.Commission)
	assert.Equal(t, int64(1000), out.Commission.CommissionCents)

	ignored := []byte(`{"id":"evt_3","type":"charge.refunded","data":{"object":{}}}`)
	resp, env = f.webhook(t, ignored, webhook.Sign(secret, ignored, time.Now()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, webhook.StatusSkipped, out.Status)
	assert.Equal(t, webhook.ReasonUnhandledEventType, out.Reason)

	bad := []byte(`{"id":"evt_4"}`)
	resp, env = f.webhook(t, bad, webhook.Sign(secret, bad, time.Now()))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "malformed_payload", env.Code)
}

func TestStripeWebhookDisabled(t *testing.T) {
	e := referral.New(memory.New(), referral.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	srv := httptest.NewServer(api.NewRouter(api.NewHandler(e)))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/webhooks/stripe", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
