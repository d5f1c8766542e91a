package clover

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"posbridge/internal/bridge"
	"posbridge/internal/retry"
	"posbridge/internal/token"
)

const orderDoc = `{
	"id": "ORD1",
	"currency": "USD",
	"total": 3250,
	"taxAmount": 250,
	"tipAmount": 100,
	"createdTime": 1700000000000,
	"customer": {"id": "CUST1"},
	"tender": {"id": "TND1"},
	"lineItems": {"elements": [
		{
			"id": "LINE1",
			"item": {"id": "ITEM1"},
			"name": "Latte",
			"price": 2500,
			"quantity": 1,
			"modifications": {"elements": [
				{"id": "M1", "name": "Oat milk", "price": 250},
				{"id": "M2", "name": "Extra shot", "price": 250}
			]},
			"discounts": {"elements": [
				{"id": "D1", "name": "Happy hour", "amount": 100}
			]}
		}
	]},
	"discounts": {"elements": [
		{"id": "OD1", "name": "Loyalty", "amount": 500}
	]}
}`

func fastExecutor() *retry.Executor {
	e := retry.NewExecutor(slog.Default())
	e.Sleep = func(time.Duration) {}
	return e
}

func staticTokens(t *testing.T) *token.Manager {
	t.Helper()
	m, err := token.NewManager(token.Config{Name: "clover", StaticToken: "tok"}, nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	return m
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, MerchantID: "MID"}, staticTokens(t), nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClient_RequiresMerchantID(t *testing.T) {
	if _, err := NewClient(Config{}, staticTokens(t), nil, nil, nil); err == nil {
		t.Fatalf("expected configuration error without merchant id")
	}
}

func TestFetchOrder_NormalizesMinorUnits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("expand") == "" {
			t.Errorf("expected expanded fetch, got %s", r.URL.String())
		}
		_, _ = w.Write([]byte(orderDoc))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	o, err := c.FetchOrder(context.Background(), "ORD1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if o.ID != "ORD1" || o.Total != 32.50 || o.TaxAmount != 2.50 || o.TipAmount != 1.00 {
		t.Fatalf("unexpected order amounts: %+v", o)
	}
	if len(o.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(o.Items))
	}
	item := o.Items[0]
	if item.ID != "ITEM1" || item.Price != 25.00 || item.Quantity != 1 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if len(item.Modifiers) != 2 || item.Modifiers[0].Price != 2.50 {
		t.Fatalf("unexpected modifiers: %+v", item.Modifiers)
	}
	if len(item.Discounts) != 1 || item.Discounts[0].Amount != 1.00 {
		t.Fatalf("unexpected item discounts: %+v", item.Discounts)
	}
	if len(o.Discounts) != 1 || o.Discounts[0].Amount != 5.00 {
		t.Fatalf("unexpected order discounts: %+v", o.Discounts)
	}
	if o.CustomerID != "CUST1" || o.TenderID != "TND1" {
		t.Fatalf("unexpected references: %+v", o)
	}
	if len(o.Raw) == 0 {
		t.Fatalf("raw payload should be retained")
	}
}

func TestFetchOrder_DegradedFallbackOnForbiddenExpand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("expand") != "" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"id": "ORD2", "total": 1000, "createdTime": 1700000000000}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	o, err := c.FetchOrder(context.Background(), "ORD2")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if o.ID != "ORD2" || o.Total != 10.00 {
		t.Fatalf("unexpected order: %+v", o)
	}
	if len(o.Items) != 0 {
		t.Fatalf("degraded fetch should yield no items")
	}
}

func TestFetchOrder_MissingPermission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchOrder(context.Background(), "ORD3")
	if !errors.Is(err, bridge.ErrMissingPermission) {
		t.Fatalf("expected missing-permission error, got %v", err)
	}
}

func TestFetchOrder_NotFoundAfterRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchOrder(context.Background(), "NOPE")
	if !errors.Is(err, bridge.ErrOrderNotFound) {
		t.Fatalf("expected order-not-found, got %v", err)
	}
	// 404 is retried to absorb upstream read-after-write races.
	if calls != 3 {
		t.Fatalf("expected 3 attempts for 404, got %d", calls)
	}
}

func TestParseOrderFromPayload(t *testing.T) {
	c := newTestClient(t, "http://unused.test")

	o, err := c.ParseOrderFromPayload([]byte(orderDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if o.ID != "ORD1" || o.Total != 32.50 || len(o.Items) != 1 {
		t.Fatalf("unexpected order: %+v", o)
	}

	if _, err := c.ParseOrderFromPayload([]byte(`{"type":"PING"}`)); err == nil {
		t.Fatalf("non-order payload should be rejected")
	}
	if _, err := c.ParseOrderFromPayload([]byte(`not json`)); err == nil {
		t.Fatalf("malformed payload should be rejected")
	}
}

func TestVerifySignature(t *testing.T) {
	c, err := NewClient(Config{MerchantID: "MID", SignatureSecret: "s3cret"}, staticTokens(t), nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	body := []byte(`{"appId":"A","merchants":{}}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !c.VerifySignature(sig, body) {
		t.Fatalf("valid signature should verify")
	}
	if c.VerifySignature(sig, []byte(`{"appId":"A","merchants":{}} `)) {
		t.Fatalf("signature over different bytes should fail")
	}
	if c.VerifySignature("", body) {
		t.Fatalf("missing signature should fail when a secret is configured")
	}
	if !c.SignatureConfigured() {
		t.Fatalf("secret is configured")
	}
}

func TestVerifySignature_BypassWithoutSecret(t *testing.T) {
	c := newTestClient(t, "http://unused.test")
	if !c.VerifySignature("anything", []byte("body")) {
		t.Fatalf("verification is bypassed when no secret is configured")
	}
	if c.SignatureConfigured() {
		t.Fatalf("no secret is configured")
	}
}

func TestVerifyWebhookAuth(t *testing.T) {
	c, err := NewClient(Config{MerchantID: "MID", WebhookSecret: "hook-secret"}, staticTokens(t), nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if !c.VerifyWebhookAuth("hook-secret") {
		t.Fatalf("matching auth header should verify")
	}
	if c.VerifyWebhookAuth("wrong") || c.VerifyWebhookAuth("") {
		t.Fatalf("mismatched auth header should fail")
	}
}
