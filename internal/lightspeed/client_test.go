package lightspeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"posbridge/internal/bridge"
	"posbridge/internal/retry"
	"posbridge/internal/token"
)

func fastExecutor() *retry.Executor {
	e := retry.NewExecutor(slog.Default())
	e.Sleep = func(time.Duration) {}
	return e
}

func samplePayload() bridge.SalePayload {
	return bridge.SalePayload{
		ShopID:          "SHOP1",
		Lines:           []bridge.SaleLine{{ItemID: "I1", Quantity: 1, UnitPrice: 10}},
		Payments:        []bridge.SalePayment{{Amount: 10}},
		Total:           10,
		ReferenceNumber: "ORD1",
	}
}

func TestCreateSale_PostsSaleEnvelope(t *testing.T) {
	var got map[string]bridge.SalePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/API/Account/ACC1/Sale.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer static-tok" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tokens, err := token.NewManager(token.Config{Name: "lightspeed", StaticToken: "static-tok"}, nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	c, err := NewClient(Config{BaseURL: srv.URL, AccountID: "ACC1"}, tokens, nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.CreateSale(context.Background(), samplePayload()); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	sale, ok := got["Sale"]
	if !ok {
		t.Fatalf("payload must be nested under Sale, got %v", got)
	}
	if sale.ReferenceNumber != "ORD1" {
		t.Fatalf("reference number must survive the round trip: %+v", sale)
	}
}

func TestCreateSale_ForceRefreshOn401(t *testing.T) {
	var refreshes int64
	tokSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&refreshes, 1)
		_ = json.NewEncoder(w).Encode(token.Response{AccessToken: "fresh-tok", ExpiresIn: 3600})
	}))
	defer tokSrv.Close()

	var saleCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&saleCalls, 1)
		if n == 2 && r.Header.Get("Authorization") != "Bearer fresh-tok" {
			t.Errorf("second attempt should carry the refreshed token")
		}
		if n == 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tokens, err := token.NewManager(token.Config{
		Name:         "lightspeed",
		TokenURL:     tokSrv.URL,
		ClientID:     "cid",
		ClientSecret: "cs",
		RefreshToken: "rt",
	}, nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	c, err := NewClient(Config{BaseURL: srv.URL, AccountID: "ACC1"}, tokens, nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.CreateSale(context.Background(), samplePayload()); err != nil {
		t.Fatalf("create sale should succeed after re-auth: %v", err)
	}
	if atomic.LoadInt64(&saleCalls) != 2 {
		t.Fatalf("expected one retry after 401, got %d calls", saleCalls)
	}
	// Initial token + forced refresh.
	if atomic.LoadInt64(&refreshes) != 2 {
		t.Fatalf("expected 2 token fetches, got %d", refreshes)
	}
}

func TestCreateSale_TransientServerErrorRetried(t *testing.T) {
	var saleCalls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&saleCalls, 1) < 3 {
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tokens, err := token.NewManager(token.Config{Name: "lightspeed", StaticToken: "tok"}, nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("token manager: %v", err)
	}
	c, err := NewClient(Config{BaseURL: srv.URL, AccountID: "ACC1"}, tokens, nil, fastExecutor(), slog.Default())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.CreateSale(context.Background(), samplePayload()); err != nil {
		t.Fatalf("create sale should succeed after retries: %v", err)
	}
	if atomic.LoadInt64(&saleCalls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", saleCalls)
	}
}
