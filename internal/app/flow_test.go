package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/tally/internal/models"
)

// fakeExchange serves the exchange REST API for one account.
func fakeExchange(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "flow-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		trades := []map[string]interface{}{
			{"id": "d1", "kind": "deposit", "symbol": "USD", "quantity": "1000", "price": "1", "executed_at": "2024-03-01T09:00:00Z"},
			{"id": "b1", "kind": "buy", "symbol": "BTC", "quote": "USD", "quantity": 2, "price": "300", "cost": "600", "executed_at": "2024-03-01T10:00:00Z"},
		}
		// the cursor replays nothing once both records are behind it
		if r.URL.Query().Get("since") != "" {
			trades = nil
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"trades": trades})
	})
	mux.HandleFunc("/v1/balances", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"balances": []map[string]interface{}{
				{"symbol": "BTC", "total": "2"},
				{"symbol": "USD", "total": "400"},
			},
		})
	})
	return httptest.NewServer(mux)
}

// TestFlow_SyncThenRecalculate drives a queued exchange sync through the job
// manager and checks the chained recalculation sees the imported trades.
func TestFlow_SyncThenRecalculate(t *testing.T) {
	exch := fakeExchange(t)
	defer exch.Close()

	dir := t.TempDir()
	config := `
[storage]
backend = "memory"

[clients.exchange]
base_url = "` + exch.URL + `"
api_key = "flow-key"
rate_limit = 100

[jobmanager]
enabled = true
max_concurrent = 1
poll_interval = "20ms"

[scheduler]
sync_schedule = ""

[logging]
level = "error"
outputs = ["console"]
`
	path := filepath.Join(dir, "tally.toml")
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	acct := &models.Account{Name: "main", Exchange: "acme"}
	if err := a.Storage.AccountStore().Save(ctx, acct); err != nil {
		t.Fatalf("Save account: %v", err)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := a.JobManager.EnqueueIfNeeded(ctx, models.JobTypeExchangeSync, strconv.FormatInt(acct.ID, 10), models.PriorityExchangeSync); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// wait for both the sync and the chained recalculation to complete
	deadline := time.Now().Add(5 * time.Second)
	for {
		jobs, err := a.Storage.JobQueueStore().ListAll(ctx, 10)
		if err != nil {
			t.Fatalf("ListAll: %v", err)
		}
		done := map[string]bool{}
		for _, j := range jobs {
			if j.Status == models.JobStatusFailed {
				t.Fatalf("job %s failed: %s", j.JobType, j.Error)
			}
			if j.Status == models.JobStatusCompleted {
				done[j.JobType] = true
			}
		}
		if done[models.JobTypeExchangeSync] && done[models.JobTypeRecalculateCostBasis] {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not complete: %+v", jobs)
		}
		time.Sleep(20 * time.Millisecond)
	}

	synced, err := a.Storage.AccountStore().Get(ctx, acct.ID)
	if err != nil {
		t.Fatalf("Get account: %v", err)
	}
	if synced.LastSyncedAt.IsZero() {
		t.Error("expected account to be marked synced")
	}

	holdings, err := a.CostBasisService.Holdings(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	bySymbol := map[string]models.Holding{}
	for _, h := range holdings {
		bySymbol[h.Symbol] = h
	}

	btc, ok := bySymbol["BTC"]
	if !ok {
		t.Fatalf("no BTC holding in %+v", holdings)
	}
	if !btc.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("BTC quantity = %s, want 2", btc.Quantity)
	}
	if !btc.CostBasis.Valid || !btc.CostBasis.Decimal.Equal(decimal.NewFromInt(600)) {
		t.Errorf("BTC cost basis = %v, want 600", btc.CostBasis)
	}

	usd, ok := bySymbol["USD"]
	if !ok {
		t.Fatalf("no USD holding in %+v", holdings)
	}
	if !usd.Quantity.Equal(decimal.NewFromInt(400)) {
		t.Errorf("USD quantity = %s, want 400", usd.Quantity)
	}
}
