package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"webhook-trader/internal/activity"
	"webhook-trader/internal/events"
	"webhook-trader/internal/executor"
	"webhook-trader/internal/ledger"
	"webhook-trader/internal/monitor"
	"webhook-trader/internal/pipeline"
	"webhook-trader/internal/registry"
	"webhook-trader/internal/signal"
	"webhook-trader/pkg/cache"
	"webhook-trader/pkg/db"

	"github.com/gin-gonic/gin"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	ctx := context.Background()
	seeds := []registry.Config{
		{ID: "ema-crossover", Name: "EMA Crossover", Pair: "BTC/USDT", Venue: "paper"},
		{ID: "rsi-reversal", Name: "RSI Reversal", Pair: "ETH/USDT", Venue: "paper"},
	}
	if err := registry.SyncConfigToDB(ctx, database, seeds); err != nil {
		t.Fatalf("SyncConfigToDB: %v", err)
	}

	bus := events.NewBus()
	reg := registry.New(database, bus)
	if err := reg.Load(ctx); err != nil {
		t.Fatalf("registry.Load: %v", err)
	}

	gw := executor.NewPaperGateway(map[string]float64{"USDT": 10_000_000, "BTC": 10, "ETH": 100}, 0, 0, 1)
	exec := executor.New(gw, bus, cache.NewDedupCache(), 0)
	exec.Gate = reg

	led := ledger.New(database, 100)
	act := activity.New(bus, nil, 200)
	metrics := monitor.NewSystemMetrics()

	coord := pipeline.New(signal.NewParser(reg), reg, exec, led, act, bus, metrics, nil, 8)
	t.Cleanup(coord.Close)

	return NewServer(Deps{
		Bus:       bus,
		DB:        database,
		Registry:  reg,
		Pipeline:  coord,
		Ledger:    led,
		Activity:  act,
		Gateway:   gw,
		Metrics:   metrics,
		JWTSecret: "test-secret",
		Meta:      SystemMeta{Venue: "paper", Version: "test", StartedAt: time.Now()},
	})
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)

	var resp map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

func tvAlert() map[string]any {
	return map[string]any{
		"strategy": "EMA Crossover",
		"action":   "buy",
		"ticker":   "BINANCE:BTCUSDT",
		"price":    97432.5,
		"qty":      0.015,
	}
}

func waitForSignals(t *testing.T, s *Server, n int) []any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, resp := doJSON(t, s, http.MethodGet, "/api/signals", "", nil)
		if int(resp["count"].(float64)) >= n {
			return resp["signals"].([]any)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d ledger entries", n)
	return nil
}

func loginToken(t *testing.T, s *Server) string {
	t.Helper()
	creds := map[string]any{"email": "ops@example.com", "password": "hunter22"}
	if w, _ := doJSON(t, s, http.MethodPost, "/api/auth/register", "", creds); w.Code != http.StatusCreated {
		t.Fatalf("register status = %d", w.Code)
	}
	w, resp := doJSON(t, s, http.MethodPost, "/api/auth/login", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	return resp["token"].(string)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, resp := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("health = %d %v", w.Code, resp)
	}
}

func TestWebhookAcceptedAndSettles(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, http.MethodPost, "/api/webhook/tv", "", tvAlert())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %v", w.Code, resp)
	}
	if resp["intent_id"] == "" {
		t.Fatal("expected an intent id")
	}

	signals := waitForSignals(t, s, 1)
	out := signals[0].(map[string]any)
	if out["state"] != "FILLED" {
		t.Errorf("state = %v, want FILLED", out["state"])
	}
	if out["pair"] != "BTC/USDT" || out["side"] != "BUY" {
		t.Errorf("outcome = %v %v", out["pair"], out["side"])
	}
}

func TestWebhookParseFailure(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		mut  func(map[string]any)
		code string
	}{
		{"bad action", func(a map[string]any) { a["action"] = "hold" }, "INVALID_ACTION"},
		{"bad price", func(a map[string]any) { a["price"] = "-5" }, "INVALID_NUMERIC"},
		{"bad ticker", func(a map[string]any) { a["ticker"] = "???" }, "UNKNOWN_PAIR"},
		{"unknown strategy", func(a map[string]any) { a["strategy"] = "nope" }, "UNKNOWN_STRATEGY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alert := tvAlert()
			tc.mut(alert)
			w, resp := doJSON(t, s, http.MethodPost, "/api/webhook/tv", "", alert)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if resp["code"] != tc.code {
				t.Errorf("code = %v, want %s", resp["code"], tc.code)
			}
		})
	}

	if _, resp := doJSON(t, s, http.MethodGet, "/api/signals", "", nil); resp["count"].(float64) != 0 {
		t.Error("parse failures must not enter the ledger")
	}
}

func TestStrategiesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	if w, _ := doJSON(t, s, http.MethodGet, "/api/strategies", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", w.Code)
	}

	token := loginToken(t, s)
	w, resp := doJSON(t, s, http.MethodGet, "/api/strategies", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

func TestToggleStrategy(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	w, resp := doJSON(t, s, http.MethodPost, "/api/strategies/ema-crossover/toggle", token, nil)
	if w.Code != http.StatusOK || resp["state"] != "PAUSED" {
		t.Fatalf("toggle = %d %v", w.Code, resp)
	}

	// A paused strategy still records the gated signal.
	if w, _ := doJSON(t, s, http.MethodPost, "/api/webhook/tv", "", tvAlert()); w.Code != http.StatusAccepted {
		t.Fatalf("webhook status = %d", w.Code)
	}
	signals := waitForSignals(t, s, 1)
	out := signals[0].(map[string]any)
	if out["state"] != "REJECTED" || out["reason"] != "STRATEGY_PAUSED" {
		t.Errorf("outcome = %v/%v, want REJECTED/STRATEGY_PAUSED", out["state"], out["reason"])
	}

	if w, _ := doJSON(t, s, http.MethodPost, "/api/strategies/unknown/toggle", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown strategy = %d, want 404", w.Code)
	}
	if w, _ := doJSON(t, s, http.MethodPost, "/api/strategies/manual/toggle", token, nil); w.Code != http.StatusConflict {
		t.Errorf("manual toggle = %d, want 409", w.Code)
	}
}

func TestManualTestSignal(t *testing.T) {
	s := newTestServer(t)

	body := map[string]any{"action": "sell", "pair": "ETH/USDT", "price": "3100", "qty": "0.5"}
	w, _ := doJSON(t, s, http.MethodPost, "/api/test/signal", "", body)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}

	signals := waitForSignals(t, s, 1)
	out := signals[0].(map[string]any)
	if out["strategy_id"] != "manual" {
		t.Errorf("strategy = %v, want manual", out["strategy_id"])
	}
}

func TestRawWebhookRecorded(t *testing.T) {
	s := newTestServer(t)

	w, resp := doJSON(t, s, http.MethodPost, "/api/webhook/raw", "", map[string]any{"anything": "goes"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["bytes"].(float64) == 0 {
		t.Error("expected a byte count")
	}

	_, act := doJSON(t, s, http.MethodGet, "/api/activity", "", nil)
	found := false
	for _, r := range act["activity"].([]any) {
		if strings.Contains(r.(map[string]any)["message"].(string), "raw webhook received") {
			found = true
		}
	}
	if !found {
		t.Error("expected a raw-webhook activity record")
	}
}

func TestSystemStatusAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, status := doJSON(t, s, http.MethodGet, "/api/system/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if status["venue"] != "paper" {
		t.Errorf("venue = %v", status["venue"])
	}
	if _, ok := status["paper_balances"]; !ok {
		t.Error("expected paper balances")
	}

	w, metrics := doJSON(t, s, http.MethodGet, "/api/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if metrics["api_requests"].(float64) < 1 {
		t.Error("expected api request count")
	}
}

func TestSignalsLimitParam(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 3; i++ {
		alert := tvAlert()
		alert["qty"] = fmt.Sprintf("0.0%d1", i+1)
		if w, _ := doJSON(t, s, http.MethodPost, "/api/webhook/tv", "", alert); w.Code != http.StatusAccepted {
			t.Fatalf("webhook %d status = %d", i, w.Code)
		}
	}
	waitForSignals(t, s, 3)

	_, resp := doJSON(t, s, http.MethodGet, "/api/signals?limit=2", "", nil)
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}
