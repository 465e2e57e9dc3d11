package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"papertrader/internal/engine"
	"papertrader/internal/feed"
	"papertrader/internal/models"
	"papertrader/internal/store"
)

type fakeEngine struct {
	view      *engine.View
	active    bool
	closedFor string
	imported  string
	tokens    []string
	err       error
}

func (f *fakeEngine) Snapshot() *engine.View { return f.view }

func (f *fakeEngine) ToggleBot(ctx context.Context, symbol string) (bool, error) {
	if symbol != "XAUUSD" {
		return false, fmt.Errorf("%s: %w", symbol, engine.ErrUnknownSymbol)
	}
	f.active = !f.active
	return f.active, nil
}

func (f *fakeEngine) ToggleStrategy(ctx context.Context, symbol, id string) (bool, error) {
	if !models.KnownStrategy(id) {
		return false, fmt.Errorf("%s: %w", id, engine.ErrUnknownStrategy)
	}
	return true, nil
}

func (f *fakeEngine) CloseAll(ctx context.Context, symbol string) (int, error) {
	f.closedFor = symbol
	return 2, nil
}

func (f *fakeEngine) Reset(ctx context.Context) (string, error) {
	return "data/archive/state-1.json", nil
}

func (f *fakeEngine) ImportJSON(ctx context.Context, r io.Reader) (store.MergeStats, error) {
	body, _ := io.ReadAll(r)
	f.imported = string(body)
	return store.MergeStats{Added: 1}, f.err
}

func (f *fakeEngine) ImportCSV(ctx context.Context, r io.Reader) (store.MergeStats, error) {
	trades, err := store.ParseCSV(r)
	if err != nil {
		return store.MergeStats{}, err
	}
	return store.MergeStats{Added: len(trades)}, nil
}

func (f *fakeEngine) SubscribePush(ctx context.Context, token string) error {
	f.tokens = append(f.tokens, token)
	return nil
}

type fakeFeed struct {
	status feed.Status
}

func (f fakeFeed) Status() feed.Status { return f.status }

func newTestServer(secret string) (*Server, *fakeEngine) {
	eng := &fakeEngine{view: &engine.View{
		Account: models.Account{Balance: 10000, Equity: 10000},
		Trades: []models.Trade{{
			ID: "t1", Symbol: "XAUUSD", Type: models.SideBuy, EntryPrice: 2000,
			InitialSize: 1, CurrentSize: 1, OpenTime: 1, Status: models.StatusOpen,
		}},
	}}
	s := NewServer(Config{JWTSecret: secret}, eng, nil, fakeFeed{status: feed.Status{State: feed.StateStreaming}}, nil)
	return s, eng
}

func do(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestStateEndpoint(t *testing.T) {
	s, _ := newTestServer("")
	w := do(s, http.MethodGet, "/api/state", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decode(t, w)
	account := body["account"].(map[string]interface{})
	if account["balance"] != 10000.0 {
		t.Errorf("Expected balance 10000, got %v", account["balance"])
	}
	if trades := body["trades"].([]interface{}); len(trades) != 1 {
		t.Errorf("Expected 1 trade, got %d", len(trades))
	}
}

func TestExportCSV(t *testing.T) {
	s, _ := newTestServer("")
	w := do(s, http.MethodGet, "/api/trades.csv", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	trades, err := store.ParseCSV(w.Body)
	if err != nil || len(trades) != 1 || trades[0].ID != "t1" {
		t.Fatalf("Expected exported trade to parse back, got %+v %v", trades, err)
	}
}

func TestHealthReflectsFeedState(t *testing.T) {
	s, _ := newTestServer("")
	if w := do(s, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 while streaming, got %d", w.Code)
	}
	s.feed = fakeFeed{status: feed.Status{State: feed.StateDegraded}}
	if w := do(s, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 while degraded, got %d", w.Code)
	}
}

func TestControlReplies(t *testing.T) {
	s, eng := newTestServer("")

	w := do(s, http.MethodPost, "/api/instruments/XAUUSD/toggle", "", nil)
	if body := decode(t, w); w.Code != http.StatusOK || body["ok"] != true || body["active"] != true {
		t.Errorf("Unexpected toggle reply %d %v", w.Code, body)
	}

	w = do(s, http.MethodPost, "/api/instruments/DOGE/toggle", "", nil)
	if body := decode(t, w); w.Code != http.StatusNotFound || body["ok"] != false || body["error"] == "" {
		t.Errorf("Unexpected unknown-symbol reply %d %v", w.Code, body)
	}

	w = do(s, http.MethodPost, "/api/instruments/XAUUSD/strategies/grid/toggle", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown strategy, got %d", w.Code)
	}

	w = do(s, http.MethodPost, "/api/close", `{"symbol":"XAUUSD"}`, map[string]string{"Content-Type": "application/json"})
	if body := decode(t, w); w.Code != http.StatusOK || body["closed"] != 2.0 || eng.closedFor != "XAUUSD" {
		t.Errorf("Unexpected close reply %d %v", w.Code, body)
	}

	eng.closedFor = "unset"
	w = do(s, http.MethodPost, "/api/close", "", nil)
	if w.Code != http.StatusOK || eng.closedFor != "" {
		t.Errorf("Expected close-all for empty body, got %d %q", w.Code, eng.closedFor)
	}

	w = do(s, http.MethodPost, "/api/reset", "", nil)
	if body := decode(t, w); w.Code != http.StatusOK || body["archive"] != "data/archive/state-1.json" {
		t.Errorf("Unexpected reset reply %d %v", w.Code, body)
	}
}

func TestImportEndpoints(t *testing.T) {
	s, eng := newTestServer("")

	w := do(s, http.MethodPost, "/api/import", `[{"symbol":"XAUUSD"}]`, nil)
	if w.Code != http.StatusOK || eng.imported != `[{"symbol":"XAUUSD"}]` {
		t.Errorf("Unexpected import reply %d %q", w.Code, eng.imported)
	}

	eng.err = fmt.Errorf("сделка 1: пустой символ")
	w = do(s, http.MethodPost, "/api/import", `[{}]`, nil)
	if body := decode(t, w); w.Code != http.StatusBadRequest || body["ok"] != false {
		t.Errorf("Expected rejected import, got %d %v", w.Code, body)
	}

	csv := "symbol,type,entry_price,initial_size,open_time\nXAUUSD,BUY,2000,1,1700000000000\n"
	w = do(s, http.MethodPost, "/api/import/csv", csv, map[string]string{"Content-Type": "text/csv"})
	body := decode(t, w)
	stats := body["stats"].(map[string]interface{})
	if w.Code != http.StatusOK || stats["added"] != 1.0 {
		t.Errorf("Unexpected CSV import reply %d %v", w.Code, body)
	}

	w = do(s, http.MethodPost, "/api/import/csv", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for empty CSV, got %d", w.Code)
	}
}

func TestPushSubscribe(t *testing.T) {
	s, eng := newTestServer("secret")
	w := do(s, http.MethodPost, "/api/push/subscribe", `{"token":"abc"}`, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusOK || len(eng.tokens) != 1 || eng.tokens[0] != "abc" {
		t.Errorf("Unexpected subscribe reply %d %v", w.Code, eng.tokens)
	}
	w = do(s, http.MethodPost, "/api/push/subscribe", `{}`, map[string]string{"Content-Type": "application/json"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without token, got %d", w.Code)
	}
}

func signed(t *testing.T, secret string, method jwt.SigningMethod) string {
	t.Helper()
	token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestRequireAdmin(t *testing.T) {
	s, _ := newTestServer("secret")

	if w := do(s, http.MethodPost, "/api/reset", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without token, got %d", w.Code)
	}
	bad := map[string]string{"Authorization": "Bearer " + signed(t, "other", jwt.SigningMethodHS256)}
	if w := do(s, http.MethodPost, "/api/reset", "", bad); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for foreign signature, got %d", w.Code)
	}
	weak := map[string]string{"Authorization": "Bearer " + signed(t, "secret", jwt.SigningMethodHS512)}
	if w := do(s, http.MethodPost, "/api/reset", "", weak); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for unexpected algorithm, got %d", w.Code)
	}
	good := map[string]string{"Authorization": "Bearer " + signed(t, "secret", jwt.SigningMethodHS256)}
	if w := do(s, http.MethodPost, "/api/reset", "", good); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with valid token, got %d", w.Code)
	}
	if w := do(s, http.MethodGet, "/api/state", "", nil); w.Code != http.StatusOK {
		t.Errorf("Expected state query to stay public, got %d", w.Code)
	}
}
