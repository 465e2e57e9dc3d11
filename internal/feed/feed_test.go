package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"papertrader/internal/logger"
	"papertrader/internal/models"
)

var xau = models.Instrument{Symbol: "XAUUSD", FeedSymbol: "XAUUSDT", Precision: 2, SpreadPct: 0.001}

func TestNormalize(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		name     string
		raw      RawTick
		bid, ask float64
		ok       bool
	}{
		{"both sides", RawTick{Bid: 2000, Ask: 2000.4}, 2000, 2000.4, true},
		{"bid only", RawTick{Bid: 2000}, 2000, 2000, true},
		{"ask only", RawTick{Ask: 2001}, 2001, 2001, true},
		{"price only", RawTick{Price: 2000}, 1999, 2001, true},
		{"crossed", RawTick{Bid: 2001, Ask: 2000}, 2000, 2001, true},
		{"empty", RawTick{}, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick, ok := Normalize(tt.raw, xau, now)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if tick.Bid != tt.bid || tick.Ask != tt.ask {
				t.Fatalf("Expected %v/%v, got %v/%v", tt.bid, tt.ask, tick.Bid, tick.Ask)
			}
			if tick.Symbol != "XAUUSD" || !tick.Timestamp.Equal(now) {
				t.Fatalf("Unexpected tick %+v", tick)
			}
		})
	}
}

type fakeSource struct {
	name  string
	calls atomic.Int32
	run   func(ctx context.Context, call int32, emit func(RawTick)) error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Stream(ctx context.Context, symbols []string, emit func(RawTick)) error {
	return f.run(ctx, f.calls.Add(1), emit)
}

func failing(ctx context.Context, call int32, emit func(RawTick)) error {
	return errors.New("connection refused")
}

func streaming(price float64) func(ctx context.Context, call int32, emit func(RawTick)) error {
	return func(ctx context.Context, call int32, emit func(RawTick)) error {
		emit(RawTick{Symbol: "XAUUSDT", Price: price})
		<-ctx.Done()
		return nil
	}
}

func testFeedConfig() Config {
	return Config{StaleAfter: time.Second, BackoffMin: time.Millisecond, BackoffMax: 5 * time.Millisecond, FailoverAfter: 2}
}

func collector() (chan models.Tick, func(models.Tick)) {
	ch := make(chan models.Tick, 16)
	return ch, func(t models.Tick) {
		select {
		case ch <- t:
		default:
		}
	}
}

func TestSupervisorFailsOver(t *testing.T) {
	primary := &fakeSource{name: "primary", run: failing}
	backup := &fakeSource{name: "backup", run: streaming(2000)}
	ticks, sink := collector()
	sup := NewSupervisor([]Source{primary, backup}, []models.Instrument{xau}, testFeedConfig(), sink, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sup.Run(ctx)
	}()

	select {
	case tick := <-ticks:
		if tick.Symbol != "XAUUSD" || tick.Bid != 1999 {
			t.Fatalf("Unexpected tick %+v", tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a tick from the backup source")
	}
	st := sup.Status()
	if st.Source != "backup" || st.State != StateStreaming || st.Failures != 0 {
		t.Fatalf("Unexpected status %+v", st)
	}
	if got := primary.calls.Load(); got != 2 {
		t.Fatalf("Expected 2 attempts on primary before failover, got %d", got)
	}

	cancel()
	wg.Wait()
	if sup.Status().State != StateIdle {
		t.Fatalf("Expected IDLE after stop, got %s", sup.Status().State)
	}
}

func TestSupervisorReconnectsWhenSilent(t *testing.T) {
	silent := &fakeSource{name: "silent", run: func(ctx context.Context, call int32, emit func(RawTick)) error {
		<-ctx.Done()
		return nil
	}}
	cfg := testFeedConfig()
	cfg.StaleAfter = 20 * time.Millisecond
	_, sink := collector()
	sup := NewSupervisor([]Source{silent}, []models.Instrument{xau}, cfg, sink, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	sup.Run(ctx)

	if got := silent.calls.Load(); got < 2 {
		t.Fatalf("Expected reconnects after silence, got %d attempts", got)
	}
	if !strings.Contains(sup.Status().LastError, ErrStale.Error()) {
		t.Fatalf("Expected stale error recorded, got %q", sup.Status().LastError)
	}
}

func TestSupervisorDropsOldGeneration(t *testing.T) {
	ticks, sink := collector()
	src := &fakeSource{name: "ws", run: streaming(2100)}
	sup := NewSupervisor([]Source{src}, []models.Instrument{xau}, testFeedConfig(), sink, logger.Discard())
	sup.ticks <- stampedTick{gen: 1, raw: RawTick{Symbol: "XAUUSDT", Price: 1500}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.connect(ctx, src, 2)
		close(done)
	}()

	select {
	case tick := <-ticks:
		if tick.Mid < 2000 {
			t.Fatalf("Expected only current generation ticks, got %+v", tick)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a tick")
	}
	cancel()
	<-done
	if len(ticks) != 0 {
		t.Fatalf("Expected no further ticks, got %d", len(ticks))
	}
}

func TestSupervisorIgnoresUnknownSymbols(t *testing.T) {
	_, sink := collector()
	sup := NewSupervisor(nil, []models.Instrument{xau}, testFeedConfig(), sink, logger.Discard())
	if _, ok := sup.normalize(RawTick{Symbol: "DOGEUSDT", Price: 1}); ok {
		t.Fatal("Expected unknown symbol to be dropped")
	}
	if tick, ok := sup.normalize(RawTick{Symbol: "XAUUSDT", Bid: 2000}); !ok || tick.Symbol != "XAUUSD" {
		t.Fatalf("Expected feed symbol mapped to XAUUSD, got %+v", tick)
	}
	if err := sup.Run(context.Background()); err == nil {
		t.Fatal("Expected error without sources")
	}
}

func TestWSSourceStreamsTickers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub wsRequest
		if err := conn.ReadJSON(&sub); err != nil || sub.Op != "subscribe" || len(sub.Args) != 1 || sub.Args[0] != "tickers.XAUUSDT" {
			t.Errorf("Unexpected subscribe %+v %v", sub, err)
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"tickers.XAUUSDT","ts":1700000000000,"data":{"symbol":"XAUUSDT","bid1Price":"2000.1","ask1Price":"2000.5"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src := NewWSSource(WSConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan RawTick, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Stream(ctx, []string{"XAUUSDT"}, func(r RawTick) { got <- r })
	}()

	select {
	case r := <-got:
		if r.Symbol != "XAUUSDT" || r.Bid != 2000.1 || r.Ask != 2000.5 || r.Time.UnixMilli() != 1700000000000 {
			t.Fatalf("Unexpected raw tick %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a ticker")
	}
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not stop")
	}
}
