package position

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"papertrader/internal/models"
)

var (
	t0   = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	gold = models.Instrument{
		Symbol: "XAUUSD", MinLot: 0.01, MaxLot: 10, LotStep: 0.01, DefaultLot: 1, Precision: 2,
		HardClose: "16:00", HardCloseStrategies: []string{models.StrategySession},
	}
)

func newTestManager() *Manager {
	m := NewManager(DefaultConfig())
	m.newID = func() string { return "t1" }
	return m
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func scenarioTrade(t *testing.T, m *Manager, strategy string) models.Trade {
	t.Helper()
	tr, err := m.Open(models.TradeIntent{
		Side: models.SideBuy, Strategy: strategy, EntryPrice: 2000, StopLoss: 1997, Size: 1,
		TPLevels: []models.TakeProfitLevel{
			{Price: 2006, Percentage: 0.4},
			{Price: 2010, Percentage: 0.4},
			{Price: 2030, Percentage: 0.2},
		},
	}, gold, nil, t0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return tr
}

func checkSizeInvariant(t *testing.T, tr models.Trade) {
	t.Helper()
	hit := 0.0
	for _, l := range tr.TPLevels {
		if l.Hit {
			hit += tr.InitialSize * l.Percentage
		}
	}
	if !near(tr.CurrentSize, tr.InitialSize-hit) {
		t.Fatalf("Expected currentSize %v, got %v", tr.InitialSize-hit, tr.CurrentSize)
	}
}

func TestFirstTakeProfitMovesStopToBreakeven(t *testing.T) {
	m := newTestManager()
	tr := scenarioTrade(t, m, models.StrategyTrend)

	events := m.Evaluate(&tr, gold, Market{Bid: 2006, Ask: 2006.2, Now: t0.Add(time.Minute)})

	if !near(tr.CurrentSize, 0.6) {
		t.Fatalf("Expected currentSize 0.6, got %v", tr.CurrentSize)
	}
	if !near(tr.PnL, (2006-2000)*0.4) {
		t.Fatalf("Expected pnl 2.4, got %v", tr.PnL)
	}
	if tr.StopLoss != 2000 {
		t.Fatalf("Expected stop at breakeven 2000, got %v", tr.StopLoss)
	}
	if !tr.TPLevels[0].Hit || tr.TPLevels[1].Hit {
		t.Fatalf("Unexpected level state: %+v", tr.TPLevels)
	}
	if len(events) != 2 || events[0].Kind != EventTakeProfit || events[1].Kind != EventBreakeven {
		t.Fatalf("Unexpected events: %+v", events)
	}
	checkSizeInvariant(t, tr)
}

func TestFullLadderClosesTrade(t *testing.T) {
	m := newTestManager()
	tr := scenarioTrade(t, m, models.StrategyTrend)
	m.Evaluate(&tr, gold, Market{Bid: 2031, Ask: 2031.2, Now: t0.Add(time.Minute)})
	if tr.IsOpen() || tr.CloseReason != models.CloseTakeProfit {
		t.Fatalf("Expected TAKE_PROFIT close, got %s/%s", tr.Status, tr.CloseReason)
	}
	want := 6*0.4 + 10*0.4 + 30*0.2
	if !near(tr.PnL, want) {
		t.Fatalf("Expected pnl %v, got %v", want, tr.PnL)
	}
	checkSizeInvariant(t, tr)
}

func TestStopLossClosesRemainder(t *testing.T) {
	m := newTestManager()
	tr := scenarioTrade(t, m, models.StrategyTrend)
	ev := m.Evaluate(&tr, gold, Market{Bid: 1996.5, Ask: 1996.7, Now: t0.Add(time.Minute)})
	if tr.IsOpen() || tr.CloseReason != models.CloseStopLoss || tr.ClosePrice != 1997 {
		t.Fatalf("Expected stop loss close at 1997, got %+v", tr)
	}
	if !near(tr.PnL, -3) || len(ev) != 1 {
		t.Fatalf("Expected pnl -3 with one event, got %v %+v", tr.PnL, ev)
	}
	checkSizeInvariant(t, tr)
}

func TestAdvisoryOverrideClosesAdvisoryTrade(t *testing.T) {
	m := newTestManager()
	tr := scenarioTrade(t, m, models.StrategyAdvisory)
	adv := models.Advisory{Sentiment: models.SentimentBearish, Confidence: 90, Reason: "разворот", UpdatedAt: t0}
	m.Evaluate(&tr, gold, Market{Bid: 2001, Ask: 2001.2, Now: t0.Add(time.Minute), Advisory: adv})
	if tr.IsOpen() || tr.CloseReason != models.CloseAdvisoryOverride || tr.ClosePrice != 2001 {
		t.Fatalf("Expected advisory override close at bid, got %+v", tr)
	}
}

func TestAdvisoryOverrideIgnoresOtherStrategies(t *testing.T) {
	m := newTestManager()
	tr := scenarioTrade(t, m, models.StrategyTrend)
	adv := models.Advisory{Sentiment: models.SentimentBearish, Confidence: 90, UpdatedAt: t0}
	m.Evaluate(&tr, gold, Market{Bid: 2001, Ask: 2001.2, Now: t0.Add(time.Minute), Advisory: adv})
	if !tr.IsOpen() {
		t.Fatal("Expected trend trade to stay open")
	}
}

func TestSessionHardClose(t *testing.T) {
	m := newTestManager()
	tr := scenarioTrade(t, m, models.StrategySession)
	m.Evaluate(&tr, gold, Market{Bid: 2001, Ask: 2001.2, Now: time.Date(2024, 6, 3, 15, 59, 0, 0, time.UTC)})
	if !tr.IsOpen() {
		t.Fatal("Expected trade open before hard close")
	}
	m.Evaluate(&tr, gold, Market{Bid: 2001, Ask: 2001.2, Now: time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC)})
	if tr.IsOpen() || tr.CloseReason != models.CloseSession {
		t.Fatalf("Expected session close, got %s", tr.CloseReason)
	}
}

func TestTrailingNeverLoosens(t *testing.T) {
	m := newTestManager()
	tr, err := m.Open(models.TradeIntent{
		Side: models.SideBuy, EntryPrice: 2000, Size: 1,
		TPLevels: []models.TakeProfitLevel{{Price: 2200, Percentage: 1}},
	}, gold, nil, t0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	bids := []float64{2005, 2012, 2011, 2020, 2016, 2030, 2025, 2028}
	prev := tr.StopLoss
	for i, bid := range bids {
		m.Evaluate(&tr, gold, Market{Bid: bid, Ask: bid + 0.2, Now: t0.Add(time.Duration(i+1) * time.Minute)})
		if tr.StopLoss < prev {
			t.Fatalf("Stop loosened from %v to %v at bid %v", prev, tr.StopLoss, bid)
		}
		prev = tr.StopLoss
	}
	if !tr.IsOpen() {
		t.Fatalf("Expected trade still open, closed by %s", tr.CloseReason)
	}
	if want := gold.RoundPrice(2030 * (1 - 0.0025)); tr.StopLoss != want {
		t.Fatalf("Expected trailed stop %v, got %v", want, tr.StopLoss)
	}
}

func TestTrailingSellRatchetsDown(t *testing.T) {
	m := newTestManager()
	tr, err := m.Open(models.TradeIntent{
		Side: models.SideSell, EntryPrice: 2000, Size: 1,
		TPLevels: []models.TakeProfitLevel{{Price: 1800, Percentage: 1}},
	}, gold, nil, t0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if tr.StopLoss != 2003 {
		t.Fatalf("Expected default stop 2003, got %v", tr.StopLoss)
	}
	prev := tr.StopLoss
	for i, ask := range []float64{1988, 1990, 1980, 1985} {
		m.Evaluate(&tr, gold, Market{Bid: ask - 0.2, Ask: ask, Now: t0.Add(time.Duration(i+1) * time.Minute)})
		if tr.StopLoss > prev {
			t.Fatalf("Sell stop loosened from %v to %v", prev, tr.StopLoss)
		}
		prev = tr.StopLoss
	}
}

func TestClosedTradeIsImmutable(t *testing.T) {
	m := newTestManager()
	tr := scenarioTrade(t, m, models.StrategyAdvisory)
	m.Evaluate(&tr, gold, Market{Bid: 1990, Ask: 1990.2, Now: t0.Add(time.Minute)})
	if tr.IsOpen() {
		t.Fatal("Expected trade closed")
	}
	before := tr.Clone()
	adv := models.Advisory{Sentiment: models.SentimentBearish, Confidence: 99, UpdatedAt: t0}
	if ev := m.Evaluate(&tr, gold, Market{Bid: 2100, Ask: 2100.2, Now: t0.Add(time.Hour), Advisory: adv}); ev != nil {
		t.Fatalf("Expected no events on closed trade, got %+v", ev)
	}
	if _, err := m.Close(&tr, 2050, models.CloseManual, t0.Add(time.Hour), ""); !errors.Is(err, ErrTradeClosed) {
		t.Fatalf("Expected ErrTradeClosed, got %v", err)
	}
	if !reflect.DeepEqual(before, tr) {
		t.Fatal("Closed trade changed")
	}
}

func TestOpenValidation(t *testing.T) {
	m := newTestManager()
	open := scenarioTrade(t, m, models.StrategyTrend)

	cases := []struct {
		name     string
		intent   models.TradeIntent
		existing []models.Trade
		want     error
	}{
		{"second position", models.TradeIntent{Side: models.SideBuy, EntryPrice: 2000}, []models.Trade{open}, ErrPositionExists},
		{"ladder sum", models.TradeIntent{Side: models.SideBuy, EntryPrice: 2000, TPLevels: []models.TakeProfitLevel{
			{Price: 2006, Percentage: 0.5}, {Price: 2010, Percentage: 0.4}}}, nil, ErrInvalidLadder},
		{"ladder wrong side", models.TradeIntent{Side: models.SideSell, EntryPrice: 2000, TPLevels: []models.TakeProfitLevel{
			{Price: 2006, Percentage: 1}}}, nil, ErrInvalidLadder},
		{"stop above buy", models.TradeIntent{Side: models.SideBuy, EntryPrice: 2000, StopLoss: 2001}, nil, ErrInvalidStop},
		{"tiny size", models.TradeIntent{Side: models.SideBuy, EntryPrice: 2000, Size: 0.001}, nil, ErrInvalidSize},
		{"bad side", models.TradeIntent{Side: "HOLD", EntryPrice: 2000}, nil, ErrInvalidIntent},
	}
	for _, c := range cases {
		if _, err := m.Open(c.intent, gold, c.existing, t0); !errors.Is(err, c.want) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, err)
		}
	}
}

func TestCheckShares(t *testing.T) {
	cases := []struct {
		name   string
		levels []models.TakeProfitLevel
		ok     bool
	}{
		{"default", []models.TakeProfitLevel{{Percentage: 0.4}, {Percentage: 0.4}, {Percentage: 0.2}}, true},
		{"single", []models.TakeProfitLevel{{Percentage: 1}}, true},
		{"over one", []models.TakeProfitLevel{{Percentage: 0.4}, {Percentage: 0.4}, {Percentage: 0.9}}, false},
		{"under one", []models.TakeProfitLevel{{Percentage: 0.3}, {Percentage: 0.3}}, false},
		{"zero share", []models.TakeProfitLevel{{Percentage: 1}, {Percentage: 0}}, false},
		{"empty", nil, false},
	}
	for _, c := range cases {
		err := CheckShares(c.levels)
		if c.ok && err != nil {
			t.Errorf("%s: expected no error, got %v", c.name, err)
		}
		if !c.ok && !errors.Is(err, ErrInvalidLadder) {
			t.Errorf("%s: expected ErrInvalidLadder, got %v", c.name, err)
		}
	}
}

func TestDefaultLadderForSell(t *testing.T) {
	m := newTestManager()
	tr, err := m.Open(models.TradeIntent{Side: models.SideSell, EntryPrice: 2000}, gold, nil, t0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	want := []float64{1994, 1990, 1970}
	for i, lvl := range tr.TPLevels {
		if lvl.Price != want[i] {
			t.Fatalf("Level %d: expected %v, got %v", i+1, want[i], lvl.Price)
		}
	}
	if tr.InitialSize != 1 || tr.CurrentSize != 1 || tr.StopLoss != 2003 {
		t.Fatalf("Unexpected trade: %+v", tr)
	}
}

func TestFloating(t *testing.T) {
	tr := models.Trade{Type: models.SideSell, EntryPrice: 2000, CurrentSize: 0.5, Status: models.StatusOpen}
	if got := Floating(tr, 1989.8, 1990); !near(got, 5) {
		t.Fatalf("Expected floating 5, got %v", got)
	}
}
