package guard

import (
	"testing"
	"time"

	"papertrader/internal/models"
)

func tradeAt(symbol string, at time.Time) models.Trade {
	return models.Trade{Symbol: symbol, OpenTime: at.UnixMilli(), Status: models.StatusClosed}
}

func TestStageMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	prev := -1
	for m := 0.0; m <= 1440; m += 5 {
		s := cfg.StageFor(m)
		if s < prev {
			t.Fatalf("Stage decreased at %v minutes: %d < %d", m, s, prev)
		}
		prev = s
	}
	checks := map[float64]int{0: 0, 119: 0, 120: 1, 359: 1, 360: 2, 720: 3, 5000: 3}
	for m, want := range checks {
		if got := cfg.StageFor(m); got != want {
			t.Errorf("StageFor(%v): expected %d, got %d", m, want, got)
		}
	}
}

func TestThresholdsRelaxWithStage(t *testing.T) {
	cfg := DefaultConfig()
	for s := 1; s < Stages; s++ {
		prev, cur := cfg.Thresholds(s-1), cfg.Thresholds(s)
		if cur.ADXMin > prev.ADXMin || cur.SlopeMin > prev.SlopeMin || cur.EMAProximity < prev.EMAProximity {
			t.Fatalf("Stage %d is stricter than stage %d", s, s-1)
		}
		if cur.PremiumLimit < prev.PremiumLimit || cur.DiscountLimit > prev.DiscountLimit {
			t.Fatalf("Stage %d narrows range limits", s)
		}
	}
}

func TestEvaluateNoTradesCountsFromDayStart(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	st := Evaluate(cfg, "XAUUSD", nil, now)
	if st.TradesToday != 0 || st.MinutesSinceLastTrade != 180 || st.Stage != 1 {
		t.Fatalf("Unexpected state: %+v", st)
	}
	if _, ok := st.Permit(now); !ok {
		t.Fatal("Expected permit with no trades")
	}
}

func TestEvaluateIgnoresYesterdayAndOtherSymbols(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	trades := []models.Trade{
		tradeAt("XAUUSD", now.Add(-11*time.Hour)),
		tradeAt("EURUSD", now.Add(-time.Minute)),
		tradeAt("XAUUSD", now.Add(-30*time.Minute)),
	}
	st := Evaluate(cfg, "XAUUSD", trades, now)
	if st.TradesToday != 1 {
		t.Fatalf("Expected 1 trade today, got %d", st.TradesToday)
	}
	if st.MinutesSinceLastTrade != 30 || st.Stage != 0 {
		t.Fatalf("Unexpected timing: %+v", st)
	}
}

func TestPermitCooldown(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	st := Evaluate(cfg, "XAUUSD", []models.Trade{tradeAt("XAUUSD", now.Add(-5*time.Minute))}, now)
	reason, ok := st.Permit(now)
	if ok || reason.Code != models.SkipCooldown {
		t.Fatalf("Expected cooldown block, got %+v", reason)
	}
}

func TestPermitDayCap(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	var trades []models.Trade
	for i := 0; i < cfg.DailyCap; i++ {
		trades = append(trades, tradeAt("XAUUSD", now.Add(-time.Duration(10-i)*time.Hour)))
	}
	st := Evaluate(cfg, "XAUUSD", trades, now)
	reason, ok := st.Permit(now)
	if ok || reason.Code != models.SkipDayCap {
		t.Fatalf("Expected day cap block, got %+v", reason)
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}
	bad := DefaultConfig()
	bad.ADXMin = []float64{1, 2}
	if err := bad.Validate(); err == nil {
		t.Fatal("Expected error for short threshold table")
	}
}
