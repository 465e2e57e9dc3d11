package structure

import (
	"testing"
	"time"

	"papertrader/internal/models"
)

func TestRangePosition(t *testing.T) {
	cases := []struct {
		high, low, price, want float64
	}{
		{110, 100, 105, 0.5},
		{110, 100, 109, 0.9},
		{110, 100, 120, 1},
		{110, 100, 90, 0},
		{100, 100, 100, 0.5},
	}
	for _, c := range cases {
		got := RangePosition(c.high, c.low, c.price)
		if got < c.want-1e-9 || got > c.want+1e-9 {
			t.Errorf("RangePosition(%v,%v,%v): expected %v, got %v", c.high, c.low, c.price, c.want, got)
		}
	}
}

func TestDetectFVGs(t *testing.T) {
	candles := []models.Candle{
		{High: 100, Low: 98},
		{High: 104, Low: 99},
		{High: 106, Low: 102},
	}
	gaps := DetectFVGs(candles, 0)
	if len(gaps) != 1 || gaps[0].Type != Bullish || gaps[0].Bottom != 100 || gaps[0].Top != 102 {
		t.Fatalf("Expected one bullish gap 100..102, got %+v", gaps)
	}
	if gaps := DetectFVGs(candles, 0.05); len(gaps) != 0 {
		t.Fatalf("Expected gap below minimum to be ignored, got %+v", gaps)
	}
}

func TestDetectOrderBlocks(t *testing.T) {
	candles := []models.Candle{
		{Open: 101, Close: 99, High: 102, Low: 98},
		{Open: 99, Close: 104, High: 105, Low: 99},
	}
	obs := DetectOrderBlocks(candles)
	if len(obs) != 1 || obs[0].Type != Bullish {
		t.Fatalf("Expected bullish order block, got %+v", obs)
	}
	s := Summary{OrderBlocks: obs}
	if !s.HasOrderBlock(models.SideBuy) || s.HasOrderBlock(models.SideSell) {
		t.Fatal("Expected order block to support buys only")
	}
}

func TestPreviousDay(t *testing.T) {
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	y := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli()
	candles := []models.Candle{
		{Time: y - int64(48*time.Hour/time.Millisecond), High: 500, Low: 1},
		{Time: y, High: 110, Low: 95},
		{Time: y + 3600000, High: 115, Low: 100},
		{Time: now.UnixMilli(), High: 200, Low: 50},
	}
	high, low, ok := PreviousDay(candles, now)
	if !ok || high != 115 || low != 95 {
		t.Fatalf("Expected 115/95, got %v/%v (%v)", high, low, ok)
	}
}

func TestAnalyzeZones(t *testing.T) {
	candles := []models.Candle{{High: 110, Low: 100}, {High: 108, Low: 101}}
	now := time.Now()
	if s := Analyze(DefaultConfig(), candles, 109, now); s.Zone != ZonePremium || !s.Valid {
		t.Fatalf("Expected premium, got %+v", s)
	}
	if s := Analyze(DefaultConfig(), candles, 101, now); s.Zone != ZoneDiscount {
		t.Fatalf("Expected discount, got %s", s.Zone)
	}
}
