package structure

import (
	"time"

	"papertrader/internal/models"
)

const (
	ZonePremium     = "PREMIUM"
	ZoneDiscount    = "DISCOUNT"
	ZoneEquilibrium = "EQUILIBRIUM"
)

type GapType string

const (
	Bullish GapType = "bullish"
	Bearish GapType = "bearish"
)

type FVG struct {
	Type   GapType `json:"type"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	Time   int64   `json:"time"`
}

type OrderBlock struct {
	Type GapType `json:"type"`
	High float64 `json:"high"`
	Low  float64 `json:"low"`
	Time int64   `json:"time"`
}

// Summary is the market-structure view of a candle window.
type Summary struct {
	RangeHigh     float64      `json:"range_high"`
	RangeLow      float64      `json:"range_low"`
	RangePosition float64      `json:"range_position"`
	Zone          string       `json:"zone"`
	FVGs          []FVG        `json:"fvgs,omitempty"`
	OrderBlocks   []OrderBlock `json:"order_blocks,omitempty"`
	PrevHigh      float64      `json:"prev_high"`
	PrevLow       float64      `json:"prev_low"`
	HasPrevPeriod bool         `json:"has_prev_period"`
	Valid         bool         `json:"valid"`
}

// HasFVG reports a detected gap pointing in the side's direction.
func (s Summary) HasFVG(side models.Side) bool {
	want := gapFor(side)
	for _, g := range s.FVGs {
		if g.Type == want {
			return true
		}
	}
	return false
}

func (s Summary) HasOrderBlock(side models.Side) bool {
	want := gapFor(side)
	for _, ob := range s.OrderBlocks {
		if ob.Type == want {
			return true
		}
	}
	return false
}

func gapFor(side models.Side) GapType {
	if side == models.SideBuy {
		return Bullish
	}
	return Bearish
}

type Config struct {
	Lookback       int     `mapstructure:"lookback"`
	PatternWindow  int     `mapstructure:"pattern_window"`
	MinGapFraction float64 `mapstructure:"min_gap_fraction"`
	PremiumAbove   float64 `mapstructure:"premium_above"`
	DiscountBelow  float64 `mapstructure:"discount_below"`
}

func DefaultConfig() Config {
	return Config{
		Lookback:       50,
		PatternWindow:  20,
		MinGapFraction: 0.0002,
		PremiumAbove:   0.5,
		DiscountBelow:  0.5,
	}
}

func Analyze(cfg Config, candles []models.Candle, price float64, now time.Time) Summary {
	var s Summary
	if len(candles) == 0 || price <= 0 {
		return s
	}
	window := tail(candles, cfg.Lookback)
	s.RangeHigh, s.RangeLow = RangeBounds(window)
	s.RangePosition = RangePosition(s.RangeHigh, s.RangeLow, price)
	switch {
	case s.RangePosition > cfg.PremiumAbove:
		s.Zone = ZonePremium
	case s.RangePosition < cfg.DiscountBelow:
		s.Zone = ZoneDiscount
	default:
		s.Zone = ZoneEquilibrium
	}
	recent := tail(candles, cfg.PatternWindow)
	s.FVGs = DetectFVGs(recent, cfg.MinGapFraction)
	s.OrderBlocks = DetectOrderBlocks(recent)
	s.PrevHigh, s.PrevLow, s.HasPrevPeriod = PreviousDay(candles, now)
	s.Valid = true
	return s
}

func RangeBounds(candles []models.Candle) (float64, float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	high, low := candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

// RangePosition places price inside [low, high] as a 0..1 fraction.
func RangePosition(high, low, price float64) float64 {
	if high <= low {
		return 0.5
	}
	pos := (price - low) / (high - low)
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}

// DetectFVGs scans three-candle windows for a gap between the first and the third candle.
func DetectFVGs(candles []models.Candle, minGapFraction float64) []FVG {
	var out []FVG
	for i := 0; i+2 < len(candles); i++ {
		c1, c3 := candles[i], candles[i+2]
		if c1.High < c3.Low && c1.High > 0 && (c3.Low-c1.High)/c1.High >= minGapFraction {
			out = append(out, FVG{Type: Bullish, Top: c3.Low, Bottom: c1.High, Time: candles[i+1].Time})
		}
		if c1.Low > c3.High && c3.High > 0 && (c1.Low-c3.High)/c3.High >= minGapFraction {
			out = append(out, FVG{Type: Bearish, Top: c1.Low, Bottom: c3.High, Time: candles[i+1].Time})
		}
	}
	return out
}

// DetectOrderBlocks finds the last opposite candle before a move that closes beyond its extreme.
func DetectOrderBlocks(candles []models.Candle) []OrderBlock {
	var out []OrderBlock
	for i := 0; i+1 < len(candles); i++ {
		c, next := candles[i], candles[i+1]
		if c.Close < c.Open && next.Close > next.Open && next.Close > c.High {
			out = append(out, OrderBlock{Type: Bullish, High: c.High, Low: c.Low, Time: c.Time})
		}
		if c.Close > c.Open && next.Close < next.Open && next.Close < c.Low {
			out = append(out, OrderBlock{Type: Bearish, High: c.High, Low: c.Low, Time: c.Time})
		}
	}
	return out
}

// PreviousDay returns the high and low of the candles that started on the previous UTC day.
func PreviousDay(candles []models.Candle, now time.Time) (float64, float64, bool) {
	today := models.StartOfDayUTC(now).UnixMilli()
	yesterday := today - int64(24*time.Hour/time.Millisecond)
	var high, low float64
	found := false
	for _, c := range candles {
		if c.Time < yesterday || c.Time >= today {
			continue
		}
		if !found {
			high, low, found = c.High, c.Low, true
			continue
		}
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low, found
}

func tail(candles []models.Candle, n int) []models.Candle {
	if n <= 0 || len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}
