package guard

import (
	"fmt"
	"time"

	"papertrader/internal/models"
)

const Stages = 4

// Config holds the stage breakpoints and the tuned per-stage thresholds.
// Every per-stage slice is indexed by stage 0..3.
type Config struct {
	Breakpoints     []float64     `mapstructure:"breakpoints"`
	ADXMin          []float64     `mapstructure:"adx_min"`
	EMAProximity    []float64     `mapstructure:"ema_proximity"`
	SlopeMin        []float64     `mapstructure:"slope_min"`
	PremiumLimit    []float64     `mapstructure:"premium_limit"`
	DiscountLimit   []float64     `mapstructure:"discount_limit"`
	MRBand          []float64     `mapstructure:"mr_band"`
	RSILow          []float64     `mapstructure:"rsi_low"`
	RSIHigh         []float64     `mapstructure:"rsi_high"`
	MROuterQuantile []float64     `mapstructure:"mr_outer_quantile"`
	MRADXCap        []float64     `mapstructure:"mr_adx_cap"`
	DailyCap        int           `mapstructure:"daily_cap"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

func DefaultConfig() Config {
	return Config{
		Breakpoints:     []float64{120, 360, 720},
		ADXMin:          []float64{25, 22, 20, 18},
		EMAProximity:    []float64{0.0015, 0.0025, 0.0035, 0.005},
		SlopeMin:        []float64{1.0, 0.7, 0.5, 0.3},
		PremiumLimit:    []float64{0.70, 0.75, 0.80, 0.85},
		DiscountLimit:   []float64{0.30, 0.25, 0.20, 0.15},
		MRBand:          []float64{0.004, 0.0035, 0.003, 0.0025},
		RSILow:          []float64{25, 28, 30, 32},
		RSIHigh:         []float64{75, 72, 70, 68},
		MROuterQuantile: []float64{0.15, 0.18, 0.20, 0.22},
		MRADXCap:        []float64{22, 24, 25, 27},
		DailyCap:        6,
		Cooldown:        15 * time.Minute,
	}
}

func (c Config) Validate() error {
	if len(c.Breakpoints) != Stages-1 {
		return fmt.Errorf("guard.breakpoints: нужно %d значения, получено %d", Stages-1, len(c.Breakpoints))
	}
	for i := 1; i < len(c.Breakpoints); i++ {
		if c.Breakpoints[i] <= c.Breakpoints[i-1] {
			return fmt.Errorf("guard.breakpoints должны возрастать")
		}
	}
	tables := map[string][]float64{
		"adx_min":           c.ADXMin,
		"ema_proximity":     c.EMAProximity,
		"slope_min":         c.SlopeMin,
		"premium_limit":     c.PremiumLimit,
		"discount_limit":    c.DiscountLimit,
		"mr_band":           c.MRBand,
		"rsi_low":           c.RSILow,
		"rsi_high":          c.RSIHigh,
		"mr_outer_quantile": c.MROuterQuantile,
		"mr_adx_cap":        c.MRADXCap,
	}
	for name, vals := range tables {
		if len(vals) != Stages {
			return fmt.Errorf("guard.%s: нужно %d значения, получено %d", name, Stages, len(vals))
		}
	}
	if c.DailyCap <= 0 {
		return fmt.Errorf("guard.daily_cap должен быть > 0")
	}
	return nil
}

type Thresholds struct {
	ADXMin          float64       `json:"adx_min"`
	EMAProximity    float64       `json:"ema_proximity"`
	SlopeMin        float64       `json:"slope_min"`
	PremiumLimit    float64       `json:"premium_limit"`
	DiscountLimit   float64       `json:"discount_limit"`
	MRBand          float64       `json:"mr_band"`
	RSILow          float64       `json:"rsi_low"`
	RSIHigh         float64       `json:"rsi_high"`
	MROuterQuantile float64       `json:"mr_outer_quantile"`
	MRADXCap        float64       `json:"mr_adx_cap"`
	DailyCap        int           `json:"daily_cap"`
	Cooldown        time.Duration `json:"cooldown"`
}

func (c Config) Thresholds(stage int) Thresholds {
	if stage < 0 {
		stage = 0
	}
	if stage >= Stages {
		stage = Stages - 1
	}
	return Thresholds{
		ADXMin:          c.ADXMin[stage],
		EMAProximity:    c.EMAProximity[stage],
		SlopeMin:        c.SlopeMin[stage],
		PremiumLimit:    c.PremiumLimit[stage],
		DiscountLimit:   c.DiscountLimit[stage],
		MRBand:          c.MRBand[stage],
		RSILow:          c.RSILow[stage],
		RSIHigh:         c.RSIHigh[stage],
		MROuterQuantile: c.MROuterQuantile[stage],
		MRADXCap:        c.MRADXCap[stage],
		DailyCap:        c.DailyCap,
		Cooldown:        c.Cooldown,
	}
}

func (c Config) StageFor(minutesSinceLastTrade float64) int {
	stage := 0
	for _, bp := range c.Breakpoints {
		if minutesSinceLastTrade >= bp {
			stage++
		}
	}
	return stage
}

type State struct {
	Symbol                string     `json:"symbol"`
	TradesToday           int        `json:"trades_today"`
	MinutesSinceLastTrade float64    `json:"minutes_since_last_trade"`
	Stage                 int        `json:"stage"`
	Thresholds            Thresholds `json:"thresholds"`
}

// Evaluate derives the guard state from the trade history. Trades are counted by open time
// from the start of the UTC day; with none, minutes are counted from the start of the day.
func Evaluate(cfg Config, symbol string, trades []models.Trade, now time.Time) State {
	dayStart := models.StartOfDayUTC(now)
	last := dayStart
	count := 0
	for i := range trades {
		tr := &trades[i]
		if tr.Symbol != symbol {
			continue
		}
		opened := tr.OpenedAt()
		if opened.Before(dayStart) {
			continue
		}
		count++
		if opened.After(last) {
			last = opened
		}
	}
	minutes := now.Sub(last).Minutes()
	if minutes < 0 {
		minutes = 0
	}
	stage := cfg.StageFor(minutes)
	return State{
		Symbol:                symbol,
		TradesToday:           count,
		MinutesSinceLastTrade: minutes,
		Stage:                 stage,
		Thresholds:            cfg.Thresholds(stage),
	}
}

// Permit checks the daily cap and cooldown. The returned reason is set when entry is blocked.
func (s State) Permit(now time.Time) (models.SkipReason, bool) {
	if s.TradesToday >= s.Thresholds.DailyCap {
		return models.SkipReason{
			Code:   models.SkipDayCap,
			Detail: fmt.Sprintf("лимит сделок за день исчерпан: %d/%d", s.TradesToday, s.Thresholds.DailyCap),
			At:     now,
		}, false
	}
	if s.TradesToday > 0 && s.MinutesSinceLastTrade < s.Thresholds.Cooldown.Minutes() {
		return models.SkipReason{
			Code:   models.SkipCooldown,
			Detail: fmt.Sprintf("пауза после сделки: прошло %.1f мин из %.0f", s.MinutesSinceLastTrade, s.Thresholds.Cooldown.Minutes()),
			At:     now,
		}, false
	}
	return models.SkipReason{}, true
}
