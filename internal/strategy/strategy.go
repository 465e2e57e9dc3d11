package strategy

import (
	"fmt"
	"time"

	"papertrader/internal/guard"
	"papertrader/internal/indicators"
	"papertrader/internal/models"
	"papertrader/internal/structure"
)

type Config struct {
	TrendBaseConfidence float64       `mapstructure:"trend_base_confidence"`
	ConfluenceBoost     float64       `mapstructure:"confluence_boost"`
	MaxConfidence       float64       `mapstructure:"max_confidence"`
	MRConfidence        float64       `mapstructure:"mr_confidence"`
	SweepLookback       int           `mapstructure:"sweep_lookback"`
	BreakoutRangeMult   float64       `mapstructure:"breakout_range_mult"`
	BreakoutAvgWindow   int           `mapstructure:"breakout_avg_window"`
	SessionMinCandles   int           `mapstructure:"session_min_candles"`
	SweepConfidence     float64       `mapstructure:"sweep_confidence"`
	BreakoutConfidence  float64       `mapstructure:"breakout_confidence"`
	AdvisoryMaxAge      time.Duration `mapstructure:"advisory_max_age"`
}

func DefaultConfig() Config {
	return Config{
		TrendBaseConfidence: 60,
		ConfluenceBoost:     10,
		MaxConfidence:       95,
		MRConfidence:        60,
		SweepLookback:       12,
		BreakoutRangeMult:   1.5,
		BreakoutAvgWindow:   20,
		SessionMinCandles:   20,
		SweepConfidence:     65,
		BreakoutConfidence:  60,
		AdvisoryMaxAge:      30 * time.Minute,
	}
}

// Input is the read-only market view handed to every strategy.
type Input struct {
	Instrument models.Instrument
	Now        time.Time
	Bid        float64
	Ask        float64
	Price      float64
	Candles    []models.Candle
	Indicators indicators.Snapshot
	Structure  structure.Summary
	Advisory   models.Advisory
	Guard      guard.State
}

// Result carries either an intent or the reason there is none.
type Result struct {
	Intent *models.TradeIntent
	Skip   models.SkipReason
}

type Func func(cfg Config, in Input) Result

type Evaluator struct {
	cfg        Config
	strategies map[string]Func
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{
		cfg: cfg,
		strategies: map[string]Func{
			models.StrategyTrend:         Trend,
			models.StrategySession:       Session,
			models.StrategyAdvisory:      Advisory,
			models.StrategyMeanReversion: MeanReversion,
		},
	}
}

func (e *Evaluator) Config() Config {
	return e.cfg
}

// Gate carries the per-instrument switches checked before any strategy runs.
type Gate struct {
	BotActive   bool
	Enabled     []string
	HasPosition bool
}

// Evaluate runs the guard, then the enabled strategies in fixed order. The first intent wins.
// With no intent, the skip reason of the first evaluated strategy is returned.
func (e *Evaluator) Evaluate(in Input, gate Gate) Result {
	if !gate.BotActive {
		return skipResult("", models.SkipBotInactive, "бот выключен", in.Now)
	}
	if gate.HasPosition {
		return skipResult("", models.SkipPositionOpen, "по инструменту уже есть открытая позиция", in.Now)
	}
	if reason, ok := in.Guard.Permit(in.Now); !ok {
		return Result{Skip: reason}
	}

	enabled := make(map[string]bool, len(gate.Enabled))
	for _, id := range gate.Enabled {
		enabled[id] = true
	}

	var first *models.SkipReason
	for _, id := range models.StrategyOrder {
		if !enabled[id] {
			continue
		}
		fn := e.strategies[id]
		res := fn(e.cfg, in)
		if res.Intent != nil {
			res.Intent.Symbol = in.Instrument.Symbol
			res.Intent.Strategy = id
			return res
		}
		if first == nil {
			skip := res.Skip
			skip.Strategy = id
			skip.At = in.Now
			first = &skip
		}
	}
	if first == nil {
		return skipResult("", models.SkipNoSetup, "нет включённых стратегий", in.Now)
	}
	return Result{Skip: *first}
}

func skipResult(strategy, code, detail string, now time.Time) Result {
	return Result{Skip: models.SkipReason{Strategy: strategy, Code: code, Detail: detail, At: now}}
}

func skip(code, format string, args ...interface{}) Result {
	return Result{Skip: models.SkipReason{Code: code, Detail: fmt.Sprintf(format, args...)}}
}

// entryPrice applies the fill model: buys at ask, sells at bid.
func entryPrice(in Input, side models.Side) float64 {
	if side == models.SideBuy {
		if in.Ask > 0 {
			return in.Ask
		}
		return in.Price
	}
	if in.Bid > 0 {
		return in.Bid
	}
	return in.Price
}

func trendSide(in Input) (models.Side, bool) {
	switch {
	case in.Price > in.Indicators.EMA200:
		return models.SideBuy, true
	case in.Price < in.Indicators.EMA200:
		return models.SideSell, true
	default:
		return "", false
	}
}

// rangeFilter rejects buys deep in premium and sells deep in discount.
func rangeFilter(in Input, side models.Side) (Result, bool) {
	if !in.Structure.Valid {
		return Result{}, true
	}
	pos := in.Structure.RangePosition
	th := in.Guard.Thresholds
	if side == models.SideBuy && pos > th.PremiumLimit {
		return skip(models.SkipPremium, "покупка в премиум-зоне: %.2f > %.2f", pos, th.PremiumLimit), false
	}
	if side == models.SideSell && pos < th.DiscountLimit {
		return skip(models.SkipDiscount, "продажа в дисконт-зоне: %.2f < %.2f", pos, th.DiscountLimit), false
	}
	return Result{}, true
}

func intent(in Input, side models.Side, confidence float64, reason string) Result {
	return Result{Intent: &models.TradeIntent{
		Side:       side,
		EntryPrice: entryPrice(in, side),
		Reason:     reason,
		Confidence: confidence,
	}}
}
