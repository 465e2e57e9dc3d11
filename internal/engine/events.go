package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"papertrader/internal/advisory"
	"papertrader/internal/candles"
	"papertrader/internal/guard"
	"papertrader/internal/indicators"
	"papertrader/internal/ledger"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
	"papertrader/internal/structure"
)

// Run serializes ticks, advisory results and control operations until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	housekeep := time.NewTicker(e.cfg.HousekeepInterval)
	defer housekeep.Stop()

	e.logEntry().Info("Цикл событий запущен.")
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case tick := <-e.ticks:
			e.handleTick(tick)
		case res := <-e.advice:
			e.handleAdvice(res)
		case c := <-e.controls:
			c.reply <- c.fn()
		case <-housekeep.C:
			e.housekeep(e.now())
		}
	}
}

func (e *Engine) shutdown() {
	now := e.now()
	e.recompute(now)
	e.persist(now)
	e.publish(now)
	if e.syncer != nil {
		e.syncer.Wait()
	}
	e.logEntry().Info("Состояние сохранено, движок остановлен.")
}

// do runs fn on the loop and waits for its result.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	c := control{fn: fn, reply: make(chan error, 1)}
	select {
	case e.controls <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleTick runs the per-tick pipeline for one instrument: candles and indicators,
// exit checks on open trades, guard, strategies, then the ledger.
func (e *Engine) handleTick(tick models.Tick) {
	a, ok := e.assets[tick.Symbol]
	if !ok || tick.Bid <= 0 || tick.Ask <= 0 {
		return
	}
	now := tick.Timestamp
	if now.IsZero() {
		now = e.now()
	}
	metrics.TicksTotal.WithLabelValues(tick.Symbol).Inc()
	a.Bid, a.Ask, a.Mid, a.LastTick = tick.Bid, tick.Ask, tick.Mid, now

	primaryClosed := false
	for _, c := range e.agg.Add(tick.Symbol, tick.Mid, now) {
		metrics.CandlesClosed.WithLabelValues(c.Symbol, c.Timeframe).Inc()
		if c.Timeframe == candles.M5.Name {
			primaryClosed = true
		}
		e.symbolEntry(tick.Symbol).WithFields(logrus.Fields{
			"timeframe": c.Timeframe,
			"close":     c.Candle.Close,
		}).Debug("Свеча закрыта.")
	}
	if primaryClosed {
		e.refreshIndicators(a)
		e.requestAdvice(a, now)
	}
	primary := e.agg.Closed(tick.Symbol, candles.M5.Name)
	a.Structure = structure.Analyze(e.cfg.Structure, primary, tick.Mid, now)

	e.applyExits(a, now)

	e.refreshGuard(a, now)
	e.evaluate(a, primary, now)

	e.recompute(now)
	if e.dirty {
		e.persist(now)
	}
	e.publish(now)
}

func (e *Engine) refreshIndicators(a *AssetState) {
	symbol := a.Instrument.Symbol
	primary := e.agg.Closed(symbol, candles.M5.Name)
	higher := e.agg.Closed(symbol, candles.M15.Name)
	price := a.Mid
	if price <= 0 && len(primary) > 0 {
		price = primary[len(primary)-1].Close
	}
	a.Indicators = indicators.Compute(e.cfg.Indicators, primary, higher, price)
	a.Candles = len(primary)
}

func (e *Engine) refreshGuard(a *AssetState, now time.Time) {
	a.Guard = guard.Evaluate(e.cfg.Guard, a.Instrument.Symbol, e.trades, now)
}

func (e *Engine) recompute(now time.Time) {
	e.account = ledger.Recompute(e.cfg.InitialBalance, e.trades, now)
	metrics.Equity.Set(e.account.Equity)
	metrics.Balance.Set(e.account.Balance)
}

func (e *Engine) requestAdvice(a *AssetState, now time.Time) {
	if e.advisor == nil || !a.BotActive {
		return
	}
	primary := e.agg.Closed(a.Instrument.Symbol, candles.M5.Name)
	if len(primary) > 20 {
		primary = primary[len(primary)-20:]
	}
	req := advisory.Request{
		Symbol:     a.Instrument.Symbol,
		Price:      a.Mid,
		Indicators: a.Indicators,
		Structure:  a.Structure,
		Candles:    primary,
		Time:       now,
	}
	if e.advisor.Request(req, now, e.deliverAdvice) {
		a.AdvisoryStatus = e.advisor.Status(a.Instrument.Symbol)
	}
}

func (e *Engine) deliverAdvice(res advisory.Result) {
	select {
	case e.advice <- res:
	case <-e.done:
	}
}

func (e *Engine) handleAdvice(res advisory.Result) {
	a, ok := e.assets[res.Symbol]
	if !ok || e.advisor == nil {
		return
	}
	e.advisor.Apply(res)
	a.Advisory = e.advisor.Get(res.Symbol)
	a.AdvisoryStatus = e.advisor.Status(res.Symbol)
	e.publish(e.now())
}

// housekeep keeps time-driven fields current for instruments that receive no ticks.
func (e *Engine) housekeep(now time.Time) {
	for _, symbol := range e.order {
		e.refreshGuard(e.assets[symbol], now)
	}
	e.publish(now)
}
