package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"papertrader/internal/metrics"
	"papertrader/internal/models"
	"papertrader/internal/notify"
	"papertrader/internal/strategy"
)

// evaluate runs the strategies for one instrument and opens a trade when one fires.
func (e *Engine) evaluate(a *AssetState, primary []models.Candle, now time.Time) {
	in := strategy.Input{
		Instrument: a.Instrument,
		Now:        now,
		Bid:        a.Bid,
		Ask:        a.Ask,
		Price:      a.Mid,
		Candles:    primary,
		Indicators: a.Indicators,
		Structure:  a.Structure,
		Advisory:   a.Advisory,
		Guard:      a.Guard,
	}
	gate := strategy.Gate{
		BotActive:   a.BotActive,
		Enabled:     a.Strategies,
		HasPosition: e.hasOpen(a.Instrument.Symbol),
	}
	res := e.evaluator.Evaluate(in, gate)
	if res.Intent == nil {
		e.recordSkip(a, res.Skip)
		return
	}
	if _, err := e.open(a, *res.Intent, now); err != nil {
		e.recordSkip(a, models.SkipReason{
			Strategy: res.Intent.Strategy,
			Code:     models.SkipRejected,
			Detail:   err.Error(),
			At:       now,
		})
	}
}

func (e *Engine) recordSkip(a *AssetState, reason models.SkipReason) {
	if reason.Code != a.Skip.Code || reason.Strategy != a.Skip.Strategy {
		metrics.Skips.WithLabelValues(a.Instrument.Symbol, reason.Code).Inc()
		e.symbolEntry(a.Instrument.Symbol).WithFields(logrus.Fields{
			"strategy": reason.Strategy,
			"code":     reason.Code,
			"detail":   reason.Detail,
		}).Debug("Сигнала нет.")
	}
	a.Skip = reason
}

// open validates the intent through the position manager and appends the trade.
// Nothing changes when validation fails.
func (e *Engine) open(a *AssetState, intent models.TradeIntent, now time.Time) (models.Trade, error) {
	trade, err := e.positions.Open(intent, a.Instrument, e.trades, now)
	if err != nil {
		e.symbolEntry(a.Instrument.Symbol).WithError(err).WithField("strategy", intent.Strategy).Warn("Сигнал отклонён.")
		return models.Trade{}, err
	}
	e.trades = append(e.trades, trade)
	e.dirty = true
	a.Skip = models.SkipReason{}
	metrics.TradesOpened.WithLabelValues(trade.Symbol, trade.Strategy).Inc()

	e.tradeEntry(trade).WithFields(logrus.Fields{
		"side":       trade.Type,
		"strategy":   trade.Strategy,
		"entry":      trade.EntryPrice,
		"size":       trade.InitialSize,
		"stop":       trade.StopLoss,
		"confidence": trade.Confidence,
		"reason":     trade.EntryReason,
	}).Info("Открыта позиция.")
	e.notify(notify.TradeOpened(trade))
	return trade, nil
}

// closeAll force-closes open trades for one instrument, or all of them when symbol is empty.
func (e *Engine) closeAll(symbol string, reason models.CloseReason, note string, now time.Time) int {
	closed := 0
	for i := range e.trades {
		t := &e.trades[i]
		if !t.IsOpen() || symbol != "" && t.Symbol != symbol {
			continue
		}
		price := t.EntryPrice
		if a, ok := e.assets[t.Symbol]; ok && a.Bid > 0 && a.Ask > 0 {
			if t.Type == models.SideBuy {
				price = a.Bid
			} else {
				price = a.Ask
			}
		}
		ev, err := e.positions.Close(t, price, reason, now, note)
		if err != nil {
			e.tradeEntry(*t).WithError(err).Warn("Не удалось закрыть позицию.")
			continue
		}
		e.onClosed(*t, ev.PnL)
		closed++
	}
	if closed > 0 {
		e.dirty = true
	}
	return closed
}

func (e *Engine) onClosed(t models.Trade, lastPnL float64) {
	metrics.TradesClosed.WithLabelValues(t.Symbol, string(t.CloseReason)).Inc()
	e.tradeEntry(t).WithFields(logrus.Fields{
		"reason":   t.CloseReason,
		"price":    t.ClosePrice,
		"last_pnl": lastPnL,
		"pnl":      t.PnL,
	}).Info("Позиция закрыта.")
	e.notify(notify.TradeClosed(t))
}

func (e *Engine) notify(msg notify.Message) {
	if e.notifier == nil || len(e.pushTokens) == 0 {
		return
	}
	e.notifier.Notify(e.pushTokens, msg)
}
