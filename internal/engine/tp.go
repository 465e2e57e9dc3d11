package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"papertrader/internal/position"
)

// applyExits runs the exit checks for every open trade of the instrument.
// Any event other than a floating PnL update marks the state for persistence.
func (e *Engine) applyExits(a *AssetState, now time.Time) {
	mk := position.Market{Bid: a.Bid, Ask: a.Ask, Now: now, Advisory: a.Advisory}
	for i := range e.trades {
		t := &e.trades[i]
		if t.Symbol != a.Instrument.Symbol || !t.IsOpen() {
			continue
		}
		events := e.positions.Evaluate(t, a.Instrument, mk)
		for _, ev := range events {
			e.dirty = true
			switch ev.Kind {
			case position.EventTakeProfit:
				e.tradeEntry(*t).WithFields(logrus.Fields{
					"level":     ev.LevelID,
					"price":     ev.Price,
					"size":      ev.Size,
					"pnl":       ev.PnL,
					"remaining": t.CurrentSize,
				}).Info("Исполнен уровень тейк-профита.")
			case position.EventBreakeven:
				e.tradeEntry(*t).WithField("stop", ev.Price).Info("Стоп перенесён в безубыток.")
			case position.EventTrailing:
				e.tradeEntry(*t).WithField("stop", ev.Price).Debug("Трейлинг-стоп подтянут.")
			case position.EventClosed:
				e.onClosed(*t, ev.PnL)
			}
		}
	}
}
