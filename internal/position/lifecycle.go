package position

import (
	"fmt"
	"time"

	"papertrader/internal/models"
)

type EventKind string

const (
	EventTakeProfit EventKind = "TAKE_PROFIT_LEVEL"
	EventBreakeven  EventKind = "BREAKEVEN"
	EventTrailing   EventKind = "TRAILING"
	EventClosed     EventKind = "CLOSED"
)

// Event describes one mutation applied to a trade.
type Event struct {
	Kind    EventKind          `json:"kind"`
	TradeID string             `json:"trade_id"`
	Symbol  string             `json:"symbol"`
	LevelID int                `json:"level_id,omitempty"`
	Size    float64            `json:"size,omitempty"`
	Price   float64            `json:"price"`
	PnL     float64            `json:"pnl,omitempty"`
	Reason  models.CloseReason `json:"reason,omitempty"`
}

// Market is what the exit checks need from the current tick.
type Market struct {
	Bid      float64
	Ask      float64
	Now      time.Time
	Advisory models.Advisory
}

// Evaluate runs the per-tick exit checks in order: advisory override, session hard-close,
// take-profit ladder, trailing stop, stop-loss. Closed trades are left untouched.
func (m *Manager) Evaluate(t *models.Trade, inst models.Instrument, mk Market) []Event {
	if t == nil || !t.IsOpen() || mk.Bid <= 0 || mk.Ask <= 0 {
		return nil
	}
	exit := ExitPrice(t.Type, mk.Bid, mk.Ask)

	if m.guardianFires(t, mk.Advisory) {
		note := fmt.Sprintf("закрыто по рекомендации %s (%.0f%%): %s", mk.Advisory.Sentiment, mk.Advisory.Confidence, mk.Advisory.Reason)
		return []Event{m.closeTrade(t, exit, models.CloseAdvisoryOverride, mk.Now, note)}
	}

	if closeAt, ok := sessionCloseAt(inst, t, mk.Now); ok {
		note := fmt.Sprintf("принудительное закрытие сессии в %s UTC", closeAt.Format("15:04"))
		return []Event{m.closeTrade(t, exit, models.CloseSession, mk.Now, note)}
	}

	var events []Event
	for i := range t.TPLevels {
		lvl := &t.TPLevels[i]
		if lvl.Hit || !reached(t.Type, exit, lvl.Price) {
			continue
		}
		size := levelSize(t.InitialSize, lvl.Percentage)
		if size > t.CurrentSize {
			size = t.CurrentSize
		}
		pnl := RealizedPnL(t.Type, t.EntryPrice, lvl.Price, size)
		t.PnL = addPnL(t.PnL, pnl)
		t.CurrentSize = subSize(t.CurrentSize, size)
		lvl.Hit = true
		appendOutcome(t, fmt.Sprintf("TP%d %s (%.0f%%)", lvl.ID, models.FormatFloatPlain(lvl.Price), lvl.Percentage*100))
		events = append(events, Event{
			Kind: EventTakeProfit, TradeID: t.ID, Symbol: t.Symbol,
			LevelID: lvl.ID, Size: size, Price: lvl.Price, PnL: pnl.Round(8).InexactFloat64(),
		})

		if i == 0 && tighter(t.Type, t.EntryPrice, t.StopLoss) {
			t.StopLoss = t.EntryPrice
			events = append(events, Event{Kind: EventBreakeven, TradeID: t.ID, Symbol: t.Symbol, Price: t.EntryPrice})
		}

		if t.CurrentSize <= sizeEpsilon {
			events = append(events, m.finish(t, lvl.Price, models.CloseTakeProfit, mk.Now, 0))
			return events
		}
	}

	if ev, ok := m.trail(t, inst, mk); ok {
		events = append(events, ev)
	}

	if stopHit(t.Type, exit, t.StopLoss) {
		events = append(events, m.closeTrade(t, t.StopLoss, models.CloseStopLoss, mk.Now, "стоп-лосс"))
		return events
	}

	t.FloatingPnL = Floating(*t, mk.Bid, mk.Ask)
	return events
}

// Close force-closes the remaining size at the given price.
func (m *Manager) Close(t *models.Trade, price float64, reason models.CloseReason, now time.Time, note string) (Event, error) {
	if t == nil || !t.IsOpen() {
		return Event{}, ErrTradeClosed
	}
	if price <= 0 {
		return Event{}, fmt.Errorf("цена закрытия %v: %w", price, ErrInvalidIntent)
	}
	return m.closeTrade(t, price, reason, now, note), nil
}

func (m *Manager) guardianFires(t *models.Trade, adv models.Advisory) bool {
	if t.Strategy != models.StrategyAdvisory || adv.UpdatedAt.IsZero() {
		return false
	}
	return adv.Confidence > m.cfg.GuardianConfidence && adv.Sentiment.Contradicts(t.Type)
}

// sessionCloseAt returns the most recent hard-close moment if the trade was opened before it.
func sessionCloseAt(inst models.Instrument, t *models.Trade, now time.Time) (time.Time, bool) {
	if inst.HardClose == "" || !inst.HardClosesStrategy(t.Strategy) {
		return time.Time{}, false
	}
	minutes, ok := models.ParseClock(inst.HardClose)
	if !ok {
		return time.Time{}, false
	}
	closeAt := models.StartOfDayUTC(now).Add(time.Duration(minutes) * time.Minute)
	if closeAt.After(now.UTC()) {
		closeAt = closeAt.Add(-24 * time.Hour)
	}
	if t.OpenTime >= closeAt.UnixMilli() {
		return time.Time{}, false
	}
	return closeAt, true
}

func (m *Manager) trail(t *models.Trade, inst models.Instrument, mk Market) (Event, bool) {
	if m.cfg.TrailActivation <= 0 || m.cfg.TrailDistance <= 0 {
		return Event{}, false
	}
	var candidate float64
	switch t.Type {
	case models.SideBuy:
		if (mk.Bid-t.EntryPrice)/t.EntryPrice < m.cfg.TrailActivation {
			return Event{}, false
		}
		candidate = inst.RoundPrice(mk.Bid * (1 - m.cfg.TrailDistance))
	case models.SideSell:
		if (t.EntryPrice-mk.Ask)/t.EntryPrice < m.cfg.TrailActivation {
			return Event{}, false
		}
		candidate = inst.RoundPrice(mk.Ask * (1 + m.cfg.TrailDistance))
	default:
		return Event{}, false
	}
	if !tighter(t.Type, candidate, t.StopLoss) {
		return Event{}, false
	}
	t.StopLoss = candidate
	return Event{Kind: EventTrailing, TradeID: t.ID, Symbol: t.Symbol, Price: candidate}, true
}

func (m *Manager) closeTrade(t *models.Trade, price float64, reason models.CloseReason, now time.Time, note string) Event {
	pnl := RealizedPnL(t.Type, t.EntryPrice, price, t.CurrentSize)
	t.PnL = addPnL(t.PnL, pnl)
	if note != "" {
		appendOutcome(t, note)
	}
	return m.finish(t, price, reason, now, pnl.Round(8).InexactFloat64())
}

// finish marks the trade closed. CurrentSize keeps the size the final exit closed.
func (m *Manager) finish(t *models.Trade, price float64, reason models.CloseReason, now time.Time, pnl float64) Event {
	size := t.CurrentSize
	t.Status = models.StatusClosed
	t.CloseTime = models.Int64Ptr(now.UnixMilli())
	t.ClosePrice = price
	t.CloseReason = reason
	t.FloatingPnL = 0
	return Event{
		Kind: EventClosed, TradeID: t.ID, Symbol: t.Symbol,
		Size: size, Price: price, PnL: pnl, Reason: reason,
	}
}

func reached(side models.Side, exit, level float64) bool {
	if side == models.SideBuy {
		return exit >= level
	}
	return exit <= level
}

func stopHit(side models.Side, exit, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if side == models.SideBuy {
		return exit <= stop
	}
	return exit >= stop
}

// tighter reports whether candidate protects more profit than the current stop.
func tighter(side models.Side, candidate, current float64) bool {
	if side == models.SideBuy {
		return candidate > current
	}
	return current <= 0 || candidate < current
}
