package feed

import (
	"context"
	"errors"
	"time"

	"papertrader/internal/models"
)

var (
	ErrStreamClosed = errors.New("поток котировок закрыт")
	ErrStale        = errors.New("нет котировок дольше допустимого")
)

// RawTick is a quote as the upstream reports it. At least one of Bid, Ask, Price is set.
type RawTick struct {
	Symbol string
	Bid    float64
	Ask    float64
	Price  float64
	Time   time.Time
}

// Source streams quotes for the given upstream symbols until ctx is cancelled or the connection fails.
// Stream must return once ctx is done and must not call emit after returning.
type Source interface {
	Name() string
	Stream(ctx context.Context, symbols []string, emit func(RawTick)) error
}

// Normalize fills the missing sides of a quote. A lone trade price is widened by the instrument spread.
func Normalize(raw RawTick, inst models.Instrument, now time.Time) (models.Tick, bool) {
	bid, ask := raw.Bid, raw.Ask
	switch {
	case bid > 0 && ask > 0:
	case bid > 0:
		ask = bid
	case ask > 0:
		bid = ask
	case raw.Price > 0:
		half := raw.Price * inst.SpreadPct / 2
		bid, ask = raw.Price-half, raw.Price+half
	default:
		return models.Tick{}, false
	}
	if bid > ask {
		bid, ask = ask, bid
	}
	ts := raw.Time
	if ts.IsZero() {
		ts = now
	}
	return models.Tick{
		Symbol:    inst.Symbol,
		Bid:       inst.RoundPrice(bid),
		Ask:       inst.RoundPrice(ask),
		Mid:       (bid + ask) / 2,
		Timestamp: ts,
	}, true
}
