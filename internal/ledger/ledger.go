package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/models"
)

// Recompute derives the account from the trade set. It never looks at a previous account value.
//
//	balance  = initial + realized PnL of all trades
//	equity   = balance + floating PnL of open trades
//	dayPnL   = realized PnL of trades closed today + realized and floating PnL of open trades
//	winRate  = share of closed trades with positive PnL, in percent
//
// Trades carry one cumulative PnL and no per-fill timestamps, so dayPnL attributes a trade's
// whole realized PnL to the day it closes (or to today while it is open), including partial
// take-profits filled on an earlier day.
func Recompute(initial float64, trades []models.Trade, now time.Time) models.Account {
	dayStart := models.StartOfDayUTC(now).UnixMilli()
	realized := decimal.Zero
	floating := decimal.Zero
	day := decimal.Zero
	closed, wins := 0, 0

	for i := range trades {
		tr := &trades[i]
		pnl := decimal.NewFromFloat(tr.PnL)
		realized = realized.Add(pnl)
		if tr.IsOpen() {
			f := decimal.NewFromFloat(tr.FloatingPnL)
			floating = floating.Add(f)
			day = day.Add(pnl).Add(f)
			continue
		}
		closed++
		if tr.PnL > 0 {
			wins++
		}
		if tr.CloseTime != nil && *tr.CloseTime >= dayStart {
			day = day.Add(pnl)
		}
	}

	balance := decimal.NewFromFloat(initial).Add(realized)
	acc := models.Account{
		Balance:  balance.Round(2).InexactFloat64(),
		Equity:   balance.Add(floating).Round(2).InexactFloat64(),
		DayPnL:   day.Round(2).InexactFloat64(),
		TotalPnL: realized.Round(2).InexactFloat64(),
	}
	if closed > 0 {
		acc.WinRate = decimal.NewFromInt(int64(wins)).Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(int64(closed))).Round(2).InexactFloat64()
	}
	return acc
}
