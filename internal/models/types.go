package models

import (
	"fmt"
	"strings"
	"time"
)

type Side string
type TradeStatus string
type CloseReason string
type Sentiment string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"

	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"

	CloseStopLoss         CloseReason = "STOP_LOSS"
	CloseTakeProfit       CloseReason = "TAKE_PROFIT"
	CloseAdvisoryOverride CloseReason = "ADVISORY_OVERRIDE"
	CloseSession          CloseReason = "SESSION_CLOSE"
	CloseManual           CloseReason = "MANUAL_CLOSE"

	SentimentBullish Sentiment = "BULLISH"
	SentimentBearish Sentiment = "BEARISH"
	SentimentNeutral Sentiment = "NEUTRAL"
)

const (
	StrategyTrend         = "trend"
	StrategySession       = "session"
	StrategyAdvisory      = "advisory"
	StrategyMeanReversion = "mean_reversion"
)

// StrategyOrder is the fixed evaluation order.
var StrategyOrder = []string{StrategyTrend, StrategySession, StrategyAdvisory, StrategyMeanReversion}

func KnownStrategy(id string) bool {
	for _, s := range StrategyOrder {
		if s == id {
			return true
		}
	}
	return false
}

func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	default:
		return "", fmt.Errorf("некорректное направление: %s", raw)
	}
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Agrees reports whether the sentiment points the same way as the side.
func (s Sentiment) Agrees(side Side) bool {
	return (s == SentimentBullish && side == SideBuy) || (s == SentimentBearish && side == SideSell)
}

func (s Sentiment) Contradicts(side Side) bool {
	return (s == SentimentBearish && side == SideBuy) || (s == SentimentBullish && side == SideSell)
}

func ParseSentiment(raw string) Sentiment {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BULLISH":
		return SentimentBullish
	case "BEARISH":
		return SentimentBearish
	default:
		return SentimentNeutral
	}
}

type Tick struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Mid       float64   `json:"mid"`
	Timestamp time.Time `json:"timestamp"`
}

type Candle struct {
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Time     int64   `json:"time"`
	IsClosed bool    `json:"is_closed"`
}

func (c Candle) Range() float64 {
	return c.High - c.Low
}

type Advisory struct {
	Sentiment  Sentiment `json:"sentiment"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (a Advisory) FreshAt(now time.Time, maxAge time.Duration) bool {
	if a.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(a.UpdatedAt) <= maxAge
}

type Account struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	DayPnL   float64 `json:"day_pnl"`
	TotalPnL float64 `json:"total_pnl"`
	WinRate  float64 `json:"win_rate"`
}

const (
	SkipBotInactive        = "BOT_INACTIVE"
	SkipPositionOpen       = "POSITION_OPEN"
	SkipDayCap             = "DAY_CAP"
	SkipCooldown           = "COOLDOWN"
	SkipWarmup             = "WARMUP"
	SkipADX                = "ADX_LOW"
	SkipADXCap             = "ADX_HIGH"
	SkipSlope              = "SLOPE"
	SkipProximity          = "EMA_DISTANCE"
	SkipPremium            = "PREMIUM"
	SkipDiscount           = "DISCOUNT"
	SkipHTF                = "HTF_TREND"
	SkipOutsideSession     = "OUTSIDE_SESSION"
	SkipNoSetup            = "NO_SETUP"
	SkipAdvisoryStale      = "ADVISORY_STALE"
	SkipAdvisoryConfidence = "ADVISORY_CONFIDENCE"
	SkipAdvisoryNeutral    = "ADVISORY_NEUTRAL"
	SkipAdvisoryTrend      = "ADVISORY_TREND"
	SkipBand               = "BAND"
	SkipRSI                = "RSI"
	SkipRange              = "RANGE"
	SkipRejected           = "REJECTED"
)

// SkipReason explains why the last evaluation produced no trade.
type SkipReason struct {
	Strategy string    `json:"strategy"`
	Code     string    `json:"code"`
	Detail   string    `json:"detail"`
	At       time.Time `json:"at"`
}

func (r SkipReason) String() string {
	if r.Strategy == "" {
		return r.Code + ": " + r.Detail
	}
	return r.Strategy + "/" + r.Code + ": " + r.Detail
}

// TradeIntent is what a strategy hands to the position manager.
type TradeIntent struct {
	Symbol     string            `json:"symbol"`
	Side       Side              `json:"side"`
	Strategy   string            `json:"strategy"`
	EntryPrice float64           `json:"entry_price"`
	StopLoss   float64           `json:"stop_loss"`
	TPLevels   []TakeProfitLevel `json:"tp_levels"`
	Size       float64           `json:"size"`
	Reason     string            `json:"reason"`
	Confidence float64           `json:"confidence"`
}
