package models

import (
	"strconv"
	"strings"
	"time"
)

type TakeProfitLevel struct {
	ID         int     `json:"id"`
	Price      float64 `json:"price"`
	Percentage float64 `json:"percentage"`
	Hit        bool    `json:"hit"`
}

type Trade struct {
	ID            string            `json:"id,omitempty"`
	Symbol        string            `json:"symbol"`
	Type          Side              `json:"type"`
	Strategy      string            `json:"strategy"`
	EntryPrice    float64           `json:"entry_price"`
	InitialSize   float64           `json:"initial_size"`
	CurrentSize   float64           `json:"current_size"`
	StopLoss      float64           `json:"stop_loss"`
	TPLevels      []TakeProfitLevel `json:"tp_levels"`
	OpenTime      int64             `json:"open_time"`
	Status        TradeStatus       `json:"status"`
	CloseTime     *int64            `json:"close_time,omitempty"`
	ClosePrice    float64           `json:"close_price,omitempty"`
	CloseReason   CloseReason       `json:"close_reason,omitempty"`
	PnL           float64           `json:"pnl"`
	FloatingPnL   float64           `json:"floating_pnl"`
	EntryReason   string            `json:"entry_reason,omitempty"`
	OutcomeReason string            `json:"outcome_reason,omitempty"`
	Confidence    float64           `json:"confidence"`
}

func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

func (t *Trade) OpenedAt() time.Time {
	return time.UnixMilli(t.OpenTime).UTC()
}

// Clone returns a deep copy.
func (t Trade) Clone() Trade {
	out := t
	if t.TPLevels != nil {
		out.TPLevels = make([]TakeProfitLevel, len(t.TPLevels))
		copy(out.TPLevels, t.TPLevels)
	}
	if t.CloseTime != nil {
		ct := *t.CloseTime
		out.CloseTime = &ct
	}
	return out
}

func CloneTrades(in []Trade) []Trade {
	if in == nil {
		return nil
	}
	out := make([]Trade, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// BusinessKey is the identity used when deduplicating trades from several sources.
func BusinessKey(t Trade) string {
	if id := strings.TrimSpace(t.ID); id != "" {
		return id
	}
	return strings.Join([]string{
		t.Symbol,
		FormatFloatPlain(t.EntryPrice),
		strconv.FormatInt(t.OpenTime, 10),
		FormatFloatPlain(t.InitialSize),
	}, "|")
}

func FormatFloatPlain(val float64) string {
	formatted := strconv.FormatFloat(val, 'f', 12, 64)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")
	if formatted == "" || formatted == "-0" {
		return "0"
	}
	return formatted
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func Int64Ptr(v int64) *int64 {
	return &v
}
