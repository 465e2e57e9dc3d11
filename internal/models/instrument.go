package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Instrument struct {
	Symbol                string   `json:"symbol" mapstructure:"symbol"`
	FeedSymbol            string   `json:"feed_symbol" mapstructure:"feed_symbol"`
	StartPrice            float64  `json:"start_price" mapstructure:"start_price"`
	Volatility            float64  `json:"volatility" mapstructure:"volatility"`
	MinLot                float64  `json:"min_lot" mapstructure:"min_lot"`
	MaxLot                float64  `json:"max_lot" mapstructure:"max_lot"`
	LotStep               float64  `json:"lot_step" mapstructure:"lot_step"`
	DefaultLot            float64  `json:"default_lot" mapstructure:"default_lot"`
	Precision             int32    `json:"precision" mapstructure:"precision"`
	SpreadPct             float64  `json:"spread_pct" mapstructure:"spread_pct"`
	SessionStart          string   `json:"session_start" mapstructure:"session_start"`
	SessionEnd            string   `json:"session_end" mapstructure:"session_end"`
	HardClose             string   `json:"hard_close" mapstructure:"hard_close"`
	HardCloseStrategies   []string `json:"hard_close_strategies" mapstructure:"hard_close_strategies"`
	AdvisoryMinConfidence float64  `json:"advisory_min_confidence" mapstructure:"advisory_min_confidence"`
	Strategies            []string `json:"strategies" mapstructure:"strategies"`
	Active                bool     `json:"active" mapstructure:"active"`
}

// RoundPrice rounds half away from zero to the instrument precision.
func (i Instrument) RoundPrice(price float64) float64 {
	return decimal.NewFromFloat(price).Round(i.Precision).InexactFloat64()
}

// RoundLot floors size to the lot step.
func (i Instrument) RoundLot(size float64) float64 {
	if i.LotStep <= 0 {
		return size
	}
	step := decimal.NewFromFloat(i.LotStep)
	steps := decimal.NewFromFloat(size).Add(decimal.NewFromFloat(1e-9)).Div(step).Floor()
	return steps.Mul(step).Round(int32(stepDecimals(i.LotStep))).InexactFloat64()
}

func (i Instrument) ValidateLot(size float64) error {
	if size <= 0 {
		return fmt.Errorf("размер позиции должен быть > 0: %s", FormatFloatPlain(size))
	}
	if i.MinLot > 0 && size < i.MinLot-1e-9 {
		return fmt.Errorf("размер %s меньше минимального лота %s", FormatFloatPlain(size), FormatFloatPlain(i.MinLot))
	}
	if i.MaxLot > 0 && size > i.MaxLot+1e-9 {
		return fmt.Errorf("размер %s больше максимального лота %s", FormatFloatPlain(size), FormatFloatPlain(i.MaxLot))
	}
	if i.LotStep > 0 && i.RoundLot(size) != decimal.NewFromFloat(size).Round(int32(stepDecimals(i.LotStep))).InexactFloat64() {
		return fmt.Errorf("размер %s не кратен шагу %s", FormatFloatPlain(size), FormatFloatPlain(i.LotStep))
	}
	return nil
}

func (i Instrument) HasStrategy(id string) bool {
	for _, s := range i.Strategies {
		if s == id {
			return true
		}
	}
	return false
}

func (i Instrument) HardClosesStrategy(id string) bool {
	for _, s := range i.HardCloseStrategies {
		if s == id {
			return true
		}
	}
	return false
}

func stepDecimals(step float64) int {
	text := strconv.FormatFloat(step, 'f', -1, 64)
	if strings.Contains(text, "e") || strings.Contains(text, "E") {
		text = strconv.FormatFloat(step, 'f', 18, 64)
	}
	if dot := strings.IndexByte(text, '.'); dot >= 0 {
		return len(strings.TrimRight(text[dot+1:], "0"))
	}
	return 0
}

// ParseClock parses a UTC "HH:MM" into minutes of day.
func ParseClock(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// InWindow reports whether now falls in [start, end). Windows may wrap midnight.
func InWindow(now time.Time, start, end string) bool {
	from, ok1 := ParseClock(start)
	to, ok2 := ParseClock(end)
	if !ok1 || !ok2 || from == to {
		return false
	}
	now = now.UTC()
	m := now.Hour()*60 + now.Minute()
	if from < to {
		return m >= from && m < to
	}
	return m >= from || m < to
}

// PastClock reports whether now is at or after the given UTC "HH:MM" today.
func PastClock(now time.Time, clock string) bool {
	at, ok := ParseClock(clock)
	if !ok {
		return false
	}
	now = now.UTC()
	return now.Hour()*60+now.Minute() >= at
}

func StartOfDayUTC(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
