package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"papertrader/internal/models"
)

var CSVColumns = []string{
	"id", "symbol", "type", "strategy", "entry_price", "initial_size", "current_size",
	"stop_loss", "open_time", "status", "close_time", "close_price", "close_reason", "pnl",
}

var requiredCSV = []string{"symbol", "type", "entry_price", "initial_size", "open_time"}

// ParseCSV reads trades from CSV with a header row. Column order is free; times are Unix
// milliseconds or RFC3339.
func ParseCSV(r io.Reader) ([]models.Trade, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("пустой CSV")
		}
		return nil, fmt.Errorf("чтение заголовка CSV: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range requiredCSV {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("в CSV нет колонки %s", name)
		}
	}

	var trades []models.Trade
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("строка %d: %w", line, err)
		}
		tr, err := parseRow(cols, rec)
		if err != nil {
			return nil, fmt.Errorf("строка %d: %w", line, err)
		}
		trades = append(trades, tr)
	}
	return trades, nil
}

func parseRow(cols map[string]int, rec []string) (models.Trade, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	num := func(name string) (float64, error) {
		raw := get(name)
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return v, nil
	}

	var tr models.Trade
	var err error
	tr.ID = get("id")
	tr.Symbol = get("symbol")
	if tr.Symbol == "" {
		return tr, fmt.Errorf("пустой symbol")
	}
	if tr.Type, err = models.ParseSide(get("type")); err != nil {
		return tr, err
	}
	tr.Strategy = get("strategy")
	if tr.EntryPrice, err = num("entry_price"); err != nil {
		return tr, err
	}
	if tr.InitialSize, err = num("initial_size"); err != nil {
		return tr, err
	}
	if tr.CurrentSize, err = num("current_size"); err != nil {
		return tr, err
	}
	if get("current_size") == "" {
		tr.CurrentSize = tr.InitialSize
	}
	if tr.StopLoss, err = num("stop_loss"); err != nil {
		return tr, err
	}
	if tr.OpenTime, err = parseTime(get("open_time")); err != nil {
		return tr, fmt.Errorf("open_time: %w", err)
	}
	if raw := get("close_time"); raw != "" {
		ct, err := parseTime(raw)
		if err != nil {
			return tr, fmt.Errorf("close_time: %w", err)
		}
		tr.CloseTime = &ct
	}
	if tr.ClosePrice, err = num("close_price"); err != nil {
		return tr, err
	}
	tr.CloseReason = models.CloseReason(strings.ToUpper(get("close_reason")))
	if tr.PnL, err = num("pnl"); err != nil {
		return tr, err
	}

	switch strings.ToUpper(get("status")) {
	case string(models.StatusOpen):
		tr.Status = models.StatusOpen
	case string(models.StatusClosed):
		tr.Status = models.StatusClosed
	case "":
		tr.Status = models.StatusOpen
		if tr.CloseTime != nil {
			tr.Status = models.StatusClosed
		}
	default:
		return tr, fmt.Errorf("неизвестный статус %q", get("status"))
	}
	if tr.EntryPrice <= 0 || tr.InitialSize <= 0 {
		return tr, fmt.Errorf("entry_price и initial_size должны быть > 0")
	}
	return tr, nil
}

func parseTime(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("пустое значение")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// WriteCSV writes the trades with the standard header.
func WriteCSV(w io.Writer, trades []models.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVColumns); err != nil {
		return err
	}
	for _, tr := range trades {
		closeTime := ""
		if tr.CloseTime != nil {
			closeTime = strconv.FormatInt(*tr.CloseTime, 10)
		}
		closePrice := ""
		if tr.ClosePrice != 0 {
			closePrice = models.FormatFloatPlain(tr.ClosePrice)
		}
		if err := cw.Write([]string{
			tr.ID,
			tr.Symbol,
			string(tr.Type),
			tr.Strategy,
			models.FormatFloatPlain(tr.EntryPrice),
			models.FormatFloatPlain(tr.InitialSize),
			models.FormatFloatPlain(tr.CurrentSize),
			models.FormatFloatPlain(tr.StopLoss),
			strconv.FormatInt(tr.OpenTime, 10),
			string(tr.Status),
			closeTime,
			closePrice,
			string(tr.CloseReason),
			models.FormatFloatPlain(tr.PnL),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
