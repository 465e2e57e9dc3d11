package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"papertrader/internal/candles"
	"papertrader/internal/models"
	"papertrader/internal/position"
	"papertrader/internal/store"
)

// restore loads the local snapshot (falling back to .bak, then to a fresh account),
// merges the cloud snapshot and the secondary import file, and applies the result.
func (e *Engine) restore(ctx context.Context) error {
	now := e.now()
	snap, source, err := e.local.Load()
	switch {
	case err == nil && source == store.SourceBackup:
		e.logEntry().WithField("path", e.local.BackupPath()).Warn("Основной снапшот повреждён, состояние восстановлено из резервной копии.")
		e.dirty = true
	case err == nil:
		e.logEntry().WithField("trades", len(snap.Trades)).Info("Состояние загружено.")
	case errors.Is(err, store.ErrNoSnapshot):
		e.logEntry().Info("Снапшот не найден, начинаем с чистого счёта.")
		snap = models.PersistedSnapshot{}
	default:
		e.logEntry().WithError(err).Error("Снапшот и резервная копия повреждены, начинаем с чистого счёта.")
		if _, qErr := e.local.Quarantine(now); qErr != nil {
			e.logEntry().WithError(qErr).Error("Не удалось отложить повреждённый снапшот.")
		}
		snap = models.PersistedSnapshot{}
		e.dirty = true
	}

	e.trades = models.CloneTrades(snap.Trades)
	e.pushTokens = append([]string(nil), snap.PushSubscriptions...)
	e.applyAssetsConfig(snap.AssetsConfig)

	if e.cloud != nil {
		e.mergeCloud(ctx)
	}
	if e.cfg.ImportPath != "" {
		if err := e.mergeImportFile(e.cfg.ImportPath); err != nil {
			e.logEntry().WithError(err).WithField("path", e.cfg.ImportPath).Warn("Не удалось загрузить файл импорта.")
		}
	}
	return nil
}

func (e *Engine) applyAssetsConfig(cfg map[string]models.AssetConfig) {
	for symbol, ac := range cfg {
		a, ok := e.assets[symbol]
		if !ok {
			e.logEntry().WithField("symbol", symbol).Warn("В снапшоте настройки неизвестного инструмента, пропускаем.")
			continue
		}
		a.BotActive = ac.BotActive
		a.Strategies = a.Strategies[:0]
		for _, id := range ac.Strategies {
			if models.KnownStrategy(id) {
				a.Strategies = append(a.Strategies, id)
			}
		}
	}
}

func (e *Engine) mergeCloud(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.CloudTimeout)
	defer cancel()
	remote, err := e.cloud.Get(cctx)
	if err != nil {
		if errors.Is(err, store.ErrNoSnapshot) {
			e.logEntry().WithField("cloud", e.cloud.Name()).Info("В облаке снапшота нет.")
			return
		}
		e.logEntry().WithError(err).WithField("cloud", e.cloud.Name()).Warn("Не удалось прочитать облачный снапшот.")
		return
	}
	if _, err := e.mergeTrades(remote.Trades, "cloud"); err != nil {
		e.logEntry().WithError(err).WithField("cloud", e.cloud.Name()).Warn("Облачный снапшот противоречит локальному, сделки не объединены.")
	}
	for _, token := range remote.PushSubscriptions {
		e.addToken(token)
	}
}

func (e *Engine) mergeImportFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	var trades []models.Trade
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		trades, err = store.ParseCSV(f)
	} else {
		trades, err = decodeTrades(f)
	}
	if err != nil {
		return err
	}
	if err := e.validateImported(trades); err != nil {
		return err
	}
	_, err = e.mergeTrades(trades, "import")
	return err
}

// mergeTrades applies incoming trades unless the result would hold two open positions on one
// instrument. On error nothing changes.
func (e *Engine) mergeTrades(incoming []models.Trade, source string) (store.MergeStats, error) {
	merged, stats := store.Merge(e.trades, incoming)
	if err := checkOpenPositions(merged); err != nil {
		return store.MergeStats{}, err
	}
	if stats.Changed() {
		e.trades = merged
		e.dirty = true
	}
	e.logEntry().WithFields(logrus.Fields{
		"source":   source,
		"added":    stats.Added,
		"replaced": stats.Replaced,
		"kept":     stats.Kept,
	}).Info("Сделки объединены.")
	return stats, nil
}

func checkOpenPositions(trades []models.Trade) error {
	open := make(map[string]string)
	for i := range trades {
		t := &trades[i]
		if !t.IsOpen() {
			continue
		}
		if id, ok := open[t.Symbol]; ok {
			return fmt.Errorf("%s: открыты %s и %s: %w: %w", t.Symbol, id, t.ID, ErrInvalidImport, position.ErrPositionExists)
		}
		open[t.Symbol] = t.ID
	}
	return nil
}

// seedHistory warms the candle rings so indicators are available before live candles close.
func (e *Engine) seedHistory(ctx context.Context) {
	if e.seeder == nil {
		return
	}
	for _, symbol := range e.order {
		inst := e.assets[symbol].Instrument
		feedSymbol := inst.FeedSymbol
		if feedSymbol == "" {
			feedSymbol = symbol
		}
		for _, tf := range e.agg.Timeframes() {
			var history []models.Candle
			err := e.withRetry(ctx, func() error {
				var err error
				history, err = e.seeder.Klines(ctx, feedSymbol, tf.Name, candles.DefaultRingSize)
				return err
			})
			if err != nil {
				e.symbolEntry(symbol).WithError(err).WithField("timeframe", tf.Name).Warn("История свечей не загружена, индикаторы прогреются на живых данных.")
				continue
			}
			e.agg.Seed(symbol, tf.Name, history)
			e.symbolEntry(symbol).WithFields(logrus.Fields{
				"timeframe": tf.Name,
				"candles":   len(history),
			}).Info("История свечей загружена.")
		}
	}
}

// persist writes the snapshot locally and schedules the cloud copy.
func (e *Engine) persist(now time.Time) {
	snap := e.snapshotForPersist(now)
	if err := e.local.Save(snap); err != nil {
		e.logEntry().WithError(err).Error("Не удалось сохранить состояние.")
		return
	}
	e.dirty = false
	if e.syncer != nil {
		e.syncer.Push(snap)
	}
}

// validateImported rejects trades the engine could not have produced itself.
func (e *Engine) validateImported(trades []models.Trade) error {
	for i, t := range trades {
		n := i + 1
		if t.Symbol == "" {
			return fmt.Errorf("сделка %d: пустой символ: %w", n, ErrInvalidImport)
		}
		if _, ok := e.assets[t.Symbol]; !ok {
			return fmt.Errorf("сделка %d: неизвестный инструмент %s: %w", n, t.Symbol, ErrInvalidImport)
		}
		if t.Type != models.SideBuy && t.Type != models.SideSell {
			return fmt.Errorf("сделка %d: некорректное направление %q: %w", n, t.Type, ErrInvalidImport)
		}
		if t.Status != models.StatusOpen && t.Status != models.StatusClosed {
			return fmt.Errorf("сделка %d: некорректный статус %q: %w", n, t.Status, ErrInvalidImport)
		}
		if t.InitialSize <= 0 || t.CurrentSize < 0 || t.CurrentSize > t.InitialSize+sizeTolerance {
			return fmt.Errorf("сделка %d: остаток %s при объёме %s: %w", n,
				models.FormatFloatPlain(t.CurrentSize), models.FormatFloatPlain(t.InitialSize), ErrInvalidImport)
		}
		if t.Status == models.StatusOpen && t.CurrentSize <= 0 {
			return fmt.Errorf("сделка %d: открытая позиция без остатка: %w", n, ErrInvalidImport)
		}
		if len(t.TPLevels) > 0 {
			if err := position.CheckShares(t.TPLevels); err != nil {
				return fmt.Errorf("сделка %d: %w: %w", n, ErrInvalidImport, err)
			}
		}
	}
	return nil
}
