package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"papertrader/internal/models"
	"papertrader/internal/store"
)

// ToggleBot flips bot-active for the instrument and returns the new value.
func (e *Engine) ToggleBot(ctx context.Context, symbol string) (bool, error) {
	var active bool
	err := e.do(ctx, func() error {
		a, ok := e.assets[symbol]
		if !ok {
			return fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
		}
		a.BotActive = !a.BotActive
		active = a.BotActive
		e.symbolEntry(symbol).WithField("active", active).Info("Бот переключён.")
		e.commit()
		return nil
	})
	return active, err
}

// ToggleStrategy adds or removes a strategy from the instrument's enabled set and returns
// whether it is now enabled.
func (e *Engine) ToggleStrategy(ctx context.Context, symbol, id string) (bool, error) {
	var enabled bool
	err := e.do(ctx, func() error {
		a, ok := e.assets[symbol]
		if !ok {
			return fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
		}
		if !models.KnownStrategy(id) {
			return fmt.Errorf("%s: %w", id, ErrUnknownStrategy)
		}
		if a.enabled(id) {
			kept := a.Strategies[:0]
			for _, s := range a.Strategies {
				if s != id {
					kept = append(kept, s)
				}
			}
			a.Strategies = kept
		} else {
			a.Strategies = append(a.Strategies, id)
		}
		enabled = a.enabled(id)
		e.symbolEntry(symbol).WithFields(logrus.Fields{"strategy": id, "enabled": enabled}).Info("Стратегия переключена.")
		e.commit()
		return nil
	})
	return enabled, err
}

// CloseAll force-closes open positions of one instrument, or of every instrument when symbol is empty.
func (e *Engine) CloseAll(ctx context.Context, symbol string) (int, error) {
	var closed int
	err := e.do(ctx, func() error {
		if symbol != "" {
			if _, ok := e.assets[symbol]; !ok {
				return fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
			}
		}
		closed = e.closeAll(symbol, models.CloseManual, "закрыто вручную", e.now())
		e.logEntry().WithFields(logrus.Fields{"symbol": symbol, "closed": closed}).Info("Ручное закрытие позиций.")
		e.commit()
		return nil
	})
	return closed, err
}

// Reset archives the current state, drops every trade and restores the initial balance.
// Instrument switches and push subscriptions survive.
func (e *Engine) Reset(ctx context.Context) (string, error) {
	var archived string
	err := e.do(ctx, func() error {
		now := e.now()
		path, err := store.Archive(e.cfg.ArchiveDir, e.snapshotForPersist(now), now)
		if err != nil {
			return err
		}
		archived = path
		e.trades = nil
		for _, a := range e.assets {
			a.Skip = models.SkipReason{}
		}
		e.logEntry().WithField("archive", path).Warn("Счёт сброшен.")
		e.commit()
		return nil
	})
	return archived, err
}

// Import merges a trade set into the current one. Invalid input changes nothing.
func (e *Engine) Import(ctx context.Context, trades []models.Trade) (store.MergeStats, error) {
	if err := e.validateImported(trades); err != nil {
		return store.MergeStats{}, err
	}
	var stats store.MergeStats
	err := e.do(ctx, func() error {
		var err error
		if stats, err = e.mergeTrades(trades, "api"); err != nil {
			return err
		}
		e.commit()
		return nil
	})
	return stats, err
}

func (e *Engine) ImportCSV(ctx context.Context, r io.Reader) (store.MergeStats, error) {
	trades, err := store.ParseCSV(r)
	if err != nil {
		return store.MergeStats{}, err
	}
	return e.Import(ctx, trades)
}

func (e *Engine) ImportJSON(ctx context.Context, r io.Reader) (store.MergeStats, error) {
	trades, err := decodeTrades(r)
	if err != nil {
		return store.MergeStats{}, err
	}
	return e.Import(ctx, trades)
}

// SubscribePush registers a device token for trade notifications.
func (e *Engine) SubscribePush(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("пустой токен")
	}
	return e.do(ctx, func() error {
		if e.addToken(token) {
			e.logEntry().WithField("subscribers", len(e.pushTokens)).Info("Добавлен подписчик уведомлений.")
			e.dirty = true
			e.commit()
		}
		return nil
	})
}

// commit refreshes derived state after a control operation and persists it.
func (e *Engine) commit() {
	now := e.now()
	for _, symbol := range e.order {
		e.refreshGuard(e.assets[symbol], now)
	}
	e.recompute(now)
	e.persist(now)
	e.publish(now)
}
