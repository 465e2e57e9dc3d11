package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"papertrader/internal/models"
)

const (
	retryAttempts = 5
	retryMaxWait  = 30 * time.Second
)

// withRetry retries fn with a doubling wait, longer when the upstream reports rate limiting.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := time.Second
	for i := 0; i < retryAttempts; i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == retryAttempts-1 {
			break
		}
		wait := backoff
		if isRateLimitError(lastErr) {
			wait = backoff * 4
		}
		if wait > retryMaxWait {
			wait = retryMaxWait
		}
		e.logEntry().WithError(lastErr).Warn("Ошибка, повторяем запрос.")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
	return lastErr
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "-1003") || strings.Contains(msg, "Too many requests")
}

// decodeTrades accepts either a bare trade array or a full snapshot document.
func decodeTrades(r io.Reader) ([]models.Trade, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("не удалось прочитать импорт: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("пустой импорт")
	}
	if strings.HasPrefix(trimmed, "[") {
		var trades []models.Trade
		if err := json.Unmarshal(data, &trades); err != nil {
			return nil, fmt.Errorf("не удалось разобрать список сделок: %w", err)
		}
		return trades, nil
	}
	var snap models.PersistedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("не удалось разобрать снапшот: %w", err)
	}
	return snap.Trades, nil
}

func (e *Engine) addToken(token string) bool {
	for _, t := range e.pushTokens {
		if t == token {
			return false
		}
	}
	e.pushTokens = append(e.pushTokens, token)
	return true
}
