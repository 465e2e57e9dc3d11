package engine

import (
	"github.com/sirupsen/logrus"

	"papertrader/internal/models"
)

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithComponent("engine")
}

func (e *Engine) symbolEntry(symbol string) *logrus.Entry {
	return e.log.WithSymbol(symbol).WithField("component", "engine")
}

func (e *Engine) tradeEntry(t models.Trade) *logrus.Entry {
	return e.log.WithTrade(t.ID).WithFields(logrus.Fields{
		"component": "engine",
		"symbol":    t.Symbol,
	})
}
