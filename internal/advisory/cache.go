package advisory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"papertrader/internal/logger"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
)

type Config struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAge      time.Duration `mapstructure:"max_age"`
}

func DefaultConfig() Config {
	return Config{
		MinInterval: 5 * time.Minute,
		Timeout:     30 * time.Second,
		MaxAge:      30 * time.Minute,
	}
}

// Result is a finished advisory call, applied back on the engine loop.
type Result struct {
	Symbol   string
	Seq      uint64
	Advisory models.Advisory
	Err      error
}

func (r Result) Degraded() bool {
	return r.Err != nil
}

type Status struct {
	Busy        bool      `json:"busy"`
	LastRequest time.Time `json:"last_request"`
	LastError   string    `json:"last_error,omitempty"`
}

type entry struct {
	seq         uint64
	busy        bool
	lastRequest time.Time
	advisory    models.Advisory
	lastErr     string
}

// Cache throttles calls to the provider: at most one in flight per symbol and a minimum
// interval between calls. A failed call leaves the cached advisory as it was.
type Cache struct {
	provider Provider
	cfg      Config
	log      *logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

func NewCache(provider Provider, cfg Config, log *logger.Logger) *Cache {
	return &Cache{
		provider: provider,
		cfg:      cfg,
		log:      log,
		entries:  make(map[string]*entry),
	}
}

func (c *Cache) logEntry(symbol string) *logrus.Entry {
	return c.log.WithComponent("advisory").WithField("symbol", symbol)
}

func (c *Cache) entry(symbol string) *entry {
	e, ok := c.entries[symbol]
	if !ok {
		e = &entry{}
		c.entries[symbol] = e
	}
	return e
}

// Request starts an asynchronous call unless one is in flight or the interval has not passed.
// A call stuck for longer than twice the timeout is abandoned and its result will be discarded.
// deliver is invoked exactly once from the worker goroutine.
func (c *Cache) Request(req Request, now time.Time, deliver func(Result)) bool {
	c.mu.Lock()
	e := c.entry(req.Symbol)
	if e.busy && now.Sub(e.lastRequest) < 2*c.cfg.Timeout {
		c.mu.Unlock()
		return false
	}
	if !e.lastRequest.IsZero() && now.Sub(e.lastRequest) < c.cfg.MinInterval {
		c.mu.Unlock()
		return false
	}
	e.seq++
	e.busy = true
	e.lastRequest = now
	seq := e.seq
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		defer cancel()
		adv, err := c.safeAdvise(ctx, req)
		if err == nil {
			adv.UpdatedAt = time.Now()
		}
		deliver(Result{Symbol: req.Symbol, Seq: seq, Advisory: adv, Err: err})
	}()
	return true
}

func (c *Cache) safeAdvise(ctx context.Context, req Request) (adv models.Advisory, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в провайдере: %v", r)
		}
	}()
	return c.provider.Advise(ctx, req)
}

// Apply stores a finished call. Results from superseded calls are dropped and false is returned.
func (c *Cache) Apply(res Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(res.Symbol)
	if res.Seq != e.seq {
		c.logEntry(res.Symbol).WithField("seq", res.Seq).Debug("Устаревший ответ советника отброшен.")
		return false
	}
	e.busy = false
	if res.Degraded() {
		e.lastErr = res.Err.Error()
		metrics.AdvisoryCalls.WithLabelValues(res.Symbol, "error").Inc()
		c.logEntry(res.Symbol).WithError(res.Err).Warn("Советник недоступен, оставляем прежнюю рекомендацию.")
		return true
	}
	e.lastErr = ""
	e.advisory = res.Advisory
	metrics.AdvisoryCalls.WithLabelValues(res.Symbol, "ok").Inc()
	c.logEntry(res.Symbol).WithFields(logrus.Fields{
		"sentiment":  res.Advisory.Sentiment,
		"confidence": res.Advisory.Confidence,
	}).Info("Получена рекомендация советника.")
	return true
}

// Get returns the cached advisory. A symbol never advised reads as neutral with zero confidence.
func (c *Cache) Get(symbol string) models.Advisory {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok || e.advisory.Sentiment == "" {
		return models.Advisory{Sentiment: models.SentimentNeutral}
	}
	return e.advisory
}

func (c *Cache) Status(symbol string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		return Status{}
	}
	return Status{Busy: e.busy, LastRequest: e.lastRequest, LastError: e.lastErr}
}

func (c *Cache) MaxAge() time.Duration {
	return c.cfg.MaxAge
}
