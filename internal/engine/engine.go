package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"papertrader/internal/advisory"
	"papertrader/internal/candles"
	"papertrader/internal/guard"
	"papertrader/internal/indicators"
	"papertrader/internal/logger"
	"papertrader/internal/models"
	"papertrader/internal/notify"
	"papertrader/internal/position"
	"papertrader/internal/store"
	"papertrader/internal/strategy"
	"papertrader/internal/structure"
)

var (
	ErrUnknownSymbol   = errors.New("неизвестный инструмент")
	ErrUnknownStrategy = errors.New("неизвестная стратегия")
	ErrStopped         = errors.New("движок остановлен")
	ErrInvalidImport   = errors.New("некорректный импорт")
)

const sizeTolerance = 1e-9

type Config struct {
	InitialBalance    float64
	QueueSize         int
	ArchiveDir        string
	ImportPath        string
	CloudTimeout      time.Duration
	HousekeepInterval time.Duration
	Instruments       []models.Instrument

	Guard      guard.Config
	Strategy   strategy.Config
	Position   position.Config
	Structure  structure.Config
	Indicators indicators.Params
}

// Notifier delivers trade notifications to push subscribers.
type Notifier interface {
	Notify(tokens []string, msg notify.Message) bool
}

// Seeder loads closed candle history for warm-up.
type Seeder interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

type Deps struct {
	Local    *store.LocalStore
	Cloud    store.Cloud
	Advisor  *advisory.Cache
	Notifier Notifier
	Seeder   Seeder
	Log      *logger.Logger
}

type control struct {
	fn    func() error
	reply chan error
}

// Engine is the single owner of assets, trades and the account. Everything that mutates
// them runs on the loop started by Run.
type Engine struct {
	cfg       Config
	log       *logger.Logger
	local     *store.LocalStore
	cloud     store.Cloud
	syncer    *store.Syncer
	advisor   *advisory.Cache
	notifier  Notifier
	seeder    Seeder
	agg       *candles.Aggregator
	evaluator *strategy.Evaluator
	positions *position.Manager
	now       func() time.Time

	assets     map[string]*AssetState
	order      []string
	trades     []models.Trade
	account    models.Account
	pushTokens []string
	dirty      bool

	ticks    chan models.Tick
	advice   chan advisory.Result
	controls chan control
	done     chan struct{}

	published atomic.Pointer[View]
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if len(cfg.Instruments) == 0 {
		return nil, errors.New("не задано ни одного инструмента")
	}
	if err := cfg.Guard.Validate(); err != nil {
		return nil, err
	}
	if deps.Local == nil {
		return nil, errors.New("не задано локальное хранилище")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.HousekeepInterval <= 0 {
		cfg.HousekeepInterval = 15 * time.Second
	}
	if cfg.CloudTimeout <= 0 {
		cfg.CloudTimeout = 10 * time.Second
	}
	log := deps.Log
	if log == nil {
		log = logger.Discard()
	}

	e := &Engine{
		cfg:       cfg,
		log:       log,
		local:     deps.Local,
		cloud:     deps.Cloud,
		advisor:   deps.Advisor,
		notifier:  deps.Notifier,
		seeder:    deps.Seeder,
		agg:       candles.New(candles.DefaultRingSize, candles.M5, candles.M15),
		evaluator: strategy.NewEvaluator(cfg.Strategy),
		positions: position.NewManager(cfg.Position),
		now:       time.Now,
		assets:    make(map[string]*AssetState, len(cfg.Instruments)),
		ticks:     make(chan models.Tick, cfg.QueueSize),
		advice:    make(chan advisory.Result, 16),
		controls:  make(chan control),
		done:      make(chan struct{}),
	}
	if deps.Cloud != nil {
		e.syncer = store.NewSyncer(deps.Cloud, cfg.CloudTimeout, log)
	}

	for _, inst := range cfg.Instruments {
		if inst.Symbol == "" {
			return nil, errors.New("инструмент без символа")
		}
		if _, ok := e.assets[inst.Symbol]; ok {
			return nil, fmt.Errorf("инструмент %s задан дважды", inst.Symbol)
		}
		for _, id := range inst.Strategies {
			if !models.KnownStrategy(id) {
				return nil, fmt.Errorf("%s: %s: %w", inst.Symbol, id, ErrUnknownStrategy)
			}
		}
		e.assets[inst.Symbol] = newAssetState(inst)
		e.order = append(e.order, inst.Symbol)
	}
	e.account = models.Account{Balance: cfg.InitialBalance, Equity: cfg.InitialBalance}
	e.publish(e.now())
	return e, nil
}

// Start restores persisted state and warms up candle history. It must be called before Run.
func (e *Engine) Start(ctx context.Context) error {
	e.logEntry().WithField("instruments", e.order).Info("Запуск движка.")
	if err := e.restore(ctx); err != nil {
		return err
	}
	e.seedHistory(ctx)
	now := e.now()
	for _, symbol := range e.order {
		e.refreshIndicators(e.assets[symbol])
		e.refreshGuard(e.assets[symbol], now)
	}
	e.recompute(now)
	if e.dirty {
		e.persist(now)
	}
	e.publish(now)
	return nil
}

// SubmitTick hands a tick to the loop. It blocks while the queue is full.
func (e *Engine) SubmitTick(t models.Tick) {
	select {
	case e.ticks <- t:
	case <-e.done:
	}
}

// Snapshot returns the last published view. The caller must not modify it.
func (e *Engine) Snapshot() *View {
	return e.published.Load()
}

func (e *Engine) Instruments() []models.Instrument {
	out := make([]models.Instrument, 0, len(e.order))
	for _, symbol := range e.order {
		out = append(out, e.assets[symbol].Instrument)
	}
	return out
}
