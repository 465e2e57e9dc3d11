package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"papertrader/internal/logger"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
)

type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateStreaming  State = "STREAMING"
	StateDegraded   State = "DEGRADED"
)

var allStates = []string{string(StateIdle), string(StateConnecting), string(StateStreaming), string(StateDegraded)}

type Config struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	BackoffMin    time.Duration `mapstructure:"backoff_min"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	FailoverAfter int           `mapstructure:"failover_after"`
}

func DefaultConfig() Config {
	return Config{
		StaleAfter:    30 * time.Second,
		BackoffMin:    time.Second,
		BackoffMax:    30 * time.Second,
		FailoverAfter: 3,
	}
}

type Status struct {
	State      State     `json:"state"`
	Source     string    `json:"source"`
	Generation uint64    `json:"generation"`
	Failures   int       `json:"failures"`
	LastTick   time.Time `json:"last_tick"`
	LastError  string    `json:"last_error,omitempty"`
}

type stampedTick struct {
	gen uint64
	raw RawTick
}

// Supervisor keeps one upstream connection alive, reconnecting with backoff and rotating
// sources after repeated failures. Normalized ticks are handed to the sink in arrival order.
type Supervisor struct {
	sources     []Source
	cfg         Config
	log         *logger.Logger
	sink        func(models.Tick)
	instruments map[string]models.Instrument
	symbols     []string
	ticks       chan stampedTick
	backoff     *backoff.Backoff
	now         func() time.Time

	mu     sync.Mutex
	status Status
	index  int
}

func NewSupervisor(sources []Source, instruments []models.Instrument, cfg Config, sink func(models.Tick), log *logger.Logger) *Supervisor {
	byFeed := make(map[string]models.Instrument, len(instruments))
	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		key := inst.FeedSymbol
		if key == "" {
			key = inst.Symbol
		}
		byFeed[key] = inst
		symbols = append(symbols, key)
	}
	s := &Supervisor{
		sources:     sources,
		cfg:         cfg,
		log:         log,
		sink:        sink,
		instruments: byFeed,
		symbols:     symbols,
		ticks:       make(chan stampedTick, 1024),
		backoff: &backoff.Backoff{
			Min:    cfg.BackoffMin,
			Max:    cfg.BackoffMax,
			Factor: 2,
			Jitter: true,
		},
		now: time.Now,
	}
	s.status.State = StateIdle
	if len(sources) > 0 {
		s.status.Source = sources[0].Name()
	}
	return s
}

func (s *Supervisor) logEntry() *logrus.Entry {
	s.mu.Lock()
	src, gen := s.status.Source, s.status.Generation
	s.mu.Unlock()
	return s.log.WithComponent("feed").WithFields(logrus.Fields{"source": src, "generation": gen})
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	changed := s.status.State != state
	s.status.State = state
	s.mu.Unlock()
	if changed {
		metrics.SetFeedState(string(state), allStates)
		s.logEntry().WithField("state", state).Debug("Смена состояния фида.")
	}
}

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.sources) == 0 {
		return errors.New("не настроено ни одного источника котировок")
	}
	defer s.setState(StateIdle)

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.mu.Lock()
		src := s.sources[s.index]
		s.status.Generation++
		s.status.Source = src.Name()
		gen := s.status.Generation
		s.mu.Unlock()

		s.setState(StateConnecting)
		err := s.connect(ctx, src, gen)
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateDegraded)
		s.recordFailure(src, err)

		wait := s.backoff.Duration()
		s.logEntry().WithError(err).WithField("retry_in", wait.String()).Warn("Поток котировок прерван, переподключение.")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Supervisor) recordFailure(src Source, err error) {
	metrics.FeedReconnects.WithLabelValues(src.Name()).Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.status.Failures++
	if s.cfg.FailoverAfter > 0 && s.status.Failures >= s.cfg.FailoverAfter && len(s.sources) > 1 {
		s.index = (s.index + 1) % len(s.sources)
		s.status.Failures = 0
		s.backoff.Reset()
		s.log.WithComponent("feed").WithFields(logrus.Fields{
			"from": src.Name(),
			"to":   s.sources[s.index].Name(),
		}).Warn("Переключение на резервный источник котировок.")
	}
}

// connect runs one connection until it fails, goes silent or ctx ends.
func (s *Supervisor) connect(ctx context.Context, src Source, gen uint64) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	emit := func(raw RawTick) {
		select {
		case s.ticks <- stampedTick{gen: gen, raw: raw}:
		case <-connCtx.Done():
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Stream(connCtx, s.symbols, emit)
	}()

	stale := time.NewTimer(s.cfg.StaleAfter)
	defer stale.Stop()
	streaming := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err == nil {
				err = ErrStreamClosed
			}
			return err
		case <-stale.C:
			return ErrStale
		case st := <-s.ticks:
			if st.gen != gen {
				continue
			}
			tick, ok := s.normalize(st.raw)
			if !ok {
				continue
			}
			stale.Reset(s.cfg.StaleAfter)
			s.mu.Lock()
			s.status.LastTick = tick.Timestamp
			if !streaming {
				s.status.Failures = 0
				s.status.LastError = ""
			}
			s.mu.Unlock()
			if !streaming {
				streaming = true
				s.backoff.Reset()
				s.setState(StateStreaming)
				s.logEntry().Info("Поток котировок активен.")
			}
			s.sink(tick)
		}
	}
}

func (s *Supervisor) normalize(raw RawTick) (models.Tick, bool) {
	inst, ok := s.instruments[raw.Symbol]
	if !ok {
		return models.Tick{}, false
	}
	return Normalize(raw, inst, s.now())
}
