package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"papertrader/internal/logger"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
)

// Cloud is a remote key-value snapshot store. Get returns ErrNoSnapshot when nothing is stored.
type Cloud interface {
	Name() string
	Get(ctx context.Context) (models.PersistedSnapshot, error)
	Set(ctx context.Context, snap models.PersistedSnapshot) error
}

// Syncer pushes snapshots to the cloud without blocking the caller. Only the newest
// pending snapshot is written; older ones still queued are dropped.
type Syncer struct {
	cloud   Cloud
	timeout time.Duration
	log     *logger.Logger

	seq     atomic.Uint64
	mu      sync.Mutex
	written uint64
	wg      sync.WaitGroup
}

func NewSyncer(cloud Cloud, timeout time.Duration, log *logger.Logger) *Syncer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Syncer{cloud: cloud, timeout: timeout, log: log}
}

func (s *Syncer) logEntry() *logrus.Entry {
	return s.log.WithComponent("cloud").WithField("target", s.cloud.Name())
}

// Push schedules a write and returns immediately.
func (s *Syncer) Push(snap models.PersistedSnapshot) {
	seq := s.seq.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.write(seq, snap)
	}()
}

func (s *Syncer) write(seq uint64, snap models.PersistedSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.written || seq < s.seq.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.cloud.Set(ctx, snap); err != nil {
		metrics.PersistWrites.WithLabelValues("cloud", "error").Inc()
		s.logEntry().WithError(err).Warn("Не удалось сохранить снапшот в облако.")
		return
	}
	s.written = seq
	metrics.PersistWrites.WithLabelValues("cloud", "ok").Inc()
	s.logEntry().WithField("seq", seq).Debug("Снапшот сохранён в облако.")
}

// Wait blocks until every scheduled write has finished or been dropped.
func (s *Syncer) Wait() {
	s.wg.Wait()
}
