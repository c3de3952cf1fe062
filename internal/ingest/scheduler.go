package ingest

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultRefreshInterval  = 3 * time.Hour
	RawPayloadRetentionDays = 30
)

// PayloadCleaner drops old raw payloads. *store.Store satisfies it.
type PayloadCleaner interface {
	CleanupOldRawPayloads(retentionDays int) (int64, error)
}

type Scheduler struct {
	refresher *Refresher
	interval  time.Duration
	onRefresh func(ctx context.Context)
	cleaner   PayloadCleaner
	logger    *slog.Logger
}

func NewScheduler(refresher *Refresher, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
	}
}

// OnRefresh registers a hook run after every tick, whether or not the fetch
// succeeded. The cached history is still usable after a failed fetch.
func (s *Scheduler) OnRefresh(fn func(ctx context.Context)) {
	s.onRefresh = fn
}

// SetPayloadCleaner enables daily pruning of stored raw payloads.
func (s *Scheduler) SetPayloadCleaner(c PayloadCleaner) {
	s.cleaner = c
}

func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)
	s.cleanup()

	ticker := time.NewTicker(s.interval)
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-cleanupTicker.C:
			s.cleanup()
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	// Refresh errors are already logged and counted.
	_, _ = s.refresher.Refresh(ctx)
	if s.onRefresh != nil && ctx.Err() == nil {
		s.onRefresh(ctx)
	}
}

func (s *Scheduler) cleanup() {
	if s.cleaner == nil {
		return
	}
	n, err := s.cleaner.CleanupOldRawPayloads(RawPayloadRetentionDays)
	if err != nil {
		s.logger.Warn("cleanup raw payloads", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("cleaned up raw payloads", "deleted", n)
	}
}
