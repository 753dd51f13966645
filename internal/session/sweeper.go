package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically closes sessions that have been open longer than
// maxAge, independent of frame traffic. It is the only component allowed to
// end a session purely because of elapsed time. A failed iteration shortens
// the next wait to retryInterval instead of crashing the loop; racing an
// explicit stop is harmless because ending is idempotent.
type Sweeper struct {
	manager       *Manager
	maxAge        time.Duration
	interval      time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

func NewSweeper(manager *Manager, maxAge, interval, retryInterval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		manager:       manager,
		maxAge:        maxAge,
		interval:      interval,
		retryInterval: retryInterval,
		logger:        logger,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("staleness sweeper stopped")
			return
		case <-timer.C:
			next := s.interval
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed, retrying sooner", zap.Error(err))
				next = s.retryInterval
			}
			timer.Reset(next)
		}
	}
}

// Sweep runs one pass: list open sessions and end every one older than
// maxAge.
func (s *Sweeper) Sweep(ctx context.Context) error {
	open, err := s.manager.ListOpen(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	s.logger.Debug("checking for stale sessions", zap.Int("open", len(open)))
	for _, id := range open {
		age, err := s.manager.Age(ctx, id)
		if err != nil {
			return err
		}
		if age <= s.maxAge {
			continue
		}
		s.logger.Info("closing stale session",
			zap.String("session_id", id),
			zap.Duration("age", age))
		if _, err := s.manager.End(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
