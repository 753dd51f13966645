package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/models"
	"DROWSY_DETECTOR/go-backend/internal/repository"
)

// Store is the session persistence surface the manager needs.
type Store interface {
	Create(ctx context.Context, id string, startTime time.Time) error
	End(ctx context.Context, id string, endTime time.Time) (bool, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	ListOpenIDs(ctx context.Context) ([]string, error)
}

// Manager owns the lifecycle of camera sessions and the process-wide pointer
// to the session currently receiving events. All lifecycle mutations are
// serialized behind one mutex, so concurrent starts, stops, sweeper closes
// and disconnect teardowns cannot race on the pointer or double-write
// end_time.
type Manager struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	current string
}

func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Start opens a fresh session and makes it current. Any previous current
// session and any dangling open sessions found in storage are ended first, so
// at most one session is ever open.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if m.current != "" {
		if _, err := m.endLocked(ctx, m.current, now); err != nil {
			m.logger.Warn("failed to end previous session",
				zap.String("session_id", m.current), zap.Error(err))
		}
	}

	// Crash-restart can leave orphan open rows; close them defensively.
	open, err := m.store.ListOpenIDs(ctx)
	if err != nil {
		m.logger.Warn("failed to list open sessions during start", zap.Error(err))
	}
	for _, id := range open {
		if id == m.current {
			continue
		}
		if _, err := m.endLocked(ctx, id, now); err != nil {
			m.logger.Warn("failed to close dangling session",
				zap.String("session_id", id), zap.Error(err))
		}
	}

	id := uuid.New().String()
	if err := m.store.Create(ctx, id, now); err != nil {
		return "", err
	}
	m.current = id

	m.logger.Info("started session",
		zap.String("session_id", id), zap.Time("start_time", now))
	return id, nil
}

// End closes a session idempotently. It returns true when the session is
// ended after the call (whether this call closed it or it was already
// closed), and false for an unknown id. Ending never returns an error for
// already-closed or unknown sessions; only storage failures propagate.
func (m *Manager) End(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endLocked(ctx, id, m.now())
}

func (m *Manager) endLocked(ctx context.Context, id string, now time.Time) (bool, error) {
	ended, err := m.store.End(ctx, id, now)
	if errors.Is(err, repository.ErrSessionNotFound) {
		m.logger.Warn("cannot end session, id not found", zap.String("session_id", id))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if m.current == id {
		m.current = ""
	}

	if ended {
		if s, gerr := m.store.Get(ctx, id); gerr == nil && s.EndTime != nil {
			m.logger.Info("ended session",
				zap.String("session_id", id),
				zap.Duration("duration", m.clampAge(s.EndTime.Sub(s.StartTime), id)))
		}
	} else {
		m.logger.Debug("session already ended", zap.String("session_id", id))
	}
	return true, nil
}

// Current returns the id of the session currently receiving events, or ""
// when none is active.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Age returns how long a session has run: now minus start for an open
// session, end minus start for a closed one. Negative spans from clock skew
// are clamped to zero.
func (m *Manager) Age(ctx context.Context, id string) (time.Duration, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	var age time.Duration
	if s.EndTime != nil {
		age = s.EndTime.Sub(s.StartTime)
	} else {
		age = m.now().Sub(s.StartTime)
	}
	return m.clampAge(age, id), nil
}

func (m *Manager) clampAge(age time.Duration, id string) time.Duration {
	if age < 0 {
		m.logger.Warn("negative session age, clock skew suspected",
			zap.String("session_id", id), zap.Duration("age", age))
		return 0
	}
	return age
}

// ClearCurrent drops the current-session pointer without touching storage.
// Used after bulk operations that closed sessions directly in the database.
func (m *Manager) ClearCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ""
}

// ListOpen returns every session id with no end_time.
func (m *Manager) ListOpen(ctx context.Context) ([]string, error) {
	return m.store.ListOpenIDs(ctx)
}

// ReconcileDangling ends all open sessions. Called when a client connects,
// before any new session starts, to clean up after ungraceful disconnects.
func (m *Manager) ReconcileDangling(ctx context.Context) error {
	open, err := m.store.ListOpenIDs(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range open {
		if _, err := m.endLocked(ctx, id, m.now()); err != nil {
			return err
		}
		m.logger.Info("ended dangling session on connect", zap.String("session_id", id))
	}
	return nil
}
