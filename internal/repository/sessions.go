package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/models"
)

// SessionsRepository persists camera sessions.
type SessionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSessionsRepository(db *sql.DB, logger *zap.Logger) *SessionsRepository {
	return &SessionsRepository{db: db, logger: logger}
}

// Create inserts a new open session row.
func (r *SessionsRepository) Create(ctx context.Context, id string, startTime time.Time) error {
	if id == "" {
		return ErrSessionNotFound
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, start_time) VALUES ($1, $2)`,
		id, startTime,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// End sets end_time exactly once. It reports true when this call closed the
// session, false when the session was already closed. An unknown id yields
// ErrSessionNotFound. end_time, once set, is never overwritten.
func (r *SessionsRepository) End(ctx context.Context, id string, endTime time.Time) (bool, error) {
	if id == "" {
		return false, ErrSessionNotFound
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET end_time = $2 WHERE id = $1 AND end_time IS NULL`,
		id, endTime,
	)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Nothing updated: either already ended or unknown.
	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return false, ErrSessionNotFound
	}
	return false, nil
}

// Get returns one session row.
func (r *SessionsRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	var s models.Session
	var endTime sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, start_time, end_time, total_events, total_duration_seconds
		 FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.StartTime, &endTime, &s.TotalEvents, &s.TotalDurationSeconds)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	return &s, nil
}

// ListOpenIDs returns ids of all sessions whose end_time is still null, used
// by the staleness sweeper and by connect-time reconciliation.
func (r *SessionsRepository) ListOpenIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE end_time IS NULL ORDER BY start_time`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	return ids, nil
}

// List returns all sessions, newest first.
func (r *SessionsRepository) List(ctx context.Context) ([]models.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, start_time, end_time, total_events, total_duration_seconds
		 FROM sessions ORDER BY start_time DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		var endTime sql.NullTime
		if err := rows.Scan(&s.ID, &s.StartTime, &endTime, &s.TotalEvents, &s.TotalDurationSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if endTime.Valid {
			s.EndTime = &endTime.Time
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}
