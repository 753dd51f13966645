package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/models"
)

// EventsRepository is the durable log of drowsiness episodes plus the
// aggregate statistics queries over them.
type EventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewEventsRepository(db *sql.DB, logger *zap.Logger) *EventsRepository {
	return &EventsRepository{db: db, logger: logger}
}

// EventFilters selects events by either an explicit [Start, End] range or a
// trailing DaysBack window. An explicit range takes precedence.
type EventFilters struct {
	DaysBack int
	Start    *time.Time
	End      *time.Time
}

// Log inserts one completed episode and bumps the owning session's aggregate
// counters in the same transaction, so an event is never counted without its
// session update or vice versa. The increment happens inside the UPDATE
// statement rather than as a read-modify-write in Go, so N concurrent logs
// against the same session always leave total_events raised by exactly N.
func (r *EventsRepository) Log(ctx context.Context, earValue, durationSeconds float64, sessionID string, at time.Time) (int64, error) {
	if sessionID == "" {
		return 0, ErrNoActiveSession
	}
	if durationSeconds <= 0 {
		return 0, ErrInvalidDuration
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO drowsiness_events (timestamp, ear_value, duration_seconds, session_id)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		at, earValue, durationSeconds, sessionID,
	).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert event: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions
		 SET total_events = total_events + 1,
		     total_duration_seconds = total_duration_seconds + $2
		 WHERE id = $1`,
		sessionID, durationSeconds,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update session totals: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to update session totals: %w", err)
	}
	if affected == 0 {
		return 0, ErrSessionNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event: %w", err)
	}

	r.logger.Debug("logged drowsiness event",
		zap.Int64("event_id", eventID),
		zap.String("session_id", sessionID),
		zap.Float64("duration_seconds", durationSeconds),
	)
	return eventID, nil
}

// Query returns events matching the filters, newest first.
func (r *EventsRepository) Query(ctx context.Context, f EventFilters) ([]models.Event, error) {
	query := `SELECT id, timestamp, ear_value, duration_seconds, session_id
	          FROM drowsiness_events WHERE `
	var args []interface{}

	if f.Start != nil && f.End != nil {
		query += `timestamp BETWEEN $1 AND $2`
		args = append(args, *f.Start, *f.End)
	} else {
		days := f.DaysBack
		if days <= 0 {
			days = 7
		}
		query += `timestamp >= $1`
		args = append(args, time.Now().AddDate(0, 0, -days))
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EARValue, &e.DurationSeconds, &e.SessionID); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

// Stats computes overall totals plus today's totals. The caller supplies the
// day boundaries and "now" so that open sessions contribute their running age
// to session_time and day logic stays under the caller's clock.
func (r *EventsRepository) Stats(ctx context.Context, now, dayStart, dayEnd time.Time) (*models.Stats, error) {
	var stats models.Stats

	var totalDuration, avgDuration sql.NullFloat64
	var firstEvent, lastEvent sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(duration_seconds), AVG(duration_seconds),
		        MIN(timestamp), MAX(timestamp)
		 FROM drowsiness_events`,
	).Scan(&stats.Overall.TotalEvents, &totalDuration, &avgDuration, &firstEvent, &lastEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to query overall stats: %w", err)
	}
	stats.Overall.TotalDuration = totalDuration.Float64
	stats.Overall.AvgDuration = avgDuration.Float64
	if firstEvent.Valid {
		stats.Overall.FirstEvent = &firstEvent.Time
	}
	if lastEvent.Valid {
		stats.Overall.LastEvent = &lastEvent.Time
	}

	var todayDuration sql.NullFloat64
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(duration_seconds)
		 FROM drowsiness_events
		 WHERE timestamp >= $1 AND timestamp < $2`,
		dayStart, dayEnd,
	).Scan(&stats.Today.Events, &todayDuration)
	if err != nil {
		return nil, fmt.Errorf("failed to query today's stats: %w", err)
	}
	stats.Today.Duration = todayDuration.Float64

	// Camera runtime across today's sessions; open sessions count up to now.
	var sessionTime sql.NullFloat64
	err = r.db.QueryRowContext(ctx,
		`SELECT SUM(EXTRACT(EPOCH FROM (COALESCE(end_time, $1::timestamptz) - start_time)))
		 FROM sessions
		 WHERE start_time >= $2 AND start_time < $3`,
		now, dayStart, dayEnd,
	).Scan(&sessionTime)
	if err != nil {
		return nil, fmt.Errorf("failed to query session time: %w", err)
	}
	if sessionTime.Float64 > 0 {
		stats.Today.SessionTime = sessionTime.Float64
	}

	return &stats, nil
}

// ResetDay closes every open session, then deletes today's events and today's
// sessions, in that order and in one transaction. Closing first avoids
// leaving a current-session pointer at a deleted open row.
func (r *EventsRepository) ResetDay(ctx context.Context, now, dayStart, dayEnd time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET end_time = $1 WHERE end_time IS NULL`, now,
	); err != nil {
		return fmt.Errorf("failed to close open sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM drowsiness_events WHERE timestamp >= $1 AND timestamp < $2`,
		dayStart, dayEnd,
	); err != nil {
		return fmt.Errorf("failed to delete today's events: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE start_time >= $1 AND start_time < $2`,
		dayStart, dayEnd,
	); err != nil {
		return fmt.Errorf("failed to delete today's sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}

	r.logger.Info("reset today's logs", zap.Time("day_start", dayStart))
	return nil
}
