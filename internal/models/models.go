package models

import "time"

type User struct {
	ID           int       `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is one logical camera-capture run. EndTime stays nil while the
// session is open; TotalEvents/TotalDurationSeconds mirror the drowsiness
// events logged against it.
type Session struct {
	ID                   string     `json:"id"`
	StartTime            time.Time  `json:"start_time"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	TotalEvents          int        `json:"total_events"`
	TotalDurationSeconds float64    `json:"total_duration_seconds"`
}

// Open reports whether the session has not been ended yet.
func (s *Session) Open() bool {
	return s.EndTime == nil
}

// Event is one completed drowsiness episode, logged at the moment the eyes
// reopened.
type Event struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	EARValue        float64   `json:"ear_value"`
	DurationSeconds float64   `json:"duration_seconds"`
	SessionID       string    `json:"session_id"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AddEventRequest struct {
	EARValue        float64 `json:"ear_value"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type OverallStats struct {
	TotalEvents   int        `json:"total_events"`
	TotalDuration float64    `json:"total_duration"`
	AvgDuration   float64    `json:"avg_duration"`
	FirstEvent    *time.Time `json:"first_event"`
	LastEvent     *time.Time `json:"last_event"`
}

type TodayStats struct {
	Events      int     `json:"events"`
	Duration    float64 `json:"duration"`
	SessionTime float64 `json:"session_time"`
}

type Stats struct {
	Overall OverallStats `json:"overall"`
	Today   TodayStats   `json:"today"`
}
