package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"DROWSY_DETECTOR/go-backend/internal/config"
	"DROWSY_DETECTOR/go-backend/internal/models"
	"DROWSY_DETECTOR/go-backend/internal/repository"
	"DROWSY_DETECTOR/go-backend/internal/services"
	"DROWSY_DETECTOR/go-backend/internal/session"
)

// Handler carries the dependencies of the HTTP API surface.
type Handler struct {
	cfg      *config.Config
	db       *sql.DB
	users    *repository.UsersRepository
	events   *repository.EventsRepository
	sessions *repository.SessionsRepository
	manager  *session.Manager
	metrics  *services.Metrics
	source   *services.HTTPSignalSource
	logger   *zap.Logger
	auth     *authSessions
	hub      *Hub
}

func New(
	cfg *config.Config,
	db *sql.DB,
	users *repository.UsersRepository,
	events *repository.EventsRepository,
	sessions *repository.SessionsRepository,
	manager *session.Manager,
	metrics *services.Metrics,
	source *services.HTTPSignalSource,
	hub *Hub,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		cfg:      cfg,
		db:       db,
		users:    users,
		events:   events,
		sessions: sessions,
		manager:  manager,
		metrics:  metrics,
		source:   source,
		logger:   logger,
		auth:     newAuthSessions(),
		hub:      hub,
	}
}

// Routes builds the full router: auth, dashboard API, operational endpoints
// and the WebSocket frame ingress.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.corsMiddleware)

	r.Post("/api/register", h.Register)
	r.Post("/api/login", h.Login)
	r.Post("/api/logout", h.Logout)
	r.Get("/api/me", h.GetCurrentUser)

	r.Get("/api/health", h.Health)
	r.Get("/api/db-status", h.DBStatus)
	r.Get("/api/metrics", h.GetMetrics)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/api/events", h.GetEvents)
		r.Post("/api/events/add", h.AddEvent)
		r.Get("/api/sessions", h.GetSessions)
		r.Get("/api/stats", h.GetStats)
		r.Post("/api/session/start", h.StartSession)
		r.Post("/api/session/end", h.EndSession)
		r.Get("/api/session/runtime", h.SessionRuntime)
		r.Post("/api/detection/toggle-model", h.ToggleDetectionMethod)
		r.Post("/api/logs/reset", h.ResetLogs)
	})

	r.Get("/ws", h.hub.HandleWebSocket)

	return r
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.cfg.CORSOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// dayBounds returns the local-day window containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(h.metrics.Uptime().Seconds()),
	})
}

func (h *Handler) DBStatus(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Error("database ping failed", zap.Error(err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":        int64(h.metrics.Uptime().Seconds()),
		"total_frames":          h.metrics.GetTotalFrames(),
		"total_errors":          h.metrics.GetTotalErrors(),
		"dropped_frames":        h.metrics.GetDroppedFrames(),
		"alerts_started":        h.metrics.GetAlertsStarted(),
		"events_logged":         h.metrics.GetEventsLogged(),
		"avg_latency_ms":        h.metrics.GetAvgLatency(),
		"last_frame_time":       h.metrics.GetLastFrameTime(),
		"websocket_connections": h.metrics.GetWebSocketConnections(),
		"websocket_messages":    h.metrics.GetWebSocketMessages(),
		"websocket_errors":      h.metrics.GetWebSocketErrors(),
	})
}

// GetEvents lists logged episodes. Filters: ?start_date=YYYY-MM-DD with
// end_date (inclusive range), or ?days=N for a trailing window (default 7).
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	var filters repository.EventFilters

	startStr := r.URL.Query().Get("start_date")
	endStr := r.URL.Query().Get("end_date")
	if startStr != "" && endStr != "" {
		start, err := time.ParseInLocation("2006-01-02", startStr, time.Local)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid start_date, expected YYYY-MM-DD")
			return
		}
		end, err := time.ParseInLocation("2006-01-02", endStr, time.Local)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid end_date, expected YYYY-MM-DD")
			return
		}
		// The end date is inclusive: extend to the end of that day.
		end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		if end.Before(start) {
			respondError(w, http.StatusBadRequest, "end_date must not be before start_date")
			return
		}
		filters.Start = &start
		filters.End = &end
	} else if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days < 1 {
			respondError(w, http.StatusBadRequest, "Invalid days parameter")
			return
		}
		filters.DaysBack = days
	}

	events, err := h.events.Query(r.Context(), filters)
	if err != nil {
		h.logger.Error("failed to query events", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to query events")
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}

// AddEvent logs an episode against the current session. Used by the dashboard
// for manual entries; live detection logs through the frame pipeline instead.
func (h *Handler) AddEvent(w http.ResponseWriter, r *http.Request) {
	var req models.AddEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	id, err := h.events.Log(r.Context(), req.EARValue, req.DurationSeconds, h.manager.Current(), time.Now())
	switch {
	case errors.Is(err, repository.ErrNoActiveSession):
		respondError(w, http.StatusConflict, "No active session")
		return
	case errors.Is(err, repository.ErrInvalidDuration):
		respondError(w, http.StatusBadRequest, "Duration must be positive")
		return
	case errors.Is(err, repository.ErrSessionNotFound):
		respondError(w, http.StatusConflict, "Session no longer exists")
		return
	case err != nil:
		h.logger.Error("failed to add event", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to add event")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	dayStart, dayEnd := dayBounds(now)
	stats, err := h.events.Stats(r.Context(), now, dayStart, dayEnd)
	if err != nil {
		h.logger.Error("failed to compute stats", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.manager.Start(r.Context())
	if err != nil {
		h.logger.Error("failed to start session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// EndSession ends the session named in the body, or the current one when the
// body names none. Ending an already-ended session reports success; only
// unknown ids get a 404.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	id := req.SessionID
	if id == "" {
		id = h.manager.Current()
	}
	if id == "" {
		respondJSON(w, http.StatusOK, map[string]interface{}{"ended": false, "message": "No active session"})
		return
	}

	ok, err := h.manager.End(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to end session", zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to end session")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"ended": true, "session_id": id})
}

// SessionRuntime reports how long the current session has been running, plus
// today's totals so the dashboard can render both from one call.
func (h *Handler) SessionRuntime(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	dayStart, dayEnd := dayBounds(now)
	stats, err := h.events.Stats(r.Context(), now, dayStart, dayEnd)
	if err != nil {
		h.logger.Error("failed to compute today's stats", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to compute runtime")
		return
	}

	id := h.manager.Current()
	if id == "" {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"active":          false,
			"runtime_seconds": 0,
			"today_stats":     stats.Today,
		})
		return
	}

	age, err := h.manager.Age(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to compute session runtime",
			zap.String("session_id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to compute runtime")
		return
	}
	// The active session may not be counted into session_time yet.
	if age.Seconds() > stats.Today.SessionTime {
		stats.Today.SessionTime = age.Seconds()
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":          true,
		"session_id":      id,
		"runtime_seconds": age.Seconds(),
		"today_stats":     stats.Today,
	})
}

// ToggleDetectionMethod flips between the eye state model and the EAR
// fallback at runtime and reports which method is now active.
func (h *Handler) ToggleDetectionMethod(w http.ResponseWriter, r *http.Request) {
	useModel := h.source.ToggleEyeModel()
	method := models.MethodEAR
	if useModel {
		method = models.MethodModel
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"use_eye_model": useModel,
		"method":        method,
	})
}

// ResetLogs wipes today's events and sessions after closing everything open.
func (h *Handler) ResetLogs(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	dayStart, dayEnd := dayBounds(now)
	if err := h.events.ResetDay(r.Context(), now, dayStart, dayEnd); err != nil {
		h.logger.Error("failed to reset logs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to reset logs")
		return
	}
	// The reset closed every open session behind the manager's back.
	h.manager.ClearCurrent()
	respondJSON(w, http.StatusOK, map[string]string{"message": "Today's logs cleared"})
}
