package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"DROWSY_DETECTOR/go-backend/internal/models"
	"DROWSY_DETECTOR/go-backend/internal/repository"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

func validateEmail(email string) bool {
	return emailRegex.MatchString(email) && len(email) <= 255
}

func validatePassword(password string) bool {
	if len(password) < 8 || len(password) > 72 {
		return false
	}
	hasLetter := false
	hasNumber := false
	for _, char := range password {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') {
			hasLetter = true
		}
		if char >= '0' && char <= '9' {
			hasNumber = true
		}
	}
	return hasLetter && hasNumber
}

func validateUsername(username string) bool {
	return len(username) >= 3 && len(username) <= 30 && usernameRegex.MatchString(username)
}

// authSessions maps cookie values to user ids. Login sessions live in memory
// only; a restart logs everyone out.
type authSessions struct {
	mu       sync.Mutex
	sessions map[string]int
}

func newAuthSessions() *authSessions {
	return &authSessions{sessions: make(map[string]int)}
}

func (a *authSessions) create(userID int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, id := range a.sessions {
		if id == userID {
			delete(a.sessions, key)
		}
	}
	token := fmt.Sprintf("%d-%s", userID, time.Now().Format("20060102150405.000000000"))
	a.sessions[token] = userID
	return token
}

func (a *authSessions) lookup(token string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.sessions[token]
	return id, ok
}

func (a *authSessions) drop(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, token)
}

func (h *Handler) userIDFromCookie(r *http.Request) (int, bool) {
	cookie, err := r.Cookie("session_id")
	if err != nil {
		return 0, false
	}
	return h.auth.lookup(cookie.Value)
}

// requireAuth guards the dashboard API routes.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.userIDFromCookie(r); !ok {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.Email == "" || req.Password == "" || req.Username == "" {
		respondError(w, http.StatusBadRequest, "All fields are required")
		return
	}
	if !validateEmail(req.Email) {
		respondError(w, http.StatusBadRequest, "Invalid email format")
		return
	}
	if !validatePassword(req.Password) {
		respondError(w, http.StatusBadRequest, "Password must be 8-72 characters with at least one letter and one number")
		return
	}
	if !validateUsername(req.Username) {
		respondError(w, http.StatusBadRequest, "Username must be 3-30 characters, alphanumeric and underscore only")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("password hashing failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	user, err := h.users.Create(r.Context(), req.Email, req.Username, string(hash))
	if errors.Is(err, repository.ErrUserExists) {
		respondError(w, http.StatusConflict, "User already exists")
		return
	}
	if err != nil {
		h.logger.Error("registration failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.logger.Info("user registered", zap.String("email", user.Email))
	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if errors.Is(err, repository.ErrUserNotFound) {
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if old, err := r.Cookie("session_id"); err == nil {
		h.auth.drop(old.Value)
	}

	token := h.auth.create(user.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     "session_id",
		Value:    token,
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("user logged in", zap.String("email", user.Email))
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("session_id"); err == nil {
		h.auth.drop(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "session_id",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userIDFromCookie(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load user", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondJSON(w, http.StatusOK, user)
}
