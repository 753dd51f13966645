package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidateEmail(t *testing.T) {
	assert.True(t, validateEmail("user@example.com"))
	assert.True(t, validateEmail("first.last+tag@sub.domain.org"))
	assert.False(t, validateEmail("not-an-email"))
	assert.False(t, validateEmail("missing@tld"))
	assert.False(t, validateEmail("@example.com"))
	assert.False(t, validateEmail(strings.Repeat("a", 250)+"@example.com"))
}

func TestValidatePassword(t *testing.T) {
	assert.True(t, validatePassword("secret1x"))
	assert.False(t, validatePassword("short1"), "under 8 characters")
	assert.False(t, validatePassword("lettersonly"), "no digit")
	assert.False(t, validatePassword("12345678"), "no letter")
	assert.False(t, validatePassword(strings.Repeat("a1", 40)), "over bcrypt's 72-byte limit")
}

func TestValidateUsername(t *testing.T) {
	assert.True(t, validateUsername("driver_01"))
	assert.False(t, validateUsername("ab"), "too short")
	assert.False(t, validateUsername("has space"))
	assert.False(t, validateUsername(strings.Repeat("x", 31)), "too long")
}

func TestAuthSessions_CreateLookupDrop(t *testing.T) {
	a := newAuthSessions()

	token := a.create(42)
	id, ok := a.lookup(token)
	require.True(t, ok)
	assert.Equal(t, 42, id)

	// A second login invalidates the first token for the same user.
	token2 := a.create(42)
	_, ok = a.lookup(token)
	assert.False(t, ok)
	_, ok = a.lookup(token2)
	assert.True(t, ok)

	a.drop(token2)
	_, ok = a.lookup(token2)
	assert.False(t, ok)
}

func TestRequireAuth_RejectsMissingAndUnknownCookies(t *testing.T) {
	h := &Handler{auth: newAuthSessions(), logger: zap.NewNop()}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	guarded := h.requireAuth(next)

	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "stale-token"})
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_PassesValidCookie(t *testing.T) {
	h := &Handler{auth: newAuthSessions(), logger: zap.NewNop()}
	token := h.auth.create(7)

	called := false
	guarded := h.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: token})
	guarded.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestRegister_RejectsInvalidInput(t *testing.T) {
	h := &Handler{auth: newAuthSessions(), logger: zap.NewNop()}

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing fields", `{"email":"a@b.com"}`},
		{"bad email", `{"email":"nope","username":"driver_01","password":"secret1x"}`},
		{"weak password", `{"email":"a@b.com","username":"driver_01","password":"short"}`},
		{"bad username", `{"email":"a@b.com","username":"x","password":"secret1x"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/register", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Register(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
