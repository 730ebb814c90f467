package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mealchat/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *TokenService {
	t.Helper()
	s, err := NewTokenService(Config{Secret: "test-secret", TokenExpiry: time.Hour})
	require.NoError(t, err)
	return s
}

func TestTokenService_RoundTrip(t *testing.T) {
	s := newTestService(t)

	for _, p := range []models.Participant{
		{ID: "subj-1", Role: models.RoleSubject, DisplayName: "Sam"},
		{ID: "staff-1", Role: models.RoleStaff},
	} {
		token, expiresAt, err := s.Issue(p)
		require.NoError(t, err)
		require.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

		got, err := s.Participant(token)
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
}

func TestTokenService_Issue_Invalid(t *testing.T) {
	s := newTestService(t)

	tests := []struct {
		name string
		p    models.Participant
	}{
		{"Missing id", models.Participant{Role: models.RoleStaff}},
		{"Responder", models.Participant{ID: "bot", Role: models.RoleResponder}},
		{"Unknown role", models.Participant{ID: "x", Role: "admin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.Issue(tt.p)
			require.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestTokenService_Participant_Rejects(t *testing.T) {
	s := newTestService(t)
	other, err := NewTokenService(Config{Secret: "other-secret"})
	require.NoError(t, err)

	foreign, _, err := other.Issue(models.Participant{ID: "staff-1", Role: models.RoleStaff})
	require.NoError(t, err)

	expiredSvc := newTestService(t)
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiredSvc.Issue(models.Participant{ID: "staff-1", Role: models.RoleStaff})
	require.NoError(t, err)

	responder, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: models.RoleResponder,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bot",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role:             models.RoleStaff,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "staff-1"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"Garbage", "not-a-token"},
		{"Wrong secret", foreign},
		{"Expired", expired},
		{"Responder role", responder},
		{"No expiry", noExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Participant(tt.token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService(Config{})
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	s := newTestService(t)
	staff := models.Participant{ID: "staff-1", Role: models.RoleStaff, DisplayName: "Lee"}
	token, _, err := s.Issue(staff)
	require.NoError(t, err)

	var seen models.Participant
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = p
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"Bearer header", "Bearer " + token, "", http.StatusNoContent},
		{"Lowercase scheme", "bearer " + token, "", http.StatusNoContent},
		{"Query token", "", "?token=" + token, http.StatusNoContent},
		{"Missing", "", "", http.StatusUnauthorized},
		{"Wrong scheme", "Basic " + token, "", http.StatusUnauthorized},
		{"Invalid", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = models.Participant{}
			req := httptest.NewRequest(http.MethodGet, "/api/presence/x"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				require.Equal(t, staff, seen)
			} else {
				require.Contains(t, rec.Body.String(), `"unauthorized"`)
			}
		})
	}
}
