package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mealchat/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

const DefaultTokenExpiry = 12 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload identifying a participant.
type Claims struct {
	Role models.Role `json:"role"`
	Name string      `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret      string
	TokenExpiry time.Duration
}

// TokenService issues and validates participant tokens signed with HS256.
type TokenService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokenService(config Config) (*TokenService, error) {
	if config.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if config.TokenExpiry <= 0 {
		config.TokenExpiry = DefaultTokenExpiry
	}
	return &TokenService{
		secret: []byte(config.Secret),
		expiry: config.TokenExpiry,
		now:    time.Now,
	}, nil
}

// Issue signs a token for the participant. The responder role cannot hold a token.
func (s *TokenService) Issue(p models.Participant) (string, time.Time, error) {
	if p.ID == "" {
		return "", time.Time{}, fmt.Errorf("%w: participant id is required", models.ErrInvalidInput)
	}
	if p.Role != models.RoleSubject && p.Role != models.RoleStaff {
		return "", time.Time{}, fmt.Errorf("%w: role %q cannot sign in", models.ErrInvalidInput, p.Role)
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: p.Role,
		Name: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Participant validates the token and returns who it belongs to.
func (s *TokenService) Participant(tokenString string) (models.Participant, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Participant{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return models.Participant{}, ErrInvalidToken
	}
	if claims.Role != models.RoleSubject && claims.Role != models.RoleStaff {
		return models.Participant{}, fmt.Errorf("%w: role %q", ErrInvalidToken, claims.Role)
	}
	return models.Participant{
		ID:          claims.Subject,
		Role:        claims.Role,
		DisplayName: claims.Name,
	}, nil
}

type contextKey struct{}

func WithParticipant(ctx context.Context, p models.Participant) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the participant put there by Middleware.
func FromContext(ctx context.Context) (models.Participant, bool) {
	p, ok := ctx.Value(contextKey{}).(models.Participant)
	return p, ok
}

// TokenFromRequest reads a bearer token, falling back to the token query parameter
// that browsers have to use for WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Middleware rejects requests without a valid token and stores the participant
// in the request context.
func (s *TokenService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := TokenFromRequest(r)
		if token == "" {
			unauthorized(w, "missing authentication token")
			return
		}
		p, err := s.Participant(token)
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithParticipant(r.Context(), p)))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, `{"error":{"code":"unauthorized","message":%q}}`, message)
}
