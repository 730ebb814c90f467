package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"mealchat/internal/auth"
	"mealchat/internal/chat"
	"mealchat/internal/hub"
	"mealchat/internal/models"
	"mealchat/internal/presence"
	"mealchat/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	router   http.Handler
	admin    http.Handler
	store    *storage.BboltStorage
	hub      *hub.Hub
	presence *presence.Tracker
	tokens   *auth.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	tracker := presence.NewTracker(presence.NewMemoryStore(ctx, time.Minute), 30*time.Second, zap.NewNop())
	h := hub.New(hub.Config{
		Log:           chat.New(chat.Config{Store: store}),
		Conversations: store,
		Presence:      tracker,
	})
	tokens, err := auth.NewTokenService(auth.Config{Secret: "api-test"})
	require.NoError(t, err)

	a := New(h, tracker, store, zap.NewNop())
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(tokens.Middleware)
		a.Routes(r, nil)
	})

	admin := chi.NewRouter()
	NewAdminHandler(h, tokens, zap.NewNop()).Routes(admin)

	t.Cleanup(func() {
		h.Close()
		cancel()
		_ = store.Close()
	})

	return &testEnv{
		router:   r,
		admin:    admin,
		store:    store,
		hub:      h,
		presence: tracker,
		tokens:   tokens,
	}
}

func (e *testEnv) token(t *testing.T, p models.Participant) string {
	t.Helper()
	token, _, err := e.tokens.Issue(p)
	require.NoError(t, err)
	return token
}

func do(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req = httptest.NewRequest(method, path, &buf)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

var (
	subject = models.Participant{ID: "subj-1", Role: models.RoleSubject, DisplayName: "Sam"}
	staff   = models.Participant{ID: "staff-1", Role: models.RoleStaff, DisplayName: "Lee"}
)

func TestAPI_Messages(t *testing.T) {
	env := newTestEnv(t)
	subjectToken := env.token(t, subject)
	staffToken := env.token(t, staff)

	rec := do(t, env.router, http.MethodPost, "/api/conversations/subj-1/messages", subjectToken, SendMessageRequest{Body: "Hello"})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode[models.Message](t, rec)
	require.Equal(t, int64(1), msg.Seq)
	require.Equal(t, models.RoleSubject, msg.SenderRole)

	rec = do(t, env.router, http.MethodPost, "/api/conversations/subj-1/messages", staffToken, SendMessageRequest{Body: "Hi Sam"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, env.router, http.MethodGet, "/api/conversations/subj-1/messages?since=1", staffToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := decode[[]models.Message](t, rec)
	require.Len(t, msgs, 1)
	require.Equal(t, "Hi Sam", msgs[0].Body)

	rec = do(t, env.router, http.MethodGet, "/api/conversations/subj-1/messages?since=0&limit=1", subjectToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]models.Message](t, rec), 1)

	rec = do(t, env.router, http.MethodGet, "/api/conversations/nobody/messages", staffToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "[]\n", rec.Body.String())
}

func TestAPI_Errors(t *testing.T) {
	env := newTestEnv(t)
	subjectToken := env.token(t, subject)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"No token", http.MethodGet, "/api/conversations/subj-1/messages", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"Empty body", http.MethodPost, "/api/conversations/subj-1/messages", subjectToken, SendMessageRequest{Body: "  "}, http.StatusBadRequest, "invalid_input"},
		{"Foreign conversation", http.MethodPost, "/api/conversations/subj-2/messages", subjectToken, SendMessageRequest{Body: "hi"}, http.StatusForbidden, "forbidden"},
		{"Bad cursor", http.MethodGet, "/api/conversations/subj-1/messages?since=abc", subjectToken, nil, http.StatusBadRequest, "invalid_input"},
		{"Negative limit", http.MethodGet, "/api/conversations/subj-1/messages?limit=-1", subjectToken, nil, http.StatusBadRequest, "invalid_input"},
		{"Subject toggles responder", http.MethodPut, "/api/conversations/subj-1/responder", subjectToken, ResponderRequest{Enabled: true}, http.StatusForbidden, "forbidden"},
		{"Incomplete push subscription", http.MethodPost, "/api/push-subscriptions", subjectToken, PushSubscriptionRequest{Endpoint: "https://push"}, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, env.router, tt.method, tt.path, tt.token, tt.body)
			require.Equal(t, tt.status, rec.Code)
			require.Equal(t, tt.code, decode[errorBody](t, rec).Error.Code)
		})
	}

	t.Run("Malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/conversations/subj-1/messages", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+subjectToken)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWriteError_Internal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(zap.NewNop(), rec, req, errors.New("disk on fire"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[errorBody](t, rec)
	require.Equal(t, "internal", body.Error.Code)
	require.NotContains(t, body.Error.Message, "disk")
}

func TestAPI_TypingAndRead(t *testing.T) {
	env := newTestEnv(t)
	subjectToken := env.token(t, subject)
	staffToken := env.token(t, staff)

	rec := do(t, env.router, http.MethodPost, "/api/conversations/subj-1/typing", staffToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, env.hub.IsTyping("subj-1", models.RoleStaff))

	stop := false
	rec = do(t, env.router, http.MethodPost, "/api/conversations/subj-1/typing", staffToken, TypingRequest{Typing: &stop})
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, env.hub.IsTyping("subj-1", models.RoleStaff))

	for _, body := range []string{"one", "two"} {
		rec = do(t, env.router, http.MethodPost, "/api/conversations/subj-1/messages", subjectToken, SendMessageRequest{Body: body})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = do(t, env.router, http.MethodPost, "/api/conversations/subj-1/read", staffToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{1, 2}, decode[ReadResponse](t, rec).Seqs)

	rec = do(t, env.router, http.MethodPost, "/api/conversations/subj-1/read", staffToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int64{}, decode[ReadResponse](t, rec).Seqs)
}

func TestAPI_Responder(t *testing.T) {
	env := newTestEnv(t)
	staffToken := env.token(t, staff)

	rec := do(t, env.router, http.MethodPut, "/api/conversations/subj-1/responder", staffToken, ResponderRequest{Enabled: true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[models.Conversation](t, rec).ResponderEnabled)

	rec = do(t, env.router, http.MethodGet, "/api/conversations/subj-1", env.token(t, subject), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[models.Conversation](t, rec)
	require.Equal(t, "subj-1", conv.ID)
	require.True(t, conv.ResponderEnabled)
}

func TestAPI_Presence(t *testing.T) {
	env := newTestEnv(t)
	staffToken := env.token(t, staff)
	subjectToken := env.token(t, subject)

	rec := do(t, env.router, http.MethodGet, "/api/presence/staff-1", subjectToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, PresenceResponse{ParticipantID: "staff-1"}, decode[PresenceResponse](t, rec))

	rec = do(t, env.router, http.MethodPost, "/api/presence/heartbeat", staffToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, env.router, http.MethodGet, "/api/presence/staff-1", subjectToken, nil)
	got := decode[PresenceResponse](t, rec)
	require.True(t, got.Online)
	require.NotZero(t, got.LastSeen)

	rec = do(t, env.router, http.MethodDelete, "/api/presence", staffToken, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.False(t, env.presence.IsOnline(context.Background(), "staff-1"))
}

func TestAPI_PushSubscription(t *testing.T) {
	env := newTestEnv(t)

	var req PushSubscriptionRequest
	req.Endpoint = "https://push.example.com/abc"
	req.Keys.Auth = "auth-secret"
	req.Keys.P256dh = "client-key"

	rec := do(t, env.router, http.MethodPost, "/api/push-subscriptions", env.token(t, staff), req)
	require.Equal(t, http.StatusCreated, rec.Code)

	subs, err := env.store.ListPushSubscriptions(context.Background(), "staff-1")
	require.NoError(t, err)
	require.Equal(t, []models.PushSubscription{{
		ParticipantID: "staff-1",
		Endpoint:      "https://push.example.com/abc",
		Auth:          "auth-secret",
		P256dh:        "client-key",
	}}, subs)
}

func TestAdmin(t *testing.T) {
	env := newTestEnv(t)

	rec := do(t, env.admin, http.MethodPut, "/admin/conversations/subj-1/responder", "", ResponderRequest{Enabled: true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[models.Conversation](t, rec).ResponderEnabled)

	rec = do(t, env.admin, http.MethodGet, "/admin/conversations/subj-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[models.Conversation](t, rec).ResponderEnabled)

	t.Run("IssueToken", func(t *testing.T) {
		rec := do(t, env.admin, http.MethodPost, "/admin/tokens", "", IssueTokenRequest{
			ParticipantID: "subj-9",
			Role:          "subject",
			DisplayName:   "Nine",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[IssueTokenResponse](t, rec)
		require.True(t, resp.Success)

		p, err := env.tokens.Participant(resp.Token)
		require.NoError(t, err)
		require.Equal(t, models.Participant{ID: "subj-9", Role: models.RoleSubject, DisplayName: "Nine"}, p)

		// The issued token works against the API
		rec = do(t, env.router, http.MethodPost, "/api/conversations/subj-9/messages", resp.Token, SendMessageRequest{Body: "hi"})
		require.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("IssueToken_Invalid", func(t *testing.T) {
		for _, req := range []IssueTokenRequest{
			{ParticipantID: "bot", Role: "responder"},
			{ParticipantID: "x", Role: "admin"},
			{Role: "staff"},
		} {
			rec := do(t, env.admin, http.MethodPost, "/admin/tokens", "", req)
			require.Equal(t, http.StatusBadRequest, rec.Code, "%+v", req)
		}
	})
}
