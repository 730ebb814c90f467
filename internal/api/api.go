package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"mealchat/internal/auth"
	"mealchat/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodySize = 64 << 10

type Hub interface {
	Send(ctx context.Context, conversationID string, sender models.Participant, body string) (models.Message, error)
	ListSince(ctx context.Context, participant models.Participant, conversationID string, cursor int64, limit int) ([]models.Message, error)
	SetTyping(participant models.Participant, conversationID string) error
	ClearTyping(participant models.Participant, conversationID string) error
	MarkRead(ctx context.Context, participant models.Participant, conversationID string) ([]int64, error)
	SetResponderEnabled(ctx context.Context, participant models.Participant, conversationID string, enabled bool) (models.Conversation, error)
	Conversation(ctx context.Context, participant models.Participant, conversationID string) (models.Conversation, error)
}

type Presence interface {
	Heartbeat(ctx context.Context, participantID string) error
	MarkOffline(ctx context.Context, participantID string)
	IsOnline(ctx context.Context, participantID string) bool
	LastSeen(ctx context.Context, participantID string) (time.Time, bool)
}

type PushSubscriptions interface {
	SavePushSubscription(ctx context.Context, sub models.PushSubscription) error
}

type API struct {
	hub      Hub
	presence Presence
	push     PushSubscriptions
	logger   *zap.Logger
}

func New(hub Hub, presence Presence, push PushSubscriptions, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{hub: hub, presence: presence, push: push, logger: logger}
}

// Routes registers the authenticated API endpoints. stream serves the conversation
// WebSocket when set.
func (a *API) Routes(r chi.Router, stream http.HandlerFunc) {
	r.Route("/api/conversations/{id}", func(r chi.Router) {
		r.Get("/", a.ConversationHandler)
		if stream != nil {
			r.Get("/stream", stream)
		}
		r.Post("/messages", a.SendMessageHandler)
		r.Get("/messages", a.ListMessagesHandler)
		r.Post("/typing", a.TypingHandler)
		r.Post("/read", a.ReadHandler)
		r.Put("/responder", a.ResponderHandler)
	})
	r.Post("/api/presence/heartbeat", a.HeartbeatHandler)
	r.Delete("/api/presence", a.OfflineHandler)
	r.Get("/api/presence/{participantID}", a.PresenceHandler)
	r.Post("/api/push-subscriptions", a.PushSubscriptionHandler)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorStatus(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// writeError maps domain errors to HTTP statuses. Anything unknown is a 500 and
// its details stay in the log.
func writeError(logger *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		writeErrorStatus(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, models.ErrForbidden):
		writeErrorStatus(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeErrorStatus(w, http.StatusNotFound, "not_found", err.Error())
	default:
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorStatus(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		return errors.Join(models.ErrInvalidInput, err)
	}
	return nil
}

func participant(r *http.Request) models.Participant {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (a *API) ConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := a.hub.Conversation(r.Context(), participant(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type SendMessageRequest struct {
	Body string `json:"body"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(a.logger, w, r, err)
		return
	}

	msg, err := a.hub.Send(r.Context(), chi.URLParam(r, "id"), participant(r), req.Body)
	if err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func queryInt(r *http.Request, key string) (int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Join(models.ErrInvalidInput, errors.New("invalid "+key))
	}
	return n, nil
}

func (a *API) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	since, err := queryInt(r, "since")
	if err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(a.logger, w, r, err)
		return
	}

	msgs, err := a.hub.ListSince(r.Context(), participant(r), chi.URLParam(r, "id"), since, int(limit))
	if err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type TypingRequest struct {
	Typing *bool `json:"typing,omitempty"` // Defaults to true
}

func (a *API) TypingHandler(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(a.logger, w, r, err)
			return
		}
	}

	var err error
	if req.Typing == nil || *req.Typing {
		err = a.hub.SetTyping(participant(r), chi.URLParam(r, "id"))
	} else {
		err = a.hub.ClearTyping(participant(r), chi.URLParam(r, "id"))
	}
	if err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ReadResponse struct {
	Seqs []int64 `json:"seqs"`
}

func (a *API) ReadHandler(w http.ResponseWriter, r *http.Request) {
	seqs, err := a.hub.MarkRead(r.Context(), participant(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	if seqs == nil {
		seqs = []int64{}
	}
	writeJSON(w, http.StatusOK, ReadResponse{Seqs: seqs})
}

type ResponderRequest struct {
	Enabled bool `json:"enabled"`
}

func (a *API) ResponderHandler(w http.ResponseWriter, r *http.Request) {
	var req ResponderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(a.logger, w, r, err)
		return
	}

	conv, err := a.hub.SetResponderEnabled(r.Context(), participant(r), chi.URLParam(r, "id"), req.Enabled)
	if err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (a *API) HeartbeatHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.presence.Heartbeat(r.Context(), participant(r).ID); err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) OfflineHandler(w http.ResponseWriter, r *http.Request) {
	a.presence.MarkOffline(r.Context(), participant(r).ID)
	w.WriteHeader(http.StatusNoContent)
}

type PresenceResponse struct {
	ParticipantID string `json:"participantId"`
	Online        bool   `json:"online"`
	LastSeen      int64  `json:"lastSeen,omitempty"` // Unix milliseconds
}

func (a *API) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "participantID")
	resp := PresenceResponse{
		ParticipantID: id,
		Online:        a.presence.IsOnline(r.Context(), id),
	}
	if at, ok := a.presence.LastSeen(r.Context(), id); ok {
		resp.LastSeen = at.UnixMilli()
	}
	writeJSON(w, http.StatusOK, resp)
}

// PushSubscriptionRequest mirrors the browser's PushSubscription.toJSON().
type PushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		Auth   string `json:"auth"`
		P256dh string `json:"p256dh"`
	} `json:"keys"`
}

func (a *API) PushSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	var req PushSubscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	if req.Endpoint == "" || req.Keys.Auth == "" || req.Keys.P256dh == "" {
		writeErrorStatus(w, http.StatusBadRequest, "invalid_input", "endpoint and keys are required")
		return
	}

	sub := models.PushSubscription{
		ParticipantID: participant(r).ID,
		Endpoint:      req.Endpoint,
		Auth:          req.Keys.Auth,
		P256dh:        req.Keys.P256dh,
	}
	if err := a.push.SavePushSubscription(r.Context(), sub); err != nil {
		writeError(a.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.APIResponse{Success: true})
}

func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "ok"})
}
