package api

import (
	"context"
	"net/http"
	"time"

	"mealchat/internal/models"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// adminActor is who the admin listener acts as. It is reachable from localhost only.
var adminActor = models.Participant{ID: "admin", Role: models.RoleStaff, DisplayName: "Admin"}

type TokenIssuer interface {
	Issue(p models.Participant) (string, time.Time, error)
}

type AdminHub interface {
	SetResponderEnabled(ctx context.Context, participant models.Participant, conversationID string, enabled bool) (models.Conversation, error)
	Conversation(ctx context.Context, participant models.Participant, conversationID string) (models.Conversation, error)
}

type AdminHandler struct {
	hub    AdminHub
	tokens TokenIssuer
	logger *zap.Logger
}

func NewAdminHandler(hub AdminHub, tokens TokenIssuer, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		hub:    hub,
		tokens: tokens,
		logger: logger,
	}
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/admin/conversations/{id}", h.GetConversationHandler)
	r.Put("/admin/conversations/{id}/responder", h.SetResponderHandler)
	r.Post("/admin/tokens", h.IssueTokenHandler)
}

func (h *AdminHandler) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := h.hub.Conversation(r.Context(), adminActor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *AdminHandler) SetResponderHandler(w http.ResponseWriter, r *http.Request) {
	var req ResponderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}

	conv, err := h.hub.SetResponderEnabled(r.Context(), adminActor, chi.URLParam(r, "id"), req.Enabled)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type IssueTokenRequest struct {
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	DisplayName   string `json:"displayName,omitempty"`
}

type IssueTokenResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // Unix seconds
}

// IssueTokenHandler mints a token for a participant. In production tokens come from
// the identity provider, this is for operators and local setups.
func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(h.logger, w, r, err)
		return
	}

	role, err := models.ParseRole(req.Role)
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(models.Participant{
		ID:          req.ParticipantID,
		Role:        role,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(h.logger, w, r, err)
		return
	}

	h.logger.Info("token issued",
		zap.String("participant_id", req.ParticipantID),
		zap.String("role", string(role)),
	)
	writeJSON(w, http.StatusOK, IssueTokenResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	})
}
