package ws

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"mealchat/internal/auth"
	"mealchat/internal/hub"
	"mealchat/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub is the part of hub.Hub the stream needs.
type Hub interface {
	conversationHub
	Subscribe(ctx context.Context, conversationID string, participant models.Participant) (*hub.Subscription, error)
	Unsubscribe(sub *hub.Subscription)
}

type Server struct {
	hub      Hub
	presence presenceTracker
	upgrader *websocket.Upgrader
	logger   *zap.Logger
}

func NewServer(h Hub, presence presenceTracker, logger *zap.Logger) *Server {
	return &Server{
		hub:      h,
		presence: presence,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Tokens travel in the URL, cookies are not used
			},
		},
		logger: logger,
	}
}

// HandleStream upgrades GET /api/conversations/{id}/stream?since=N. It must run
// behind auth middleware.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	participant, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conversationID := chi.URLParam(r, "id")

	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid since", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	// Subscribe before upgrading so nothing appended meanwhile is missed
	sub, err := s.hub.Subscribe(r.Context(), conversationID, participant)
	switch {
	case errors.Is(err, models.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	case errors.Is(err, models.ErrInvalidInput):
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("subscribe failed", zap.String("conversation_id", conversationID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	defer s.hub.Unsubscribe(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("error upgrading to websocket", zap.Error(err))
		return
	}

	c := NewConnection(s.hub, s.presence, conn, ConnectionConfig{
		Participant:    participant,
		ConversationID: conversationID,
		Subscription:   sub,
		Since:          since,
		Cursor:         sub.Cursor,
	}, s.logger)

	if err := c.Handle(r.Context()); err != nil {
		if errors.Is(err, models.ErrLagged) {
			s.logger.Info("subscriber lagged, closing stream",
				zap.String("conversation_id", conversationID),
				zap.String("participant_id", participant.ID),
			)
			return
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			s.logger.Debug("stream closed", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
}
