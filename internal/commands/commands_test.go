package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mealchat/internal/api"
	"mealchat/internal/config"
	"mealchat/internal/models"

	"github.com/stretchr/testify/require"
)

func TestSetResponder(t *testing.T) {
	var got api.ResponderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/admin/conversations/subj-1/responder" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(models.Conversation{ID: "subj-1", ResponderEnabled: got.Enabled})
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}
	require.NoError(t, SetResponder("subj-1", true, cfg))
	require.True(t, got.Enabled)

	err := SetResponder("missing/thing", false, cfg)
	require.ErrorContains(t, err, "status 404")
}

func TestIssueToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.IssueTokenRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Role != "staff" {
			http.Error(w, `{"error":{"code":"invalid_input"}}`, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.IssueTokenResponse{
			Success:   true,
			Token:     "tok",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		})
	}))
	defer srv.Close()

	cfg := &config.Config{AdminAddr: strings.TrimPrefix(srv.URL, "http://")}
	require.NoError(t, IssueToken("staff-1", "staff", "Lee", cfg))
	require.ErrorContains(t, IssueToken("x", "responder", "", cfg), "status 400")
}

func TestCommands_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	err := SetResponder("subj-1", true, &config.Config{AdminAddr: addr})
	require.ErrorContains(t, err, "Is the server running?")
}
