package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mealchat/internal/api"
	"mealchat/internal/config"
	"mealchat/internal/models"
)

var client = &http.Client{Timeout: 10 * time.Second}

// SetResponder switches the automated responder of a conversation through the admin listener.
func SetResponder(conversationID string, enabled bool, cfg *config.Config) error {
	url := fmt.Sprintf("http://%s/admin/conversations/%s/responder", cfg.AdminAddr, conversationID)

	var conv models.Conversation
	if err := call(http.MethodPut, url, api.ResponderRequest{Enabled: enabled}, &conv); err != nil {
		return fmt.Errorf("failed to update responder: %w", err)
	}

	state := "disabled"
	if conv.ResponderEnabled {
		state = "enabled"
	}
	fmt.Printf("Responder %s for conversation %s (last seq %d)\n", state, conv.ID, conv.LastSeq)
	return nil
}

// IssueToken mints an access token for a participant and prints it.
func IssueToken(participantID, role, displayName string, cfg *config.Config) error {
	url := fmt.Sprintf("http://%s/admin/tokens", cfg.AdminAddr)
	req := api.IssueTokenRequest{
		ParticipantID: participantID,
		Role:          role,
		DisplayName:   displayName,
	}

	var result api.IssueTokenResponse
	if err := call(http.MethodPost, url, req, &result); err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Printf("\nToken issued for %s (%s)\n", participantID, role)
	fmt.Printf("Expires: %s\n", time.Unix(result.ExpiresAt, 0).Format(time.RFC3339))
	fmt.Printf("Token:   %s\n\n", result.Token)
	return nil
}

func call(method, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
