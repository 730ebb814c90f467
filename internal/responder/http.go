package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxReplySize = 1 << 20

// HTTPResponder calls an external reply service over HTTP.
type HTTPResponder struct {
	url    string
	client *http.Client
}

func NewHTTPResponder(url string, client *http.Client) *HTTPResponder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResponder{url: url, client: client}
}

type replyRequest struct {
	ConversationID string `json:"conversationId"`
	Prompt         string `json:"prompt"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

func (h *HTTPResponder) Reply(ctx context.Context, conversationID, prompt string) (string, error) {
	body, err := json.Marshal(replyRequest{ConversationID: conversationID, Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var reply replyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxReplySize)).Decode(&reply); err != nil {
		return "", fmt.Errorf("%w: bad reply: %w", ErrUnavailable, err)
	}
	return reply.Reply, nil
}
