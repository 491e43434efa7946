package backend

import (
	"context"
	"fmt"
	"strings"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message"`
	Mood    string `json:"mood"`
	UserID  string `json:"user_id,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// Chat requests a conversational reply. An empty reply is an error.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if req.UserID == "" {
		req.UserID = c.cfg.UserID
	}

	var resp chatResponse
	if _, err := c.postJSON(ctx, "chat", c.cfg.ChatBaseURL+"/chat", c.cfg.ChatTimeout, false, req, &resp); err != nil {
		return "", err
	}
	reply := strings.TrimSpace(resp.Reply)
	if reply == "" {
		return "", fmt.Errorf("chat: empty reply")
	}
	return reply, nil
}

// ResetChat clears the server-side conversation memory.
func (c *Client) ResetChat(ctx context.Context) error {
	_, err := c.postJSON(ctx, "reset chat", c.cfg.ChatBaseURL+"/reset-chat", c.cfg.ChatTimeout, false, nil, nil)
	return err
}
