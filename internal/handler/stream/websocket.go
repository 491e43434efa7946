package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatService "github.com/zhouzirui/soulbuddy/companion/internal/service/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxInbound = 64 << 10
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// inboundMessage lets a WebSocket client submit text turns on the same socket.
type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type errorFrame struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

// handleWebSocket pushes conversation events and accepts {"type":"text"} submissions.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for conversation=%s: %v", conversationID, err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe(conversationID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := make(chan any, 8)
	go h.readLoop(ctx, cancel, conn, conversationID, frames)

	initial := chatService.Event{
		Kind:           chatService.EventState,
		ConversationID: conversationID,
		State:          h.orch.State(conversationID),
	}
	if err := writeJSON(conn, initial); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				log.Printf("[ws] write failed for conversation=%s: %v", conversationID, err)
				return
			}
		case frame := <-frames:
			if err := writeJSON(conn, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, conversationID string, frames chan<- any) {
	defer cancel()

	conn.SetReadLimit(maxInbound)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read failed for conversation=%s: %v", conversationID, err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sendFrame(ctx, frames, errorFrame{Kind: "error", ConversationID: conversationID, Error: "invalid message"})
			continue
		}

		switch strings.ToLower(msg.Type) {
		case "text":
			// 回复通过 hub 推送，这里只回传错误。
			go func(text string) {
				_, err := h.orch.SubmitText(context.Background(), conversationID, text)
				if err == nil {
					return
				}
				reason := "internal error"
				if errors.Is(err, chatService.ErrConversationBusy) || errors.Is(err, chatService.ErrEmptyMessage) {
					reason = err.Error()
				}
				sendFrame(ctx, frames, errorFrame{Kind: "error", ConversationID: conversationID, Error: reason})
			}(msg.Text)
		case "ping":
		default:
			sendFrame(ctx, frames, errorFrame{Kind: "error", ConversationID: conversationID, Error: "unsupported message type"})
		}
	}
}

func sendFrame(ctx context.Context, frames chan<- any, frame any) {
	select {
	case frames <- frame:
	case <-ctx.Done():
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
