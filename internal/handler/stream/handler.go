package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatService "github.com/zhouzirui/soulbuddy/companion/internal/service/chat"
	"github.com/zhouzirui/soulbuddy/companion/pkg/utils"
)

// Handler pushes live conversation events over SSE and WebSocket.
type Handler struct {
	hub       *chatService.Hub
	orch      *chatService.Orchestrator
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

// New creates a stream handler. allowedOrigins guards the WebSocket upgrade.
func New(hub *chatService.Hub, orch *chatService.Orchestrator, allowedOrigins []string) *Handler {
	return &Handler{
		hub:       hub,
		orch:      orch,
		heartbeat: 15 * time.Second,
		upgrader:  newUpgrader(allowedOrigins),
	}
}

// RegisterRoutes registers the event stream routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationID}/events", h.handleEvents)
	r.Get("/conversations/{conversationID}/ws", h.handleWebSocket)
}

// handleEvents streams message/state/status events as SSE until the client leaves.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := h.hub.Subscribe(conversationID)
	defer unsubscribe()

	ctx := r.Context()
	log.Printf("[sse] opening event stream for conversation=%s", conversationID)

	initial := chatService.Event{
		Kind:           chatService.EventState,
		ConversationID: conversationID,
		State:          h.orch.State(conversationID),
	}
	if err := sse.Event(string(initial.Kind), initial); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing event stream for conversation=%s", conversationID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.Event(string(ev.Kind), ev); err != nil {
				log.Printf("[sse] write failed for conversation=%s: %v", conversationID, err)
				return
			}
		case t := <-ticker.C:
			if err := sse.Comment("heartbeat " + t.UTC().Format(time.RFC3339)); err != nil {
				return
			}
		}
	}
}
