package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/soulbuddy/companion/internal/service/chat"
	"github.com/zhouzirui/soulbuddy/companion/pkg/utils"
)

const (
	maxMessageBytes = 64 << 10
	maxPhotoBytes   = 20 << 20
)

// Handler 会话相关的HTTP处理器
type Handler struct {
	orch *chatService.Orchestrator
}

// New 创建聊天处理器
func New(orch *chatService.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationID}/messages", h.handleListMessages)
	r.Post("/conversations/{conversationID}/messages", h.handleSendMessage)
	r.Post("/conversations/{conversationID}/photos", h.handleSendPhoto)
	r.Post("/conversations/{conversationID}/reset", h.handleReset)
	r.Get("/conversations/{conversationID}/state", h.handleState)
}

// handleListMessages 返回会话消息，首次访问时恢复或写入欢迎语
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.orch.Messages(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleSendMessage 提交文本消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(w, r, maxMessageBytes, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// 客户端断开后仍需完成本轮对话，保证日志里有助手回复。
	ctx := context.WithoutCancel(r.Context())
	turn, err := h.orch.SubmitText(ctx, chi.URLParam(r, "conversationID"), payload.Text)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, turn)
}

// handleSendPhoto 提交照片（multipart 字段 image，可选 ref）
func (h *Handler) handleSendPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("image")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	photo := chatService.Photo{
		Data:     data,
		MIMEType: header.Header.Get("Content-Type"),
		FileName: header.Filename,
		Ref:      r.FormValue("ref"),
	}

	ctx := context.WithoutCancel(r.Context())
	turn, err := h.orch.SubmitPhoto(ctx, chi.URLParam(r, "conversationID"), photo)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if turn.Rejected {
		status = http.StatusUnprocessableEntity
	}
	utils.RespondJSON(w, status, turn)
}

// handleReset 清空服务端记忆并重置会话
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	messages, err := h.orch.Reset(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		if errors.Is(err, chatService.ErrConversationBusy) || errors.Is(err, chatService.ErrConversationMissing) {
			respondServiceError(w, err)
			return
		}
		log.Printf("[chat] reset failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "failed to reset chat")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleState 返回会话当前状态
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"conversationId": conversationID,
		"state":          h.orch.State(conversationID),
	})
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrConversationBusy):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrEmptyMessage), errors.Is(err, chatService.ErrConversationMissing):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[chat] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
