package profile

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	profileService "github.com/zhouzirui/soulbuddy/companion/internal/service/profile"
	"github.com/zhouzirui/soulbuddy/companion/pkg/utils"
)

// Handler 用户资料接口
type Handler struct {
	profileSvc *profileService.Service
}

// New 创建资料处理器
func New(profileSvc *profileService.Service) *Handler {
	return &Handler{profileSvc: profileSvc}
}

// RegisterRoutes 注册资料路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/profile", h.handleProfile)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	raw, err := h.profileSvc.Get(r.Context(), r.URL.Query().Get("userId"), refresh)
	if err != nil {
		if errors.Is(err, profileService.ErrNoUser) {
			utils.RespondError(w, http.StatusBadRequest, "userId is required")
			return
		}
		log.Printf("[profile] load failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "failed to load profile")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
