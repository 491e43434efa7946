package mood

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/soulbuddy/companion/internal/service/backend"
	moodService "github.com/zhouzirui/soulbuddy/companion/internal/service/mood"
	"github.com/zhouzirui/soulbuddy/companion/pkg/utils"
)

// Handler 情绪记录读取接口
type Handler struct {
	moodSvc *moodService.Service
}

// New 创建情绪处理器
func New(moodSvc *moodService.Service) *Handler {
	return &Handler{moodSvc: moodSvc}
}

// RegisterRoutes 注册情绪相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/mood/today", h.handleToday)
	r.Get("/mood/timeline", h.handleTimeline)
	r.Get("/mood/analytics", h.handleAnalytics)
}

func (h *Handler) handleToday(w http.ResponseWriter, r *http.Request) {
	entries, err := h.moodSvc.TodayMoods(r.Context(), wantsRefresh(r))
	if err != nil {
		respondUpstreamError(w, "today moods", err)
		return
	}
	if entries == nil {
		entries = []backend.MoodEntry{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	view, err := h.moodSvc.Timeline(r.Context(), wantsRefresh(r))
	if err != nil {
		respondUpstreamError(w, "mood timeline", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	raw, err := h.moodSvc.Analytics(r.Context(), wantsRefresh(r))
	if err != nil {
		respondUpstreamError(w, "mood analytics", err)
		return
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// wantsRefresh 解析 ?refresh=1，手动刷新跳过缓存。
func wantsRefresh(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
	return ok
}

func respondUpstreamError(w http.ResponseWriter, what string, err error) {
	log.Printf("[mood] %s failed: %v", what, err)
	utils.RespondError(w, http.StatusBadGateway, "failed to load "+what)
}
