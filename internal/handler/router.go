package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/soulbuddy/companion/internal/config"
	"github.com/zhouzirui/soulbuddy/companion/internal/handler/chat"
	"github.com/zhouzirui/soulbuddy/companion/internal/handler/mood"
	"github.com/zhouzirui/soulbuddy/companion/internal/handler/profile"
	"github.com/zhouzirui/soulbuddy/companion/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/soulbuddy/companion/internal/middleware"
	chatService "github.com/zhouzirui/soulbuddy/companion/internal/service/chat"
	moodService "github.com/zhouzirui/soulbuddy/companion/internal/service/mood"
	profileService "github.com/zhouzirui/soulbuddy/companion/internal/service/profile"
	"github.com/zhouzirui/soulbuddy/companion/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(serverCfg config.ServerConfig, orch *chatService.Orchestrator, hub *chatService.Hub, moodSvc *moodService.Service, profileSvc *profileService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(serverCfg.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chat.New(orch).RegisterRoutes(api)
		stream.New(hub, orch, serverCfg.CORSOrigins).RegisterRoutes(api)
		mood.New(moodSvc).RegisterRoutes(api)
		profile.New(profileSvc).RegisterRoutes(api)
	})

	return r
}
