package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/zhouzirui/soulbuddy/companion/internal/cache"
	"github.com/zhouzirui/soulbuddy/companion/internal/config"
	chatService "github.com/zhouzirui/soulbuddy/companion/internal/service/chat"
	moodService "github.com/zhouzirui/soulbuddy/companion/internal/service/mood"
	profileService "github.com/zhouzirui/soulbuddy/companion/internal/service/profile"
	"github.com/zhouzirui/soulbuddy/companion/internal/storage"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store := storage.NewMemory()
	c := cache.New(store)
	hub := chatService.NewHub(8)
	orch := chatService.NewOrchestrator(chatService.Deps{
		Log: chatService.NewLogStore(store, 10*time.Millisecond),
		Hub: hub,
	}, chatService.Config{})
	t.Cleanup(func() { orch.Close(context.Background()) })

	cfg := config.ServerConfig{Addr: ":0", CORSOrigins: []string{"http://localhost:8081"}}
	return NewRouter(cfg, orch, hub, moodService.NewService(nil, c, moodService.Config{}), profileService.NewService(nil, c, "", 0))
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAPIRoutesMounted(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/c1/state", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8081" {
		t.Fatalf("expected CORS header, got %q", got)
	}
}

func TestProfileWithoutUserIsBadRequest(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
