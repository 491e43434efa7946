package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/soulbuddy/companion/internal/cache"
	"github.com/zhouzirui/soulbuddy/companion/internal/config"
	"github.com/zhouzirui/soulbuddy/companion/internal/handler"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/backend"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/chat"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/emotion"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/mood"
	"github.com/zhouzirui/soulbuddy/companion/internal/service/profile"
	"github.com/zhouzirui/soulbuddy/companion/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, err := storage.NewSQLite(cfg.Store.Path)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	kv := cache.New(store)

	api := backend.New(backend.Config{
		ChatBaseURL:    cfg.Backend.ChatServiceURL,
		MoodBaseURL:    cfg.Backend.MoodServiceURL,
		UserID:         cfg.Backend.UserID,
		AccessToken:    cfg.Backend.AccessToken,
		ChatTimeout:    cfg.Backend.ChatTimeout,
		PhotoTimeout:   cfg.Backend.PhotoTimeout,
		MoodTimeout:    cfg.Backend.MoodTimeout,
		ProfileTimeout: cfg.Backend.ProfileTimeout,
	}, nil)

	// 文本情绪识别：配置了 Ark 模型时走大模型，否则退回关键词匹配。
	var detector chat.TextDetector
	if cfg.AI.EmotionLLMEnabled && cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
		} else if classifier, err := emotion.NewClassifier(ctx, chatModel, emotion.ClassifierConfig{
			Enabled:      true,
			HistoryLimit: cfg.AI.EmotionHistoryLimit,
		}); err != nil {
			log.Printf("warning: failed to initialize emotion classifier: %v", err)
		} else {
			detector = classifier
			log.Println("Emotion classifier enabled")
		}
	} else {
		log.Println("Emotion classifier disabled, using keyword heuristics")
	}

	photos := emotion.NewClient(api, emotion.PollConfig{
		InitialDelay: cfg.Pipeline.PollInitialDelay,
		Interval:     cfg.Pipeline.PollInterval,
		Window:       cfg.Pipeline.PollWindow,
	})

	moodSvc := mood.NewService(api, kv, mood.Config{CacheTTL: cfg.Cache.MoodTTL})
	rollover, err := mood.NewRollover(moodSvc, cfg.Cache.Location)
	if err != nil {
		log.Fatalf("failed to schedule day rollover: %v", err)
	}
	rollover.Start()

	profileSvc := profile.NewService(api, kv, cfg.Backend.UserID, cfg.Cache.ProfileTTL)

	hub := chat.NewHub(32)
	orch := chat.NewOrchestrator(chat.Deps{
		Chat:     api,
		Photos:   photos,
		Moods:    moodSvc,
		Detector: detector,
		Log:      chat.NewLogStore(store, cfg.Pipeline.LogFlushDelay),
		Hub:      hub,
	}, chat.Config{UserID: cfg.Backend.UserID, DetectTimeout: cfg.AI.EmotionTimeout})

	router := handler.NewRouter(cfg.Server, orch, hub, moodSvc, profileSvc)

	startServer(ctx, cfg.Server, router)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rollover.Stop(shutdownCtx)
	orch.Close(shutdownCtx)
	if err := store.Close(); err != nil {
		log.Printf("warning: failed to close store: %v", err)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("SoulBuddy companion listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
