package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/KevinXu-github/goggins-ai/internal/chat"
	"github.com/KevinXu-github/goggins-ai/internal/config"
	"github.com/KevinXu-github/goggins-ai/internal/conversation"
	"github.com/KevinXu-github/goggins-ai/internal/httpapi"
	"github.com/KevinXu-github/goggins-ai/internal/identity"
	"github.com/KevinXu-github/goggins-ai/internal/llm"
	"github.com/KevinXu-github/goggins-ai/internal/logging"
	"github.com/KevinXu-github/goggins-ai/internal/observability"
	"github.com/KevinXu-github/goggins-ai/internal/settings"
	"github.com/KevinXu-github/goggins-ai/internal/speech"
	"github.com/KevinXu-github/goggins-ai/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(logging.Options{Dir: cfg.LogDir, Debug: cfg.Debug})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	st, err := store.New(ctx, cfg.DatabaseURL, cfg.MongoDatabase)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer func() { _ = st.Close(context.Background()) }()
	logger.Info("document store ready", zap.String("driver", storeDriver(cfg.DatabaseURL)))

	var client llm.Client
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		client, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.ChatModel,
		})
		if err != nil {
			logger.Fatal("llm client init failed", zap.Error(err))
		}
	} else {
		// Without a key every turn serves the canned reply; the rest of the
		// stack still works, which keeps local development possible.
		logger.Warn("OPENAI_API_KEY not set, using mock language model")
		client = &llm.MockClient{}
	}

	remote := speech.NewOpenAIBackend(speech.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
	})
	local := speech.NewTortoiseBackend(speech.TortoiseConfig{
		Python:        cfg.TortoisePython,
		Script:        cfg.TortoiseScript,
		VoiceDir:      cfg.TortoiseVoiceDir,
		KillGrace:     cfg.TortoiseKillGrace,
		TimeoutFast:   cfg.TortoiseTimeoutFast,
		TimeoutMedium: cfg.TortoiseTimeoutMedium,
		TimeoutHigh:   cfg.TortoiseTimeoutHigh,
	}, logger)
	orchestrator, err := speech.NewOrchestrator(speech.OrchestratorOptions{
		CacheDir:          cfg.AudioCacheDir,
		Remote:            remote,
		Local:             local,
		DefaultVoice:      cfg.DefaultVoice,
		FallbackToDefault: cfg.FallbackToDefault,
		Metrics:           metrics,
		Log:               logger,
	})
	if err != nil {
		logger.Fatal("speech orchestrator init failed", zap.Error(err))
	}
	if err := orchestrator.LocalReady(ctx); err != nil {
		logger.Warn("voice clone backend unavailable", zap.Error(err))
	}

	conversations := conversation.NewService(st, logger)
	prefs := settings.NewService(st, logger)
	chatSvc := chat.NewService(chat.Options{
		Conversations: conversations,
		Settings:      prefs,
		Client:        client,
		Speech:        orchestrator,
		Metrics:       metrics,
		Log:           logger,
		HistoryWindow: cfg.HistoryWindow,
	})
	resolver := identity.NewResolver(st, logger, cfg.SessionCookieName, cfg.SessionCookieMaxAge)

	api := httpapi.New(httpapi.Options{
		Config:        cfg,
		Resolver:      resolver,
		Chat:          chatSvc,
		Conversations: conversations,
		Settings:      prefs,
		Speech:        orchestrator,
		Store:         st,
		Metrics:       metrics,
		Log:           logger,
	})
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	conversations.StartJanitor(runCtx, cfg.JanitorInterval, cfg.ConversationRetention)

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}

func storeDriver(databaseURL string) string {
	switch {
	case databaseURL == "":
		return "memory"
	case strings.HasPrefix(databaseURL, "mongodb://"), strings.HasPrefix(databaseURL, "mongodb+srv://"):
		return "mongodb"
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres"
	default:
		return "unknown"
	}
}
