package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/affstack/deal-search-bot/internal/ai"
	"github.com/affstack/deal-search-bot/internal/config"
	"github.com/affstack/deal-search-bot/internal/dealcache"
	"github.com/affstack/deal-search-bot/internal/engine"
	"github.com/affstack/deal-search-bot/internal/format"
	"github.com/affstack/deal-search-bot/internal/pricing"
	"github.com/affstack/deal-search-bot/internal/reference"
	"github.com/affstack/deal-search-bot/internal/resolver"
	"github.com/affstack/deal-search-bot/internal/resultcache"
	"github.com/affstack/deal-search-bot/internal/session"
	"github.com/affstack/deal-search-bot/internal/storage"
	"github.com/affstack/deal-search-bot/internal/telegram"
)

type Server struct {
	engine   *engine.Engine
	telegram *telegram.Client
}

func main() {
	slog.Info("Starting Deal Search Bot server...")

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.ProjectID, cfg.FirestoreQPS, cfg.FirestoreTimeout)
	if err != nil {
		slog.Error("Critical error initializing Firestore client", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	extractor, err := ai.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		slog.Error("Critical error initializing Gemini client", "error", err)
		os.Exit(1)
	}

	refCache := reference.NewCache(store, cfg.ReferenceCacheTTL, cfg.MaxRetries)
	deals := dealcache.New(store, cfg.DealCacheTTL, cfg.MaxRetries)
	results := resultcache.New(cfg.ResultCacheTTL)
	sessions := session.NewStore(cfg.SessionTimeout, cfg.PageSize)
	formatter := format.New(pricing.New(cfg.NetworkPricing, cfg.BrandPricing))

	var ext resolver.Extractor
	if extractor != nil {
		ext = extractor
	}
	res := resolver.New(ext, cfg.PartnerMatchThreshold, cfg.ExtractorTimeout)

	eng := engine.New(refCache, res, deals, results, sessions, formatter)

	srv := &Server{
		engine:   eng,
		telegram: telegram.New(cfg.TelegramBotToken),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", srv.WebhookHandler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		slog.Info("Received signal, shutting down gracefully...", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("Listening on port", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to listen and serve", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped.")
}

// WebhookHandler accepts Telegram updates. The webhook must respond fast, so
// the actual resolution and delivery run asynchronously with their own
// timeout, mirroring how slow pipelines are detached from request handling.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	update, err := telegram.ParseUpdate(r.Body)
	if err != nil {
		slog.Warn("Invalid webhook payload", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Panic in update handling", "panic", rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.handleUpdate(ctx, update)
	}()

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUpdate(ctx context.Context, update *telegram.Update) {
	switch {
	case update.Message != nil && update.Message.Text != "":
		chatID := update.Message.Chat.ID
		render := s.engine.HandleMessage(ctx, chatID, update.Message.Text)
		if err := s.telegram.Deliver(ctx, chatID, 0, render); err != nil {
			slog.Error("Failed to deliver message", "chat", chatID, "error", err)
		}

	case update.CallbackQuery != nil:
		cb := update.CallbackQuery
		if err := s.telegram.AnswerCallback(ctx, cb.ID); err != nil {
			slog.Warn("Failed to answer callback", "callback", cb.ID, "error", err)
		}
		// Sessions are keyed by chat id, matching the message path.
		chatID := cb.From.ID
		var messageID int64
		if cb.Message != nil {
			chatID = cb.Message.Chat.ID
			messageID = cb.Message.MessageID
		}
		render := s.engine.HandleCallback(ctx, chatID, cb.Data)
		if err := s.telegram.Deliver(ctx, chatID, messageID, render); err != nil {
			slog.Error("Failed to deliver callback response", "chat", chatID, "error", err)
		}
	}
}
