package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brunobiangulo/docqa"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := docqa.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("DOCQA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DOCQA_STORAGE_PATH"); v != "" {
		cfg.Document.StoragePath = v
	}
	if v := os.Getenv("DOCQA_LLM_BASE_URL"); v != "" {
		cfg.LLM.Primary.Endpoint = v
	}
	if v := os.Getenv("DOCQA_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("DOCQA_LLM_API_KEY"); v != "" {
		cfg.LLM.Primary.APIKey = v
	}
	if v := os.Getenv("DOCQA_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("DOCQA_LLM_MODEL"); v != "" {
		cfg.LLM.Primary.Model = v
	}
	if v := os.Getenv("DOCQA_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DOCQA_LLM_PROVIDER"); v != "" {
		cfg.LLM.Primary.Type = v
	}
	if v := os.Getenv("DOCQA_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Type = v
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.LLM.Primary.APIKey == "" {
		switch cfg.LLM.Primary.Type {
		case "openai":
			cfg.LLM.Primary.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.LLM.Primary.APIKey = os.Getenv("GROQ_API_KEY")
		case "xai":
			cfg.LLM.Primary.APIKey = os.Getenv("XAI_API_KEY")
		case "gemini":
			cfg.LLM.Primary.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Type {
		case "openai":
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Embedding.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}

	apiKey := os.Getenv("DOCQA_API_KEY")
	corsOrigins := os.Getenv("DOCQA_CORS_ORIGINS")

	engine, err := docqa.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/documents", h.handleUploadDocument)
	mux.HandleFunc("GET /api/documents", h.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", h.handleGetDocument)
	mux.HandleFunc("GET /api/documents/{id}/content", h.handleGetDocumentContent)
	mux.HandleFunc("GET /api/documents/{id}/chunks", h.handleGetDocumentChunks)
	mux.HandleFunc("DELETE /api/documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("POST /api/documents/{id}/reindex", h.handleReindexDocument)
	mux.HandleFunc("POST /api/chat/sessions", h.handleCreateChatSession)
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("GET /api/chat/stream", h.handleChatStream)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming chat/ingest responses can run long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
