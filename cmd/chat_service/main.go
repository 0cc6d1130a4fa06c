package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"supportbot/internal/api"
	"supportbot/internal/auth"
	"supportbot/internal/chat"
	"supportbot/internal/config"
	"supportbot/internal/database/mysql"
	"supportbot/internal/rag/embeddings"
	"supportbot/internal/rag/lifecycle"
	"supportbot/internal/rag/llms"
	"supportbot/internal/rag/loaders"
	"supportbot/internal/rag/pipeline"
	"supportbot/internal/rag/splitters"
	"supportbot/internal/rag/vectorstore"
	"supportbot/internal/store"
	"supportbot/pkg/logger"
)

const serviceName = "chat_service"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.Init(level)
	log := logger.New(serviceName, "", "")
	log.Info(fmt.Sprintf("Starting %s %s", cfg.App.Name, cfg.App.Version))

	if err := run(cfg, log); err != nil {
		log.Fatal(err.Error())
	}
}

func run(cfg *config.AppConfig, log *logger.Logger) error {
	ctx := context.Background()

	db, err := mysql.GetDB(&cfg.MySQL)
	if err != nil {
		return fmt.Errorf("failed to connect to mysql: %w", err)
	}
	defer mysql.Close()

	embedder, err := embeddings.NewClient(ctx, cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to create embedding client: %w", err)
	}
	llm, err := llms.NewClient(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	splitter, err := splitters.NewCharacterSplitter(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("invalid splitter settings: %w", err)
	}
	loader := loaders.NewDirectoryLoader(loaders.NewPDFLoader(), log)
	indexer := pipeline.NewIndexingPipeline(loader, splitter, embedder, log)

	manager := lifecycle.NewManager(
		cfg.RAG.DocumentDir,
		cfg.RAG.IndexDir,
		cfg.RAG.Collection,
		time.Duration(cfg.RAG.LockTimeout)*time.Second,
		vectorstore.EmbeddingFunc(embedder),
		indexer,
		log,
	)
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize vector index: %w", err)
	}
	log.Info(fmt.Sprintf("Vector index ready with %d passages", manager.Count()))

	verifier := auth.NewVerifier(cfg.Auth.JwtSecret, time.Duration(cfg.Auth.TokenTTL)*time.Second)
	sessions := store.NewSessionStore(db)
	users := store.NewUserStore(db)
	retrieval := pipeline.NewRetrievalPipeline(embedder, log)
	qa := pipeline.NewQAPipeline(llm, log)
	chatSvc := chat.NewService(manager, retrieval, qa, sessions, cfg.RAG.TopK, cfg.RAG.FetchK, log)

	handler := api.NewHandler(chatSvc, users, manager, verifier, cfg.RAG.DocumentDir, log)
	router := api.NewRouter(handler, verifier)

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("HTTP server listening on %s", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-quit:
		log.Info(fmt.Sprintf("Received signal %s, shutting down", sig))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
