package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/daybrief-backend/internal/db"
	"github.com/yungbote/daybrief-backend/internal/handlers"
	"github.com/yungbote/daybrief-backend/internal/locks"
	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/observability"
	"github.com/yungbote/daybrief-backend/internal/repos"
	"github.com/yungbote/daybrief-backend/internal/server"
	"github.com/yungbote/daybrief-backend/internal/services"
	"github.com/yungbote/daybrief-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "daybrief",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Advisory locks ride their own pool so a dying session frees the lock.
	lockMgr := locks.NewManager(postgresService.DSN(), log)
	defer lockMgr.Close()

	// Repos
	log.Info("Setting up Repos from main...")
	batchRepo := repos.NewImportBatchRepo(thePG, log)
	atomRepo := repos.NewAtomRepo(thePG, log)
	labelRepo := repos.NewAtomLabelRepo(thePG, log)
	runRepo := repos.NewSummaryRunRepo(thePG, log)
	runBatchRepo := repos.NewRunBatchRepo(thePG, log)
	jobRepo := repos.NewDayJobRepo(thePG, log)
	outRepo := repos.NewDayOutputRepo(thePG, log)
	classifyRunRepo := repos.NewClassifyRunRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	llmClient, err := services.NewLLMClient(log)
	if err != nil {
		log.Error("Could not init LLMClient", "error", err)
		os.Exit(1)
	}
	runService := services.NewRunService(thePG, log, lockMgr, runRepo, runBatchRepo, jobRepo, outRepo, batchRepo, atomRepo, labelRepo)
	tickService := services.NewTickService(thePG, log, lockMgr, llmClient, runRepo, jobRepo, outRepo, atomRepo, labelRepo)
	classifyService := services.NewClassifyService(thePG, log, llmClient, classifyRunRepo, batchRepo, atomRepo, labelRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	runsHandler := handlers.NewRunsHandler(runService, tickService)
	classifyHandler := handlers.NewClassifyHandler(classifyService)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		RunsHandler:     runsHandler,
		ClassifyHandler: classifyHandler,
		Log:             log,
	})

	port := utils.GetEnv("PORT", "8080", log)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("Server failed", "error", err)
	}

	if otelShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}
}
