package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/researchpilot/researchpilot-backend/internal/data/db"
	httpx "github.com/researchpilot/researchpilot-backend/internal/http"
	httpH "github.com/researchpilot/researchpilot-backend/internal/http/handlers"
	"github.com/researchpilot/researchpilot-backend/internal/jobstore"
	"github.com/researchpilot/researchpilot-backend/internal/platform/envutil"
	"github.com/researchpilot/researchpilot-backend/internal/platform/logger"
	"github.com/researchpilot/researchpilot-backend/internal/services"
	"github.com/researchpilot/researchpilot-backend/internal/temporalx"
	"github.com/researchpilot/researchpilot-backend/internal/temporalx/temporalworker"
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

	// Job store: redis is the authoritative primary, postgres the
	// best-effort durable secondary.
	log.Info("Setting up job store from main...")
	redisStore, err := jobstore.NewRedisStore(log)
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}

	var store jobstore.Store = redisStore
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Warn("Postgres init failed; running without secondary job store", "error", err)
	} else {
		if err := postgresService.AutoMigrateAll(); err != nil {
			log.Warn("Postgres auto migration failed", "error", err)
		}
		store = jobstore.NewDualStore(log, redisStore, jobstore.NewPostgresStore(postgresService.DB(), log))
	}

	// Temporal
	log.Info("Setting up Temporal client from main...")
	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Fatal("Temporal init failed", "error", err)
	}
	defer temporalClient.Close()

	workerRunner, err := temporalworker.NewRunner(log, temporalClient, store)
	if err != nil {
		log.Fatal("Temporal worker init failed", "error", err)
	}

	// Services
	log.Info("Setting up services from main...")
	researchService, err := services.NewResearchService(log, store, temporalClient)
	if err != nil {
		log.Fatal("Research service init failed", "error", err)
	}

	// Handlers + router
	log.Info("Setting up router from main...")
	srv := httpx.NewServer(httpx.RouterConfig{
		ResearchHandler: httpH.NewResearchHandler(researchService),
		HealthHandler:   httpH.NewHealthHandler(),
	})

	port := envutil.GetEnv("SERVER_PORT", "8080", log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := workerRunner.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return gctx.Err()
	})
	g.Go(func() error {
		log.Info("HTTP server listening", "port", port)
		return srv.Run(":" + port)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("Server exited", "error", err)
	}
}
