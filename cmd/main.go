package main

import (
	"context"
	"os"
	"strings"
	"time"

	redisclient "github.com/earshot-lab/earshot-backend/internal/clients/redis"
	"github.com/earshot-lab/earshot-backend/internal/config"
	"github.com/earshot-lab/earshot-backend/internal/db"
	"github.com/earshot-lab/earshot-backend/internal/handlers"
	"github.com/earshot-lab/earshot-backend/internal/logger"
	"github.com/earshot-lab/earshot-backend/internal/observability"
	"github.com/earshot-lab/earshot-backend/internal/repos"
	"github.com/earshot-lab/earshot-backend/internal/rules"
	"github.com/earshot-lab/earshot-backend/internal/scoring"
	"github.com/earshot-lab/earshot-backend/internal/selector"
	"github.com/earshot-lab/earshot-backend/internal/server"
	"github.com/earshot-lab/earshot-backend/internal/services"
	"github.com/earshot-lab/earshot-backend/internal/utils"
)

func main() {
	appMode := strings.TrimSpace(os.Getenv("APP_MODE"))
	if appMode == "" {
		appMode = "development"
	}
	log, err := logger.New(appMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Starting earshot backend...", "mode", appMode)

	ctx := context.Background()
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "earshot-backend",
		Environment: appMode,
		Version:     utils.GetEnv("APP_VERSION", "dev", log),
	})
	if shutdownOtel != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOtel(shutdownCtx); err != nil {
				log.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	// Database
	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Failed to initialize Postgres", "error", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Fatal("Failed to migrate Postgres tables", "error", err)
	}
	gdb := pg.DB()

	// Repos
	participantRepo := repos.NewParticipantRepo(gdb, log)
	phaseRepo := repos.NewPhaseRepo(gdb, log)
	blockRepo := repos.NewBlockRepo(gdb, log)
	playlistRepo := repos.NewPlaylistRepo(gdb, log)
	sectionRepo := repos.NewSectionRepo(gdb, log)
	sessionRepo := repos.NewSessionRepo(gdb, log)
	resultRepo := repos.NewResultRepo(gdb, log)

	// Optional leaderboard cache
	var board redisclient.Leaderboard
	if b, err := redisclient.NewLeaderboard(log); err != nil {
		log.Warn("Leaderboard cache disabled", "error", err)
	} else {
		board = b
		defer board.Close()
	}

	// Engines
	scoringRegistry := scoring.NewRegistry()
	rulesRegistry := rules.NewRegistry(scoringRegistry)
	src := selector.NewEntropySource()

	// Services
	sessionService := services.NewSessionService(gdb, log, participantRepo, blockRepo, playlistRepo, sectionRepo, sessionRepo, resultRepo, rulesRegistry, board, src)
	phaseService := services.NewPhaseService(gdb, log, phaseRepo, blockRepo, sessionRepo, participantRepo, src)
	catalogueService := services.NewCatalogueService(gdb, log, phaseRepo, blockRepo, playlistRepo, rulesRegistry)

	if path := utils.GetEnv("EXPERIMENT_CATALOGUE", "", log); path != "" {
		cat, err := config.LoadCatalogue(path)
		if err != nil {
			log.Fatal("Failed to load experiment catalogue", "path", path, "error", err)
		}
		if err := catalogueService.Apply(ctx, cat); err != nil {
			log.Fatal("Failed to apply experiment catalogue", "path", path, "error", err)
		}
		log.Info("Experiment catalogue applied", "path", path)
	}

	// Handlers
	sessionHandler := handlers.NewSessionHandler(sessionService, log)
	phaseHandler := handlers.NewPhaseHandler(phaseService, log)

	var origins []string
	if raw := utils.GetEnv("CORS_ALLOWED_ORIGINS", "", log); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}
	router := server.NewRouter(server.RouterConfig{
		ServiceName:    "earshot-backend",
		AllowedOrigins: origins,
		SessionHandler: sessionHandler,
		PhaseHandler:   phaseHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
