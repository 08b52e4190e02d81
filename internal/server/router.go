package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/earshot-lab/earshot-backend/internal/handlers"
)

type RouterConfig struct {
	ServiceName    string
	AllowedOrigins []string
	SessionHandler *handlers.SessionHandler
	PhaseHandler   *handlers.PhaseHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5174"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))
	router.Use(otelgin.Middleware(cfg.ServiceName))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Sessions
		api.GET("/block/:slug/intro", cfg.SessionHandler.Intro)
		api.POST("/session/start", cfg.SessionHandler.StartSession)
		api.POST("/session/:id/result", cfg.SessionHandler.SubmitResult)
		api.GET("/session/:id/next", cfg.SessionHandler.NextRound)
		// Phases
		api.GET("/phase/:id/next", cfg.PhaseHandler.NextBlock)
		api.GET("/phase/:id/dashboard", cfg.PhaseHandler.Dashboard)
	}

	return router
}
