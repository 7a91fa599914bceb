package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/daybrief-backend/internal/handlers"
	"github.com/yungbote/daybrief-backend/internal/logger"
	"github.com/yungbote/daybrief-backend/internal/middleware"
)

type RouterConfig struct {
	RunsHandler     *handlers.RunsHandler
	ClassifyHandler *handlers.ClassifyHandler
	Log             *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(otelgin.Middleware("daybrief"))
	router.Use(middleware.RequestLogger(cfg.Log))
	router.Use(gin.Recovery())

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Runs
		api.POST("/runs", cfg.RunsHandler.CreateRun)
		api.GET("/runs/:id", cfg.RunsHandler.GetRun)
		api.POST("/runs/:id/tick", cfg.RunsHandler.TickRun)
		api.GET("/runs/:id/days/:date/preview", cfg.RunsHandler.PreviewDay)
		api.POST("/runs/:id/resume", cfg.RunsHandler.ResumeRun)
		api.POST("/runs/:id/reset", cfg.RunsHandler.ResetJob)
		api.POST("/runs/:id/cancel", cfg.RunsHandler.CancelRun)
		// Classification
		api.POST("/classify", cfg.ClassifyHandler.StartClassify)
		api.GET("/classify/:id", cfg.ClassifyHandler.GetClassify)
	}

	return router
}
