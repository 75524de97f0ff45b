package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/edifylabs/edify-backend/internal/handlers"
	"github.com/edifylabs/edify-backend/internal/middleware"
)

type RouterConfig struct {
	RequestLogger     *middleware.RequestLogger
	AbilityHandler    *handlers.AbilityHandler
	EvaluationHandler *handlers.EvaluationHandler
	LedgerHandler     *handlers.LedgerHandler
	AdapterHandler    *handlers.AdapterHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

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
	if cfg.RequestLogger != nil {
		router.Use(cfg.RequestLogger.Log())
	}

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Evaluations
		api.POST("/evaluations", cfg.EvaluationHandler.SubmitEvaluation)

		// Ability
		api.GET("/students/:studentId/ability", cfg.AbilityHandler.GetAbility)
		api.GET("/students/:studentId/ability/prediction", cfg.AbilityHandler.GetPrediction)

		// Ledger
		api.GET("/students/:studentId/ledger/events", cfg.LedgerHandler.ListEvents)
		api.GET("/students/:studentId/ledger/verify", cfg.LedgerHandler.VerifyChain)
		api.GET("/students/:studentId/ledger/merkle-root", cfg.LedgerHandler.GetMerkleRoot)
		api.GET("/students/:studentId/ledger/scores", cfg.LedgerHandler.GetLatestScores)
		api.GET("/students/:studentId/anchors", cfg.LedgerHandler.ListAnchors)
		api.GET("/ledger/events/:eventId/verify", cfg.LedgerHandler.VerifyEvent)
		api.POST("/ledger/events/:eventId/correct", cfg.LedgerHandler.CorrectEvent)

		// Adapter
		api.GET("/adapter/state", cfg.AdapterHandler.GetState)
		api.POST("/adapter/difficulty", cfg.AdapterHandler.UpdateDifficulty)
		api.POST("/adapter/bias", cfg.AdapterHandler.UpdateBias)
	}

	return router
}
