package app

import (
	"github.com/gin-gonic/gin"

	"github.com/edifylabs/edify-backend/internal/server"
)

func wireRouter(handlerset Handlers, mw Middleware) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		RequestLogger:     mw.RequestLogger,
		AbilityHandler:    handlerset.Ability,
		EvaluationHandler: handlerset.Evaluation,
		LedgerHandler:     handlerset.Ledger,
		AdapterHandler:    handlerset.Adapter,
	})
}
