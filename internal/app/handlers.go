package app

import (
	"github.com/edifylabs/edify-backend/internal/handlers"
	"github.com/edifylabs/edify-backend/internal/logger"
)

type Handlers struct {
	Ability    *handlers.AbilityHandler
	Evaluation *handlers.EvaluationHandler
	Ledger     *handlers.LedgerHandler
	Adapter    *handlers.AdapterHandler
}

func wireHandlers(log *logger.Logger, serviceset Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Ability:    handlers.NewAbilityHandler(log, serviceset.Ability),
		Evaluation: handlers.NewEvaluationHandler(log, serviceset.Evaluation),
		Ledger:     handlers.NewLedgerHandler(log, serviceset.Ledger, serviceset.Compliance),
		Adapter:    handlers.NewAdapterHandler(log, serviceset.Adaptation),
	}
}
