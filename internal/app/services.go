package app

import (
	"gorm.io/gorm"

	redisclient "github.com/edifylabs/edify-backend/internal/clients/redis"
	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/services"
)

type Services struct {
	Ability    services.AbilityService
	Adaptation services.AdaptationService
	Ledger     services.LedgerService
	Evaluation services.EvaluationService
	Compliance services.ComplianceService
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, cache redisclient.Cache) Services {
	log.Info("Wiring services...")
	clock := core.NewClock()

	abilitySvc := services.NewAbilityService(db, log, reposet.AbilityState, cache, cfg.Estimator, clock)
	adaptationSvc := services.NewAdaptationService(db, log, reposet.AdapterState, reposet.ControllerState, clock)
	ledgerSvc := services.NewLedgerService(db, log, reposet.LedgerEvent, cache, clock)
	evaluationSvc := services.NewEvaluationService(log, abilitySvc, adaptationSvc, ledgerSvc)
	complianceSvc := services.NewComplianceService(db, log, reposet.LedgerEvent, reposet.IntegrityAnchor, clock)

	return Services{
		Ability:    abilitySvc,
		Adaptation: adaptationSvc,
		Ledger:     ledgerSvc,
		Evaluation: evaluationSvc,
		Compliance: complianceSvc,
	}
}
