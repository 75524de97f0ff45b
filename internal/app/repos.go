package app

import (
	"gorm.io/gorm"

	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/repos"
)

type Repos struct {
	AbilityState    repos.AbilityStateRepo
	AdapterState    repos.AdapterStateRepo
	ControllerState repos.ControllerStateRepo
	LedgerEvent     repos.LedgerEventRepo
	IntegrityAnchor repos.IntegrityAnchorRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		AbilityState:    repos.NewAbilityStateRepo(db, log),
		AdapterState:    repos.NewAdapterStateRepo(db, log),
		ControllerState: repos.NewControllerStateRepo(db, log),
		LedgerEvent:     repos.NewLedgerEventRepo(db, log),
		IntegrityAnchor: repos.NewIntegrityAnchorRepo(db, log),
	}
}
