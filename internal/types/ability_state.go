package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ConvergenceInitializing = "initializing"
	ConvergenceConverging   = "converging"
	ConvergenceConverged    = "converged"
	ConvergenceStable       = "stable"
)

// AbilityMeasurement is one entry of the bounded measurement log kept on an
// AbilityState (most recent last).
type AbilityMeasurement struct {
	Measurement float64   `json:"measurement"`
	Estimate    float64   `json:"estimate"`
	Gain        float64   `json:"gain"`
	Innovation  float64   `json:"innovation"`
	Uncertainty float64   `json:"uncertainty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConvergenceSample is one entry of the convergence-metric history.
type ConvergenceSample struct {
	MeanAbsInnovation float64   `json:"mean_abs_innovation"`
	MeanUncertainty   float64   `json:"mean_uncertainty"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
}

// AbilityState tracks the latent-ability Kalman state for one student and
// competency. Competency "" is the overall (cross-competency) state.
type AbilityState struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	StudentID  uuid.UUID `gorm:"type:uuid;not null;index:idx_ability_state,unique,priority:1" json:"student_id"`
	Competency string    `gorm:"column:competency;not null;default:'';index:idx_ability_state,unique,priority:2" json:"competency"`

	Estimate    float64 `gorm:"column:estimate;not null;default:50" json:"estimate"`
	Uncertainty float64 `gorm:"column:uncertainty;not null;default:100" json:"uncertainty"`

	ProcessNoise     float64 `gorm:"column:process_noise;not null;default:5" json:"process_noise"`
	MeasurementNoise float64 `gorm:"column:measurement_noise;not null;default:15" json:"measurement_noise"`

	ConvergenceStatus string `gorm:"column:convergence_status;not null;default:'initializing'" json:"convergence_status"`
	UpdateCount       int    `gorm:"column:update_count;not null;default:0" json:"update_count"`
	StableWindows     int    `gorm:"column:stable_windows;not null;default:0" json:"stable_windows"`

	Measurements       datatypes.JSON `gorm:"column:measurements;type:jsonb" json:"measurements"`
	ConvergenceHistory datatypes.JSON `gorm:"column:convergence_history;type:jsonb" json:"convergence_history"`

	// Version guards load-modify-store sequences (optimistic concurrency).
	Version int64 `gorm:"column:version;not null;default:0" json:"version"`

	LastMeasuredAt *time.Time `gorm:"column:last_measured_at;index" json:"last_measured_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (AbilityState) TableName() string { return "ability_state" }
