package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ScopeGlobal  = "global"
	ScopeStudent = "student"
	ScopeClass   = "class"
	ScopeSchool  = "school"
)

// AdapterUpdate is one entry of the append-only update history kept on an
// AdapterState.
type AdapterUpdate struct {
	Field     string    `json:"field"`
	Old       float64   `json:"old"`
	New       float64   `json:"new"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// AdapterState holds the tunable scoring weights and difficulty rates for one
// scope. Scope "global" with a nil ScopeID is the fallback of last resort.
type AdapterState struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ScopeType string     `gorm:"column:scope_type;not null;default:'global';index:idx_adapter_scope,unique,priority:1" json:"scope_type"`
	ScopeID   *uuid.UUID `gorm:"type:uuid;column:scope_id;index:idx_adapter_scope,unique,priority:2" json:"scope_id,omitempty"`

	// Primary weight pair; always normalized to sum 1.0.
	AnswerWeight    float64 `gorm:"column:answer_weight;not null;default:0.7" json:"answer_weight"`
	ReasoningWeight float64 `gorm:"column:reasoning_weight;not null;default:0.3" json:"reasoning_weight"`

	// Component importances; always normalized to sum 1.0.
	FormulaImportance     float64 `gorm:"column:formula_importance;not null;default:0.3" json:"formula_importance"`
	CalculationImportance float64 `gorm:"column:calculation_importance;not null;default:0.3" json:"calculation_importance"`
	ExplanationImportance float64 `gorm:"column:explanation_importance;not null;default:0.25" json:"explanation_importance"`
	UnitsImportance       float64 `gorm:"column:units_importance;not null;default:0.15" json:"units_importance"`

	DifficultyIncrementRate float64 `gorm:"column:difficulty_increment_rate;not null;default:0.05" json:"difficulty_increment_rate"`
	DifficultyDecrementRate float64 `gorm:"column:difficulty_decrement_rate;not null;default:0.1" json:"difficulty_decrement_rate"`
	DifficultyThreshold     float64 `gorm:"column:difficulty_threshold;not null;default:0.75" json:"difficulty_threshold"`
	TargetAccuracy          float64 `gorm:"column:target_accuracy;not null;default:0.7" json:"target_accuracy"`
	WindowSize              int     `gorm:"column:window_size;not null;default:10" json:"window_size"`

	LearningRate   float64 `gorm:"column:learning_rate;not null;default:0.1" json:"learning_rate"`
	AdaptationRate float64 `gorm:"column:adaptation_rate;not null;default:0.05" json:"adaptation_rate"`

	AverageError float64 `gorm:"column:average_error;not null;default:0" json:"average_error"`
	Accuracy     float64 `gorm:"column:accuracy;not null;default:1" json:"accuracy"`

	Biases        datatypes.JSON `gorm:"column:biases;type:jsonb" json:"biases"`
	UpdateHistory datatypes.JSON `gorm:"column:update_history;type:jsonb" json:"update_history"`

	Version int64 `gorm:"column:version;not null;default:0" json:"version"`

	LastUpdatedAt *time.Time `gorm:"column:last_updated_at;index" json:"last_updated_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (AdapterState) TableName() string { return "adapter_state" }
