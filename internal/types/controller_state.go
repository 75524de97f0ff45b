package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ControllerPID       = "pid"
	ControllerIRT       = "irt"
	ControllerAttention = "attention"
)

// ControllerState is the shared persisted shape of the auxiliary adaptive
// controllers (PID difficulty nudge, IRT ability tracker, attention-weighted
// recommender). State and History are controller-specific documents; the
// envelope is uniform so the adapter surface can expose them symmetrically.
type ControllerState struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Controller string     `gorm:"column:controller;not null;index:idx_controller_scope,unique,priority:1" json:"controller"`
	ScopeType  string     `gorm:"column:scope_type;not null;default:'global';index:idx_controller_scope,unique,priority:2" json:"scope_type"`
	ScopeID    *uuid.UUID `gorm:"type:uuid;column:scope_id;index:idx_controller_scope,unique,priority:3" json:"scope_id,omitempty"`

	State   datatypes.JSON `gorm:"column:state;type:jsonb" json:"state"`
	History datatypes.JSON `gorm:"column:history;type:jsonb" json:"history"`

	Version int64 `gorm:"column:version;not null;default:0" json:"version"`

	LastUpdatedAt *time.Time `gorm:"column:last_updated_at;index" json:"last_updated_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (ControllerState) TableName() string { return "controller_state" }
