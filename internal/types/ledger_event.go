package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventCompetencyAssessed = "competency_assessed"
	EventChallengeEvaluated = "challenge_evaluated"
	EventReportGenerated    = "report_generated"
	EventCorrectionIssued   = "correction_issued"
)

const (
	EventStatusPending   = "pending"
	EventStatusConfirmed = "confirmed"
	EventStatusInvalid   = "invalid"
	EventStatusCorrected = "corrected"
)

// LedgerEvent is one link of a student's hash chain. Everything except Status
// is immutable once written; corrections append a new event pointing back via
// CorrectedFrom.
type LedgerEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EventType string    `gorm:"column:event_type;not null;index" json:"event_type"`

	StudentID uuid.UUID  `gorm:"type:uuid;not null;index:idx_ledger_chain,unique,priority:1" json:"student_id"`
	TeacherID *uuid.UUID `gorm:"type:uuid;index" json:"teacher_id,omitempty"`
	SchoolID  *uuid.UUID `gorm:"type:uuid;index" json:"school_id,omitempty"`

	Payload   datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Timestamp time.Time      `gorm:"column:timestamp;not null" json:"timestamp"`
	Actor     string         `gorm:"column:actor;not null;default:'system'" json:"actor"`

	Hash           string  `gorm:"column:hash;not null" json:"hash"`
	PreviousHash   *string `gorm:"column:previous_hash" json:"previous_hash,omitempty"`
	ValidationHash string  `gorm:"column:validation_hash;not null" json:"validation_hash"`

	// BlockIndex is monotonic per student; the unique index makes a racing
	// append fail instead of forking the chain.
	BlockIndex int64 `gorm:"column:block_index;not null;index:idx_ledger_chain,unique,priority:2" json:"block_index"`

	Status        string     `gorm:"column:status;not null;default:'confirmed';index" json:"status"`
	CorrectedFrom *uuid.UUID `gorm:"type:uuid;column:corrected_from" json:"corrected_from,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (LedgerEvent) TableName() string { return "ledger_event" }

// AssessmentPayload is the structured payload of competency_assessed and
// challenge_evaluated events.
type AssessmentPayload struct {
	Competency     string  `json:"competency,omitempty"`
	Score          float64 `json:"score"`
	Level          string  `json:"level,omitempty"`
	Estimate       float64 `json:"estimate"`
	Uncertainty    float64 `json:"uncertainty"`
	SimulationType string  `json:"simulation_type,omitempty"`
	Difficulty     string  `json:"difficulty,omitempty"`
}
