package types

import (
	"time"

	"github.com/google/uuid"
)

// IntegrityAnchor is a periodic merkle-root snapshot over a window of a
// student's ledger events. Anchors link to the previous anchor's root so the
// anchor sequence is itself tamper-evident; exported reports embed RootHash as
// an externally-auditable stamp.
type IntegrityAnchor struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	StudentID uuid.UUID `gorm:"type:uuid;not null;index" json:"student_id"`

	FromBlockIndex int64 `gorm:"column:from_block_index;not null" json:"from_block_index"`
	ToBlockIndex   int64 `gorm:"column:to_block_index;not null" json:"to_block_index"`
	LeafCount      int   `gorm:"column:leaf_count;not null" json:"leaf_count"`

	RootHash     string  `gorm:"column:root_hash;not null" json:"root_hash"`
	PreviousRoot *string `gorm:"column:previous_root" json:"previous_root,omitempty"`

	ChainValid bool `gorm:"column:chain_valid;not null;default:true" json:"chain_valid"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (IntegrityAnchor) TableName() string { return "integrity_anchor" }
