package ledger

import (
	"github.com/google/uuid"

	"github.com/edifylabs/edify-backend/internal/types"
)

// EventCheck is the result of verifying a single event's digests.
type EventCheck struct {
	HashValid           bool `json:"hash_valid"`
	ValidationHashValid bool `json:"validation_hash_valid"`
}

// VerifyEvent recomputes both digests of a stored event and compares them to
// the persisted values.
func VerifyEvent(e *types.LedgerEvent) EventCheck {
	check := EventCheck{}
	hash, err := HashEvent(e)
	if err == nil && hash == e.Hash {
		check.HashValid = true
	}
	if ComputeValidationHash(e.ID, e.Hash, e.Timestamp, e.Actor) == e.ValidationHash {
		check.ValidationHashValid = true
	}
	return check
}

// InvalidEvent names one divergence point found during chain verification,
// with enough detail for forensic debugging.
type InvalidEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	BlockIndex int64     `json:"block_index"`
	Reason     string    `json:"reason"`
	Expected   string    `json:"expected,omitempty"`
	Actual     string    `json:"actual,omitempty"`
}

// ChainReport is the outcome of walking one student's chain. Corruption is
// reported, never repaired and never raised as an error: a partially corrupt
// chain must stay diagnosable.
type ChainReport struct {
	ChainValid    bool           `json:"chain_valid"`
	EventCount    int            `json:"event_count"`
	InvalidEvents []InvalidEvent `json:"invalid_events"`
}

// VerifyChain validates per-event digests and adjacent hash linkage over
// events already ordered by block index.
func VerifyChain(events []*types.LedgerEvent) ChainReport {
	report := ChainReport{ChainValid: true, EventCount: len(events)}

	for i, e := range events {
		check := VerifyEvent(e)
		if !check.HashValid {
			recomputed, _ := HashEvent(e)
			report.invalidate(e, "event hash mismatch", recomputed, e.Hash)
		}
		if !check.ValidationHashValid {
			report.invalidate(e, "validation hash mismatch",
				ComputeValidationHash(e.ID, e.Hash, e.Timestamp, e.Actor), e.ValidationHash)
		}

		if i == 0 {
			if e.PreviousHash != nil {
				report.invalidate(e, "first event carries a previous hash", "", *e.PreviousHash)
			}
			continue
		}

		prev := events[i-1]
		if e.BlockIndex != prev.BlockIndex+1 {
			report.invalidate(e, "block index gap", "", "")
		}
		switch {
		case e.PreviousHash == nil:
			report.invalidate(e, "missing previous hash", prev.Hash, "")
		case *e.PreviousHash != prev.Hash:
			report.invalidate(e, "broken chain link", prev.Hash, *e.PreviousHash)
		}
	}
	return report
}

func (r *ChainReport) invalidate(e *types.LedgerEvent, reason, expected, actual string) {
	r.ChainValid = false
	r.InvalidEvents = append(r.InvalidEvents, InvalidEvent{
		EventID:    e.ID,
		BlockIndex: e.BlockIndex,
		Reason:     reason,
		Expected:   expected,
		Actual:     actual,
	})
}
