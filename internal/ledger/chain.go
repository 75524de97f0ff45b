package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/edifylabs/edify-backend/internal/types"
)

// Event hashes are computed over a canonical serialization so that the same
// event always yields the same digest regardless of how its payload was
// marshaled: field order is fixed and JSON payloads are re-marshaled with
// sorted object keys before hashing.

func sha256Hex(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalPayload normalizes a raw JSON payload to its canonical form.
// encoding/json marshals map keys in sorted order, which makes the round trip
// deterministic. A nil or empty payload canonicalizes to "null".
func CanonicalPayload(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "null", nil
	}
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	return string(out), nil
}

func refString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

// ComputeEventHash is the primary event digest over identity, subject refs,
// timestamp and canonical payload.
func ComputeEventHash(eventID uuid.UUID, eventType string, studentID uuid.UUID, teacherID, schoolID *uuid.UUID, ts time.Time, payload []byte) (string, error) {
	canonical, err := CanonicalPayload(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(
		eventID.String(),
		eventType,
		studentID.String(),
		refString(teacherID),
		refString(schoolID),
		strconv.FormatInt(ts.UnixMilli(), 10),
		canonical,
	), nil
}

// ComputeValidationHash is the secondary digest used for tamper evidence
// without exposing the payload: it binds the event id, primary hash, timestamp
// and acting principal.
func ComputeValidationHash(eventID uuid.UUID, hash string, ts time.Time, actor string) string {
	return sha256Hex(
		eventID.String(),
		hash,
		strconv.FormatInt(ts.UnixMilli(), 10),
		actor,
	)
}

// HashEvent recomputes the primary hash for a stored event.
func HashEvent(e *types.LedgerEvent) (string, error) {
	return ComputeEventHash(e.ID, e.EventType, e.StudentID, e.TeacherID, e.SchoolID, e.Timestamp, e.Payload)
}

// Seal fills in Hash and ValidationHash on a not-yet-persisted event.
func Seal(e *types.LedgerEvent) error {
	hash, err := HashEvent(e)
	if err != nil {
		return err
	}
	e.Hash = hash
	e.ValidationHash = ComputeValidationHash(e.ID, hash, e.Timestamp, e.Actor)
	return nil
}

// ShortHash trims a digest for log output.
func ShortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}
