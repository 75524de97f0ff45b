package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	redisclient "github.com/edifylabs/edify-backend/internal/clients/redis"
	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/ledger"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/repos"
	"github.com/edifylabs/edify-backend/internal/types"
)

// AppendRequest describes one event to chain.
type AppendRequest struct {
	EventType     string
	StudentID     uuid.UUID
	TeacherID     *uuid.UUID
	SchoolID      *uuid.UUID
	Payload       []byte
	Actor         string
	CorrectedFrom *uuid.UUID
}

// CompetencyScore is the latest confirmed assessment for one competency.
type CompetencyScore struct {
	Competency  string    `json:"competency"`
	Score       float64   `json:"score"`
	Estimate    float64   `json:"estimate"`
	Uncertainty float64   `json:"uncertainty"`
	EventID     uuid.UUID `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventVerification pairs an event with its digest checks.
type EventVerification struct {
	EventID             uuid.UUID `json:"event_id"`
	BlockIndex          int64     `json:"block_index"`
	HashValid           bool      `json:"hash_valid"`
	ValidationHashValid bool      `json:"validation_hash_valid"`
}

type LedgerService interface {
	Append(ctx context.Context, req AppendRequest) (*types.LedgerEvent, error)
	GetEvent(ctx context.Context, eventID uuid.UUID) (*types.LedgerEvent, error)
	ListEvents(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*types.LedgerEvent, error)
	VerifyEvent(ctx context.Context, eventID uuid.UUID) (*EventVerification, error)
	// VerifyChain walks the student's full chain in block order and reports
	// every divergence. Corruption is reported, never repaired.
	VerifyChain(ctx context.Context, studentID uuid.UUID) (*ledger.ChainReport, error)
	// MerkleRoot summarizes the last n events (or the whole chain when n <= 0).
	MerkleRoot(ctx context.Context, studentID uuid.UUID, n int) (*ledger.Tree, error)
	LatestCompetencyScores(ctx context.Context, studentID uuid.UUID) ([]CompetencyScore, error)
	// Correct supersedes a confirmed event: a correction_issued event is
	// appended pointing back at the original, and the original's status flips
	// to corrected. The original's hash and payload are never touched.
	Correct(ctx context.Context, eventID uuid.UUID, payload []byte, actor string) (*types.LedgerEvent, error)
}

type ledgerService struct {
	db     *gorm.DB
	log    *logger.Logger
	events repos.LedgerEventRepo
	cache  redisclient.Cache
	clock  core.Clock

	locks sync.Map // studentID -> *sync.Mutex
}

// NewLedgerService wires the ledger. cache may be nil; reads then always go to
// the database.
func NewLedgerService(db *gorm.DB, log *logger.Logger, events repos.LedgerEventRepo, cache redisclient.Cache, clock core.Clock) LedgerService {
	return &ledgerService{
		db:     db,
		log:    log.With("service", "LedgerService"),
		events: events,
		cache:  cache,
		clock:  clock,
	}
}

func (s *ledgerService) studentLock(studentID uuid.UUID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(studentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *ledgerService) Append(ctx context.Context, req AppendRequest) (*types.LedgerEvent, error) {
	if req.StudentID == uuid.Nil {
		return nil, core.NewNotFoundError("student", "nil")
	}

	mu := s.studentLock(req.StudentID)
	mu.Lock()
	defer mu.Unlock()

	return s.appendLocked(ctx, req)
}

// appendLocked chains one event. The caller holds the student's lock.
func (s *ledgerService) appendLocked(ctx context.Context, req AppendRequest) (*types.LedgerEvent, error) {
	actor := req.Actor
	if actor == "" {
		actor = "system"
	}

	// The tail is re-resolved on every attempt: a racing writer in another
	// process advances the chain between our read and write, which surfaces as
	// a block-index collision from the unique chain index.
	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		tail, err := s.events.GetLatest(ctx, nil, req.StudentID)
		if err != nil {
			return nil, err
		}

		event := &types.LedgerEvent{
			ID:            uuid.New(),
			EventType:     req.EventType,
			StudentID:     req.StudentID,
			TeacherID:     req.TeacherID,
			SchoolID:      req.SchoolID,
			Payload:       datatypes.JSON(req.Payload),
			Timestamp:     s.clock.Now(),
			Actor:         actor,
			Status:        types.EventStatusConfirmed,
			CorrectedFrom: req.CorrectedFrom,
		}
		if tail != nil {
			event.BlockIndex = tail.BlockIndex + 1
			prev := tail.Hash
			event.PreviousHash = &prev
		}
		if err := ledger.Seal(event); err != nil {
			return nil, err
		}

		err = s.events.Append(ctx, nil, event)
		if err == nil {
			s.log.Info("Ledger event appended",
				"student_id", req.StudentID,
				"event_type", req.EventType,
				"block_index", event.BlockIndex,
				"hash", ledger.ShortHash(event.Hash))
			s.invalidate(ctx, req.StudentID)
			return event, nil
		}
		if !core.IsConflict(err) {
			return nil, err
		}
		lastErr = err
		s.log.Warn("Retrying ledger append after tail race", "student_id", req.StudentID, "attempt", attempt+1)
	}
	s.log.Error("Ledger append exhausted retries", "student_id", req.StudentID, "error", lastErr)
	return nil, core.NewConflictError(req.StudentID.String(), writeAttempts)
}

func (s *ledgerService) GetEvent(ctx context.Context, eventID uuid.UUID) (*types.LedgerEvent, error) {
	event, err := s.events.GetByID(ctx, nil, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, core.NewNotFoundError("ledger event", eventID.String())
	}
	return event, nil
}

func (s *ledgerService) ListEvents(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]*types.LedgerEvent, error) {
	return s.events.ListAsc(ctx, nil, studentID, limit, offset)
}

func (s *ledgerService) VerifyEvent(ctx context.Context, eventID uuid.UUID) (*EventVerification, error) {
	event, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	check := ledger.VerifyEvent(event)
	return &EventVerification{
		EventID:             event.ID,
		BlockIndex:          event.BlockIndex,
		HashValid:           check.HashValid,
		ValidationHashValid: check.ValidationHashValid,
	}, nil
}

func (s *ledgerService) VerifyChain(ctx context.Context, studentID uuid.UUID) (*ledger.ChainReport, error) {
	events, err := s.events.ListAsc(ctx, nil, studentID, 0, 0)
	if err != nil {
		return nil, err
	}
	report := ledger.VerifyChain(events)
	if !report.ChainValid {
		s.log.Warn("Chain verification found divergences",
			"student_id", studentID, "invalid_events", len(report.InvalidEvents))
	}
	return &report, nil
}

func (s *ledgerService) MerkleRoot(ctx context.Context, studentID uuid.UUID, n int) (*ledger.Tree, error) {
	var (
		events []*types.LedgerEvent
		err    error
	)
	if n > 0 {
		events, err = s.events.ListLastN(ctx, nil, studentID, n)
	} else {
		events, err = s.events.ListAsc(ctx, nil, studentID, 0, 0)
	}
	if err != nil {
		return nil, err
	}
	tree := ledger.BuildTree(events)
	return &tree, nil
}

// LatestCompetencyScores walks the chain newest-first and keeps the first
// confirmed event seen per competency. Corrections whose payload names a
// competency participate alongside assessments, so correcting an assessment
// surfaces the corrected value instead of reverting to an older score.
// The result is cached per student and invalidated on every append.
func (s *ledgerService) LatestCompetencyScores(ctx context.Context, studentID uuid.UUID) ([]CompetencyScore, error) {
	key := redisclient.ScoresKey(studentID.String())
	if s.cache != nil {
		var cached []CompetencyScore
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	events, err := s.events.ListDesc(ctx, nil, studentID, 0)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	scores := []CompetencyScore{}
	for _, e := range events {
		if e.Status != types.EventStatusConfirmed {
			continue
		}
		if e.EventType != types.EventCompetencyAssessed && e.EventType != types.EventCorrectionIssued {
			continue
		}
		payload, err := decodeAssessment(e.Payload)
		if err != nil {
			s.log.Warn("Skipping undecodable assessment payload", "event_id", e.ID, "error", err)
			continue
		}
		if payload.Competency == "" || seen[payload.Competency] {
			continue
		}
		seen[payload.Competency] = true
		scores = append(scores, CompetencyScore{
			Competency:  payload.Competency,
			Score:       payload.Score,
			Estimate:    payload.Estimate,
			Uncertainty: payload.Uncertainty,
			EventID:     e.ID,
			Timestamp:   e.Timestamp,
		})
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, scores, 0); err != nil {
			s.log.Warn("Failed to cache competency scores", "student_id", studentID, "error", err)
		}
	}
	return scores, nil
}

func (s *ledgerService) Correct(ctx context.Context, eventID uuid.UUID, payload []byte, actor string) (*types.LedgerEvent, error) {
	original, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// The status check, the correction append and the status flip all happen
	// under the student's lock so two concurrent corrections cannot both pass
	// the check and chain duplicate corrections.
	mu := s.studentLock(original.StudentID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock: a racing correction may have landed between the
	// first read and lock acquisition.
	original, err = s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if original.Status == types.EventStatusCorrected {
		return nil, core.ErrImmutableEvent
	}

	correctedFrom := original.ID
	correction, err := s.appendLocked(ctx, AppendRequest{
		EventType:     types.EventCorrectionIssued,
		StudentID:     original.StudentID,
		TeacherID:     original.TeacherID,
		SchoolID:      original.SchoolID,
		Payload:       payload,
		Actor:         actor,
		CorrectedFrom: &correctedFrom,
	})
	if err != nil {
		return nil, err
	}

	// MarkCorrected only flips confirmed rows; a cross-process race surfaces
	// here as a conflict instead of silently double-marking.
	if err := s.events.MarkCorrected(ctx, nil, original.ID); err != nil {
		s.log.Error("Correction chained but original not marked",
			"student_id", original.StudentID, "original_event", original.ID, "error", err)
		return nil, err
	}
	s.invalidate(ctx, original.StudentID)
	s.log.Info("Ledger event corrected",
		"student_id", original.StudentID,
		"original_event", original.ID,
		"correction_event", correction.ID)
	return correction, nil
}

func (s *ledgerService) invalidate(ctx context.Context, studentID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateStudent(ctx, studentID.String()); err != nil {
		s.log.Warn("Cache invalidation failed", "student_id", studentID, "error", err)
	}
}

func decodeAssessment(raw datatypes.JSON) (*types.AssessmentPayload, error) {
	var p types.AssessmentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
