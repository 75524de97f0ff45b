package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/types"
)

// EvaluationRequest is one scored piece of student work entering the pipeline.
type EvaluationRequest struct {
	StudentID  uuid.UUID  `json:"student_id"`
	TeacherID  *uuid.UUID `json:"teacher_id,omitempty"`
	SchoolID   *uuid.UUID `json:"school_id,omitempty"`
	Competency string     `json:"competency"`
	// Score is the raw evaluation score on the 0-100 scale.
	Score float64 `json:"score"`
	// Difficulty of the evaluated item on the 0-100 scale. A pointer so an
	// explicit 0 (easiest item) is distinguishable from absent; absent defaults
	// to 50.
	Difficulty *float64 `json:"difficulty,omitempty"`
	Actor      string   `json:"actor,omitempty"`
}

// EvaluationResult reports one completed pipeline pass.
type EvaluationResult struct {
	StudentID         uuid.UUID `json:"student_id"`
	Competency        string    `json:"competency"`
	Estimate          float64   `json:"estimate"`
	Uncertainty       float64   `json:"uncertainty"`
	ConvergenceStatus string    `json:"convergence_status"`
	LedgerEventID     uuid.UUID `json:"ledger_event_id"`
	BlockIndex        int64     `json:"block_index"`
}

type EvaluationService interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResult, error)
}

// evaluationService runs the pipeline: estimator update, adapter feedback,
// ledger append. The adapter step is advisory and never fails an evaluation;
// the ledger append is the system of record and does.
type evaluationService struct {
	log        *logger.Logger
	ability    AbilityService
	adaptation AdaptationService
	ledger     LedgerService
}

func NewEvaluationService(log *logger.Logger, ability AbilityService, adaptation AdaptationService, ledger LedgerService) EvaluationService {
	return &evaluationService{
		log:        log.With("service", "EvaluationService"),
		ability:    ability,
		adaptation: adaptation,
		ledger:     ledger,
	}
}

func (s *evaluationService) Evaluate(ctx context.Context, req EvaluationRequest) (*EvaluationResult, error) {
	if req.StudentID == uuid.Nil {
		return nil, core.NewNotFoundError("student", "nil")
	}
	difficulty := 50.0
	if req.Difficulty != nil {
		difficulty = *req.Difficulty
	}

	update, err := s.ability.Update(ctx, req.StudentID, req.Competency, req.Score)
	if err != nil {
		return nil, err
	}

	// Feed the adapter with the normalized innovation. Adapter drift is
	// recoverable, so a failure here is logged and the evaluation proceeds.
	scope := types.StudentScope(req.StudentID)
	predictionError := update.Innovation / 100
	if _, err := s.adaptation.RecordEvaluation(ctx, scope, req.Competency, predictionError, req.Score/100, difficulty); err != nil {
		s.log.Warn("Adapter update failed, continuing evaluation",
			"student_id", req.StudentID, "competency", req.Competency, "error", err)
	}

	payload, err := json.Marshal(types.AssessmentPayload{
		Competency:  req.Competency,
		Score:       req.Score,
		Estimate:    update.Estimate,
		Uncertainty: update.Uncertainty,
	})
	if err != nil {
		return nil, err
	}

	event, err := s.ledger.Append(ctx, AppendRequest{
		EventType: types.EventCompetencyAssessed,
		StudentID: req.StudentID,
		TeacherID: req.TeacherID,
		SchoolID:  req.SchoolID,
		Payload:   payload,
		Actor:     req.Actor,
	})
	if err != nil {
		// The estimate moved but the record did not land; surface it loudly so
		// the caller can retry the whole evaluation.
		s.log.Error("Ledger append failed after estimator update",
			"student_id", req.StudentID, "competency", req.Competency, "error", err)
		return nil, err
	}

	return &EvaluationResult{
		StudentID:         req.StudentID,
		Competency:        req.Competency,
		Estimate:          update.Estimate,
		Uncertainty:       update.Uncertainty,
		ConvergenceStatus: update.ConvergenceStatus,
		LedgerEventID:     event.ID,
		BlockIndex:        event.BlockIndex,
	}, nil
}
