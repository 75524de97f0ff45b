package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/edifylabs/edify-backend/internal/adapter"
	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/repos"
	"github.com/edifylabs/edify-backend/internal/types"
)

// AdapterSnapshot is the read-model of one adapter scope, controllers included.
type AdapterSnapshot struct {
	Scope types.Scope `json:"scope"`
	// Resolved reports which scope in the fallback chain actually served the
	// read; it differs from Scope when the requested scope has no state yet.
	Resolved types.Scope `json:"resolved"`

	AnswerWeight    float64 `json:"answer_weight"`
	ReasoningWeight float64 `json:"reasoning_weight"`

	FormulaImportance     float64 `json:"formula_importance"`
	CalculationImportance float64 `json:"calculation_importance"`
	ExplanationImportance float64 `json:"explanation_importance"`
	UnitsImportance       float64 `json:"units_importance"`

	DifficultyIncrementRate float64 `json:"difficulty_increment_rate"`
	DifficultyDecrementRate float64 `json:"difficulty_decrement_rate"`
	DifficultyThreshold     float64 `json:"difficulty_threshold"`
	TargetAccuracy          float64 `json:"target_accuracy"`

	AverageError float64            `json:"average_error"`
	Accuracy     float64            `json:"accuracy"`
	Biases       map[string]float64 `json:"biases,omitempty"`

	NeedsRecalibration bool `json:"needs_recalibration"`

	PID       *adapter.PIDState       `json:"pid,omitempty"`
	IRT       *adapter.IRTState       `json:"irt,omitempty"`
	Attention *adapter.AttentionState `json:"attention,omitempty"`

	RecommendedFocus []string `json:"recommended_focus,omitempty"`
}

// AdaptationResult reports one recorded evaluation.
type AdaptationResult struct {
	AnswerWeight    float64 `json:"answer_weight"`
	ReasoningWeight float64 `json:"reasoning_weight"`
	AverageError    float64 `json:"average_error"`
	DifficultyNudge float64 `json:"difficulty_nudge"`
	Theta           float64 `json:"theta"`
}

type AdaptationService interface {
	// RecordEvaluation folds one normalized prediction error into the scope's
	// adapter and its controllers. score is on [0,1], difficulty on [0,100].
	RecordEvaluation(ctx context.Context, scope types.Scope, competency string, predictionError, score, difficulty float64) (*AdaptationResult, error)
	GetState(ctx context.Context, scope types.Scope) (*AdapterSnapshot, error)
	UpdateDifficulty(ctx context.Context, scope types.Scope, performance float64) error
	UpdateBias(ctx context.Context, scope types.Scope, competency string, bias float64) error
}

type adaptationService struct {
	db          *gorm.DB
	log         *logger.Logger
	adapters    repos.AdapterStateRepo
	controllers repos.ControllerStateRepo
	clock       core.Clock

	locks sync.Map // scope key -> *sync.Mutex
}

func NewAdaptationService(db *gorm.DB, log *logger.Logger, adapters repos.AdapterStateRepo, controllers repos.ControllerStateRepo, clock core.Clock) AdaptationService {
	return &adaptationService{
		db:          db,
		log:         log.With("service", "AdaptationService"),
		adapters:    adapters,
		controllers: controllers,
		clock:       clock,
	}
}

func scopeKey(s types.Scope) string {
	if s.ID == nil {
		return s.Type
	}
	return fmt.Sprintf("%s:%s", s.Type, s.ID)
}

func (s *adaptationService) scopeLock(scope types.Scope) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(scopeKey(scope), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *adaptationService) RecordEvaluation(ctx context.Context, scope types.Scope, competency string, predictionError, score, difficulty float64) (*AdaptationResult, error) {
	if !scope.Valid() {
		return nil, core.ErrInvalidScope
	}

	mu := s.scopeLock(scope)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		now := s.clock.Now()

		row, state, created, err := s.loadOrSeed(ctx, scope)
		if err != nil {
			return nil, err
		}
		state.RecordCorrection(predictionError, now)
		state.NormalizeComponents()

		if err := s.saveAdapter(ctx, row, state, created, now); err != nil {
			if core.IsConflict(err) {
				lastErr = err
				s.log.Warn("Retrying adapter update after write conflict", "scope", scopeKey(scope), "attempt", attempt+1)
				continue
			}
			return nil, err
		}

		// Controllers are advanced after the primary state commits; each is an
		// independent row under the same scope lock, so plain saves suffice.
		pid, err := s.loadPID(ctx, scope)
		if err != nil {
			return nil, err
		}
		nudge := pid.Update(state.TargetAccuracy-state.Accuracy, now)
		if err := s.saveController(ctx, scope, types.ControllerPID, pid, pid.History, now); err != nil {
			return nil, err
		}

		irt, err := s.loadIRT(ctx, scope)
		if err != nil {
			return nil, err
		}
		theta := irt.Update(score, difficulty, now)
		if err := s.saveController(ctx, scope, types.ControllerIRT, irt, irt.History, now); err != nil {
			return nil, err
		}

		attn, err := s.loadAttention(ctx, scope)
		if err != nil {
			return nil, err
		}
		attn.Update(competency, predictionError, now)
		if err := s.saveController(ctx, scope, types.ControllerAttention, attn, attn.History, now); err != nil {
			return nil, err
		}

		return &AdaptationResult{
			AnswerWeight:    state.AnswerWeight,
			ReasoningWeight: state.ReasoningWeight,
			AverageError:    state.AverageError,
			DifficultyNudge: nudge,
			Theta:           theta,
		}, nil
	}
	s.log.Error("Adapter update exhausted retries", "scope", scopeKey(scope), "error", lastErr)
	return nil, core.NewConflictError(scopeKey(scope), writeAttempts)
}

// GetState resolves the scope through its fallback chain: the requested scope
// first, then global. Missing scopes are not created by reads.
func (s *adaptationService) GetState(ctx context.Context, scope types.Scope) (*AdapterSnapshot, error) {
	if !scope.Valid() {
		return nil, core.ErrInvalidScope
	}
	for _, candidate := range scope.FallbackChain(nil, nil) {
		row, err := s.adapters.Get(ctx, nil, candidate.Type, candidate.ID)
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		state, err := restoreAdapter(row)
		if err != nil {
			return nil, err
		}
		snap := &AdapterSnapshot{
			Scope:                   scope,
			Resolved:                candidate,
			AnswerWeight:            state.AnswerWeight,
			ReasoningWeight:         state.ReasoningWeight,
			FormulaImportance:       state.FormulaImportance,
			CalculationImportance:   state.CalculationImportance,
			ExplanationImportance:   state.ExplanationImportance,
			UnitsImportance:         state.UnitsImportance,
			DifficultyIncrementRate: state.DifficultyIncrementRate,
			DifficultyDecrementRate: state.DifficultyDecrementRate,
			DifficultyThreshold:     state.DifficultyThreshold,
			TargetAccuracy:          state.TargetAccuracy,
			AverageError:            state.AverageError,
			Accuracy:                state.Accuracy,
			Biases:                  state.Biases,
			NeedsRecalibration:      state.NeedsRecalibration(s.clock.Now()),
		}
		if pid, err := s.loadPIDIfPresent(ctx, candidate); err == nil && pid != nil {
			snap.PID = pid
		}
		if irt, err := s.loadIRTIfPresent(ctx, candidate); err == nil && irt != nil {
			snap.IRT = irt
		}
		if attn, err := s.loadAttentionIfPresent(ctx, candidate); err == nil && attn != nil {
			snap.Attention = attn
			snap.RecommendedFocus = attn.Recommend(3)
		}
		return snap, nil
	}
	return nil, core.NewNotFoundError("adapter state", scopeKey(scope))
}

func (s *adaptationService) UpdateDifficulty(ctx context.Context, scope types.Scope, performance float64) error {
	return s.mutate(ctx, scope, func(state *adapter.State, now time.Time) {
		state.UpdateDifficultyParams(performance, now)
	})
}

func (s *adaptationService) UpdateBias(ctx context.Context, scope types.Scope, competency string, bias float64) error {
	return s.mutate(ctx, scope, func(state *adapter.State, now time.Time) {
		state.UpdateBias(competency, bias, now)
	})
}

func (s *adaptationService) mutate(ctx context.Context, scope types.Scope, fn func(*adapter.State, time.Time)) error {
	if !scope.Valid() {
		return core.ErrInvalidScope
	}
	mu := s.scopeLock(scope)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		now := s.clock.Now()
		row, state, created, err := s.loadOrSeed(ctx, scope)
		if err != nil {
			return err
		}
		fn(state, now)
		state.NormalizeComponents()
		err = s.saveAdapter(ctx, row, state, created, now)
		if err == nil {
			return nil
		}
		if !core.IsConflict(err) {
			return err
		}
		lastErr = err
	}
	s.log.Error("Adapter mutation exhausted retries", "scope", scopeKey(scope), "error", lastErr)
	return core.NewConflictError(scopeKey(scope), writeAttempts)
}

func (s *adaptationService) loadOrSeed(ctx context.Context, scope types.Scope) (*types.AdapterState, *adapter.State, bool, error) {
	row, err := s.adapters.Get(ctx, nil, scope.Type, scope.ID)
	if err != nil {
		return nil, nil, false, err
	}
	if row == nil {
		state := adapter.NewState()
		row = &types.AdapterState{ScopeType: scope.Type, ScopeID: scope.ID}
		return row, state, true, nil
	}
	state, err := restoreAdapter(row)
	if err != nil {
		return nil, nil, false, err
	}
	return row, state, false, nil
}

func restoreAdapter(row *types.AdapterState) (*adapter.State, error) {
	state := &adapter.State{
		AnswerWeight:            row.AnswerWeight,
		ReasoningWeight:         row.ReasoningWeight,
		FormulaImportance:       row.FormulaImportance,
		CalculationImportance:   row.CalculationImportance,
		ExplanationImportance:   row.ExplanationImportance,
		UnitsImportance:         row.UnitsImportance,
		DifficultyIncrementRate: row.DifficultyIncrementRate,
		DifficultyDecrementRate: row.DifficultyDecrementRate,
		DifficultyThreshold:     row.DifficultyThreshold,
		TargetAccuracy:          row.TargetAccuracy,
		WindowSize:              row.WindowSize,
		LearningRate:            row.LearningRate,
		AdaptationRate:          row.AdaptationRate,
		AverageError:            row.AverageError,
		Accuracy:                row.Accuracy,
		Biases:                  map[string]float64{},
	}
	if len(row.Biases) > 0 {
		if err := json.Unmarshal(row.Biases, &state.Biases); err != nil {
			return nil, err
		}
	}
	if len(row.UpdateHistory) > 0 {
		var doc struct {
			Updates      []types.AdapterUpdate `json:"updates"`
			RecentErrors []float64             `json:"recent_errors"`
		}
		if err := json.Unmarshal(row.UpdateHistory, &doc); err != nil {
			return nil, err
		}
		state.UpdateHistory = doc.Updates
		state.RecentErrors = doc.RecentErrors
	}
	if row.LastUpdatedAt != nil {
		state.LastUpdatedAt = *row.LastUpdatedAt
	}
	return state, nil
}

func (s *adaptationService) saveAdapter(ctx context.Context, row *types.AdapterState, state *adapter.State, created bool, now time.Time) error {
	biases, err := json.Marshal(state.Biases)
	if err != nil {
		return err
	}
	history, err := json.Marshal(struct {
		Updates      []types.AdapterUpdate `json:"updates"`
		RecentErrors []float64             `json:"recent_errors"`
	}{state.UpdateHistory, state.RecentErrors})
	if err != nil {
		return err
	}

	row.AnswerWeight = state.AnswerWeight
	row.ReasoningWeight = state.ReasoningWeight
	row.FormulaImportance = state.FormulaImportance
	row.CalculationImportance = state.CalculationImportance
	row.ExplanationImportance = state.ExplanationImportance
	row.UnitsImportance = state.UnitsImportance
	row.DifficultyIncrementRate = state.DifficultyIncrementRate
	row.DifficultyDecrementRate = state.DifficultyDecrementRate
	row.DifficultyThreshold = state.DifficultyThreshold
	row.TargetAccuracy = state.TargetAccuracy
	row.WindowSize = state.WindowSize
	row.LearningRate = state.LearningRate
	row.AdaptationRate = state.AdaptationRate
	row.AverageError = state.AverageError
	row.Accuracy = state.Accuracy
	row.Biases = biases
	row.UpdateHistory = history
	t := now
	row.LastUpdatedAt = &t

	if created {
		return s.adapters.Create(ctx, nil, row)
	}
	return s.adapters.Save(ctx, nil, row)
}

// Controller persistence: the controller document goes in the state column with
// its history stripped; the history stream lives in its own column.

func (s *adaptationService) loadController(ctx context.Context, scope types.Scope, controller string, state interface{}, history *[]adapter.ControllerSample) (*types.ControllerState, error) {
	row, err := s.controllers.Get(ctx, nil, controller, scope.Type, scope.ID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	if len(row.State) > 0 {
		if err := json.Unmarshal(row.State, state); err != nil {
			return nil, err
		}
	}
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, history); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (s *adaptationService) loadPID(ctx context.Context, scope types.Scope) (*adapter.PIDState, error) {
	pid := adapter.NewPIDState()
	if _, err := s.loadController(ctx, scope, types.ControllerPID, pid, &pid.History); err != nil {
		return nil, err
	}
	return pid, nil
}

func (s *adaptationService) loadIRT(ctx context.Context, scope types.Scope) (*adapter.IRTState, error) {
	irt := adapter.NewIRTState()
	if _, err := s.loadController(ctx, scope, types.ControllerIRT, irt, &irt.History); err != nil {
		return nil, err
	}
	return irt, nil
}

func (s *adaptationService) loadAttention(ctx context.Context, scope types.Scope) (*adapter.AttentionState, error) {
	attn := adapter.NewAttentionState()
	if _, err := s.loadController(ctx, scope, types.ControllerAttention, attn, &attn.History); err != nil {
		return nil, err
	}
	return attn, nil
}

func (s *adaptationService) loadPIDIfPresent(ctx context.Context, scope types.Scope) (*adapter.PIDState, error) {
	pid := adapter.NewPIDState()
	row, err := s.loadController(ctx, scope, types.ControllerPID, pid, &pid.History)
	if err != nil || row == nil {
		return nil, err
	}
	return pid, nil
}

func (s *adaptationService) loadIRTIfPresent(ctx context.Context, scope types.Scope) (*adapter.IRTState, error) {
	irt := adapter.NewIRTState()
	row, err := s.loadController(ctx, scope, types.ControllerIRT, irt, &irt.History)
	if err != nil || row == nil {
		return nil, err
	}
	return irt, nil
}

func (s *adaptationService) loadAttentionIfPresent(ctx context.Context, scope types.Scope) (*adapter.AttentionState, error) {
	attn := adapter.NewAttentionState()
	row, err := s.loadController(ctx, scope, types.ControllerAttention, attn, &attn.History)
	if err != nil || row == nil {
		return nil, err
	}
	return attn, nil
}

func (s *adaptationService) saveController(ctx context.Context, scope types.Scope, controller string, state interface{}, history []adapter.ControllerSample, now time.Time) error {
	historyDoc, err := json.Marshal(history)
	if err != nil {
		return err
	}
	stateDoc, err := json.Marshal(stripHistory(state))
	if err != nil {
		return err
	}

	row, err := s.controllers.Get(ctx, nil, controller, scope.Type, scope.ID)
	if err != nil {
		return err
	}
	t := now
	if row == nil {
		row = &types.ControllerState{
			Controller:    controller,
			ScopeType:     scope.Type,
			ScopeID:       scope.ID,
			State:         stateDoc,
			History:       historyDoc,
			LastUpdatedAt: &t,
		}
		return s.controllers.Create(ctx, nil, row)
	}
	row.State = stateDoc
	row.History = historyDoc
	row.LastUpdatedAt = &t
	return s.controllers.Save(ctx, nil, row)
}

// stripHistory returns a copy of the controller document without its history,
// which is persisted in a dedicated column.
func stripHistory(state interface{}) interface{} {
	switch v := state.(type) {
	case *adapter.PIDState:
		c := *v
		c.History = nil
		return &c
	case *adapter.IRTState:
		c := *v
		c.History = nil
		return &c
	case *adapter.AttentionState:
		c := *v
		c.History = nil
		return &c
	default:
		return state
	}
}
