package adapter

import (
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/edifylabs/edify-backend/internal/types"
)

const (
	// Prediction errors are on a normalized [-1,1] scale (score delta / 100).
	errorThreshold = 0.2

	answerShiftFraction    = 0.10
	reasoningShiftFraction = 0.05
	maxAnswerWeight        = 1.0
	maxReasoningWeight     = 0.5

	maxDifficultyIncrementRate = 0.2
	maxDifficultyDecrementRate = 0.3
	difficultyDeadband         = 0.1

	recalibrationErrorLimit = 0.3
	recalibrationMaxAge     = 30 * 24 * time.Hour
	minAccuracy             = 0.5

	importanceDriftTolerance = 0.01

	errorWindowCap   = 50
	updateHistoryCap = 200
)

// State is the mutable in-memory adapter state for one scope. Persistence maps
// it onto types.AdapterState.
type State struct {
	AnswerWeight    float64
	ReasoningWeight float64

	FormulaImportance     float64
	CalculationImportance float64
	ExplanationImportance float64
	UnitsImportance       float64

	DifficultyIncrementRate float64
	DifficultyDecrementRate float64
	DifficultyThreshold     float64
	TargetAccuracy          float64
	WindowSize              int

	LearningRate   float64
	AdaptationRate float64

	AverageError float64
	Accuracy     float64

	Biases map[string]float64

	// UpdateHistory is append-only; retention is bounded to the most recent
	// updateHistoryCap entries.
	UpdateHistory []types.AdapterUpdate

	// RecentErrors is the bounded window feeding the accuracy metric.
	RecentErrors []float64

	LastUpdatedAt time.Time
}

// NewState returns adapter defaults for a fresh scope.
func NewState() *State {
	return &State{
		AnswerWeight:            0.7,
		ReasoningWeight:         0.3,
		FormulaImportance:       0.3,
		CalculationImportance:   0.3,
		ExplanationImportance:   0.25,
		UnitsImportance:         0.15,
		DifficultyIncrementRate: 0.05,
		DifficultyDecrementRate: 0.1,
		DifficultyThreshold:     0.75,
		TargetAccuracy:          0.7,
		WindowSize:              10,
		LearningRate:            0.1,
		AdaptationRate:          0.05,
		Accuracy:                1,
		Biases:                  map[string]float64{},
	}
}

// RecordCorrection folds one observed prediction error into the running state.
// Errors beyond the threshold trigger a weight adaptation.
func (s *State) RecordCorrection(predictionError float64, now time.Time) {
	s.AverageError = (1-s.LearningRate)*s.AverageError + s.LearningRate*math.Abs(predictionError)

	s.RecentErrors = append(s.RecentErrors, math.Abs(predictionError))
	if len(s.RecentErrors) > errorWindowCap {
		s.RecentErrors = s.RecentErrors[len(s.RecentErrors)-errorWindowCap:]
	}
	s.refreshAccuracy()

	if math.Abs(predictionError) > errorThreshold {
		s.adaptWeights(predictionError, now)
	}
	s.LastUpdatedAt = now
}

// adaptWeights shifts the answer/reasoning pair depending on the sign of the
// error. A negative error (student scored lower than predicted) moves weight
// toward the answer itself; a positive error rewards shown reasoning. The pair
// is re-normalized to sum 1.0 afterwards.
func (s *State) adaptWeights(predictionError float64, now time.Time) {
	oldAnswer, oldReasoning := s.AnswerWeight, s.ReasoningWeight
	if predictionError < 0 {
		s.AnswerWeight = math.Min(s.AnswerWeight+answerShiftFraction*s.AdaptationRate, maxAnswerWeight)
	} else {
		s.ReasoningWeight = math.Min(s.ReasoningWeight+reasoningShiftFraction*s.AdaptationRate, maxReasoningWeight)
	}
	s.normalizeWeightPair()

	s.appendHistory("answer_weight", oldAnswer, s.AnswerWeight, "adapt_weights", now)
	s.appendHistory("reasoning_weight", oldReasoning, s.ReasoningWeight, "adapt_weights", now)
}

// UpdateDifficultyParams tunes the difficulty adjustment rates against the
// target accuracy. Performance inside the deadband leaves the rates alone.
func (s *State) UpdateDifficultyParams(performance float64, now time.Time) {
	switch {
	case performance > s.TargetAccuracy+difficultyDeadband:
		old := s.DifficultyIncrementRate
		s.DifficultyIncrementRate = math.Min(s.DifficultyIncrementRate+s.AdaptationRate*0.1, maxDifficultyIncrementRate)
		s.appendHistory("difficulty_increment_rate", old, s.DifficultyIncrementRate, "performance_above_target", now)
	case performance < s.TargetAccuracy-difficultyDeadband:
		old := s.DifficultyDecrementRate
		s.DifficultyDecrementRate = math.Min(s.DifficultyDecrementRate+s.AdaptationRate*0.1, maxDifficultyDecrementRate)
		s.appendHistory("difficulty_decrement_rate", old, s.DifficultyDecrementRate, "performance_below_target", now)
	}
	s.LastUpdatedAt = now
}

// UpdateBias records a per-competency scoring bias.
func (s *State) UpdateBias(competency string, bias float64, now time.Time) {
	if s.Biases == nil {
		s.Biases = map[string]float64{}
	}
	old := s.Biases[competency]
	s.Biases[competency] = bias
	s.appendHistory("bias."+competency, old, bias, "update_bias", now)
	s.LastUpdatedAt = now
}

// NeedsRecalibration reports whether the adapter has drifted enough to warrant
// a full recalibration pass.
func (s *State) NeedsRecalibration(now time.Time) bool {
	if s.AverageError > recalibrationErrorLimit {
		return true
	}
	if !s.LastUpdatedAt.IsZero() && now.Sub(s.LastUpdatedAt) > recalibrationMaxAge {
		return true
	}
	return s.Accuracy < minAccuracy
}

// NormalizeComponents re-normalizes the component-importance group when its sum
// has drifted by more than 1%. Called on every save.
func (s *State) NormalizeComponents() {
	sum := s.FormulaImportance + s.CalculationImportance + s.ExplanationImportance + s.UnitsImportance
	if sum <= 0 {
		s.FormulaImportance, s.CalculationImportance, s.ExplanationImportance, s.UnitsImportance = 0.25, 0.25, 0.25, 0.25
		return
	}
	if math.Abs(sum-1) <= importanceDriftTolerance {
		return
	}
	s.FormulaImportance /= sum
	s.CalculationImportance /= sum
	s.ExplanationImportance /= sum
	s.UnitsImportance /= sum
}

func (s *State) normalizeWeightPair() {
	sum := s.AnswerWeight + s.ReasoningWeight
	if sum <= 0 {
		s.AnswerWeight, s.ReasoningWeight = 0.5, 0.5
		return
	}
	s.AnswerWeight /= sum
	s.ReasoningWeight /= sum
}

// refreshAccuracy derives the accuracy metric from the recent error window:
// 1 minus the median absolute error, floored at zero.
func (s *State) refreshAccuracy() {
	if len(s.RecentErrors) == 0 {
		s.Accuracy = 1
		return
	}
	median, err := stats.Median(s.RecentErrors)
	if err != nil {
		return
	}
	s.Accuracy = math.Max(0, 1-median)
}

func (s *State) appendHistory(field string, before, after float64, reason string, now time.Time) {
	s.UpdateHistory = append(s.UpdateHistory, types.AdapterUpdate{
		Field:     field,
		Old:       before,
		New:       after,
		Reason:    reason,
		Timestamp: now,
	})
	if len(s.UpdateHistory) > updateHistoryCap {
		s.UpdateHistory = s.UpdateHistory[len(s.UpdateHistory)-updateHistoryCap:]
	}
}
