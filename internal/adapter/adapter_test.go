package adapter

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestRecordCorrection_WeightPairAlwaysNormalized(t *testing.T) {
	s := NewState()
	now := time.Now()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		s.RecordCorrection(rng.Float64()*2-1, now)
		sum := s.AnswerWeight + s.ReasoningWeight
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("weight pair sum = %v after %d corrections", sum, i+1)
		}
	}
}

func TestRecordCorrection_NegativeErrorShiftsTowardAnswer(t *testing.T) {
	s := NewState()
	before := s.AnswerWeight
	s.RecordCorrection(-0.5, time.Now())
	if s.AnswerWeight <= before {
		t.Fatalf("answer weight %v did not grow from %v on negative error", s.AnswerWeight, before)
	}
	if len(s.UpdateHistory) == 0 {
		t.Fatalf("expected history entries after adaptation")
	}
}

func TestRecordCorrection_PositiveErrorShiftsTowardReasoning(t *testing.T) {
	s := NewState()
	before := s.ReasoningWeight
	s.RecordCorrection(0.5, time.Now())
	if s.ReasoningWeight <= before {
		t.Fatalf("reasoning weight %v did not grow from %v on positive error", s.ReasoningWeight, before)
	}
}

func TestRecordCorrection_SmallErrorDoesNotAdapt(t *testing.T) {
	s := NewState()
	s.RecordCorrection(0.1, time.Now())
	if len(s.UpdateHistory) != 0 {
		t.Fatalf("expected no weight adaptation for |error| <= 0.2, got %d entries", len(s.UpdateHistory))
	}
	if s.AverageError == 0 {
		t.Fatalf("average error should still move on small errors")
	}
}

func TestRecordCorrection_AverageErrorIsEMA(t *testing.T) {
	s := NewState()
	now := time.Now()
	s.RecordCorrection(0.5, now)
	want := 0.1 * 0.5
	if math.Abs(s.AverageError-want) > 1e-9 {
		t.Fatalf("average error = %v, want %v", s.AverageError, want)
	}
	s.RecordCorrection(0.5, now)
	want = 0.9*want + 0.1*0.5
	if math.Abs(s.AverageError-want) > 1e-9 {
		t.Fatalf("average error = %v, want %v", s.AverageError, want)
	}
}

func TestUpdateDifficultyParams_RatesCapped(t *testing.T) {
	s := NewState()
	now := time.Now()
	for i := 0; i < 100; i++ {
		s.UpdateDifficultyParams(0.95, now)
		s.UpdateDifficultyParams(0.2, now)
	}
	if s.DifficultyIncrementRate > maxDifficultyIncrementRate {
		t.Fatalf("increment rate %v exceeds cap", s.DifficultyIncrementRate)
	}
	if s.DifficultyDecrementRate > maxDifficultyDecrementRate {
		t.Fatalf("decrement rate %v exceeds cap", s.DifficultyDecrementRate)
	}
	if s.DifficultyIncrementRate <= 0.05 {
		t.Fatalf("increment rate did not grow under high performance")
	}
}

func TestUpdateDifficultyParams_DeadbandLeavesRatesAlone(t *testing.T) {
	s := NewState()
	inc, dec := s.DifficultyIncrementRate, s.DifficultyDecrementRate
	s.UpdateDifficultyParams(s.TargetAccuracy+0.05, time.Now())
	if s.DifficultyIncrementRate != inc || s.DifficultyDecrementRate != dec {
		t.Fatalf("rates changed inside deadband")
	}
}

func TestNeedsRecalibration(t *testing.T) {
	now := time.Now()

	s := NewState()
	s.LastUpdatedAt = now
	if s.NeedsRecalibration(now) {
		t.Fatalf("fresh state should not need recalibration")
	}

	s.AverageError = 0.4
	if !s.NeedsRecalibration(now) {
		t.Fatalf("high average error should trigger recalibration")
	}

	s = NewState()
	s.LastUpdatedAt = now.Add(-31 * 24 * time.Hour)
	if !s.NeedsRecalibration(now) {
		t.Fatalf("stale state should trigger recalibration")
	}

	s = NewState()
	s.LastUpdatedAt = now
	s.Accuracy = 0.4
	if !s.NeedsRecalibration(now) {
		t.Fatalf("low accuracy should trigger recalibration")
	}
}

func TestNormalizeComponents_OnlyOnDrift(t *testing.T) {
	s := NewState()
	s.FormulaImportance = 0.305
	s.NormalizeComponents()
	if s.FormulaImportance != 0.305 {
		t.Fatalf("components re-normalized inside 1%% tolerance")
	}

	s.FormulaImportance = 0.5
	s.NormalizeComponents()
	sum := s.FormulaImportance + s.CalculationImportance + s.ExplanationImportance + s.UnitsImportance
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("component sum = %v after normalization", sum)
	}
}

func TestUpdateBias_RecordedWithHistory(t *testing.T) {
	s := NewState()
	s.UpdateBias("thermodynamics", 0.15, time.Now())
	if s.Biases["thermodynamics"] != 0.15 {
		t.Fatalf("bias not stored")
	}
	last := s.UpdateHistory[len(s.UpdateHistory)-1]
	if last.Field != "bias.thermodynamics" || last.New != 0.15 {
		t.Fatalf("unexpected history entry %+v", last)
	}
}
