package estimator

import (
	"math"
	"time"

	"github.com/edifylabs/edify-backend/internal/types"
)

const (
	measurementLogCap     = 50
	convergenceHistoryCap = 30
)

// Config bounds the scalar filter. Estimates live on the 0-100 score scale;
// uncertainty is the error covariance P.
type Config struct {
	InitialEstimate    float64 `yaml:"initial_estimate"`
	InitialUncertainty float64 `yaml:"initial_uncertainty"`
	ProcessNoise       float64 `yaml:"process_noise"`
	MeasurementNoise   float64 `yaml:"measurement_noise"`

	MinEstimate    float64 `yaml:"min_estimate"`
	MaxEstimate    float64 `yaml:"max_estimate"`
	MinUncertainty float64 `yaml:"min_uncertainty"`
	MaxUncertainty float64 `yaml:"max_uncertainty"`

	MinProcessNoise     float64 `yaml:"min_process_noise"`
	MaxProcessNoise     float64 `yaml:"max_process_noise"`
	MinMeasurementNoise float64 `yaml:"min_measurement_noise"`
	MaxMeasurementNoise float64 `yaml:"max_measurement_noise"`

	// Adaptive enables innovation-driven retuning of Q and R.
	Adaptive bool `yaml:"adaptive"`
}

func DefaultConfig() Config {
	return Config{
		InitialEstimate:     50,
		InitialUncertainty:  100,
		ProcessNoise:        5,
		MeasurementNoise:    15,
		MinEstimate:         0,
		MaxEstimate:         100,
		MinUncertainty:      1,
		MaxUncertainty:      500,
		MinProcessNoise:     0.5,
		MaxProcessNoise:     50,
		MinMeasurementNoise: 1,
		MaxMeasurementNoise: 100,
		Adaptive:            true,
	}
}

// State is the mutable in-memory filter state for one (student, competency)
// pair. Persistence maps it onto types.AbilityState; all math lives here.
type State struct {
	Estimate         float64
	Uncertainty      float64
	ProcessNoise     float64
	MeasurementNoise float64

	ConvergenceStatus string
	UpdateCount       int
	StableWindows     int

	Measurements       []types.AbilityMeasurement
	ConvergenceHistory []types.ConvergenceSample

	cfg Config
}

// NewState seeds a fresh filter from config defaults.
func NewState(cfg Config) *State {
	return &State{
		Estimate:          cfg.InitialEstimate,
		Uncertainty:       cfg.InitialUncertainty,
		ProcessNoise:      cfg.ProcessNoise,
		MeasurementNoise:  cfg.MeasurementNoise,
		ConvergenceStatus: types.ConvergenceInitializing,
		cfg:               cfg,
	}
}

// Restore rebuilds a State from persisted values.
func Restore(cfg Config, estimate, uncertainty, q, r float64, status string, updateCount, stableWindows int, measurements []types.AbilityMeasurement, history []types.ConvergenceSample) *State {
	if status == "" {
		status = types.ConvergenceInitializing
	}
	return &State{
		Estimate:           estimate,
		Uncertainty:        uncertainty,
		ProcessNoise:       clamp(q, cfg.MinProcessNoise, cfg.MaxProcessNoise),
		MeasurementNoise:   clamp(r, cfg.MinMeasurementNoise, cfg.MaxMeasurementNoise),
		ConvergenceStatus:  status,
		UpdateCount:        updateCount,
		StableWindows:      stableWindows,
		Measurements:       measurements,
		ConvergenceHistory: history,
		cfg:                cfg,
	}
}

// Result reports one filter step.
type Result struct {
	Estimate          float64
	Uncertainty       float64
	Gain              float64
	Innovation        float64
	ConvergenceStatus string
	// Clamped is set when the raw measurement fell outside the score scale.
	// The measurement is clamped for the math but logged as supplied, so the
	// out-of-range input stays visible in the measurement history.
	Clamped bool
}

// Update runs one predict/correct cycle against a raw score.
func (s *State) Update(measurement float64, now time.Time) Result {
	raw := measurement
	clamped := false
	if measurement < s.cfg.MinEstimate {
		measurement = s.cfg.MinEstimate
		clamped = true
	}
	if measurement > s.cfg.MaxEstimate {
		measurement = s.cfg.MaxEstimate
		clamped = true
	}

	// Predict: random walk, uncertainty grows by Q.
	xPred := s.Estimate
	pPred := s.Uncertainty + s.ProcessNoise

	// Correct.
	innovation := measurement - xPred
	innovVariance := pPred + s.MeasurementNoise
	gain := pPred / innovVariance

	s.Estimate = clamp(xPred+gain*innovation, s.cfg.MinEstimate, s.cfg.MaxEstimate)
	s.Uncertainty = clamp((1-gain)*pPred, s.cfg.MinUncertainty, s.cfg.MaxUncertainty)
	s.UpdateCount++

	s.Measurements = append(s.Measurements, types.AbilityMeasurement{
		Measurement: raw,
		Estimate:    s.Estimate,
		Gain:        gain,
		Innovation:  innovation,
		Uncertainty: s.Uncertainty,
		Timestamp:   now,
	})
	if len(s.Measurements) > measurementLogCap {
		s.Measurements = s.Measurements[len(s.Measurements)-measurementLogCap:]
	}

	s.refreshConvergence(now)
	if s.cfg.Adaptive {
		s.adaptNoise()
	}

	return Result{
		Estimate:          s.Estimate,
		Uncertainty:       s.Uncertainty,
		Gain:              gain,
		Innovation:        innovation,
		ConvergenceStatus: s.ConvergenceStatus,
		Clamped:           clamped,
	}
}

// Prediction is a pure read of the next predicted state.
type Prediction struct {
	PredictedAbility     float64
	PredictedUncertainty float64
	ConfidenceLow        float64
	ConfidenceHigh       float64
}

// Predict projects one step ahead without mutating state. The interval is the
// 95% CI of the predicted estimate, clamped to the score scale.
func (s *State) Predict() Prediction {
	pPred := s.Uncertainty + s.ProcessNoise
	margin := 1.96 * math.Sqrt(pPred)
	return Prediction{
		PredictedAbility:     s.Estimate,
		PredictedUncertainty: pPred,
		ConfidenceLow:        clamp(s.Estimate-margin, s.cfg.MinEstimate, s.cfg.MaxEstimate),
		ConfidenceHigh:       clamp(s.Estimate+margin, s.cfg.MinEstimate, s.cfg.MaxEstimate),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
