package estimator

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/edifylabs/edify-backend/internal/types"
)

const (
	// Classification starts once this many updates have been observed.
	minUpdatesForStatus = 5
	// Window of recent measurements inspected for stability and noise tuning.
	convergenceWindow = 10
	// Consecutive stable windows required to promote converged -> stable.
	stableWindowsRequired = 5

	stableInnovationThreshold = 10
	stableUncertaintyLimit    = 20

	noisyInnovationThreshold = 15
	quietInnovationThreshold = 5
	noiseScaleUp             = 1.1
	noiseScaleDown           = 0.9
	minUpdatesForTuning      = 10
)

func (s *State) refreshConvergence(now time.Time) {
	if s.UpdateCount < minUpdatesForStatus {
		s.ConvergenceStatus = types.ConvergenceInitializing
		return
	}

	absInnov, uncertainties := s.recentWindow()
	meanAbsInnov := stat.Mean(absInnov, nil)
	meanUncertainty := stat.Mean(uncertainties, nil)

	if meanAbsInnov < stableInnovationThreshold && meanUncertainty < stableUncertaintyLimit {
		s.StableWindows++
		if s.StableWindows >= stableWindowsRequired {
			s.ConvergenceStatus = types.ConvergenceStable
		} else {
			s.ConvergenceStatus = types.ConvergenceConverged
		}
	} else {
		s.StableWindows = 0
		s.ConvergenceStatus = types.ConvergenceConverging
	}

	s.ConvergenceHistory = append(s.ConvergenceHistory, types.ConvergenceSample{
		MeanAbsInnovation: meanAbsInnov,
		MeanUncertainty:   meanUncertainty,
		Status:            s.ConvergenceStatus,
		Timestamp:         now,
	})
	if len(s.ConvergenceHistory) > convergenceHistoryCap {
		s.ConvergenceHistory = s.ConvergenceHistory[len(s.ConvergenceHistory)-convergenceHistoryCap:]
	}
}

// adaptNoise retunes Q from the innovation magnitude and R from the innovation
// spread, both within configured bounds. Large persistent innovations mean the
// underlying ability is moving faster than the model allows; a wide innovation
// spread means individual scores are noisy.
func (s *State) adaptNoise() {
	if s.UpdateCount < minUpdatesForTuning {
		return
	}
	absInnov, _ := s.recentWindow()
	innovations := make([]float64, len(absInnov))
	start := len(s.Measurements) - len(absInnov)
	for i := range absInnov {
		innovations[i] = s.Measurements[start+i].Innovation
	}

	meanAbsInnov := stat.Mean(absInnov, nil)
	switch {
	case meanAbsInnov > noisyInnovationThreshold:
		s.ProcessNoise = math.Min(s.ProcessNoise*noiseScaleUp, s.cfg.MaxProcessNoise)
	case meanAbsInnov < quietInnovationThreshold:
		s.ProcessNoise = math.Max(s.ProcessNoise*noiseScaleDown, s.cfg.MinProcessNoise)
	}

	innovStdDev := stat.StdDev(innovations, nil)
	switch {
	case innovStdDev > noisyInnovationThreshold:
		s.MeasurementNoise = math.Min(s.MeasurementNoise*noiseScaleUp, s.cfg.MaxMeasurementNoise)
	case innovStdDev < quietInnovationThreshold:
		s.MeasurementNoise = math.Max(s.MeasurementNoise*noiseScaleDown, s.cfg.MinMeasurementNoise)
	}
}

// recentWindow returns |innovation| and uncertainty for the last
// convergenceWindow measurements (fewer when the log is still short).
func (s *State) recentWindow() (absInnov, uncertainties []float64) {
	n := len(s.Measurements)
	start := n - convergenceWindow
	if start < 0 {
		start = 0
	}
	for _, m := range s.Measurements[start:] {
		absInnov = append(absInnov, math.Abs(m.Innovation))
		uncertainties = append(uncertainties, m.Uncertainty)
	}
	return absInnov, uncertainties
}
