package adapter

import (
	"math"
	"sort"
	"time"
)

// The auxiliary controllers consume the same prediction-error signal as the
// adapter and are persisted as independent sub-states keyed by the same scope.
// Each exposes the uniform {State, History, LastUpdated} envelope.

// ControllerSample is one history entry shared by all controllers.
type ControllerSample struct {
	Input     float64   `json:"input"`
	Output    float64   `json:"output"`
	Timestamp time.Time `json:"timestamp"`
}

const controllerHistoryCap = 100

// --- PID difficulty controller ---

// PIDState nudges served difficulty toward the accuracy target. Output is a
// bounded difficulty delta in [-1, 1].
type PIDState struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`

	Integral  float64 `json:"integral"`
	PrevError float64 `json:"prev_error"`
	Output    float64 `json:"output"`

	History       []ControllerSample `json:"history"`
	LastUpdatedAt time.Time          `json:"last_updated_at"`
}

const pidIntegralLimit = 5

func NewPIDState() *PIDState {
	return &PIDState{Kp: 0.5, Ki: 0.05, Kd: 0.1}
}

// Update advances the controller with one error sample (target - observed
// accuracy) and returns the bounded difficulty nudge.
func (p *PIDState) Update(err float64, now time.Time) float64 {
	p.Integral += err
	if p.Integral > pidIntegralLimit {
		p.Integral = pidIntegralLimit
	}
	if p.Integral < -pidIntegralLimit {
		p.Integral = -pidIntegralLimit
	}

	derivative := err - p.PrevError
	out := p.Kp*err + p.Ki*p.Integral + p.Kd*derivative
	if out > 1 {
		out = 1
	}
	if out < -1 {
		out = -1
	}

	p.PrevError = err
	p.Output = out
	p.LastUpdatedAt = now
	p.History = appendSample(p.History, err, out, now)
	return out
}

// --- IRT ability tracker ---

// IRTState tracks a logistic-model ability (theta) with a standard error that
// tightens as item information accumulates.
type IRTState struct {
	Theta         float64 `json:"theta"`
	StandardError float64 `json:"standard_error"`
	Information   float64 `json:"information"`
	Count         int     `json:"count"`

	History       []ControllerSample `json:"history"`
	LastUpdatedAt time.Time          `json:"last_updated_at"`
}

const (
	thetaBound         = 4
	irtMinStdErr       = 0.1
	irtInitialSE       = 1
	irtDifficultyScale = 12.5
)

func NewIRTState() *IRTState {
	return &IRTState{StandardError: irtInitialSE}
}

// ExpectedAccuracy is the logistic probability of a correct response for the
// current theta against a 0-100 difficulty score.
func (s *IRTState) ExpectedAccuracy(difficulty float64) float64 {
	x := (s.Theta*irtDifficultyScale + 50 - difficulty) / irtDifficultyScale
	return 1 / (1 + math.Exp(-x))
}

// Update folds one scored outcome (score on [0,1]) at the given difficulty.
// Adjustment strength decays with the number of observed items, fast for new
// students and small once the estimate has matured.
func (s *IRTState) Update(score, difficulty float64, now time.Time) float64 {
	expected := s.ExpectedAccuracy(difficulty)
	k := kFactor(s.Count)

	s.Theta += k * (score - expected)
	if s.Theta > thetaBound {
		s.Theta = thetaBound
	}
	if s.Theta < -thetaBound {
		s.Theta = -thetaBound
	}

	s.Information += expected * (1 - expected)
	if s.Information > 0 {
		s.StandardError = math.Max(1/math.Sqrt(s.Information), irtMinStdErr)
	}
	s.Count++
	s.LastUpdatedAt = now
	s.History = appendSample(s.History, score-expected, s.Theta, now)
	return s.Theta
}

func kFactor(count int) float64 {
	switch {
	case count < 20:
		return 0.3
	case count < 100:
		return 0.2
	default:
		return 0.1
	}
}

// --- Attention-weighted recommender ---

// AttentionState keeps normalized attention weights over competencies; the
// competencies generating the largest prediction errors attract the most
// review attention.
type AttentionState struct {
	Weights map[string]float64 `json:"weights"`

	History       []ControllerSample `json:"history"`
	LastUpdatedAt time.Time          `json:"last_updated_at"`
}

const attentionRate = 0.2

func NewAttentionState() *AttentionState {
	return &AttentionState{Weights: map[string]float64{}}
}

// Update reinforces attention on a competency proportionally to the observed
// absolute error, then re-normalizes so weights sum to 1.
func (a *AttentionState) Update(competency string, predictionError float64, now time.Time) {
	if a.Weights == nil {
		a.Weights = map[string]float64{}
	}
	if _, ok := a.Weights[competency]; !ok {
		a.Weights[competency] = 1
	}
	a.Weights[competency] += attentionRate * math.Abs(predictionError)

	var sum float64
	for _, w := range a.Weights {
		sum += w
	}
	if sum > 0 {
		for c, w := range a.Weights {
			a.Weights[c] = w / sum
		}
	}
	a.LastUpdatedAt = now
	a.History = appendSample(a.History, predictionError, a.Weights[competency], now)
}

// Recommend returns up to n competencies ordered by descending attention.
func (a *AttentionState) Recommend(n int) []string {
	type entry struct {
		competency string
		weight     float64
	}
	entries := make([]entry, 0, len(a.Weights))
	for c, w := range a.Weights {
		entries = append(entries, entry{c, w})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].weight == entries[j].weight {
			return entries[i].competency < entries[j].competency
		}
		return entries[i].weight > entries[j].weight
	})
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]string, 0, n)
	for _, e := range entries[:n] {
		out = append(out, e.competency)
	}
	return out
}

func appendSample(h []ControllerSample, in, out float64, now time.Time) []ControllerSample {
	h = append(h, ControllerSample{Input: in, Output: out, Timestamp: now})
	if len(h) > controllerHistoryCap {
		h = h[len(h)-controllerHistoryCap:]
	}
	return h
}
