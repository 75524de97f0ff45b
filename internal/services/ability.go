package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisclient "github.com/edifylabs/edify-backend/internal/clients/redis"
	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/estimator"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/repos"
	"github.com/edifylabs/edify-backend/internal/types"
)

// Writes for one student are load-modify-store sequences, so they are
// serialized two ways: an in-process per-student mutex, and an optimistic
// version check on the row for cross-process safety. A lost version race is
// retried a bounded number of times before surfacing a conflict.
const writeAttempts = 3

// AbilitySnapshot is the read-model of one ability state.
type AbilitySnapshot struct {
	StudentID         uuid.UUID `json:"student_id"`
	Competency        string    `json:"competency,omitempty"`
	Estimate          float64   `json:"estimate"`
	Uncertainty       float64   `json:"uncertainty"`
	ConvergenceStatus string    `json:"convergence_status"`
	UpdateCount       int       `json:"update_count"`
}

// AbilityUpdateResult reports one estimator step.
type AbilityUpdateResult struct {
	Estimate          float64 `json:"estimate"`
	Uncertainty       float64 `json:"uncertainty"`
	Gain              float64 `json:"gain"`
	Innovation        float64 `json:"innovation"`
	ConvergenceStatus string  `json:"convergence_status"`
}

type AbilityService interface {
	Update(ctx context.Context, studentID uuid.UUID, competency string, measurement float64) (*AbilityUpdateResult, error)
	Get(ctx context.Context, studentID uuid.UUID, competency string) (*AbilitySnapshot, error)
	Predict(ctx context.Context, studentID uuid.UUID, competency string) (*estimator.Prediction, error)
}

type abilityService struct {
	db    *gorm.DB
	log   *logger.Logger
	repo  repos.AbilityStateRepo
	cache redisclient.Cache
	cfg   estimator.Config
	clock core.Clock

	locks sync.Map // studentID -> *sync.Mutex
}

// NewAbilityService wires the estimator. cache may be nil; reads then always
// go to the database.
func NewAbilityService(db *gorm.DB, log *logger.Logger, repo repos.AbilityStateRepo, cache redisclient.Cache, cfg estimator.Config, clock core.Clock) AbilityService {
	return &abilityService{
		db:    db,
		log:   log.With("service", "AbilityService"),
		repo:  repo,
		cache: cache,
		cfg:   cfg,
		clock: clock,
	}
}

func (s *abilityService) studentLock(studentID uuid.UUID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(studentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *abilityService) Update(ctx context.Context, studentID uuid.UUID, competency string, measurement float64) (*AbilityUpdateResult, error) {
	if studentID == uuid.Nil {
		return nil, core.NewNotFoundError("student", "nil")
	}

	mu := s.studentLock(studentID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		row, err := s.repo.Get(ctx, nil, studentID, competency)
		if err != nil {
			return nil, err
		}

		created := false
		if row == nil {
			// Lazily created on first measurement.
			row = &types.AbilityState{
				ID:                uuid.New(),
				StudentID:         studentID,
				Competency:        competency,
				Estimate:          s.cfg.InitialEstimate,
				Uncertainty:       s.cfg.InitialUncertainty,
				ProcessNoise:      s.cfg.ProcessNoise,
				MeasurementNoise:  s.cfg.MeasurementNoise,
				ConvergenceStatus: types.ConvergenceInitializing,
			}
			created = true
		}

		state, err := s.restore(row)
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		res := state.Update(measurement, now)
		if res.Clamped {
			s.log.Warn("Out-of-range measurement clamped",
				"student_id", studentID, "competency", competency, "measurement", measurement)
		}

		if err := s.persist(row, state, now); err != nil {
			return nil, err
		}

		if created {
			err = s.repo.Create(ctx, nil, row)
		} else {
			err = s.repo.Save(ctx, nil, row)
		}
		if err == nil {
			if s.cache != nil {
				if cerr := s.cache.InvalidateStudent(ctx, studentID.String()); cerr != nil {
					s.log.Warn("Cache invalidation failed", "student_id", studentID, "error", cerr)
				}
			}
			return &AbilityUpdateResult{
				Estimate:          res.Estimate,
				Uncertainty:       res.Uncertainty,
				Gain:              res.Gain,
				Innovation:        res.Innovation,
				ConvergenceStatus: res.ConvergenceStatus,
			}, nil
		}
		if !core.IsConflict(err) {
			return nil, err
		}
		lastErr = err
		s.log.Warn("Retrying ability update after write conflict",
			"student_id", studentID, "competency", competency, "attempt", attempt+1)
	}
	s.log.Error("Ability update exhausted retries", "student_id", studentID, "error", lastErr)
	return nil, core.NewConflictError(studentID.String(), writeAttempts)
}

func (s *abilityService) Get(ctx context.Context, studentID uuid.UUID, competency string) (*AbilitySnapshot, error) {
	key := redisclient.AbilityKey(studentID.String(), competency)
	if s.cache != nil {
		var cached AbilitySnapshot
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	row, err := s.repo.Get(ctx, nil, studentID, competency)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, core.NewNotFoundError("ability state", studentID.String())
	}
	snap := &AbilitySnapshot{
		StudentID:         row.StudentID,
		Competency:        row.Competency,
		Estimate:          row.Estimate,
		Uncertainty:       row.Uncertainty,
		ConvergenceStatus: row.ConvergenceStatus,
		UpdateCount:       row.UpdateCount,
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, snap, 0); err != nil {
			s.log.Warn("Failed to cache ability snapshot", "student_id", studentID, "error", err)
		}
	}
	return snap, nil
}

func (s *abilityService) Predict(ctx context.Context, studentID uuid.UUID, competency string) (*estimator.Prediction, error) {
	row, err := s.repo.Get(ctx, nil, studentID, competency)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, core.NewNotFoundError("ability state", studentID.String())
	}
	state, err := s.restore(row)
	if err != nil {
		return nil, err
	}
	p := state.Predict()
	return &p, nil
}

func (s *abilityService) restore(row *types.AbilityState) (*estimator.State, error) {
	var measurements []types.AbilityMeasurement
	if len(row.Measurements) > 0 {
		if err := json.Unmarshal(row.Measurements, &measurements); err != nil {
			return nil, err
		}
	}
	var history []types.ConvergenceSample
	if len(row.ConvergenceHistory) > 0 {
		if err := json.Unmarshal(row.ConvergenceHistory, &history); err != nil {
			return nil, err
		}
	}
	return estimator.Restore(
		s.cfg,
		row.Estimate, row.Uncertainty,
		row.ProcessNoise, row.MeasurementNoise,
		row.ConvergenceStatus,
		row.UpdateCount, row.StableWindows,
		measurements, history,
	), nil
}

func (s *abilityService) persist(row *types.AbilityState, state *estimator.State, now time.Time) error {
	measurements, err := json.Marshal(state.Measurements)
	if err != nil {
		return err
	}
	history, err := json.Marshal(state.ConvergenceHistory)
	if err != nil {
		return err
	}
	t := now
	row.Estimate = state.Estimate
	row.Uncertainty = state.Uncertainty
	row.ProcessNoise = state.ProcessNoise
	row.MeasurementNoise = state.MeasurementNoise
	row.ConvergenceStatus = state.ConvergenceStatus
	row.UpdateCount = state.UpdateCount
	row.StableWindows = state.StableWindows
	row.Measurements = measurements
	row.ConvergenceHistory = history
	row.LastMeasuredAt = &t
	return nil
}
