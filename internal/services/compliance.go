package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/ledger"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/repos"
	"github.com/edifylabs/edify-backend/internal/types"
)

const (
	sweepInterval   = 1 * time.Hour
	sweepLookback   = 24 * time.Hour
	sweepConcurrent = 8
)

// SweepResult summarizes one compliance pass.
type SweepResult struct {
	StudentsChecked int `json:"students_checked"`
	ChainsValid     int `json:"chains_valid"`
	ChainsInvalid   int `json:"chains_invalid"`
	AnchorsWritten  int `json:"anchors_written"`
}

// ComplianceService periodically re-verifies the chains of recently active
// students and anchors each verified window with a merkle root. Each anchor
// links to the previous one so the anchor sequence is itself tamper-evident.
type ComplianceService interface {
	Start(ctx context.Context)
	RunOnce(ctx context.Context) (*SweepResult, error)
	ListAnchors(ctx context.Context, studentID uuid.UUID, limit int) ([]*types.IntegrityAnchor, error)
}

type complianceService struct {
	db      *gorm.DB
	log     *logger.Logger
	events  repos.LedgerEventRepo
	anchors repos.IntegrityAnchorRepo
	clock   core.Clock
}

func NewComplianceService(db *gorm.DB, log *logger.Logger, events repos.LedgerEventRepo, anchors repos.IntegrityAnchorRepo, clock core.Clock) ComplianceService {
	return &complianceService{
		db:      db,
		log:     log.With("service", "ComplianceService"),
		events:  events,
		anchors: anchors,
		clock:   clock,
	}
}

// Start runs the sweep loop until the context is canceled. Intended to be
// launched as a goroutine at startup.
func (s *complianceService) Start(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	s.log.Info("Compliance sweep started", "interval", sweepInterval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Compliance sweep stopped")
			return
		case <-ticker.C:
			if res, err := s.RunOnce(ctx); err != nil {
				s.log.Error("Compliance sweep failed", "error", err)
			} else {
				s.log.Info("Compliance sweep finished",
					"students_checked", res.StudentsChecked,
					"chains_invalid", res.ChainsInvalid,
					"anchors_written", res.AnchorsWritten)
			}
		}
	}
}

func (s *complianceService) RunOnce(ctx context.Context) (*SweepResult, error) {
	since := s.clock.Now().Add(-sweepLookback)
	students, err := s.events.ListActiveStudents(ctx, nil, since)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{StudentsChecked: len(students)}
	results := make([]bool, len(students))
	anchored := make([]bool, len(students))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrent)
	for i, studentID := range students {
		g.Go(func() error {
			valid, wrote, err := s.sweepStudent(gctx, studentID)
			if err != nil {
				// One broken student must not abort the whole sweep.
				s.log.Error("Sweep failed for student", "student_id", studentID, "error", err)
				return nil
			}
			results[i] = valid
			anchored[i] = wrote
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i := range students {
		if results[i] {
			res.ChainsValid++
		} else {
			res.ChainsInvalid++
		}
		if anchored[i] {
			res.AnchorsWritten++
		}
	}
	return res, nil
}

// sweepStudent verifies one chain and, when new events exist past the latest
// anchor, writes a fresh anchor over the uncovered window.
func (s *complianceService) sweepStudent(ctx context.Context, studentID uuid.UUID) (valid, wrote bool, err error) {
	events, err := s.events.ListAsc(ctx, nil, studentID, 0, 0)
	if err != nil {
		return false, false, err
	}
	if len(events) == 0 {
		return true, false, nil
	}

	report := ledger.VerifyChain(events)
	if !report.ChainValid {
		s.log.Warn("Sweep found invalid chain",
			"student_id", studentID, "invalid_events", len(report.InvalidEvents))
	}

	latest, err := s.anchors.GetLatest(ctx, nil, studentID)
	if err != nil {
		return report.ChainValid, false, err
	}

	from := int64(0)
	var previousRoot *string
	if latest != nil {
		if events[len(events)-1].BlockIndex <= latest.ToBlockIndex {
			return report.ChainValid, false, nil
		}
		from = latest.ToBlockIndex + 1
		root := latest.RootHash
		previousRoot = &root
	}

	window := make([]*types.LedgerEvent, 0, len(events))
	for _, e := range events {
		if e.BlockIndex >= from {
			window = append(window, e)
		}
	}
	if len(window) == 0 {
		return report.ChainValid, false, nil
	}

	tree := ledger.BuildTree(window)
	anchor := &types.IntegrityAnchor{
		StudentID:      studentID,
		FromBlockIndex: window[0].BlockIndex,
		ToBlockIndex:   window[len(window)-1].BlockIndex,
		LeafCount:      tree.LeafCount,
		RootHash:       tree.MerkleRoot,
		PreviousRoot:   previousRoot,
		ChainValid:     report.ChainValid,
	}
	if err := s.anchors.Create(ctx, nil, anchor); err != nil {
		return report.ChainValid, false, err
	}
	s.log.Info("Integrity anchor written",
		"student_id", studentID,
		"from_block", anchor.FromBlockIndex,
		"to_block", anchor.ToBlockIndex,
		"root", ledger.ShortHash(anchor.RootHash))
	return report.ChainValid, true, nil
}

func (s *complianceService) ListAnchors(ctx context.Context, studentID uuid.UUID, limit int) ([]*types.IntegrityAnchor, error) {
	return s.anchors.List(ctx, nil, studentID, limit)
}
