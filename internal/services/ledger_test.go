package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/logger"
	"github.com/edifylabs/edify-backend/internal/types"
)

func newTestLedgerService(t *testing.T, repo *fakeLedgerRepo) LedgerService {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return NewLedgerService(nil, log, repo, nil, newFakeClock())
}

func mustAppend(t *testing.T, svc LedgerService, studentID uuid.UUID, competency string, score float64) *types.LedgerEvent {
	t.Helper()
	payload, _ := json.Marshal(types.AssessmentPayload{Competency: competency, Score: score, Estimate: score, Uncertainty: 10})
	event, err := svc.Append(context.Background(), AppendRequest{
		EventType: types.EventCompetencyAssessed,
		StudentID: studentID,
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return event
}

func TestAppendLinksChain(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	first := mustAppend(t, svc, studentID, "algebra", 70)
	second := mustAppend(t, svc, studentID, "algebra", 75)

	if first.BlockIndex != 0 || second.BlockIndex != 1 {
		t.Fatalf("block indexes: got %d, %d", first.BlockIndex, second.BlockIndex)
	}
	if first.PreviousHash != nil {
		t.Fatalf("genesis event must not carry a previous hash")
	}
	if second.PreviousHash == nil || *second.PreviousHash != first.Hash {
		t.Fatalf("second event does not link to first")
	}

	report, err := svc.VerifyChain(context.Background(), studentID)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !report.ChainValid || report.EventCount != 2 {
		t.Fatalf("expected valid 2-event chain, got %+v", report)
	}
}

func TestAppendRetriesTailRace(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	repo.appendConflicts = 1
	event := mustAppend(t, svc, studentID, "algebra", 70)
	if event.BlockIndex != 0 {
		t.Fatalf("block index: want=0 got=%d", event.BlockIndex)
	}

	repo.appendConflicts = 10
	payload, _ := json.Marshal(types.AssessmentPayload{Score: 50})
	_, err := svc.Append(context.Background(), AppendRequest{
		EventType: types.EventCompetencyAssessed,
		StudentID: studentID,
		Payload:   payload,
	})
	if !core.IsConflict(err) {
		t.Fatalf("expected conflict after exhausted retries, got %v", err)
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	mustAppend(t, svc, studentID, "algebra", 70)
	target := mustAppend(t, svc, studentID, "algebra", 75)
	mustAppend(t, svc, studentID, "algebra", 80)

	repo.tamper(target.ID, []byte(`{"score":100}`))

	report, err := svc.VerifyChain(context.Background(), studentID)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if report.ChainValid {
		t.Fatalf("tampered chain reported valid")
	}
	found := false
	for _, inv := range report.InvalidEvents {
		if inv.EventID == target.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("tampered event not named in report: %+v", report.InvalidEvents)
	}

	check, err := svc.VerifyEvent(context.Background(), target.ID)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if check.HashValid {
		t.Fatalf("tampered event hash reported valid")
	}
}

func TestCorrectionFlow(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	original := mustAppend(t, svc, studentID, "algebra", 40)

	payload, _ := json.Marshal(types.AssessmentPayload{Competency: "algebra", Score: 62, Estimate: 62})
	correction, err := svc.Correct(context.Background(), original.ID, payload, "teacher:reyes")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if correction.EventType != types.EventCorrectionIssued {
		t.Fatalf("event type: got %q", correction.EventType)
	}
	if correction.CorrectedFrom == nil || *correction.CorrectedFrom != original.ID {
		t.Fatalf("correction does not reference the original")
	}

	stored, err := svc.GetEvent(context.Background(), original.ID)
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if stored.Status != types.EventStatusCorrected {
		t.Fatalf("original status: want=%q got=%q", types.EventStatusCorrected, stored.Status)
	}
	if stored.Hash != original.Hash {
		t.Fatalf("correction must not rewrite the original hash")
	}

	// The chain stays valid: corrections append, they never rewrite.
	report, _ := svc.VerifyChain(context.Background(), studentID)
	if !report.ChainValid {
		t.Fatalf("chain invalid after correction: %+v", report)
	}

	// A corrected event cannot be corrected again.
	if _, err := svc.Correct(context.Background(), original.ID, payload, "teacher:reyes"); !errors.Is(err, core.ErrImmutableEvent) {
		t.Fatalf("expected immutable event error, got %v", err)
	}
}

func TestLatestCompetencyScores(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	mustAppend(t, svc, studentID, "algebra", 50)
	mustAppend(t, svc, studentID, "geometry", 65)
	latestAlgebra := mustAppend(t, svc, studentID, "algebra", 72)

	scores, err := svc.LatestCompetencyScores(context.Background(), studentID)
	if err != nil {
		t.Fatalf("LatestCompetencyScores: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("score count: want=2 got=%d", len(scores))
	}
	byCompetency := map[string]CompetencyScore{}
	for _, s := range scores {
		byCompetency[s.Competency] = s
	}
	if byCompetency["algebra"].Score != 72 {
		t.Fatalf("algebra score: want=72 got=%v", byCompetency["algebra"].Score)
	}
	if byCompetency["algebra"].EventID != latestAlgebra.ID {
		t.Fatalf("algebra score should come from the newest event")
	}
	if byCompetency["geometry"].Score != 65 {
		t.Fatalf("geometry score: want=65 got=%v", byCompetency["geometry"].Score)
	}
}

func TestLatestCompetencyScoresSurfaceCorrection(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	mustAppend(t, svc, studentID, "algebra", 50)
	bad := mustAppend(t, svc, studentID, "algebra", 95)
	payload, _ := json.Marshal(types.AssessmentPayload{Competency: "algebra", Score: 55, Estimate: 55})
	correction, err := svc.Correct(context.Background(), bad.ID, payload, "teacher:reyes")
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}

	scores, err := svc.LatestCompetencyScores(context.Background(), studentID)
	if err != nil {
		t.Fatalf("LatestCompetencyScores: %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("score count: want=1 got=%d", len(scores))
	}
	// The corrected assessment is excluded and the correction's value wins,
	// rather than reverting to the older score of 50.
	if scores[0].Score != 55 {
		t.Fatalf("score: want=55 got=%v", scores[0].Score)
	}
	if scores[0].EventID != correction.ID {
		t.Fatalf("score should come from the correction event")
	}
}

func TestLatestCompetencyScoresCorrectionWithoutCompetencyFallsBack(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	older := mustAppend(t, svc, studentID, "algebra", 50)
	bad := mustAppend(t, svc, studentID, "algebra", 95)
	// A correction that only annuls, carrying no replacement assessment.
	if _, err := svc.Correct(context.Background(), bad.ID, []byte(`{"reason":"grading error"}`), "teacher:reyes"); err != nil {
		t.Fatalf("Correct: %v", err)
	}

	scores, err := svc.LatestCompetencyScores(context.Background(), studentID)
	if err != nil {
		t.Fatalf("LatestCompetencyScores: %v", err)
	}
	if len(scores) != 1 {
		t.Fatalf("score count: want=1 got=%d", len(scores))
	}
	if scores[0].Score != 50 || scores[0].EventID != older.ID {
		t.Fatalf("expected fallback to the surviving confirmed assessment, got %+v", scores[0])
	}
}

func TestCorrectSerializesConcurrentCalls(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	original := mustAppend(t, svc, studentID, "algebra", 40)
	payload, _ := json.Marshal(types.AssessmentPayload{Competency: "algebra", Score: 62, Estimate: 62})

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Correct(context.Background(), original.ID, payload, "teacher:reyes")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, immutable := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, core.ErrImmutableEvent):
			immutable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || immutable != 1 {
		t.Fatalf("want exactly one winner and one immutable rejection, got %d/%d", succeeded, immutable)
	}

	corrections := 0
	for _, e := range repo.forStudent(studentID) {
		if e.EventType == types.EventCorrectionIssued {
			corrections++
		}
	}
	if corrections != 1 {
		t.Fatalf("correction count: want=1 got=%d", corrections)
	}
}

func TestMerkleRootWindows(t *testing.T) {
	repo := newFakeLedgerRepo()
	svc := newTestLedgerService(t, repo)
	studentID := uuid.New()

	for i := 0; i < 5; i++ {
		mustAppend(t, svc, studentID, "algebra", float64(50+i))
	}

	full, err := svc.MerkleRoot(context.Background(), studentID, 0)
	if err != nil {
		t.Fatalf("MerkleRoot: %v", err)
	}
	if full.LeafCount != 5 || full.MerkleRoot == "" {
		t.Fatalf("full tree: %+v", full)
	}

	window, err := svc.MerkleRoot(context.Background(), studentID, 2)
	if err != nil {
		t.Fatalf("MerkleRoot window: %v", err)
	}
	if window.LeafCount != 2 {
		t.Fatalf("window leaf count: want=2 got=%d", window.LeafCount)
	}
	if window.MerkleRoot == full.MerkleRoot {
		t.Fatalf("window root should differ from full root")
	}

	again, _ := svc.MerkleRoot(context.Background(), studentID, 0)
	if again.MerkleRoot != full.MerkleRoot {
		t.Fatalf("same window must yield the same root")
	}
}
