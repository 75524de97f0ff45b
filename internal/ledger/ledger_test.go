package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/edifylabs/edify-backend/internal/types"
)

func chainOf(t *testing.T, studentID uuid.UUID, n int) []*types.LedgerEvent {
	t.Helper()
	events := make([]*types.LedgerEvent, 0, n)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var prevHash *string
	for i := 0; i < n; i++ {
		e := &types.LedgerEvent{
			ID:           uuid.New(),
			EventType:    types.EventCompetencyAssessed,
			StudentID:    studentID,
			Payload:      []byte(`{"competency":"algebra","score":72.5}`),
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Actor:        "evaluator",
			BlockIndex:   int64(i),
			PreviousHash: prevHash,
			Status:       types.EventStatusConfirmed,
		}
		if err := Seal(e); err != nil {
			t.Fatalf("seal event %d: %v", i, err)
		}
		h := e.Hash
		prevHash = &h
		events = append(events, e)
	}
	return events
}

func TestVerifyEvent_ValidAfterSeal(t *testing.T) {
	e := chainOf(t, uuid.New(), 1)[0]
	check := VerifyEvent(e)
	if !check.HashValid || !check.ValidationHashValid {
		t.Fatalf("freshly sealed event failed verification: %+v", check)
	}
}

func TestVerifyEvent_DetectsPayloadTamper(t *testing.T) {
	e := chainOf(t, uuid.New(), 1)[0]
	e.Payload = []byte(`{"competency":"algebra","score":99.9}`)
	check := VerifyEvent(e)
	if check.HashValid {
		t.Fatalf("tampered payload passed hash verification")
	}
	if !check.ValidationHashValid {
		t.Fatalf("validation hash should still match: it does not cover the payload")
	}
}

func TestComputeEventHash_PayloadKeyOrderIrrelevant(t *testing.T) {
	id := uuid.New()
	student := uuid.New()
	ts := time.Now()

	h1, err := ComputeEventHash(id, "competency_assessed", student, nil, nil, ts, []byte(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := ComputeEventHash(id, "competency_assessed", student, nil, nil, ts, []byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash depends on payload key order: %s vs %s", h1, h2)
	}
}

func TestVerifyChain_ValidSequence(t *testing.T) {
	events := chainOf(t, uuid.New(), 8)
	report := VerifyChain(events)
	if !report.ChainValid {
		t.Fatalf("untouched chain reported invalid: %+v", report.InvalidEvents)
	}
	if report.EventCount != 8 {
		t.Fatalf("event count = %d, want 8", report.EventCount)
	}
}

func TestVerifyChain_DetectsSplicedEvent(t *testing.T) {
	events := chainOf(t, uuid.New(), 5)

	forged := &types.LedgerEvent{
		ID:         uuid.New(),
		EventType:  types.EventCompetencyAssessed,
		StudentID:  events[0].StudentID,
		Payload:    []byte(`{"competency":"algebra","score":100}`),
		Timestamp:  events[2].Timestamp,
		Actor:      "evaluator",
		BlockIndex: 3,
		// Stale pointer: links to event 1 instead of event 2.
		PreviousHash: &events[1].Hash,
	}
	if err := Seal(forged); err != nil {
		t.Fatalf("seal forged: %v", err)
	}
	spliced := append(append([]*types.LedgerEvent{}, events[:3]...), forged)

	report := VerifyChain(spliced)
	if report.ChainValid {
		t.Fatalf("spliced chain reported valid")
	}
	found := false
	for _, inv := range report.InvalidEvents {
		if inv.EventID == forged.ID && inv.Reason == "broken chain link" {
			found = true
			if inv.Expected != events[2].Hash || inv.Actual != events[1].Hash {
				t.Fatalf("divergence detail wrong: %+v", inv)
			}
		}
	}
	if !found {
		t.Fatalf("forged event not named in report: %+v", report.InvalidEvents)
	}
}

func TestVerifyChain_DetectsBlockIndexGap(t *testing.T) {
	events := chainOf(t, uuid.New(), 4)
	gapped := []*types.LedgerEvent{events[0], events[1], events[3]}
	report := VerifyChain(gapped)
	if report.ChainValid {
		t.Fatalf("gapped chain reported valid")
	}
}

func TestVerifyChain_FirstEventMustNotHavePreviousHash(t *testing.T) {
	events := chainOf(t, uuid.New(), 2)
	report := VerifyChain(events[1:])
	if report.ChainValid {
		t.Fatalf("chain starting with linked event reported valid")
	}
}

func TestBuildTree_Deterministic(t *testing.T) {
	events := chainOf(t, uuid.New(), 6)
	t1 := BuildTree(events)
	t2 := BuildTree(events)
	if t1.MerkleRoot == "" || t1.MerkleRoot != t2.MerkleRoot {
		t.Fatalf("merkle root not deterministic: %q vs %q", t1.MerkleRoot, t2.MerkleRoot)
	}
	if t1.LeafCount != 6 {
		t.Fatalf("leaf count = %d, want 6", t1.LeafCount)
	}
}

func TestBuildTree_RootChangesWithNewEvent(t *testing.T) {
	events := chainOf(t, uuid.New(), 5)
	before := BuildTree(events[:4]).MerkleRoot
	after := BuildTree(events).MerkleRoot
	if before == after {
		t.Fatalf("appending an event did not change the root")
	}
}

func TestBuildTree_OddLeafCountDuplicatesLast(t *testing.T) {
	events := chainOf(t, uuid.New(), 3)
	tree := BuildTree(events)
	if tree.MerkleRoot == "" {
		t.Fatalf("expected non-empty root for 3 leaves")
	}
	// Duplicating the last leaf must equal a 4-leaf tree whose 4th leaf is a
	// copy of the 3rd.
	dup := append(append([]*types.LedgerEvent{}, events...), events[2])
	if got := BuildTree(dup).MerkleRoot; got != tree.MerkleRoot {
		t.Fatalf("odd-level duplication mismatch: %q vs %q", tree.MerkleRoot, got)
	}
}

func TestBuildTree_EmptyWindow(t *testing.T) {
	tree := BuildTree(nil)
	if tree.MerkleRoot != "" || tree.LeafCount != 0 {
		t.Fatalf("empty window should yield empty tree, got %+v", tree)
	}
}

func TestVerificationDoesNotMutateEvents(t *testing.T) {
	events := chainOf(t, uuid.New(), 4)
	snapshot := make([]types.LedgerEvent, len(events))
	for i, e := range events {
		snapshot[i] = *e
	}

	VerifyChain(events)
	BuildTree(events)

	for i, e := range events {
		if e.Hash != snapshot[i].Hash || e.BlockIndex != snapshot[i].BlockIndex ||
			string(e.Payload) != string(snapshot[i].Payload) || e.Status != snapshot[i].Status {
			t.Fatalf("event %d mutated by verification", i)
		}
	}
}
