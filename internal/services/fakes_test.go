package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edifylabs/edify-backend/internal/core"
	"github.com/edifylabs/edify-backend/internal/types"
)

// In-memory repo fakes. Each can be primed with forced conflicts to exercise
// the bounded retry paths.

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// Now advances by a second per call so consecutive events never share a
// timestamp.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// --- ability states ---

type fakeAbilityRepo struct {
	mu            sync.Mutex
	rows          map[string]*types.AbilityState
	saveConflicts int
}

func newFakeAbilityRepo() *fakeAbilityRepo {
	return &fakeAbilityRepo{rows: map[string]*types.AbilityState{}}
}

func abilityKey(studentID uuid.UUID, competency string) string {
	return studentID.String() + "/" + competency
}

func (r *fakeAbilityRepo) Get(_ context.Context, _ *gorm.DB, studentID uuid.UUID, competency string) (*types.AbilityState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[abilityKey(studentID, competency)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeAbilityRepo) ListForStudent(_ context.Context, _ *gorm.DB, studentID uuid.UUID) ([]*types.AbilityState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.AbilityState
	for _, row := range r.rows {
		if row.StudentID == studentID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAbilityRepo) Create(_ context.Context, _ *gorm.DB, row *types.AbilityState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	cp := *row
	r.rows[abilityKey(row.StudentID, row.Competency)] = &cp
	return nil
}

func (r *fakeAbilityRepo) Save(_ context.Context, _ *gorm.DB, row *types.AbilityState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveConflicts > 0 {
		r.saveConflicts--
		return core.ErrConcurrencyConflict
	}
	stored, ok := r.rows[abilityKey(row.StudentID, row.Competency)]
	if !ok || stored.Version != row.Version {
		return core.ErrConcurrencyConflict
	}
	row.Version++
	cp := *row
	r.rows[abilityKey(row.StudentID, row.Competency)] = &cp
	return nil
}

// --- ledger events ---

type fakeLedgerRepo struct {
	mu              sync.Mutex
	events          []*types.LedgerEvent
	appendConflicts int
}

func newFakeLedgerRepo() *fakeLedgerRepo { return &fakeLedgerRepo{} }

func (r *fakeLedgerRepo) Append(_ context.Context, _ *gorm.DB, row *types.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendConflicts > 0 {
		r.appendConflicts--
		return core.ErrConcurrencyConflict
	}
	for _, e := range r.events {
		if e.StudentID == row.StudentID && e.BlockIndex == row.BlockIndex {
			return core.ErrConcurrencyConflict
		}
	}
	row.CreatedAt = time.Now().UTC()
	cp := *row
	r.events = append(r.events, &cp)
	return nil
}

func (r *fakeLedgerRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.LedgerEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeLedgerRepo) GetLatest(_ context.Context, _ *gorm.DB, studentID uuid.UUID) (*types.LedgerEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *types.LedgerEvent
	for _, e := range r.events {
		if e.StudentID != studentID {
			continue
		}
		if latest == nil || e.BlockIndex > latest.BlockIndex {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeLedgerRepo) forStudent(studentID uuid.UUID) []*types.LedgerEvent {
	var out []*types.LedgerEvent
	for _, e := range r.events {
		if e.StudentID == studentID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockIndex < out[j].BlockIndex })
	return out
}

func (r *fakeLedgerRepo) ListAsc(_ context.Context, _ *gorm.DB, studentID uuid.UUID, limit, offset int) ([]*types.LedgerEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.forStudent(studentID)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeLedgerRepo) ListLastN(_ context.Context, _ *gorm.DB, studentID uuid.UUID, n int) ([]*types.LedgerEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.forStudent(studentID)
	if n > 0 && n < len(out) {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (r *fakeLedgerRepo) ListDesc(_ context.Context, _ *gorm.DB, studentID uuid.UUID, limit int) ([]*types.LedgerEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	asc := r.forStudent(studentID)
	out := make([]*types.LedgerEvent, 0, len(asc))
	for i := len(asc) - 1; i >= 0; i-- {
		out = append(out, asc[i])
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeLedgerRepo) ListActiveStudents(_ context.Context, _ *gorm.DB, since time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, e := range r.events {
		if e.CreatedAt.Before(since) || seen[e.StudentID] {
			continue
		}
		seen[e.StudentID] = true
		out = append(out, e.StudentID)
	}
	return out, nil
}

func (r *fakeLedgerRepo) MarkCorrected(_ context.Context, _ *gorm.DB, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			if e.Status == types.EventStatusCorrected {
				return core.ErrConcurrencyConflict
			}
			e.Status = types.EventStatusCorrected
			return nil
		}
	}
	return core.NewNotFoundError("ledger event", id.String())
}

// tamper rewrites the stored payload of one event, bypassing the service.
func (r *fakeLedgerRepo) tamper(id uuid.UUID, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Payload = payload
			return
		}
	}
}

// --- adapter states ---

type fakeAdapterRepo struct {
	mu   sync.Mutex
	rows map[string]*types.AdapterState
}

func newFakeAdapterRepo() *fakeAdapterRepo {
	return &fakeAdapterRepo{rows: map[string]*types.AdapterState{}}
}

func adapterKey(scopeType string, scopeID *uuid.UUID) string {
	if scopeID == nil {
		return scopeType
	}
	return scopeType + "/" + scopeID.String()
}

func (r *fakeAdapterRepo) Get(_ context.Context, _ *gorm.DB, scopeType string, scopeID *uuid.UUID) (*types.AdapterState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[adapterKey(scopeType, scopeID)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeAdapterRepo) Create(_ context.Context, _ *gorm.DB, row *types.AdapterState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	cp := *row
	r.rows[adapterKey(row.ScopeType, row.ScopeID)] = &cp
	return nil
}

func (r *fakeAdapterRepo) Save(_ context.Context, _ *gorm.DB, row *types.AdapterState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[adapterKey(row.ScopeType, row.ScopeID)]
	if !ok || stored.Version != row.Version {
		return core.ErrConcurrencyConflict
	}
	row.Version++
	cp := *row
	r.rows[adapterKey(row.ScopeType, row.ScopeID)] = &cp
	return nil
}

// --- controller states ---

type fakeControllerRepo struct {
	mu   sync.Mutex
	rows map[string]*types.ControllerState
}

func newFakeControllerRepo() *fakeControllerRepo {
	return &fakeControllerRepo{rows: map[string]*types.ControllerState{}}
}

func controllerKey(controller, scopeType string, scopeID *uuid.UUID) string {
	return controller + "/" + adapterKey(scopeType, scopeID)
}

func (r *fakeControllerRepo) Get(_ context.Context, _ *gorm.DB, controller, scopeType string, scopeID *uuid.UUID) (*types.ControllerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[controllerKey(controller, scopeType, scopeID)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *fakeControllerRepo) ListForScope(_ context.Context, _ *gorm.DB, scopeType string, scopeID *uuid.UUID) ([]*types.ControllerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.ControllerState
	for _, row := range r.rows {
		if row.ScopeType == scopeType && adapterKey(row.ScopeType, row.ScopeID) == adapterKey(scopeType, scopeID) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeControllerRepo) Create(_ context.Context, _ *gorm.DB, row *types.ControllerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	cp := *row
	r.rows[controllerKey(row.Controller, row.ScopeType, row.ScopeID)] = &cp
	return nil
}

func (r *fakeControllerRepo) Save(_ context.Context, _ *gorm.DB, row *types.ControllerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[controllerKey(row.Controller, row.ScopeType, row.ScopeID)]
	if !ok || stored.Version != row.Version {
		return core.ErrConcurrencyConflict
	}
	row.Version++
	cp := *row
	r.rows[controllerKey(row.Controller, row.ScopeType, row.ScopeID)] = &cp
	return nil
}

// --- integrity anchors ---

type fakeAnchorRepo struct {
	mu   sync.Mutex
	rows []*types.IntegrityAnchor
}

func newFakeAnchorRepo() *fakeAnchorRepo { return &fakeAnchorRepo{} }

func (r *fakeAnchorRepo) Create(_ context.Context, _ *gorm.DB, row *types.IntegrityAnchor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.CreatedAt = time.Now().UTC()
	cp := *row
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *fakeAnchorRepo) GetLatest(_ context.Context, _ *gorm.DB, studentID uuid.UUID) (*types.IntegrityAnchor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *types.IntegrityAnchor
	for _, a := range r.rows {
		if a.StudentID != studentID {
			continue
		}
		if latest == nil || a.ToBlockIndex > latest.ToBlockIndex {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeAnchorRepo) List(_ context.Context, _ *gorm.DB, studentID uuid.UUID, limit int) ([]*types.IntegrityAnchor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.IntegrityAnchor
	for _, a := range r.rows {
		if a.StudentID == studentID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToBlockIndex > out[j].ToBlockIndex })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
