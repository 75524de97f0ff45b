package types

import "github.com/google/uuid"

// Scope addresses one adapter/controller state. The zero value is not valid;
// use GlobalScope or a constructor.
type Scope struct {
	Type string     `json:"type"`
	ID   *uuid.UUID `json:"id,omitempty"`
}

func GlobalScope() Scope { return Scope{Type: ScopeGlobal} }

func StudentScope(id uuid.UUID) Scope { return Scope{Type: ScopeStudent, ID: &id} }

func ClassScope(id uuid.UUID) Scope { return Scope{Type: ScopeClass, ID: &id} }

func SchoolScope(id uuid.UUID) Scope { return Scope{Type: ScopeSchool, ID: &id} }

func (s Scope) Valid() bool {
	switch s.Type {
	case ScopeGlobal:
		return s.ID == nil
	case ScopeStudent, ScopeClass, ScopeSchool:
		return s.ID != nil
	default:
		return false
	}
}

// FallbackChain is the deterministic read-resolution order: the scope itself,
// then class, then school, then global. Nil class/school refs are skipped.
func (s Scope) FallbackChain(classID, schoolID *uuid.UUID) []Scope {
	chain := []Scope{s}
	if s.Type == ScopeStudent {
		if classID != nil {
			chain = append(chain, ClassScope(*classID))
		}
		if schoolID != nil {
			chain = append(chain, SchoolScope(*schoolID))
		}
	}
	if s.Type != ScopeGlobal {
		chain = append(chain, GlobalScope())
	}
	return chain
}
