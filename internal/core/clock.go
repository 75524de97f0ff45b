package core

import "time"

// Clock abstracts the timestamp source so estimator updates and ledger appends
// stay deterministic under test.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func NewClock() Clock { return realClock{} }
