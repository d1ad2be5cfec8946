// Package guard admits at most one pipeline run at a time without queueing.
package guard

import (
	"context"
	"sync"
)

type Guard interface {
	// TryAcquire never blocks. ok=false means another run holds the guard.
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// Local is a process-wide single slot.
type Local struct {
	sem chan struct{}
}

func NewLocal() *Local {
	return &Local{sem: make(chan struct{}, 1)}
}

func (l *Local) TryAcquire(ctx context.Context) (func(), bool, error) {
	select {
	case l.sem <- struct{}{}:
		return onceFunc(func() { <-l.sem }), true, nil
	default:
		return nil, false, nil
	}
}

func (l *Local) Busy() bool {
	return len(l.sem) == cap(l.sem)
}

func onceFunc(f func()) func() {
	var once sync.Once
	return func() { once.Do(f) }
}
