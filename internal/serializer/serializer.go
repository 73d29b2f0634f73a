// Package serializer provides the single mutual-exclusion gate guarding
// every transport-mutating operation of a session. A host mute and a local
// mic toggle can fire in the same instant; without the gate a publish and an
// unpublish race and leave the transport published-but-marked-muted.
package serializer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Serializer admits one operation at a time in FIFO waiter order. No
// operation may bypass it.
type Serializer struct {
	sem     *semaphore.Weighted
	waitObs prometheus.Observer
}

type Option func(*Serializer)

// WithWaitObserver records how long each operation waited for the gate.
func WithWaitObserver(obs prometheus.Observer) Option {
	return func(s *Serializer) { s.waitObs = obs }
}

func New(opts ...Option) *Serializer {
	s := &Serializer{sem: semaphore.NewWeighted(1)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until the gate is free, executes op, and releases the gate
// even if op fails or panics. Acquire is context-aware: a cancelled ctx
// abandons the wait without running op.
func (s *Serializer) Run(ctx context.Context, name string, op func(context.Context) error) error {
	start := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	wait := time.Since(start)
	if s.waitObs != nil {
		s.waitObs.Observe(wait.Seconds())
	}
	if wait > 100*time.Millisecond {
		log.Warn().Str("module", "serializer").Str("op", name).Dur("waited", wait).Msg("slow gate acquire")
	}

	err := op(ctx)
	if err != nil {
		log.Debug().Err(err).Str("module", "serializer").Str("op", name).Msg("op failed")
	}
	return err
}

// TryRun executes op only if the gate is immediately free.
func (s *Serializer) TryRun(ctx context.Context, name string, op func(context.Context) error) (bool, error) {
	if !s.sem.TryAcquire(1) {
		return false, nil
	}
	defer s.sem.Release(1)
	return true, op(ctx)
}
