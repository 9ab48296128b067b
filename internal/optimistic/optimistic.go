// Package optimistic applies a state change locally before the server confirms
// it, then reconciles with the server's answer or rolls the change back.
package optimistic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/desurestar/RSOD-project/pkg/errors"
	"github.com/desurestar/RSOD-project/pkg/logger"
)

// Outcome is the result of a Perform call.
type Outcome string

const (
	// OutcomeIgnored means a mutation for the same key was already in flight.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeReconciled means the server answered and its truth was written.
	OutcomeReconciled Outcome = "reconciled"
	// OutcomeRolledBack means the request failed and the previous state was restored.
	OutcomeRolledBack Outcome = "rolled_back"
)

var (
	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blogsync_optimistic_outcomes_total",
			Help: "Optimistic mutations by outcome",
		},
		[]string{"outcome"},
	)

	correctionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blogsync_optimistic_corrections_total",
			Help: "Reconciles where the server disagreed with the optimistic guess",
		},
	)
)

// Mutation describes one optimistic change to the state of type T, confirmed
// by a server response of type S.
type Mutation[T, S any] struct {
	// Key identifies the entity. One mutation per key runs at a time.
	Key string
	// Read returns the current local state.
	Read func() T
	// Apply computes the optimistic state from the current one.
	Apply func(T) T
	// Write stores a state locally.
	Write func(T)
	// Request performs the server call.
	Request func(ctx context.Context) (S, error)
	// Reconcile merges the server's answer into the optimistic state.
	Reconcile func(optimistic T, truth S) T
	// Equal reports whether reconciled matches the optimistic guess. Optional.
	Equal func(a, b T) bool
}

// Executor runs mutations with a per-key in-flight guard.
type Executor[T, S any] struct {
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewExecutor creates an executor.
func NewExecutor[T, S any](l *slog.Logger) *Executor[T, S] {
	return &Executor[T, S]{
		logger:   l,
		inflight: make(map[string]struct{}),
	}
}

// InFlight reports whether a mutation for key is pending.
func (e *Executor[T, S]) InFlight(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[key]
	return ok
}

// Perform writes the optimistic state, calls the server and settles the state.
// A failed request restores the state seen before the mutation and returns the
// request's error. Failed requests are never retried.
func (e *Executor[T, S]) Perform(ctx context.Context, m Mutation[T, S]) (Outcome, error) {
	if !e.acquire(m.Key) {
		outcomesTotal.WithLabelValues(string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}
	defer e.release(m.Key)

	prev := m.Read()
	optimistic := m.Apply(prev)
	m.Write(optimistic)

	truth, err := e.request(ctx, m)
	log := logger.WithContext(ctx, e.logger)
	if err != nil {
		m.Write(prev)
		outcomesTotal.WithLabelValues(string(OutcomeRolledBack)).Inc()
		log.WarnContext(ctx, "optimistic mutation rolled back",
			slog.String("key", m.Key),
			slog.String("error", err.Error()),
		)
		return OutcomeRolledBack, err
	}

	reconciled := m.Reconcile(optimistic, truth)
	m.Write(reconciled)
	outcomesTotal.WithLabelValues(string(OutcomeReconciled)).Inc()
	if m.Equal != nil && !m.Equal(optimistic, reconciled) {
		correctionsTotal.Inc()
		log.DebugContext(ctx, "server corrected optimistic state", slog.String("key", m.Key))
	}
	return OutcomeReconciled, nil
}

// request calls m.Request, turning a panic into an internal error.
func (e *Executor[T, S]) request(ctx context.Context, m Mutation[T, S]) (truth S, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Internal(fmt.Errorf("optimistic request %s panicked: %v", m.Key, r))
		}
	}()
	return m.Request(ctx)
}

func (e *Executor[T, S]) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[key]; busy {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Executor[T, S]) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, key)
}
