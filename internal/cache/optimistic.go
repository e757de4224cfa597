package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/lazyclaw/lazyops/internal/logging"
	"github.com/lazyclaw/lazyops/internal/metrics"
)

// ErrNoRemote is returned when a mutation has no remote operation
var ErrNoRemote = errors.New("mutation has no remote operation")

// RemoteFunc performs the server-side write. Retries, if any, belong to the
// transport underneath it; the coordinator calls it exactly once.
type RemoteFunc func(ctx context.Context) error

// Mutation is one optimistic write
type Mutation struct {
	Key    string
	Value  any  // speculative value; ignored when Delete is set
	Delete bool // hide the key until the remote delete settles

	Remote RemoteFunc

	// Invalidate lists the collections refetched once the mutation settles
	Invalidate []string
}

// Outcome of a settled mutation
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeRolledBack Outcome = "rolled_back"
	OutcomeSuperseded Outcome = "superseded" // failed, but a newer write already replaced the speculative value
)

// Result describes how a mutation settled
type Result struct {
	Key     string
	Outcome Outcome
	Err     error
}

// Coordinator applies optimistic writes to a shared Store
type Coordinator struct {
	store *Store
}

// NewCoordinator creates a coordinator over store
func NewCoordinator(store *Store) *Coordinator {
	return &Coordinator{store: store}
}

// Store returns the underlying cache
func (c *Coordinator) Store() *Store {
	return c.store
}

// Mutate snapshots the entry at m.Key, writes the speculative value, runs
// the remote operation and, if it fails, restores the snapshot. The related
// collections are invalidated once after the remote settles, whatever the
// outcome. The returned error is the remote error.
func (c *Coordinator) Mutate(ctx context.Context, m Mutation) (Result, error) {
	if m.Remote == nil {
		return Result{Key: m.Key}, ErrNoRemote
	}

	var data []byte
	if !m.Delete {
		encoded, err := json.Marshal(m.Value)
		if err != nil {
			return Result{Key: m.Key}, fmt.Errorf("failed to encode speculative value for %s: %w", m.Key, err)
		}
		data = encoded
	}

	snap, version := c.store.begin(m.Key, data, m.Delete)

	remoteErr := runRemote(ctx, m.Remote)

	res := Result{Key: m.Key, Err: remoteErr}
	if remoteErr == nil {
		c.store.settle(m.Key, version)
		res.Outcome = OutcomeConfirmed
	} else if c.store.rollback(snap, version) {
		res.Outcome = OutcomeRolledBack
		logging.Warn().Err(remoteErr).Str("key", m.Key).Msg("Optimistic write rolled back")
	} else {
		res.Outcome = OutcomeSuperseded
		logging.Warn().Err(remoteErr).Str("key", m.Key).Msg("Optimistic write failed after being superseded")
	}
	metrics.Mutations.WithLabelValues(string(res.Outcome)).Inc()

	c.store.Invalidate(m.Invalidate...)
	return res, remoteErr
}

// runRemote converts a panicking remote into an error so the rollback and
// invalidation still happen
func runRemote(ctx context.Context, fn RemoteFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote operation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// MutateValue is Mutate for a typed speculative value
func MutateValue[T any](ctx context.Context, c *Coordinator, key string, value T, remote RemoteFunc, invalidate ...string) (Result, error) {
	return c.Mutate(ctx, Mutation{
		Key:        key,
		Value:      value,
		Remote:     remote,
		Invalidate: invalidate,
	})
}

// MutateDelete is Mutate for an optimistic delete
func MutateDelete(ctx context.Context, c *Coordinator, key string, remote RemoteFunc, invalidate ...string) (Result, error) {
	return c.Mutate(ctx, Mutation{
		Key:        key,
		Delete:     true,
		Remote:     remote,
		Invalidate: invalidate,
	})
}
