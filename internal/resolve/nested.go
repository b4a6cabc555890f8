package resolve

import (
	"context"
	"sync"

	"list-mutator/internal/merr"
	"list-mutator/internal/schema"
)

// State is the nested-mutation-state coordinator. It is owned
// exclusively by one top-level resolution and every nested create that
// resolution triggers; it must never be shared across sibling
// top-level operations. Nested creates commit their physical writes
// immediately but defer their after-change side effects here, to be
// replayed only once the outermost write has committed.
type State struct {
	mu       sync.Mutex
	pending  []func(ctx context.Context) error
	replayed bool
}

func newState() *State {
	return &State{}
}

func (s *State) push(fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, fn)
}

func (s *State) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Replay invokes every pending after-change closure in registration
// order. It runs at most once; all failures are collected and raised
// as one composite error.
func (s *State) Replay(ctx context.Context) error {
	s.mu.Lock()
	if s.replayed {
		s.mu.Unlock()
		return nil
	}
	s.replayed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var reasons []error
	for _, fn := range pending {
		if err := fn(ctx); err != nil {
			reasons = append(reasons, err)
		}
	}
	if len(reasons) > 0 {
		return merr.Aggregate("one or more nested after-change callbacks failed", reasons)
	}
	return nil
}

// nestedCreate satisfies an inline relationship create: it applies
// access control for the foreign collection, re-enters the full
// resolution pipeline, performs the physical write, and defers the
// resulting after-change onto the coordinator. The returned id lets
// the caller treat the nested record as already connected.
func (r *Resolver) nestedCreate(ctx context.Context, state *State, foreign *schema.Collection, rawInput map[string]interface{}) (interface{}, error) {
	if r.checker != nil {
		if err := r.checker.CheckCreate(ctx, foreign.Name, rawInput); err != nil {
			return nil, err
		}
	}
	payload, after, err := r.resolve(ctx, foreign, rawInput, nil, state)
	if err != nil {
		return nil, err
	}
	item, err := r.CreateItem(ctx, foreign.Name, payload)
	if err != nil {
		return nil, err
	}
	state.push(func(ctx context.Context) error {
		return after(ctx, item)
	})
	return item.ID(), nil
}
