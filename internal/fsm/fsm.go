// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm is a small generic finite state machine with a strict
// transition table.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrInvalidTransition is returned when no edge leaves the current state on an event.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConcurrentTransition is returned when the state moved while a guard ran.
	ErrConcurrentTransition = errors.New("concurrent transition")
)

// Transition describes a single edge in the FSM. Guard may reject the
// transition, leaving the state where it was.
type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
	Guard func(ctx context.Context, from S, event E) error
}

// Edges expands one event leaving several states into individual transitions.
func Edges[S ~string, E ~string](from []S, event E, to S) []Transition[S, E] {
	out := make([]Transition[S, E], 0, len(from))
	for _, f := range from {
		out = append(out, Transition[S, E]{From: f, Event: event, To: to})
	}
	return out
}

// Observer is notified after every applied transition.
type Observer[S ~string, E ~string] func(from, to S, event E)

// Machine runs a transition table. Unknown transitions are errors.
type Machine[S ~string, E ~string] struct {
	mu        sync.Mutex
	state     S
	index     map[string]Transition[S, E]
	observers []Observer[S, E]
}

// New builds a machine in the initial state. Duplicate (from, event) pairs are rejected.
func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

// OnTransition registers an observer. Observers run outside the lock in
// registration order.
func (m *Machine[S, E]) OnTransition(o Observer[S, E]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Can reports whether event has an edge from the current state.
func (m *Machine[S, E]) Can(event E) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[key(m.state, event)]
	return ok
}

// Fire attempts to apply an event atomically.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[key(from, event)]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	to := t.To
	m.mu.Unlock()

	// The guard runs unlocked; it may block.
	if t.Guard != nil {
		if err := t.Guard(ctx, from, event); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	if m.state != from {
		cur := m.state
		m.mu.Unlock()
		return cur, fmt.Errorf("%w: from=%s cur=%s event=%s", ErrConcurrentTransition, from, cur, event)
	}
	m.state = to
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	for _, o := range observers {
		o(from, to, event)
	}
	return to, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
