// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state string
type event string

const (
	idle    state = "idle"
	running state = "running"
	done    state = "done"

	start  event = "start"
	finish event = "finish"
	reset  event = "reset"
)

func table() []Transition[state, event] {
	t := []Transition[state, event]{
		{From: idle, Event: start, To: running},
		{From: running, Event: finish, To: done},
	}
	return append(t, Edges([]state{running, done}, reset, idle)...)
}

func TestFireFollowsTable(t *testing.T) {
	m, err := New(idle, table())
	require.NoError(t, err)

	to, err := m.Fire(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, running, to)
	assert.Equal(t, running, m.State())

	_, err = m.Fire(context.Background(), start)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, running, m.State())

	assert.True(t, m.Can(reset))
	assert.False(t, m.Can(start))
}

func TestDuplicateTransitionRejected(t *testing.T) {
	_, err := New(idle, append(table(), Transition[state, event]{From: idle, Event: start, To: done}))
	assert.Error(t, err)
}

func TestGuardFailureKeepsState(t *testing.T) {
	boom := errors.New("boom")
	m, err := New(idle, []Transition[state, event]{
		{From: idle, Event: start, To: running, Guard: func(context.Context, state, event) error { return boom }},
	})
	require.NoError(t, err)

	from, err := m.Fire(context.Background(), start)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, idle, from)
	assert.Equal(t, idle, m.State())
	assert.True(t, m.Can(start), "a guarded edge still exists")
}

func TestConcurrentTransitionDetected(t *testing.T) {
	var m *Machine[state, event]
	var err error
	m, err = New(idle, []Transition[state, event]{
		{From: idle, Event: start, To: running, Guard: func(ctx context.Context, _ state, _ event) error {
			_, ferr := m.Fire(ctx, finish)
			return ferr
		}},
		{From: idle, Event: finish, To: done},
	})
	require.NoError(t, err)

	cur, err := m.Fire(context.Background(), start)
	assert.ErrorIs(t, err, ErrConcurrentTransition)
	assert.Equal(t, done, cur)
}

func TestObserversSeeAppliedTransitions(t *testing.T) {
	m, err := New(idle, table())
	require.NoError(t, err)

	var seen []string
	m.OnTransition(func(from, to state, ev event) {
		seen = append(seen, string(from)+">"+string(to)+"@"+string(ev))
	})

	ctx := context.Background()
	_, _ = m.Fire(ctx, start)
	_, _ = m.Fire(ctx, start) // rejected, not observed
	_, _ = m.Fire(ctx, reset)
	assert.Equal(t, []string{"idle>running@start", "running>idle@reset"}, seen)
}
