// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cast

import (
	"context"
	"errors"

	"github.com/ManuGH/photocast/internal/fsm"
)

// ErrSessionBusy is returned by Start while the previous session goroutine
// is still winding down.
var ErrSessionBusy = errors.New("session still stopping")

// State is the lifecycle state of one cast target.
type State string

const (
	StateDiscovered   State = "discovered"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StatePlaying      State = "playing"
	StatePaused       State = "paused"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// AllStates lists every state, used for the one-hot state gauge.
var AllStates = []string{
	string(StateDiscovered), string(StateConnecting), string(StateConnected),
	string(StatePlaying), string(StatePaused), string(StateDisconnected), string(StateError),
}

// Event drives session transitions.
type Event string

const (
	EventStart     Event = "start"
	EventConnected Event = "connected"
	EventPlay      Event = "play"
	EventPause     Event = "pause"
	EventResume    Event = "resume"
	EventFault     Event = "fault"
	EventRetry     Event = "retry"
	EventStop      Event = "stop"
)

// Active reports whether the state holds or is acquiring a device session.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateConnected, StatePlaying, StatePaused, StateError:
		return true
	}
	return false
}

// transitions builds the session table. startGuard vets both start edges.
func transitions(startGuard func(context.Context, State, Event) error) []fsm.Transition[State, Event] {
	t := []fsm.Transition[State, Event]{
		{From: StateDiscovered, Event: EventStart, To: StateConnecting, Guard: startGuard},
		{From: StateDisconnected, Event: EventStart, To: StateConnecting, Guard: startGuard},
		{From: StateConnecting, Event: EventConnected, To: StateConnected},
		{From: StateConnected, Event: EventPlay, To: StatePlaying},
		{From: StateConnected, Event: EventPause, To: StatePaused},
		{From: StatePlaying, Event: EventPause, To: StatePaused},
		{From: StatePaused, Event: EventResume, To: StatePlaying},
		{From: StateError, Event: EventRetry, To: StateConnecting},
	}
	t = append(t, fsm.Edges([]State{StateConnecting, StateConnected, StatePlaying, StatePaused}, EventFault, StateError)...)
	t = append(t, fsm.Edges([]State{StateConnecting, StateConnected, StatePlaying, StatePaused, StateError}, EventStop, StateDisconnected)...)
	return t
}

func newMachine(startGuard func(context.Context, State, Event) error) *fsm.Machine[State, Event] {
	m, err := fsm.New(StateDiscovered, transitions(startGuard))
	if err != nil {
		// The table is static; a duplicate edge is a programming error.
		panic(err)
	}
	return m
}
