// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package machine

import "sync"

// History records the states a Machine has passed through and the events it
// has received, when the "history" feature flag is set on its Definition.
// Adapted from the teacher's fsm.History (one mutex per slice rather than a
// single machine-wide lock, so reading States doesn't block AddEvent and
// reading Events doesn't block AddState).
type History struct {
	stateMux sync.Mutex
	states   []string

	eventMux sync.Mutex
	events   []Event
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{states: []string{}, events: []Event{}}
}

// AddState appends state to the recorded path.
func (h *History) AddState(state string) {
	h.stateMux.Lock()
	defer h.stateMux.Unlock()
	h.states = append(h.states, state)
}

// States returns the states visited so far, oldest first, including the
// current one.
func (h *History) States() []string {
	h.stateMux.Lock()
	defer h.stateMux.Unlock()
	out := make([]string, len(h.states))
	copy(out, h.states)
	return out
}

// AddEvent appends ev to the recorded event log.
func (h *History) AddEvent(ev Event) {
	h.eventMux.Lock()
	defer h.eventMux.Unlock()
	h.events = append(h.events, ev)
}

// Events returns the events received so far, oldest first.
func (h *History) Events() []Event {
	h.eventMux.Lock()
	defer h.eventMux.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}
