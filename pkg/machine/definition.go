// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package machine

// Hook runs on entry to, or exit from, a state. It returns true when it
// performed a state change itself ("self-transitioned"); a true return
// short-circuits the rest of a merged hook chain, mirroring the guarded-chain
// composition rule.
type Hook func(m *Machine, ev Event) (bool, error)

// EventHandler reacts to an event delivered while the machine is in a given
// state. It typically calls Machine.Transition one or more times.
type EventHandler func(m *Machine, ev Event) error

// AnyState is the wildcard source state, matched when no specific-state
// transition or handler applies. Mirrors the teacher's WhenInAnyState "*".
const AnyState = "*"

// Definition is an FSM specification: named states, declared valid
// transitions, per-state entry/exit hooks, per-state event handlers, feature
// flags, and an initial state/state-data pair. It is built incrementally
// through its builder methods (directly, or starting from Merge), which
// modify it in place; pkg/combinator builds a fresh Definition for every
// materialization rather than sharing one between machines.
type Definition struct {
	Name         string
	InitialState string
	InitialData  map[string]any
	Features     map[string]bool

	transitions map[string]map[string]bool
	entryHooks  map[string][]Hook
	exitHooks   map[string][]Hook
	handlers    map[string]map[string]EventHandler
}

// NewDefinition returns an empty, named Definition ready for incremental
// construction.
func NewDefinition(name string) *Definition {
	return &Definition{
		Name:        name,
		Features:    map[string]bool{},
		transitions: map[string]map[string]bool{},
		entryHooks:  map[string][]Hook{},
		exitHooks:   map[string][]Hook{},
		handlers:    map[string]map[string]EventHandler{},
	}
}

// AllowTransition declares that from may transition to to. from may be
// AnyState.
func (d *Definition) AllowTransition(from, to string) *Definition {
	if d.transitions[from] == nil {
		d.transitions[from] = map[string]bool{}
	}
	d.transitions[from][to] = true
	return d
}

// OnEntry appends h to the chain of hooks run when state is entered.
func (d *Definition) OnEntry(state string, h Hook) *Definition {
	d.entryHooks[state] = append(d.entryHooks[state], h)
	return d
}

// OnExit appends h to the chain of hooks run when state is exited.
func (d *Definition) OnExit(state string, h Hook) *Definition {
	d.exitHooks[state] = append(d.exitHooks[state], h)
	return d
}

// HandleEvent registers h as the handler for event while the machine is in
// state. state may be AnyState. A later call for the same (state, event)
// pair overwrites the previous handler (last writer wins, per the merge
// rule, applies equally to direct registration).
func (d *Definition) HandleEvent(state, event string, h EventHandler) *Definition {
	if d.handlers[state] == nil {
		d.handlers[state] = map[string]EventHandler{}
	}
	d.handlers[state][event] = h
	return d
}

// WithFeature turns on a named feature flag (e.g. "history",
// "lock-transition").
func (d *Definition) WithFeature(name string) *Definition {
	d.Features[name] = true
	return d
}

// WithInitialState sets the state a materialized Machine starts in.
func (d *Definition) WithInitialState(state string) *Definition {
	d.InitialState = state
	return d
}

// WithInitialData sets the state-data a materialized Machine starts with.
func (d *Definition) WithInitialData(data map[string]any) *Definition {
	d.InitialData = data
	return d
}

// States returns every state name this Definition references, across its
// transitions, hooks, and handlers, excluding the AnyState wildcard.
func (d *Definition) States() []string {
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && s != AnyState {
			seen[s] = true
		}
	}
	add(d.InitialState)
	for from, tos := range d.transitions {
		add(from)
		for to := range tos {
			add(to)
		}
	}
	for s := range d.entryHooks {
		add(s)
	}
	for s := range d.exitHooks {
		add(s)
	}
	for s := range d.handlers {
		add(s)
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	return out
}

func (d *Definition) transitionAllowed(from, to string) bool {
	if from == to {
		return true
	}
	if tos, ok := d.transitions[from]; ok && tos[to] {
		return true
	}
	if tos, ok := d.transitions[AnyState]; ok && tos[to] {
		return true
	}
	return false
}

func (d *Definition) entryHooksFor(state string) []Hook {
	return d.entryHooks[state]
}

func (d *Definition) exitHooksFor(state string) []Hook {
	return d.exitHooks[state]
}

func (d *Definition) handlerFor(state, event string) (EventHandler, bool) {
	if byEvent, ok := d.handlers[state]; ok {
		if h, ok := byEvent[event]; ok {
			return h, true
		}
	}
	if byEvent, ok := d.handlers[AnyState]; ok {
		if h, ok := byEvent[event]; ok {
			return h, true
		}
	}
	return nil, false
}

// Merge combines several Definitions describing the same abstract FSM into
// one, per the FSM merge rules: transitions union, feature flags
// deduplicated, entry/exit hooks concatenated into a guarded chain in
// argument order, event handlers last-writer-wins per (state, event), and
// name/initial-state/initial-state-data taking the first non-empty value
// across defs in order.
func Merge(defs ...*Definition) *Definition {
	out := NewDefinition("")
	for _, d := range defs {
		if d == nil {
			continue
		}
		if out.Name == "" {
			out.Name = d.Name
		}
		if out.InitialState == "" {
			out.InitialState = d.InitialState
		}
		if out.InitialData == nil {
			out.InitialData = d.InitialData
		}
		for feat := range d.Features {
			out.Features[feat] = true
		}
		for from, tos := range d.transitions {
			if out.transitions[from] == nil {
				out.transitions[from] = map[string]bool{}
			}
			for to := range tos {
				out.transitions[from][to] = true
			}
		}
		for state, hooks := range d.entryHooks {
			out.entryHooks[state] = append(out.entryHooks[state], hooks...)
		}
		for state, hooks := range d.exitHooks {
			out.exitHooks[state] = append(out.exitHooks[state], hooks...)
		}
		for state, byEvent := range d.handlers {
			if out.handlers[state] == nil {
				out.handlers[state] = map[string]EventHandler{}
			}
			for event, h := range byEvent {
				out.handlers[state][event] = h
			}
		}
	}
	return out
}
