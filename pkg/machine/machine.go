// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package machine is the primitive FSM framework spec.md assumes as an
// external collaborator: named states, declared valid transitions, per-state
// entry/exit hooks, per-state event handlers, a lock-transition feature
// serializing one instance's event processing, and a history feature.
// Adapted from the teacher's pkg/discovery/fsm.FSM: same pingCh/doneCh
// event-loop shape, generalized from a static transition table to
// Definition-driven event handlers so higher-level combinators can make
// transition decisions in code instead of a fixed (state, event) -> state
// table.
package machine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Machine is one materialized, running instance of a Definition.
//
// All event processing — queue draining, handler dispatch, hook execution,
// and Data mutation — is serialized by mux, the "lock-transition" feature
// spec.md requires: only one event is ever being handled at a time for a
// given Machine, though independent Machines (including a parent and its
// children) run concurrently.
type Machine struct {
	def    *Definition
	logger *zap.SugaredLogger

	mux     sync.Mutex
	current string
	data    *Data
	history *History
	queue   []Event

	pingCh chan struct{}
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// New materializes def into a running Machine. The machine does not process
// any events until Start is called.
func New(ctx context.Context, def *Definition, logger *zap.SugaredLogger) *Machine {
	var history *History
	if def.Features["history"] {
		history = NewHistory()
		history.AddState(def.InitialState)
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Machine{
		def:     def,
		logger:  logger,
		current: def.InitialState,
		data:    NewData(def.InitialData),
		history: history,
		pingCh:  make(chan struct{}, 1),
		doneCh:  make(chan struct{}, 1),
		ctx:     cctx,
		cancel:  cancel,
	}
}

// Data returns the machine's state-data bag.
func (m *Machine) Data() *Data { return m.data }

// Logger returns the logger this machine was constructed with, so
// combinators materializing child machines can keep using the same one.
func (m *Machine) Logger() *zap.SugaredLogger { return m.logger }

// History returns the machine's history, or nil if the "history" feature is
// not enabled on its Definition.
func (m *Machine) History() *History { return m.history }

// Current returns the current state name.
func (m *Machine) Current() string {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.current
}

// Snapshot returns a consistent (state name, state-data) pair taken under
// the transition lock, as spec.md's "status" operation requires.
func (m *Machine) Snapshot() (string, map[string]any) {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.current, m.data.Snapshot()
}

// Start delivers the synthetic start event synchronously — the machine is
// "running" by the time Start returns — and then launches the background
// loop that drains events delivered asynchronously via Write.
func (m *Machine) Start(payload any) error {
	m.mux.Lock()
	err := m.deliver(Event{Name: "start", Payload: payload})
	m.mux.Unlock()
	go m.run()
	return err
}

// Write enqueues ev for asynchronous processing by the background loop and
// is safe to call from any goroutine. A child's terminal notification to its
// parent is handed to a dispatch.Pool before it reaches Write, so it never
// runs on the child's own transition lock; a parent forwarding abort to a
// child calls the child's Write directly.
func (m *Machine) Write(ev Event) {
	m.mux.Lock()
	m.queue = append(m.queue, ev)
	m.mux.Unlock()
	select {
	case m.pingCh <- struct{}{}:
	default:
	}
}

// Stop halts the background loop. No further queued events are processed
// after Stop returns from the loop's perspective; in-flight processing
// completes first.
func (m *Machine) Stop() {
	select {
	case m.doneCh <- struct{}{}:
	default:
	}
	m.cancel()
}

// Done returns a channel closed when the machine's context is cancelled.
func (m *Machine) Done() <-chan struct{} { return m.ctx.Done() }

func (m *Machine) run() {
	for {
		select {
		case <-m.pingCh:
			m.drain()
		case <-m.ctx.Done():
			return
		case <-m.doneCh:
			return
		}
	}
}

func (m *Machine) drain() {
	m.mux.Lock()
	defer m.mux.Unlock()
	for len(m.queue) > 0 {
		ev := m.queue[0]
		m.queue = m.queue[1:]
		if err := m.deliver(ev); err != nil {
			m.logger.Errorw("event delivery failed", "machine", m.def.Name, "event", ev.Name, "error", err)
		}
	}
}

// deliver dispatches ev to the current state's handler. Must be called with
// mux held; hooks and handlers call Transition and FireSelf reentrantly
// under the same lock, so one external event can cascade through several
// internal transitions before deliver returns.
func (m *Machine) deliver(ev Event) error {
	if m.history != nil {
		m.history.AddEvent(ev)
	}
	handler, ok := m.def.handlerFor(m.current, ev.Name)
	if !ok {
		err := fmt.Errorf("unregistered event %q received in state %q", ev.Name, m.current)
		m.logger.Errorw("runtime bug: unregistered event", "machine", m.def.Name, "event", ev.Name, "state", m.current)
		m.data.Set("fail-reason", map[string]any{"reason": "runtime-error", "error": err.Error()})
		if _, tErr := m.transitionLocked(StateFailed, nil); tErr != nil {
			return tErr
		}
		return nil
	}
	return handler(m, ev)
}

// FireSelf synthesizes ev and processes it immediately within the caller's
// transition lock. Hooks use this to drive the controller FSMs in
// pkg/combinator (e.g. a step-completed entry hook firing run-next-step)
// without reentering the queue and without risking deep call-stack recursion
// across machine boundaries — FireSelf never crosses into another Machine.
func (m *Machine) FireSelf(ev Event) error {
	return m.deliver(ev)
}

// Transition moves the machine from its current state to dst, running the
// guarded exit-hook chain for the current state and the guarded entry-hook
// chain for dst. mutate, if non-nil, runs after the exit hooks and before
// the entry hooks, and is the usual place to write result/fail-reason into
// Data for the destination state to observe.
//
// If dst is not a declared valid successor of the current state, Transition
// is a silent no-op (returns false, nil). Timer events that arrive after
// their state was exited are absorbed by the handlers Delay and Timeout
// register for them, not by this check.
func (m *Machine) Transition(dst string, mutate func(*Data)) (bool, error) {
	return m.transitionLocked(dst, mutate)
}

func (m *Machine) transitionLocked(dst string, mutate func(*Data)) (bool, error) {
	if !m.def.transitionAllowed(m.current, dst) {
		m.logger.Debugw("ignored invalid transition", "machine", m.def.Name, "from", m.current, "to", dst)
		return false, nil
	}
	for _, hook := range m.def.exitHooksFor(m.current) {
		stop, err := hook(m, Event{Name: "_exit:" + m.current})
		if err != nil {
			return false, err
		}
		if stop {
			break
		}
	}
	if mutate != nil {
		mutate(m.data)
	}
	prev := m.current
	m.current = dst
	if m.history != nil {
		m.history.AddState(dst)
	}
	m.logger.Debugw("transition", "machine", m.def.Name, "from", prev, "to", dst)
	for _, hook := range m.def.entryHooksFor(dst) {
		stop, err := hook(m, Event{Name: "_entry:" + dst})
		if err != nil {
			return true, err
		}
		if stop {
			break
		}
	}
	return true, nil
}
