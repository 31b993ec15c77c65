// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/opfsm/pkg/machine"
)

const stateTimeoutEvent = "_state-timeout"
const armedTimeoutIDKey = "_timeout:armed-id"

// Timeout wraps child with a per-state budget: every non-terminal state of
// child gets a fresh one-shot timer armed on entry and cancelled on exit.
// If the timer fires before the state is exited, the wrapped FSM fails with
// fail-reason {reason: timed-out}. The budget is per state, not per
// operation — a transition rearms it — so it composes with Sequence where
// each step gets its own budget; callers wanting an end-to-end budget wrap
// the outer Sequence itself.
func Timeout(child *Specification, d time.Duration) *Specification {
	return New("timeout", func() *machine.Definition {
		childDef := child.Materialize()

		patch := machine.NewDefinition("")
		patch.HandleEvent(machine.AnyState, stateTimeoutEvent, func(m *machine.Machine, ev machine.Event) error {
			return nil // stale fire in a state this wrapper never armed here, or already exited
		})

		for _, state := range childDef.States() {
			if machine.IsTerminal(state) {
				continue
			}
			state := state
			patch.AllowTransition(state, machine.StateFailed)
			patch.OnEntry(state, func(m *machine.Machine, ev machine.Event) (bool, error) {
				id := uuid.NewString()
				m.Data().Set(armedTimeoutIDKey, id)
				pool := scheduledPoolOf(m)
				handle := pool.Schedule(d, func() {
					m.Write(machine.Event{Name: stateTimeoutEvent, Payload: id})
				})
				storeTimeoutHandle(m.Data(), id, handle)
				return false, nil
			})
			patch.OnExit(state, func(m *machine.Machine, ev machine.Event) (bool, error) {
				if id, ok := m.Data().Get(armedTimeoutIDKey); ok {
					cancelAndRemoveTimeoutHandle(m.Data(), m.Logger(), id.(string))
				}
				return false, nil
			})
			patch.HandleEvent(state, stateTimeoutEvent, func(m *machine.Machine, ev machine.Event) error {
				armed, _ := m.Data().Get(armedTimeoutIDKey)
				if armed != ev.Payload {
					return nil // superseded by a later rearm of the same state name
				}
				_, err := m.Transition(machine.StateFailed, func(data *machine.Data) {
					data.Set(KeyFailReason, FailReason("timed-out"))
				})
				return err
			})
		}

		return machine.Merge(childDef, patch)
	})
}
