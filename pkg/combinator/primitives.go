// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator

import (
	"time"

	"github.com/relaycore/opfsm/pkg/dispatch"
	"github.com/relaycore/opfsm/pkg/machine"
)

func scheduledPoolOf(m *machine.Machine) *dispatch.ScheduledPool {
	if v, ok := m.Data().Get(KeyScheduledPool); ok {
		if pool, ok := v.(*dispatch.ScheduledPool); ok {
			return pool
		}
	}
	return dispatch.NewScheduledPool(1, nil)
}

func abortable(def *machine.Definition, from string) {
	def.AllowTransition(from, machine.StateAborted)
	def.HandleEvent(from, "abort", func(m *machine.Machine, ev machine.Event) error {
		_, err := m.Transition(machine.StateAborted, func(d *machine.Data) {
			d.Set(KeyFailReason, FailReason("aborted"))
		})
		return err
	})
}

// Result returns a Specification that, on start, sets the result to v and
// completes.
func Result(v any) *Specification {
	return New("result", func() *machine.Definition {
		def := machine.NewDefinition("result")
		def.WithInitialState("init")
		def.AllowTransition("init", machine.StateCompleted)
		abortable(def, "init")
		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition(machine.StateCompleted, func(d *machine.Data) {
				d.Set(KeyResult, v)
			})
			return err
		})
		return def
	})
}

// Succeed returns a Specification that completes if flag is true, and fails
// with reason otherwise.
func Succeed(flag bool, reason any) *Specification {
	return New("succeed", func() *machine.Definition {
		def := machine.NewDefinition("succeed")
		def.WithInitialState("init")
		def.AllowTransition("init", machine.StateCompleted)
		def.AllowTransition("init", machine.StateFailed)
		abortable(def, "init")
		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			if flag {
				_, err := m.Transition(machine.StateCompleted, nil)
				return err
			}
			_, err := m.Transition(machine.StateFailed, func(d *machine.Data) {
				d.Set(KeyFailReason, reason)
			})
			return err
		})
		return def
	})
}

// Fail returns a Specification that always fails with reason.
func Fail(reason any) *Specification {
	return New("fail", func() *machine.Definition {
		def := machine.NewDefinition("fail")
		def.WithInitialState("init")
		def.AllowTransition("init", machine.StateFailed)
		abortable(def, "init")
		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition(machine.StateFailed, func(d *machine.Data) {
				d.Set(KeyFailReason, reason)
			})
			return err
		})
		return def
	})
}

// Delay returns a Specification that waits d and then completes with a nil
// result. The timer is armed via the machine's scheduled pool (inherited
// from the root Operation, or a private single-worker pool if this Delay is
// never nested under an operate call that configured one).
func Delay(d time.Duration) *Specification {
	return New("delay", func() *machine.Definition {
		def := machine.NewDefinition("delay")
		def.WithInitialState("init")
		def.AllowTransition("init", "running")
		def.AllowTransition("running", machine.StateCompleted)
		abortable(def, "init")
		abortable(def, "running")
		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition("running", nil)
			return err
		})
		def.OnEntry("running", func(m *machine.Machine, ev machine.Event) (bool, error) {
			pool := scheduledPoolOf(m)
			pool.Schedule(d, func() {
				m.Write(machine.Event{Name: "elapsed"})
			})
			return false, nil
		})
		def.HandleEvent("running", "elapsed", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition(machine.StateCompleted, nil)
			return err
		})
		def.HandleEvent(machine.AnyState, "elapsed", func(m *machine.Machine, ev machine.Event) error {
			return nil // timer fired after running was already left (aborted or timed out)
		})
		return def
	})
}
