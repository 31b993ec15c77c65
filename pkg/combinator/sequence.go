// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/relaycore/opfsm/pkg/machine"
)

// Sequence is the controller FSM backing the sequential binding
// comprehension (pkg/seq): it runs steps in order, threading each step's
// captured result into the env the next step's reader closure sees, and
// fails fast — propagating the originating child's fail-reason verbatim —
// the moment any step fails.
func Sequence(name string, initialEnv map[string]any, steps []*StepRecord, resultFn func(env map[string]any) (any, error)) *Specification {
	return New(name, func() *machine.Definition {
		def := machine.NewDefinition(name)
		def.WithInitialState("init")
		def.WithFeature("history")
		def.AllowTransition("init", machine.StateCompleted)
		def.AllowTransition("init", "running")
		def.AllowTransition("init", machine.StateAborted)
		def.AllowTransition("running", "step-completed")
		def.AllowTransition("running", "step-failed")
		def.AllowTransition("running", machine.StateAborted)
		def.AllowTransition("step-completed", "running")
		def.AllowTransition("step-completed", machine.StateCompleted)
		def.AllowTransition("step-failed", machine.StateFailed)
		def.AllowTransition(machine.AnyState, machine.StateFailed)

		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			env := map[string]any{}
			for k, v := range initialEnv {
				env[k] = v
			}
			frame := &Frame{Env: env, Steps: steps, Todo: append([]*StepRecord{}, steps...), OverallResultFn: resultFn}
			pushFrame(m.Data(), frame)
			if len(frame.Todo) == 0 {
				return completeSequence(m, popFrame(m.Data()))
			}
			return runStep(m, frame, "running")
		})
		def.HandleEvent("init", "abort", func(m *machine.Machine, ev machine.Event) error {
			popFrame(m.Data())
			_, err := m.Transition(machine.StateAborted, func(d *machine.Data) {
				d.Set(KeyFailReason, FailReason("aborted"))
			})
			return err
		})

		def.HandleEvent("running", "step-complete", func(m *machine.Machine, ev machine.Event) error {
			snap := ev.Payload.(map[string]any)
			frame := peekFrame(m.Data())
			env, err := frame.CurrentStep.ResultFn(frame.Env, snap[KeyResult])
			if err != nil {
				popFrame(m.Data())
				_, terr := m.Transition(machine.StateFailed, func(d *machine.Data) {
					d.Set(KeyFailReason, map[string]any{"exception": err})
				})
				return terr
			}
			frame.Env = env
			_, terr := m.Transition("step-completed", nil)
			return terr
		})
		def.HandleEvent("running", "step-fail", func(m *machine.Machine, ev machine.Event) error {
			snap := ev.Payload.(map[string]any)
			_, err := m.Transition("step-failed", func(d *machine.Data) {
				d.Set(KeyFailReason, snap[KeyFailReason])
			})
			return err
		})
		def.HandleEvent("running", "step-abort", func(m *machine.Machine, ev machine.Event) error {
			snap := ev.Payload.(map[string]any)
			popFrame(m.Data())
			_, err := m.Transition(machine.StateAborted, func(d *machine.Data) {
				d.Set(KeyFailReason, snap[KeyFailReason])
			})
			return err
		})
		def.HandleEvent("running", "abort", func(m *machine.Machine, ev machine.Event) error {
			frame := peekFrame(m.Data())
			if len(frame.Machines) > 0 {
				frame.Machines[len(frame.Machines)-1].Write(machine.Event{Name: "abort"})
				return nil
			}
			popFrame(m.Data())
			_, err := m.Transition(machine.StateAborted, func(d *machine.Data) {
				d.Set(KeyFailReason, FailReason("aborted"))
			})
			return err
		})

		def.OnEntry("step-completed", func(m *machine.Machine, ev machine.Event) (bool, error) {
			frame := peekFrame(m.Data())
			if len(frame.Todo) > 0 {
				return false, m.FireSelf(machine.Event{Name: "run-next-step"})
			}
			return false, m.FireSelf(machine.Event{Name: "complete"})
		})
		def.HandleEvent("step-completed", "run-next-step", func(m *machine.Machine, ev machine.Event) error {
			return runStep(m, peekFrame(m.Data()), "running")
		})
		def.HandleEvent("step-completed", "complete", func(m *machine.Machine, ev machine.Event) error {
			return completeSequence(m, popFrame(m.Data()))
		})

		def.OnEntry("step-failed", func(m *machine.Machine, ev machine.Event) (bool, error) {
			return false, m.FireSelf(machine.Event{Name: "fail"})
		})
		def.HandleEvent("step-failed", "fail", func(m *machine.Machine, ev machine.Event) error {
			popFrame(m.Data())
			reason, _ := m.Data().Get(KeyFailReason)
			_, err := m.Transition(machine.StateFailed, func(d *machine.Data) {
				d.Set(KeyFailReason, reason)
			})
			return err
		})

		return def
	})
}

// runStep advances frame past its next pending step: it invokes the step's
// reader closure (catching a panicking user closure as a {exception: e}
// failure), wires the resulting child so its terminal states notify this
// machine, starts it on a worker task, and transitions the controller to
// targetState.
func runStep(m *machine.Machine, frame *Frame, targetState string) error {
	step := frame.Todo[0]
	frame.Todo = frame.Todo[1:]
	frame.CurrentStep = step

	childSpec, err := safeStep(step, frame.Env)
	if err != nil {
		_, terr := m.Transition(machine.StateFailed, func(d *machine.Data) {
			d.Set(KeyFailReason, map[string]any{"exception": err})
		})
		if terr != nil {
			return terr
		}
		return nil
	}

	notify := func(state string, snap map[string]any) {
		switch state {
		case machine.StateCompleted:
			m.Write(machine.Event{Name: "step-complete", Payload: snap})
		case machine.StateFailed:
			m.Write(machine.Event{Name: "step-fail", Payload: snap})
		default:
			m.Write(machine.Event{Name: "step-abort", Payload: snap})
		}
	}
	child := startChild(m, m.Logger(), childSpec, notify)
	frame.Machines = append(frame.Machines, child)
	_, err = m.Transition(targetState, nil)
	return err
}

func safeStep(step *StepRecord, env map[string]any) (spec *Specification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithStack(fmt.Errorf("panic evaluating step %s: %v", step.OpSym, r))
		}
	}()
	return step.F(env)
}

func completeSequence(m *machine.Machine, frame *Frame) error {
	val, err := frame.OverallResultFn(frame.Env)
	if err != nil {
		_, terr := m.Transition(machine.StateFailed, func(d *machine.Data) {
			d.Set(KeyFailReason, map[string]any{"exception": err})
		})
		return terr
	}
	_, terr := m.Transition(machine.StateCompleted, func(d *machine.Data) {
		d.Set(KeyResult, val)
	})
	return terr
}
