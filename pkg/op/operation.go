// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package op

import (
	"context"
	"fmt"
	"time"

	"github.com/relaycore/opfsm/pkg/combinator"
	"github.com/relaycore/opfsm/pkg/machine"
)

// Operation is an opaque handle bundling a materialized, running Machine and
// its completion Promise.
type Operation struct {
	machine *machine.Machine
	promise *Promise
}

// terminalDelivery returns a Definition that, merged onto every
// Specification passed to Operate, delivers the operation's result or
// fail-reason to promise the moment a terminal state is entered — "the
// completion slot is written exactly once, by the entry hook of whichever
// terminal state is first reached".
func terminalDelivery(promise *Promise) *machine.Definition {
	def := machine.NewDefinition("")
	deliverKey := func(key string) machine.Hook {
		return func(m *machine.Machine, ev machine.Event) (bool, error) {
			v, _ := m.Data().Get(key)
			promise.Deliver(v)
			return false, nil
		}
	}
	def.OnEntry(machine.StateCompleted, deliverKey(combinator.KeyResult))
	def.OnEntry(machine.StateFailed, deliverKey(combinator.KeyFailReason))
	def.OnEntry(machine.StateAborted, deliverKey(combinator.KeyFailReason))
	def.OnEntry(machine.StateTimedOut, deliverKey(combinator.KeyFailReason))
	return def
}

// Operate materializes spec, fires its start event synchronously (the
// returned Operation is already "running" by the time Operate returns), and
// returns a handle observing it to completion.
func Operate(spec *combinator.Specification, opts ...Option) *Operation {
	o := resolveOptions(opts)
	promise := NewPromise()

	def := machine.Merge(spec.Materialize(), terminalDelivery(promise))
	data := def.InitialData
	if data == nil {
		data = map[string]any{}
	}
	data[combinator.KeyDispatchPool] = o.dispatchPool
	data[combinator.KeyScheduledPool] = o.scheduledPool
	def.WithInitialData(data)

	m := machine.New(context.Background(), def, o.logger)
	if err := m.Start(nil); err != nil {
		o.logger.Errorw("operation failed to start", "spec", spec.Name, "error", err)
	}
	return &Operation{machine: m, promise: promise}
}

// Abort fires an abort event on the root machine. Effect is cooperative:
// the operation terminates once the currently-active scope observes it.
func (o *Operation) Abort() {
	o.machine.Write(machine.Event{Name: "abort"})
}

// Status returns a consistent snapshot of the current state name and
// state-data.
func (o *Operation) Status() (string, map[string]any) {
	return o.machine.Snapshot()
}

// History returns the root machine's recorded state/event trail, or nil if
// the underlying Specification didn't enable the "history" feature.
func (o *Operation) History() *machine.History {
	return o.machine.History()
}

// IsComplete returns true if the current state is completed, false if the
// slot was realized with a non-success outcome, or nil if the operation is
// still running.
func (o *Operation) IsComplete() *bool {
	if !o.promise.Delivered() {
		return nil
	}
	b := o.machine.Current() == machine.StateCompleted
	return &b
}

// IsFailed is the complement of IsComplete, with the same nil-while-running
// convention.
func (o *Operation) IsFailed() *bool {
	if !o.promise.Delivered() {
		return nil
	}
	b := o.machine.Current() != machine.StateCompleted
	return &b
}

// IsRunning reports whether the completion slot has not yet been realized.
func (o *Operation) IsRunning() bool {
	return !o.promise.Delivered()
}

// Wait blocks until the operation reaches a terminal state and returns the
// delivered result or fail-reason.
func (o *Operation) Wait() any {
	return o.promise.Wait()
}

// WaitTimeout blocks until the operation completes or d elapses, returning
// fallback on timeout.
func (o *Operation) WaitTimeout(d time.Duration, fallback any) any {
	return o.promise.WaitTimeout(d, fallback)
}

// Deref is like Wait, but re-raises a captured user-code exception to the
// caller instead of returning it as a plain value.
func (o *Operation) Deref() (any, error) {
	return asResult(o.promise.Wait())
}

// DerefTimeout is the timeout variant of Deref.
func (o *Operation) DerefTimeout(d time.Duration, fallback any) (any, error) {
	return asResult(o.promise.WaitTimeout(d, fallback))
}

func asResult(v any) (any, error) {
	if m, ok := v.(map[string]any); ok {
		if exc, ok := m["exception"]; ok {
			if err, ok := exc.(error); ok {
				return nil, err
			}
			return nil, fmt.Errorf("%v", exc)
		}
	}
	return v, nil
}
