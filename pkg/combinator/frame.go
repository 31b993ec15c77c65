// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator

import "github.com/relaycore/opfsm/pkg/machine"

// StepRecord is one binding in a Sequence: a reader closure producing the
// step's child Specification from the env accumulated so far, and a writer
// closure folding the step's result back into the env.
type StepRecord struct {
	// OpSym is a debug name for the source expression, included in the
	// error recorded when the step's reader panics.
	OpSym string
	// F reads env and returns the child Specification for this step.
	F func(env map[string]any) (*Specification, error)
	// ResultFn folds a step's result into env, returning the updated env.
	ResultFn func(env map[string]any, result any) (map[string]any, error)
}

// childSnapshot is one terminal child's id, carried result or fail-reason.
type childSnapshot struct {
	idx    int
	result any
	reason any
}

// Frame is an operation frame pushed onto op-stack by Sequence and Parallel:
// the live bookkeeping for one nested scope. Sequence (and so Reduce, which
// runs as a Sequence) uses Env/Steps/Todo/CurrentStep/Machines/
// OverallResultFn; Parallel uses PendingCount and the *ByIdx maps.
type Frame struct {
	Env             map[string]any
	Steps           []*StepRecord
	Todo            []*StepRecord
	CurrentStep     *StepRecord
	OverallResultFn func(env map[string]any) (any, error)

	// Machines is the LIFO list of child machines started so far in this
	// scope; its last element is the "currently active" child an abort
	// forwards to.
	Machines []*machine.Machine

	PendingCount   int
	ChildrenByIdx  map[int]*machine.Machine
	CompletedByIdx map[int]childSnapshot
	FailedByIdx    map[int]childSnapshot
}

// pushFrame pushes f onto the op-stack held in d.
func pushFrame(d *machine.Data, f *Frame) {
	d.Mutate(func(values map[string]any) {
		stack, _ := values[KeyOpStack].([]*Frame)
		values[KeyOpStack] = append(stack, f)
	})
}

// popFrame removes and returns the top frame of the op-stack, or nil if
// empty.
func popFrame(d *machine.Data) *Frame {
	var top *Frame
	d.Mutate(func(values map[string]any) {
		stack, _ := values[KeyOpStack].([]*Frame)
		if len(stack) == 0 {
			return
		}
		top = stack[len(stack)-1]
		values[KeyOpStack] = stack[:len(stack)-1]
	})
	return top
}

// peekFrame returns the top frame of the op-stack without removing it, or
// nil if empty.
func peekFrame(d *machine.Data) *Frame {
	v, ok := d.Get(KeyOpStack)
	if !ok {
		return nil
	}
	stack, _ := v.([]*Frame)
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}
