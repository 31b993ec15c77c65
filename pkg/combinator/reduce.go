// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator

const accumulatorKey = "__acc"

// Reduce folds f over seq starting from init, re-expressed as a Sequence
// where a reserved accumulator symbol threads state between steps: step i
// reads the accumulator from env, invokes f(acc, seq[i]) to obtain a child
// Specification, and on success writes that child's result back to the
// accumulator. The compound FSM's result is the accumulator's value after
// the last step, or init if seq is empty.
func Reduce(f func(acc, x any) *Specification, init any, seq []any) *Specification {
	steps := make([]*StepRecord, len(seq))
	for i, x := range seq {
		x := x
		steps[i] = &StepRecord{
			OpSym: "reduce-step",
			F: func(env map[string]any) (*Specification, error) {
				return f(env[accumulatorKey], x), nil
			},
			ResultFn: func(env map[string]any, result any) (map[string]any, error) {
				next := map[string]any{}
				for k, v := range env {
					next[k] = v
				}
				next[accumulatorKey] = result
				return next, nil
			},
		}
	}
	return Sequence("reduce", map[string]any{accumulatorKey: init}, steps, func(env map[string]any) (any, error) {
		return env[accumulatorKey], nil
	})
}
