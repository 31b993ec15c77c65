// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package seq is the sequential binding comprehension's surface: a builder
// API standing in for the "dofsm" macro spec.md describes, since Go has no
// hygienic macros to snapshot the names visible at each binding site. A
// caller names its bindings explicitly with a Pattern instead of relying on
// source-static analysis of a binding LHS.
package seq

import (
	"fmt"

	"github.com/relaycore/opfsm/pkg/combinator"
)

// Env is the name->value mapping threaded through a comprehension's steps.
type Env = map[string]any

// Pattern is a typed destructuring descriptor: given the env visible before
// a step and that step's result, it returns the env visible after. Bind and
// Ignore cover the common cases; Destructure lets a caller capture several
// names out of one composite result.
type Pattern func(env Env, result any) (Env, error)

// Bind captures result under name, shadowing any prior binding of the same
// name.
func Bind(name string) Pattern {
	return func(env Env, result any) (Env, error) {
		next := copyEnv(env)
		next[name] = result
		return next, nil
	}
}

// Ignore discards a step's result, leaving env unchanged — the "_ <-" form.
func Ignore() Pattern {
	return func(env Env, result any) (Env, error) {
		return env, nil
	}
}

// Destructure wraps an arbitrary capture function as a Pattern, for steps
// whose result should be split across several env entries.
func Destructure(f func(env Env, result any) (Env, error)) Pattern {
	return f
}

// Builder accumulates the step records of one comprehension. Do an initial
// Do(name), chain Bind calls in source order, and finish with Return.
type Builder struct {
	name  string
	env   Env
	steps []*combinator.StepRecord
}

// Do starts a new comprehension named name, used as the underlying
// controller FSM's name in the diagnostics it logs.
func Do(name string) *Builder {
	return &Builder{name: name}
}

// WithEnv seeds the comprehension with an initial env, visible to the first
// step's reader closure. Optional — most comprehensions start from an empty
// env.
func (b *Builder) WithEnv(env Env) *Builder {
	b.env = env
	return b
}

// Bind adds one step: f reads the env visible so far and returns the child
// Specification for this step; pattern captures its result into env for
// later steps to see.
func (b *Builder) Bind(pattern Pattern, f func(env Env) (*combinator.Specification, error)) *Builder {
	opSym := fmt.Sprintf("%s[%d]", b.name, len(b.steps))
	b.steps = append(b.steps, &combinator.StepRecord{
		OpSym: opSym,
		F:     f,
		ResultFn: func(env map[string]any, result any) (map[string]any, error) {
			return pattern(env, result)
		},
	})
	return b
}

// Return finalizes the comprehension: f computes the compound FSM's overall
// result from the env visible after the last step.
func (b *Builder) Return(f func(env Env) (any, error)) *combinator.Specification {
	return combinator.Sequence(b.name, b.env, b.steps, f)
}

func copyEnv(env Env) Env {
	next := make(Env, len(env)+1)
	for k, v := range env {
		next[k] = v
	}
	return next
}
