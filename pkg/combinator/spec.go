// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package combinator is the FSM specification algebra: primitive FSMs
// (Result, Succeed, Fail, Delay) and higher-order combinators (Timeout,
// Parallel, Reduce, Sequence) that merge state graphs built on
// pkg/machine. Every combinator returns a *Specification — a pure,
// freely-shareable value — never a materialized *machine.Definition, so the
// same Specification can be embedded into several parents and produce an
// independent machine.Definition each time it is materialized.
package combinator

import (
	"github.com/relaycore/opfsm/pkg/machine"
)

// Well-known Data keys threaded through every materialized machine.
const (
	KeyResult        = "result"
	KeyFailReason    = "fail-reason"
	KeyOpStack       = "op-stack"
	KeyPromise       = "promise"
	KeyTimeouts      = "timeouts"
	KeyDispatchPool  = "dispatch-pool"
	KeyScheduledPool = "scheduled-pool"
)

// PrivateKeys names the Data keys pkg/report strips before rendering a
// snapshot to a caller — runtime bookkeeping with no meaning outside the
// engine.
var PrivateKeys = []string{KeyOpStack, KeyPromise, KeyTimeouts, KeyDispatchPool, KeyScheduledPool}

// Specification is a pure description of an FSM or compound FSM. Build is
// invoked once per materialization, so a Specification referenced from
// several parents (or run through operate twice) yields independent
// machine.Definition values — the "cyclic structures" design note.
type Specification struct {
	Name  string
	Build func() *machine.Definition
}

// New wraps build as a named Specification.
func New(name string, build func() *machine.Definition) *Specification {
	return &Specification{Name: name, Build: build}
}

// Materialize invokes the Specification's builder, producing a fresh
// machine.Definition.
func (s *Specification) Materialize() *machine.Definition {
	return s.Build()
}

// inheritPools copies the dispatch/scheduled pool references from a parent
// Data bag into a child machine's initial state-data, so a child
// materialized deep inside a Sequence or Parallel can still arm timers and
// dispatch events through the same pools the root Operation was configured
// with.
func inheritPools(parent *machine.Data, childInit map[string]any) map[string]any {
	if childInit == nil {
		childInit = map[string]any{}
	}
	if pool, ok := parent.Get(KeyDispatchPool); ok {
		childInit[KeyDispatchPool] = pool
	}
	if pool, ok := parent.Get(KeyScheduledPool); ok {
		childInit[KeyScheduledPool] = pool
	}
	return childInit
}

// FailReason builds the canonical {reason: ...} shape used for Timeout's
// timed-out failure and for the aborted fail-reason. Fail stores its reason
// verbatim and does not use it.
func FailReason(reason string) map[string]any {
	return map[string]any{"reason": reason}
}
