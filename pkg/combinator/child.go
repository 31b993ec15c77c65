// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/relaycore/opfsm/pkg/dispatch"
	"github.com/relaycore/opfsm/pkg/machine"
)

// terminalPatch returns a Definition that, merged onto a child's own
// Definition, fires notify whenever the child enters one of the four
// terminal states. Used by Parallel (notify publishes op-complete/op-fail on
// the parent) and Sequence (notify publishes step-complete/step-fail/
// step-abort), matching the teacher's pattern of patching a small
// callback-only FSM onto a domain Definition rather than modifying it in
// place (pkg/discovery/game.go's GameCallbacker).
func terminalPatch(notify func(state string, snapshot map[string]any)) *machine.Definition {
	patch := machine.NewDefinition("")
	hookFor := func(state string) machine.Hook {
		return func(m *machine.Machine, ev machine.Event) (bool, error) {
			notify(state, m.Data().Snapshot())
			return false, nil
		}
	}
	patch.OnEntry(machine.StateCompleted, hookFor(machine.StateCompleted))
	patch.OnEntry(machine.StateFailed, hookFor(machine.StateFailed))
	patch.OnEntry(machine.StateAborted, hookFor(machine.StateAborted))
	patch.OnEntry(machine.StateTimedOut, hookFor(machine.StateTimedOut))
	return patch
}

// dispatchPoolOf returns the dispatch pool reachable from m's Data, falling
// back to a small private pool if none was configured — this only happens
// when a combinator is exercised directly in a test without going through
// op.Operate.
func dispatchPoolOf(m *machine.Machine) *dispatch.Pool {
	if v, ok := m.Data().Get(KeyDispatchPool); ok {
		if pool, ok := v.(*dispatch.Pool); ok {
			return pool
		}
	}
	return dispatch.NewPool(16, nil)
}

// startChild materializes spec, patches it with a terminal-notifying hook,
// and starts it on the dispatch pool reachable from parent — "each child
// dispatched on its own worker task" per spec.md's Parallel/Sequence
// component design, and never inline on the parent's own transition lock.
// notify is handed to the same pool, so it never runs on the child's own
// transition lock either.
func startChild(parent *machine.Machine, logger *zap.SugaredLogger, spec *Specification, notify func(state string, snapshot map[string]any)) *machine.Machine {
	pool := dispatchPoolOf(parent)
	def := machine.Merge(spec.Materialize(), terminalPatch(func(state string, snapshot map[string]any) {
		pool.Execute(func() { notify(state, snapshot) })
	}))
	def.WithInitialData(inheritPools(parent.Data(), def.InitialData))
	child := machine.New(context.Background(), def, logger)
	pool.Execute(func() {
		if err := child.Start(nil); err != nil {
			logger.Errorw("child start failed", "spec", spec.Name, "error", err)
		}
	})
	return child
}
