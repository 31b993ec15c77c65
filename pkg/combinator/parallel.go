// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator

import (
	"golang.org/x/sync/errgroup"

	"github.com/relaycore/opfsm/pkg/machine"
)

type childEvent struct {
	idx      int
	snapshot map[string]any
}

// Parallel returns a Specification that materializes every spec in children,
// starts them concurrently, and completes once all of them have reached a
// terminal state. Its result is the ordered list of each completed child's
// result (input order, regardless of completion order); if any child fails
// or is aborted, the whole Parallel fails with
// {reason: failed-ops, fail-reasons: [...]}. An empty children list
// short-circuits straight to completed with a nil result.
func Parallel(children []*Specification) *Specification {
	return New("parallel", func() *machine.Definition {
		def := machine.NewDefinition("parallel")
		def.WithInitialState("init")
		def.AllowTransition("init", machine.StateCompleted)
		def.AllowTransition("init", "running")
		def.AllowTransition("running", "ops-complete")
		def.AllowTransition("running", machine.StateAborted)
		def.AllowTransition("ops-complete", machine.StateCompleted)
		def.AllowTransition("ops-complete", machine.StateFailed)
		def.AllowTransition("ops-complete", machine.StateAborted)

		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			if len(children) == 0 {
				_, err := m.Transition(machine.StateCompleted, func(d *machine.Data) {
					d.Set(KeyResult, nil)
				})
				return err
			}
			pushFrame(m.Data(), &Frame{
				PendingCount:   len(children),
				ChildrenByIdx:  map[int]*machine.Machine{},
				CompletedByIdx: map[int]childSnapshot{},
				FailedByIdx:    map[int]childSnapshot{},
			})
			_, err := m.Transition("running", nil)
			return err
		})

		def.OnEntry("running", func(m *machine.Machine, ev machine.Event) (bool, error) {
			frame := peekFrame(m.Data())
			launched := make([]*machine.Machine, len(children))
			var g errgroup.Group
			for i, spec := range children {
				idx, spec := i, spec
				g.Go(func() error {
					launched[idx] = startChild(m, m.Logger(), spec, func(state string, snap map[string]any) {
						switch state {
						case machine.StateCompleted:
							m.Write(machine.Event{Name: "op-complete", Payload: childEvent{idx: idx, snapshot: snap}})
						default:
							m.Write(machine.Event{Name: "op-fail", Payload: childEvent{idx: idx, snapshot: snap}})
						}
					})
					return nil
				})
			}
			_ = g.Wait() // only confirms dispatch launch, never child completion
			// launched is only written one index per goroutine, so this copy back
			// onto the single-threaded entry-hook goroutine is the first point
			// frame.ChildrenByIdx is touched concurrently with nothing else.
			for idx, child := range launched {
				frame.ChildrenByIdx[idx] = child
			}
			return false, nil
		})

		def.HandleEvent("running", "op-complete", func(m *machine.Machine, ev machine.Event) error {
			ce := ev.Payload.(childEvent)
			frame := peekFrame(m.Data())
			frame.CompletedByIdx[ce.idx] = childSnapshot{idx: ce.idx, result: ce.snapshot[KeyResult]}
			delete(frame.ChildrenByIdx, ce.idx)
			frame.PendingCount--
			if frame.PendingCount == 0 {
				_, err := m.Transition("ops-complete", nil)
				return err
			}
			return nil
		})

		def.HandleEvent("running", "op-fail", func(m *machine.Machine, ev machine.Event) error {
			ce := ev.Payload.(childEvent)
			frame := peekFrame(m.Data())
			frame.FailedByIdx[ce.idx] = childSnapshot{idx: ce.idx, reason: ce.snapshot[KeyFailReason]}
			delete(frame.ChildrenByIdx, ce.idx)
			frame.PendingCount--
			if frame.PendingCount == 0 {
				_, err := m.Transition("ops-complete", nil)
				return err
			}
			return nil
		})

		def.HandleEvent("running", "abort", func(m *machine.Machine, ev machine.Event) error {
			frame := peekFrame(m.Data())
			for _, child := range frame.ChildrenByIdx {
				child.Write(machine.Event{Name: "abort"})
			}
			return nil
		})

		def.OnEntry("ops-complete", func(m *machine.Machine, ev machine.Event) (bool, error) {
			frame := peekFrame(m.Data())
			if len(frame.FailedByIdx) > 0 {
				return false, m.FireSelf(machine.Event{Name: "fail"})
			}
			return false, m.FireSelf(machine.Event{Name: "complete"})
		})

		def.HandleEvent("ops-complete", "complete", func(m *machine.Machine, ev machine.Event) error {
			frame := popFrame(m.Data())
			results := orderedResults(children, frame.CompletedByIdx)
			_, err := m.Transition(machine.StateCompleted, func(d *machine.Data) {
				d.Set(KeyResult, results)
			})
			return err
		})

		def.HandleEvent("ops-complete", "fail", func(m *machine.Machine, ev machine.Event) error {
			frame := popFrame(m.Data())
			results := orderedResults(children, frame.CompletedByIdx)
			reasons := orderedReasons(children, frame.FailedByIdx)
			_, err := m.Transition(machine.StateFailed, func(d *machine.Data) {
				d.Set(KeyResult, results)
				d.Set(KeyFailReason, map[string]any{"reason": "failed-ops", "fail-reasons": reasons})
			})
			return err
		})

		def.HandleEvent("ops-complete", "abort", func(m *machine.Machine, ev machine.Event) error {
			popFrame(m.Data())
			_, err := m.Transition(machine.StateAborted, func(d *machine.Data) {
				d.Set(KeyFailReason, FailReason("aborted"))
			})
			return err
		})

		return def
	})
}

func orderedResults(children []*Specification, byIdx map[int]childSnapshot) []any {
	out := make([]any, 0, len(byIdx))
	for i := range children {
		if s, ok := byIdx[i]; ok {
			out = append(out, s.result)
		}
	}
	return out
}

func orderedReasons(children []*Specification, byIdx map[int]childSnapshot) []any {
	out := make([]any, 0, len(byIdx))
	for i := range children {
		if s, ok := byIdx[i]; ok {
			out = append(out, s.reason)
		}
	}
	return out
}
