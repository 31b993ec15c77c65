// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package machine_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/relaycore/opfsm/pkg/machine"
)

var logger = zap.NewNop().Sugar()

func resultDefinition() *machine.Definition {
	def := machine.NewDefinition("result")
	def.WithInitialState("init")
	def.AllowTransition("init", machine.StateCompleted)
	def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
		_, err := m.Transition(machine.StateCompleted, func(d *machine.Data) {
			d.Set("result", ev.Payload)
		})
		return err
	})
	return def
}

var _ = Describe("Machine", func() {
	It("runs an entry hook on transition", func() {
		seen := make(chan string, 1)
		def := resultDefinition()
		def.OnEntry(machine.StateCompleted, func(m *machine.Machine, ev machine.Event) (bool, error) {
			seen <- machine.StateCompleted
			return true, nil
		})

		m := machine.New(context.Background(), def, logger)
		Expect(m.Start(42)).To(Succeed())
		Eventually(seen).Should(Receive(Equal(machine.StateCompleted)))
		Expect(m.Current()).To(Equal(machine.StateCompleted))
		v, ok := m.Data().Get("result")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(42))
	})

	It("ignores a transition to a state that isn't a declared successor", func() {
		def := machine.NewDefinition("stubborn")
		def.WithInitialState("init")
		def.AllowTransition("init", "a")
		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			ok, err := m.Transition("b", nil)
			Expect(ok).To(BeFalse())
			return err
		})

		m := machine.New(context.Background(), def, logger)
		Expect(m.Start(nil)).To(Succeed())
		Expect(m.Current()).To(Equal("init"))
	})

	It("transitions to failed on an unregistered event", func() {
		def := machine.NewDefinition("strict")
		def.WithInitialState("init")
		def.AllowTransition("init", machine.StateFailed)

		m := machine.New(context.Background(), def, logger)
		Expect(m.Start(nil)).To(Succeed())
		Expect(m.Current()).To(Equal(machine.StateFailed))
		v, ok := m.Data().Get("fail-reason")
		Expect(ok).To(BeTrue())
		Expect(v).To(HaveKeyWithValue("reason", "runtime-error"))
	})

	It("processes events written asynchronously through the background loop", func() {
		def := machine.NewDefinition("async")
		def.WithInitialState("init")
		def.AllowTransition("init", "running")
		def.AllowTransition("running", machine.StateCompleted)
		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition("running", nil)
			return err
		})
		def.HandleEvent("running", "finish", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition(machine.StateCompleted, nil)
			return err
		})

		m := machine.New(context.Background(), def, logger)
		Expect(m.Start(nil)).To(Succeed())
		Expect(m.Current()).To(Equal("running"))
		m.Write(machine.Event{Name: "finish"})
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
	})

	It("records history when the feature flag is set", func() {
		def := resultDefinition()
		def.WithFeature("history")

		m := machine.New(context.Background(), def, logger)
		Expect(m.Start("v")).To(Succeed())
		Expect(m.History().States()).To(Equal([]string{"init", machine.StateCompleted}))
		events := m.History().Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Name).To(Equal("start"))
	})

	It("lets an entry hook fire a self-event synchronously", func() {
		def := machine.NewDefinition("cascade")
		def.WithInitialState("init")
		def.AllowTransition("init", "step-done")
		def.AllowTransition("step-done", machine.StateCompleted)
		def.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition("step-done", nil)
			return err
		})
		def.OnEntry("step-done", func(m *machine.Machine, ev machine.Event) (bool, error) {
			return true, m.FireSelf(machine.Event{Name: "advance"})
		})
		def.HandleEvent("step-done", "advance", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition(machine.StateCompleted, nil)
			return err
		})

		m := machine.New(context.Background(), def, logger)
		Expect(m.Start(nil)).To(Succeed())
		Expect(m.Current()).To(Equal(machine.StateCompleted))
	})
})

var _ = Describe("Merge", func() {
	It("unions transitions and feature flags", func() {
		a := machine.NewDefinition("a").WithInitialState("init").WithFeature("history")
		a.AllowTransition("init", "x")
		b := machine.NewDefinition("").WithFeature("lock-transition")
		b.AllowTransition("init", "y")

		merged := machine.Merge(a, b)
		Expect(merged.Name).To(Equal("a"))
		Expect(merged.InitialState).To(Equal("init"))
		Expect(merged.Features).To(HaveKey("history"))
		Expect(merged.Features).To(HaveKey("lock-transition"))
		Expect(merged.States()).To(ContainElements("init", "x", "y"))
	})

	It("chains entry hooks so the first self-transitioning hook wins", func() {
		var ran []string
		outer := machine.NewDefinition("outer")
		outer.OnEntry("running", func(m *machine.Machine, ev machine.Event) (bool, error) {
			ran = append(ran, "outer")
			return false, nil
		})
		inner := machine.NewDefinition("inner")
		inner.OnEntry("running", func(m *machine.Machine, ev machine.Event) (bool, error) {
			ran = append(ran, "inner")
			return true, nil
		})
		trailing := machine.NewDefinition("trailing")
		trailing.OnEntry("running", func(m *machine.Machine, ev machine.Event) (bool, error) {
			ran = append(ran, "trailing")
			return false, nil
		})

		merged := machine.Merge(outer, inner, trailing)
		merged.WithInitialState("init")
		merged.AllowTransition("init", "running")
		merged.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition("running", nil)
			return err
		})

		m := machine.New(context.Background(), merged, logger)
		Expect(m.Start(nil)).To(Succeed())
		Expect(ran).To(Equal([]string{"outer", "inner"}))
	})

	It("lets later definitions win event handlers for the same state and event", func() {
		first := machine.NewDefinition("first")
		first.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition("a", nil)
			return err
		})
		second := machine.NewDefinition("second")
		second.HandleEvent("init", "start", func(m *machine.Machine, ev machine.Event) error {
			_, err := m.Transition("b", nil)
			return err
		})

		merged := machine.Merge(first, second)
		merged.WithInitialState("init")
		merged.AllowTransition("init", "a")
		merged.AllowTransition("init", "b")

		m := machine.New(context.Background(), merged, logger)
		Expect(m.Start(nil)).To(Succeed())
		Expect(m.Current()).To(Equal("b"))
	})
})
