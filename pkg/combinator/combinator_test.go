// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/relaycore/opfsm/pkg/combinator"
	"github.com/relaycore/opfsm/pkg/dispatch"
	"github.com/relaycore/opfsm/pkg/machine"
)

var testLogger = zap.NewNop().Sugar()

func run(spec *combinator.Specification) *machine.Machine {
	def := spec.Materialize()
	data := def.InitialData
	if data == nil {
		data = map[string]any{}
	}
	data[combinator.KeyDispatchPool] = dispatch.NewPool(32, testLogger)
	data[combinator.KeyScheduledPool] = dispatch.NewScheduledPool(3, testLogger)
	def.WithInitialData(data)
	m := machine.New(context.Background(), def, testLogger)
	Expect(m.Start(nil)).To(Succeed())
	return m
}

func step(opSym string, specFn func(env map[string]any) (*combinator.Specification, error), bind string) *combinator.StepRecord {
	return &combinator.StepRecord{
		OpSym: opSym,
		F:     specFn,
		ResultFn: func(env map[string]any, result any) (map[string]any, error) {
			next := map[string]any{}
			for k, v := range env {
				next[k] = v
			}
			if bind != "_" {
				next[bind] = result
			}
			return next, nil
		},
	}
}

var _ = Describe("primitives", func() {
	It("result sets the result and completes", func() {
		m := run(combinator.Result(7))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
		v, _ := m.Data().Get(combinator.KeyResult)
		Expect(v).To(Equal(7))
	})

	It("fail sets fail-reason and fails", func() {
		m := run(combinator.Fail("bad"))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateFailed))
		v, _ := m.Data().Get(combinator.KeyFailReason)
		Expect(v).To(Equal("bad"))
	})

	It("succeed(false) fails with the given reason", func() {
		m := run(combinator.Succeed(false, "nope"))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateFailed))
		v, _ := m.Data().Get(combinator.KeyFailReason)
		Expect(v).To(Equal("nope"))
	})

	It("delay completes after roughly its duration", func() {
		start := time.Now()
		m := run(combinator.Delay(150 * time.Millisecond))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
		Expect(time.Since(start)).To(BeNumerically(">=", 120*time.Millisecond))
	})
})

var _ = Describe("Timeout", func() {
	It("fails with timed-out when the budget is smaller than the delay", func() {
		m := run(combinator.Timeout(combinator.Delay(300*time.Millisecond), 100*time.Millisecond))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateFailed))
		v, _ := m.Data().Get(combinator.KeyFailReason)
		Expect(v).To(Equal(combinator.FailReason("timed-out")))
	})

	It("completes when the budget exceeds the delay", func() {
		m := run(combinator.Timeout(combinator.Delay(100*time.Millisecond), 400*time.Millisecond))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
	})
})

var _ = Describe("Parallel", func() {
	It("completes with results in input order regardless of completion order", func() {
		m := run(combinator.Parallel([]*combinator.Specification{
			combinator.Result(1),
			combinator.Result(1),
			combinator.Result(1),
		}))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
		v, _ := m.Data().Get(combinator.KeyResult)
		Expect(v).To(Equal([]any{1, 1, 1}))
	})

	It("fails with failed-ops when one child fails", func() {
		m := run(combinator.Parallel([]*combinator.Specification{
			combinator.Result(1),
			combinator.Fail("because"),
		}))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateFailed))
		v, _ := m.Data().Get(combinator.KeyFailReason)
		Expect(v).To(Equal(map[string]any{"reason": "failed-ops", "fail-reasons": []any{"because"}}))
	})

	It("completes immediately with a nil result for an empty child list", func() {
		m := run(combinator.Parallel(nil))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
		v, _ := m.Data().Get(combinator.KeyResult)
		Expect(v).To(BeNil())
	})

	It("produces a nested failure shape for parallels of parallels", func() {
		inner := func() *combinator.Specification {
			return combinator.Parallel([]*combinator.Specification{
				combinator.Result(1),
				combinator.Fail("nok"),
			})
		}
		m := run(combinator.Parallel([]*combinator.Specification{inner(), inner(), inner()}))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateFailed))
		v, _ := m.Data().Get(combinator.KeyFailReason)
		reason := v.(map[string]any)
		Expect(reason["reason"]).To(Equal("failed-ops"))
		inners := reason["fail-reasons"].([]any)
		Expect(inners).To(HaveLen(3))
		for _, ir := range inners {
			Expect(ir).To(Equal(map[string]any{"reason": "failed-ops", "fail-reasons": []any{"nok"}}))
		}
	})
})

var _ = Describe("Sequence", func() {
	It("completes with a nil result for a single succeed step", func() {
		m := run(combinator.Sequence("seq1", nil, []*combinator.StepRecord{
			step("succeed", func(env map[string]any) (*combinator.Specification, error) {
				return combinator.Succeed(true, nil), nil
			}, "_"),
		}, func(env map[string]any) (any, error) { return nil, nil }))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
	})

	It("fails with the originating reason for a single fail step", func() {
		m := run(combinator.Sequence("seq2", nil, []*combinator.StepRecord{
			step("fail", func(env map[string]any) (*combinator.Specification, error) {
				return combinator.Fail("bad"), nil
			}, "_"),
		}, func(env map[string]any) (any, error) { return nil, nil }))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateFailed))
		v, _ := m.Data().Get(combinator.KeyFailReason)
		Expect(v).To(Equal("bad"))
	})

	It("makes an earlier binding visible to a later step", func() {
		m := run(combinator.Sequence("seq3", nil, []*combinator.StepRecord{
			step("x1", func(env map[string]any) (*combinator.Specification, error) {
				return combinator.Result(1), nil
			}, "x"),
			step("x2", func(env map[string]any) (*combinator.Specification, error) {
				return combinator.Result(env["x"].(int) + 2), nil
			}, "x"),
		}, func(env map[string]any) (any, error) { return env["x"], nil }))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
		v, _ := m.Data().Get(combinator.KeyResult)
		Expect(v).To(Equal(3))
	})

	It("completes after at least the delay and within a loose upper bound", func() {
		start := time.Now()
		m := run(combinator.Sequence("seq4", nil, []*combinator.StepRecord{
			step("d", func(env map[string]any) (*combinator.Specification, error) {
				return combinator.Delay(300 * time.Millisecond), nil
			}, "_"),
		}, func(env map[string]any) (any, error) { return nil, nil }))
		Eventually(m.Current, 2*time.Second).Should(Equal(machine.StateCompleted))
		elapsed := time.Since(start)
		Expect(elapsed).To(BeNumerically(">=", 280*time.Millisecond))
		Expect(elapsed).To(BeNumerically("<=", 1200*time.Millisecond))
	})

	It("fails with timed-out when a step's timeout wrapper expires first", func() {
		start := time.Now()
		m := run(combinator.Sequence("seq5", nil, []*combinator.StepRecord{
			step("d", func(env map[string]any) (*combinator.Specification, error) {
				return combinator.Timeout(combinator.Delay(400*time.Millisecond), 150*time.Millisecond), nil
			}, "_"),
		}, func(env map[string]any) (any, error) { return nil, nil }))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateFailed))
		v, _ := m.Data().Get(combinator.KeyFailReason)
		Expect(v).To(Equal(combinator.FailReason("timed-out")))
		Expect(time.Since(start)).To(BeNumerically("<=", 900*time.Millisecond))
	})

	It("propagates a nested sequence's failure reason through two levels", func() {
		m := run(combinator.Sequence("outer", nil, []*combinator.StepRecord{
			step("inner", func(env map[string]any) (*combinator.Specification, error) {
				return combinator.Sequence("inner", nil, []*combinator.StepRecord{
					step("y", func(env map[string]any) (*combinator.Specification, error) {
						return combinator.Fail("r"), nil
					}, "y"),
				}, func(env map[string]any) (any, error) { return env["y"], nil }), nil
			}, "x"),
		}, func(env map[string]any) (any, error) { return env["x"], nil }))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateFailed))
		v, _ := m.Data().Get(combinator.KeyFailReason)
		Expect(v).To(Equal("r"))
	})
})

var _ = Describe("Reduce", func() {
	It("folds a sum over a sequence", func() {
		m := run(combinator.Reduce(func(acc, v any) *combinator.Specification {
			return combinator.Result(acc.(int) + v.(int))
		}, 0, []any{1, 2, 3}))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
		v, _ := m.Data().Get(combinator.KeyResult)
		Expect(v).To(Equal(6))
	})

	It("completes with init for an empty sequence", func() {
		m := run(combinator.Reduce(func(acc, v any) *combinator.Specification {
			return combinator.Result(acc)
		}, 42, nil))
		Eventually(m.Current, time.Second).Should(Equal(machine.StateCompleted))
		v, _ := m.Data().Get(combinator.KeyResult)
		Expect(v).To(Equal(42))
	})
})
