// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package dispatch

import (
	"time"

	"go.uber.org/zap"
)

// TimerHandle is the cancellable handle behind timeouts[id] in spec.md's
// data model. Cancel is best-effort: a timer that has already fired cannot
// be un-fired, but its callback has already been routed through the owning
// ScheduledPool's panic-recovery wrapper either way.
type TimerHandle struct {
	timer *time.Timer
}

// Cancel stops the timer if it has not already fired. The return value
// mirrors time.Timer.Stop and is informational only — callers must not rely
// on it for correctness (spec.md: "cancellation failures are logged and
// ignored").
func (h *TimerHandle) Cancel() bool {
	return h.timer.Stop()
}

// ScheduledPool fires one-shot timers and runs their callbacks on a fixed
// set of worker goroutines, so at most size callbacks run at once; a fired
// timer whose callback is waiting for a free worker keeps its own runtime
// timer goroutine blocked until then. The default size (see pkg/config) is 3,
// the minimum spec.md requires.
type ScheduledPool struct {
	jobs   chan func()
	logger *zap.SugaredLogger
}

// NewScheduledPool starts size worker goroutines draining the pool's job
// queue and returns the pool. size must be at least 1; callers wanting
// spec.md's minimum should pass pkg/config.DefaultScheduledPoolSize or
// larger.
func NewScheduledPool(size int, logger *zap.SugaredLogger) *ScheduledPool {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if size < 1 {
		size = 1
	}
	p := &ScheduledPool{jobs: make(chan func()), logger: logger}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *ScheduledPool) worker() {
	for fn := range p.jobs {
		reportPanics(p.logger, fn)()
	}
}

// Schedule arms a one-shot timer for d; when it fires, fn is handed to a
// pool worker rather than run on the timer's own runtime-managed goroutine,
// so fn benefits from the same panic-recovery guarantee as dispatch.Pool
// jobs.
func (p *ScheduledPool) Schedule(d time.Duration, fn func()) *TimerHandle {
	timer := time.AfterFunc(d, func() {
		p.jobs <- fn
	})
	return &TimerHandle{timer: timer}
}
