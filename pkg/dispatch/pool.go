// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package dispatch supplies the two pools spec.md assumes as external
// collaborators: an unbounded-ish dispatch pool for cross-machine event
// delivery, and a fixed-size scheduled pool for one-shot timers. Every job
// run through either pool is wrapped in a panic-recovery guard so a bug in
// user code never takes down a pool goroutine.
package dispatch

import (
	mb "github.com/vardius/message-bus"
	"go.uber.org/zap"
)

const executeTopic = "dispatch.execute"

// Pool is the dispatch pool: every cross-machine transition (a child
// notifying its parent, a parallel child's start, a sequence step's start)
// is handed to Execute so it runs off the caller's own transition lock.
// Backed by github.com/vardius/message-bus: one topic, one subscriber, and
// each Publish call's delivery to that subscriber runs on its own goroutine,
// which is exactly the "unbounded worker pool" shape spec.md assumes without
// this package hand-rolling a goroutine pool from scratch.
type Pool struct {
	bus    mb.MessageBus
	logger *zap.SugaredLogger
}

// NewPool returns a Pool whose underlying bus is sized for queueSize
// in-flight Publish calls before Execute starts blocking its caller.
func NewPool(queueSize int, logger *zap.SugaredLogger) *Pool {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Pool{bus: mb.New(queueSize), logger: logger}
	_ = p.bus.Subscribe(executeTopic, p.run)
	return p
}

func (p *Pool) run(fn func()) {
	go reportPanics(p.logger, fn)()
}

// Execute schedules fn to run on the pool, asynchronously with respect to
// the caller.
func (p *Pool) Execute(fn func()) {
	p.bus.Publish(executeTopic, fn)
}
