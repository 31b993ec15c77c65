// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package op is the Operation runtime: operate materializes a Specification,
// fires its start event synchronously, and returns an Operation handle
// exposing abort/status/wait/deref over a single-shot completion slot.
package op

import (
	"time"

	"go.uber.org/atomic"
)

// Promise is the single-shot completion slot spec.md's data model calls
// "promise": writable exactly once, readable (blocking until written)
// thereafter. Modeled on the same "close a channel to broadcast" idiom the
// teacher uses for FSM.doneCh/pingCh, with a go.uber.org/atomic.Bool guard
// so a timer firing just as the completed entry hook runs can race to
// deliver without double-closing the channel.
type Promise struct {
	delivered atomic.Bool
	done      chan struct{}
	value     any
}

// NewPromise returns an undelivered Promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Deliver writes v to the slot if it hasn't already been written. Further
// calls are silently discarded, reporting false, to keep the exactly-once
// invariant under racing terminal transitions.
func (p *Promise) Deliver(v any) bool {
	if !p.delivered.CompareAndSwap(false, true) {
		return false
	}
	p.value = v
	close(p.done)
	return true
}

// Delivered reports whether the slot has been written.
func (p *Promise) Delivered() bool {
	return p.delivered.Load()
}

// Wait blocks until the slot is delivered and returns its value.
func (p *Promise) Wait() any {
	<-p.done
	return p.value
}

// WaitTimeout blocks until the slot is delivered or d elapses, whichever is
// first, returning fallback on timeout.
func (p *Promise) WaitTimeout(d time.Duration, fallback any) any {
	select {
	case <-p.done:
		return p.value
	case <-time.After(d):
		return fallback
	}
}
