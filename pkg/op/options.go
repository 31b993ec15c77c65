// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package op

import (
	"go.uber.org/zap"

	"github.com/relaycore/opfsm/pkg/config"
	"github.com/relaycore/opfsm/pkg/dispatch"
)

type options struct {
	dispatchPool  *dispatch.Pool
	scheduledPool *dispatch.ScheduledPool
	logger        *zap.SugaredLogger
}

// Option configures a call to Operate. The engine's two pools are always
// injectable, matching the teacher's constructor-injection style for
// collaborators like loggers and buses. Without an injected pool, each
// Operate call creates its own dispatch and scheduled pool sized from
// config.Default(); operations share a pool only when the same pool is
// injected into each of them.
type Option func(*options)

// WithDispatchPool injects the dispatch pool this Operation's machine tree
// uses for cross-machine event delivery.
func WithDispatchPool(pool *dispatch.Pool) Option {
	return func(o *options) { o.dispatchPool = pool }
}

// WithScheduledPool injects the scheduled pool this Operation's machine tree
// uses to arm Delay/Timeout timers.
func WithScheduledPool(pool *dispatch.ScheduledPool) Option {
	return func(o *options) { o.scheduledPool = pool }
}

// WithLogger injects the logger used by the root machine and every child
// machine materialized underneath it.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) { o.logger = l }
}

func resolveOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop().Sugar()
	}
	conf := config.Default()
	if o.dispatchPool == nil {
		o.dispatchPool = dispatch.NewPool(conf.DispatchPoolSize, o.logger)
	}
	if o.scheduledPool == nil {
		o.scheduledPool = dispatch.NewScheduledPool(conf.ScheduledPoolSize, o.logger)
	}
	return o
}
