// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package combinator

import (
	"go.uber.org/zap"

	"github.com/relaycore/opfsm/pkg/dispatch"
	"github.com/relaycore/opfsm/pkg/machine"
)

// storeTimeoutHandle records handle under id in the timeouts map, creating
// the map on first use.
func storeTimeoutHandle(d *machine.Data, id string, handle *dispatch.TimerHandle) {
	d.Mutate(func(values map[string]any) {
		handles, _ := values[KeyTimeouts].(map[string]*dispatch.TimerHandle)
		if handles == nil {
			handles = map[string]*dispatch.TimerHandle{}
		}
		handles[id] = handle
		values[KeyTimeouts] = handles
	})
}

// cancelAndRemoveTimeoutHandle cancels and forgets the handle registered
// under id, if any. Cancellation failure is not surfaced to the caller —
// per spec.md, "cancellation failures are logged and ignored" — it is only
// logged at debug level, since a timer that already fired is the expected
// outcome of a normal race with the state it was guarding being exited.
func cancelAndRemoveTimeoutHandle(d *machine.Data, logger *zap.SugaredLogger, id string) {
	d.Mutate(func(values map[string]any) {
		handles, _ := values[KeyTimeouts].(map[string]*dispatch.TimerHandle)
		if handles == nil {
			return
		}
		if handle, ok := handles[id]; ok {
			if !handle.Cancel() && logger != nil {
				logger.Debugw("timeout cancellation raced with timer fire", "timeout-id", id)
			}
			delete(handles, id)
		}
	})
}
