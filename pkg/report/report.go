// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0

// Package report renders an Operation's status into a human-readable
// snapshot, sanitized of engine-private bookkeeping, and caches rendered
// snapshots by operation id. It carries no replay or history-reconstruction
// logic of its own — it is strictly a read-only view over pkg/op and
// pkg/machine.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/relaycore/opfsm/pkg/combinator"
	"github.com/relaycore/opfsm/pkg/op"
)

// Options controls how much of an Operation's state Render includes.
type Options struct {
	// IncludeHistory adds the recorded state/event trail, if the
	// underlying machine has the "history" feature enabled.
	IncludeHistory bool
}

// Render formats o's current state, data, and (optionally) history as a
// multi-line string, stripping combinator.PrivateKeys from the data
// section — a caller never sees op-stack frames, pool handles, or timer
// bookkeeping.
func Render(o *op.Operation, opts Options) string {
	state, data := o.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\n", state)

	keys := make([]string, 0, len(data))
	for k := range data {
		if isPrivate(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		b.WriteString("data: (none)\n")
	} else {
		b.WriteString("data:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, data[k])
		}
	}

	if opts.IncludeHistory {
		renderHistory(&b, o)
	}
	return b.String()
}

func renderHistory(b *strings.Builder, o *op.Operation) {
	h := o.History()
	if h == nil {
		b.WriteString("history: (not recorded)\n")
		return
	}
	states := h.States()
	b.WriteString("history:\n")
	fmt.Fprintf(b, "  states: %s\n", strings.Join(states, " -> "))
	events := h.Events()
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Name
	}
	fmt.Fprintf(b, "  events: %s\n", strings.Join(names, ", "))
}

func isPrivate(key string) bool {
	for _, k := range combinator.PrivateKeys {
		if k == key {
			return true
		}
	}
	return false
}
