// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package dispatch

import "go.uber.org/zap"

// reportPanics wraps fn so that a panic inside it is recovered and logged
// rather than taking down the pool worker goroutine it runs on, the
// "exception isolation" requirement for every worker task.
func reportPanics(logger *zap.SugaredLogger, fn func()) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("recovered panic in dispatched job", "panic", r)
			}
		}()
		fn()
	}
}
