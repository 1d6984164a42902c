// Copyright (c) 2025 Fleetwatch
// SPDX-License-Identifier: MIT

package daemon

import "errors"

var (
	// ErrMissingRunner is returned when a manager is built without a
	// workload.
	ErrMissingRunner = errors.New("daemon: runner is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("daemon: already started")

	// ErrNotStarted is returned when Shutdown precedes Start.
	ErrNotStarted = errors.New("daemon: not started")
)
