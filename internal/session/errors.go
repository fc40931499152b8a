// SPDX-License-Identifier: MIT

package session

import "errors"

var (
	// ErrSessionExists is returned when a non-terminal session already
	// occupies the requested ID.
	ErrSessionExists = errors.New("session: already exists")

	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrTransferInProgress guards the core mutual-exclusion invariant:
	// at most one non-terminal transfer per session.
	ErrTransferInProgress = errors.New("session: transfer already in progress")
)
