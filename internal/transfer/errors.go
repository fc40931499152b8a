// SPDX-License-Identifier: MIT

package transfer

import (
	"errors"

	"github.com/warmline/warmline/internal/session"
)

var (
	// ErrNoCallerPresent rejects initiation when no identified caller is
	// in the primary room.
	ErrNoCallerPresent = errors.New("transfer: no caller present in session")

	// ErrInvalidDestination rejects phone transfers without a usable
	// destination number.
	ErrInvalidDestination = errors.New("transfer: invalid destination number")

	// ErrTransferInProgress is the registry's mutual-exclusion rejection,
	// surfaced unchanged: precondition failures are returned synchronously
	// and never retried automatically.
	ErrTransferInProgress = session.ErrTransferInProgress

	// ErrNotFound is returned for operations on unknown transfer IDs.
	ErrNotFound = errors.New("transfer: not found")

	// ErrInvalidState rejects an operation that is not legal from the
	// request's current state.
	ErrInvalidState = errors.New("transfer: operation not valid in current state")
)
