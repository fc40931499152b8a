// SPDX-License-Identifier: MIT

package telephony

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound    = errors.New("telephony: conference not found")
	ErrUnavailable = errors.New("telephony: host unreachable or transport failure")
	ErrUpstream    = errors.New("telephony: upstream error")
	ErrBadResponse = errors.New("telephony: invalid response format")
	ErrTimeout     = errors.New("telephony: request timed out")
	ErrCredential  = errors.New("telephony: credential rejected or expired")
)

// UpstreamError wraps the sentinel errors with request context.
type UpstreamError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("telephony: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Sentinel
}
