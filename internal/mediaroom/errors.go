// SPDX-License-Identifier: MIT

package mediaroom

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound    = errors.New("mediaroom: room or participant not found")
	ErrUnavailable = errors.New("mediaroom: host unreachable or transport failure")
	ErrUpstream    = errors.New("mediaroom: upstream error")
	ErrBadResponse = errors.New("mediaroom: invalid response format")
	ErrTimeout     = errors.New("mediaroom: request timed out")
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
	msg := fmt.Sprintf("mediaroom: %s: %v", e.Operation, e.Sentinel)
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
