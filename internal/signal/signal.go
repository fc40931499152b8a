// SPDX-License-Identifier: MIT

// Package signal delivers short one-shot directives between clients that
// have no direct connection to each other. Delivery is at-least-once and
// TTL-bounded: consumers deduplicate by (kind, target, issuedAt) and
// discard anything older than its TTL.
package signal

import (
	"fmt"
	"time"
)

// Signal kinds.
const (
	KindJoinConference = "join_conference"
	KindCloseTabs      = "close_tabs"
)

// Signal is a one-shot directive broadcast to a target role or identity.
type Signal struct {
	Kind     string         `json:"kind"`
	Target   string         `json:"target"`
	Payload  map[string]any `json:"payload,omitempty"`
	IssuedAt int64          `json:"issuedAt"` // epoch millis
	TTL      int            `json:"ttl"`      // seconds
}

// New builds a signal stamped with the current time.
func New(kind, target string, payload map[string]any, ttl time.Duration) Signal {
	return Signal{
		Kind:     kind,
		Target:   target,
		Payload:  payload,
		IssuedAt: time.Now().UnixMilli(),
		TTL:      int(ttl.Seconds()),
	}
}

// DedupKey identifies a signal for idempotent delivery.
func (s Signal) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d", s.Kind, s.Target, s.IssuedAt)
}

// ExpiresAt is the instant after which the signal must be discarded.
func (s Signal) ExpiresAt() time.Time {
	return time.UnixMilli(s.IssuedAt).Add(time.Duration(s.TTL) * time.Second)
}

// IsStale reports whether the signal's TTL has elapsed at now.
func (s Signal) IsStale(now time.Time) bool {
	return now.After(s.ExpiresAt())
}
