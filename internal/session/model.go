// SPDX-License-Identifier: MIT

// Package session is the authoritative registry of active call sessions:
// which sessions exist, who participates, whether the caller leg is on
// hold, and which transfer (if any) is attached.
package session

import (
	"strings"
	"time"
)

// State is the coarse lifecycle of a call session.
type State string

const (
	StateActive State = "active"
	StateClosed State = "closed"
)

// Session is one customer interaction. Its ID doubles as the primary room name.
type Session struct {
	ID               string    `json:"id"`
	CallerIdentity   string    `json:"callerIdentity"`
	State            State     `json:"state"`
	HoldActive       bool      `json:"holdActive"`
	ActiveTransferID string    `json:"activeTransferId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Role classifies a participant by identity-prefix convention.
type Role string

const (
	RoleCaller  Role = "caller"
	RoleAgentA  Role = "agent-a" // first-line / initiating agent
	RoleAgentB  Role = "agent-b" // receiving specialist
	RoleUnknown Role = "unknown"
)

// Participant is an ephemeral view over the media room membership report.
type Participant struct {
	Identity string `json:"identity"`
	Role     Role   `json:"role"`
}

// ClassifyIdentity maps an identity onto its role by prefix.
func ClassifyIdentity(identity string) Role {
	switch {
	case strings.HasPrefix(identity, "caller"):
		return RoleCaller
	case strings.HasPrefix(identity, "agent-a"):
		return RoleAgentA
	case strings.HasPrefix(identity, "agent-b"):
		return RoleAgentB
	default:
		return RoleUnknown
	}
}
