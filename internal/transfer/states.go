// SPDX-License-Identifier: MIT

// Package transfer is the orchestration core: the per-session lifecycle
// controller for warm transfers. One request at a time may be attached to
// a session; the machine drives it from initiation through consultation
// or phone conferencing to completion, with abort reachable from any
// non-terminal state.
package transfer

// State is the lifecycle state of a transfer request.
type State string

const (
	StateIdle              State = "idle"
	StateInitiated         State = "initiated"
	StateConsulting        State = "consulting"
	StatePhoneConferencing State = "phone_conferencing"
	StateCompleted         State = "completed"
	StateAborted           State = "aborted"
)

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Mode selects the transfer flavor. It is chosen once at initiation and is
// immutable for the life of the request.
type Mode string

const (
	ModeAgent Mode = "agent"
	ModePhone Mode = "phone"
)

// Valid reports whether the mode is one of the two supported flavors.
func (m Mode) Valid() bool {
	return m == ModeAgent || m == ModePhone
}
