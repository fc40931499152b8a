// SPDX-License-Identifier: MIT

// Package bridge keeps browser-to-telephony soft-phone devices registered
// for the lifetime of a phone conference. One controller owns at most one
// device per identity and supervises it: credential refresh before expiry,
// recoverable signaling errors re-registered with backoff, unrecoverable
// errors escalated to a full teardown and rejoin.
package bridge

import (
	"context"
	"fmt"

	"github.com/warmline/warmline/internal/telephony"
)

// Error is an asynchronous signaling fault reported by a live device.
type Error struct {
	Code    int
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("bridge device error %d: %s", e.Code, e.Message)
}

// Recoverable reports whether a re-register of the existing device can heal
// the fault. Transport drops are recoverable; token and registration faults
// need a fresh device.
func (e Error) Recoverable() bool {
	switch e.Code {
	case CodeSignalingLost, CodeTransportDropped:
		return true
	default:
		return false
	}
}

// Signaling fault codes in the telephony provider's numbering.
const (
	CodeGeneric          = 31000
	CodeSignalingLost    = 31005
	CodeTransportDropped = 31009
)

// Device is one registered soft-phone endpoint. Implementations are owned
// by the controller; nothing else may destroy them.
type Device interface {
	// Register (re-)establishes the signaling connection.
	Register(ctx context.Context) error
	// Connect joins the device into a conference.
	Connect(ctx context.Context, conferenceID string) error
	// UpdateToken swaps in a refreshed credential without dropping the call.
	UpdateToken(token string)
	// Errors delivers asynchronous signaling faults. The channel closes
	// when the device is destroyed.
	Errors() <-chan Error
	// Destroy releases the device. Safe to call more than once.
	Destroy()
}

// Registrar constructs devices from freshly minted credentials.
type Registrar interface {
	New(ctx context.Context, cred telephony.BridgeCredential) (Device, error)
}

// Credentials mints bridge credentials. Satisfied by *telephony.Client.
type Credentials interface {
	IssueBridgeCredential(ctx context.Context, identity, conferenceID string) (telephony.BridgeCredential, error)
}

// Phones reports phone leg status. Satisfied by *telephony.Client.
type Phones interface {
	GetLegStatus(ctx context.Context, conferenceID string) (telephony.LegStatus, error)
}
