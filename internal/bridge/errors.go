// SPDX-License-Identifier: MIT

package bridge

import "errors"

var (
	// ErrJoinFailed is returned when a device could not be registered and
	// connected. Any partially constructed device has been destroyed.
	ErrJoinFailed = errors.New("bridge: join failed")

	// ErrNotJoined is returned by operations that need a live device for
	// the identity.
	ErrNotJoined = errors.New("bridge: identity has no active device")
)
