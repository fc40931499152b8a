// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID  = "session_id"
	FieldTransferID = "transfer_id"
	FieldRequestID  = "request_id"
	FieldIdentity   = "identity"

	// Transfer fields
	FieldConferenceID = "conference_id"
	FieldRoomID       = "room_id"
	FieldMode         = "mode"
	FieldSignalKind   = "signal_kind"
	FieldChannelKey   = "channel_key"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
)
