// SPDX-License-Identifier: MIT

package transfer

import "time"

// Request is one attempt to hand off a session. It is owned exclusively by
// the machine; the session registry holds only the active request's ID.
// Requests are never reused across sessions and are dropped once their
// owning session leaves the transfer.
type Request struct {
	ID                 string    `json:"transferId"`
	SessionID          string    `json:"sessionId"`
	InitiatingAgentID  string    `json:"initiatingAgentId"`
	Mode               Mode      `json:"mode"`
	Context            string    `json:"context,omitempty"`
	Summary            string    `json:"summary,omitempty"`
	ConsultationRoomID string    `json:"consultationRoomId,omitempty"` // mode=agent
	ConferenceID       string    `json:"conferenceId,omitempty"`       // mode=phone
	DestinationNumber  string    `json:"destinationNumber,omitempty"`  // mode=phone
	State              State     `json:"state"`
	CreatedAt          time.Time `json:"createdAt"`
}
