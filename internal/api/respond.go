// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/warmline/warmline/internal/bridge"
	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/mediaroom"
	"github.com/warmline/warmline/internal/session"
	"github.com/warmline/warmline/internal/telephony"
	"github.com/warmline/warmline/internal/transfer"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

// respondError maps the domain error taxonomy onto HTTP statuses.
// Precondition failures are client errors; collaborator trouble surfaces as
// gateway errors so callers can distinguish "retry" from "fix your request".
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, transfer.ErrNotFound),
		errors.Is(err, mediaroom.ErrNotFound),
		errors.Is(err, telephony.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, session.ErrSessionExists):
		writeError(w, http.StatusConflict, "session_exists", err.Error())

	case errors.Is(err, transfer.ErrTransferInProgress):
		writeError(w, http.StatusConflict, "transfer_in_progress", err.Error())

	case errors.Is(err, transfer.ErrNoCallerPresent):
		writeError(w, http.StatusConflict, "no_caller_present", err.Error())

	case errors.Is(err, transfer.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())

	case errors.Is(err, transfer.ErrInvalidDestination):
		writeError(w, http.StatusUnprocessableEntity, "invalid_destination", err.Error())

	case errors.Is(err, mediaroom.ErrTimeout), errors.Is(err, telephony.ErrTimeout),
		errors.Is(err, mediaroom.ErrUnavailable), errors.Is(err, telephony.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", err.Error())

	case errors.Is(err, mediaroom.ErrUpstream), errors.Is(err, telephony.ErrUpstream),
		errors.Is(err, telephony.ErrCredential), errors.Is(err, bridge.ErrJoinFailed):
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
