// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warmline/warmline/internal/session"
	"github.com/warmline/warmline/internal/signal"
	"github.com/warmline/warmline/internal/transfer"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	SessionID      string `json:"sessionId"`
	CallerIdentity string `json:"callerIdentity"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.CallerIdentity == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "sessionId and callerIdentity are required")
		return
	}
	sess, err := s.sessions.Create(r.Context(), req.SessionID, req.CallerIdentity)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	parts, err := s.sessions.Participants(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if parts == nil {
		parts = []session.Participant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": parts})
}

type holdRequest struct {
	Hold bool `json:"hold"`
}

func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	var req holdRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := s.sessions.SetHold(r.Context(), chi.URLParam(r, "id"), req.Hold)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type closeSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleCloseSession ends a session: remaining agent participants are told
// to disengage, then the record goes terminal.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	reason := req.Reason
	if reason == "" {
		reason = "The call has ended."
	}

	parts, err := s.sessions.Participants(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	for _, p := range parts {
		if p.Role != session.RoleAgentA && p.Role != session.RoleAgentB {
			continue
		}
		if err := s.notifier.NotifyRoleEnded(r.Context(), id, p.Identity, reason); err != nil {
			s.logger.Warn().Err(err).Str("identity", p.Identity).Msg("close notification failed")
		}
	}

	if err := s.sessions.Close(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": "closed"})
}

type initiateTransferRequest struct {
	SessionID         string `json:"sessionId"`
	InitiatingAgentID string `json:"initiatingAgentId"`
	Mode              string `json:"mode"`
	Context           string `json:"context,omitempty"`
	DestinationNumber string `json:"destinationNumber,omitempty"`
}

func (s *Server) handleInitiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req initiateTransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.InitiatingAgentID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "sessionId and initiatingAgentId are required")
		return
	}
	mode := transfer.Mode(strings.ToLower(req.Mode))
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "mode must be agent or phone")
		return
	}

	res, err := s.transfers.Initiate(r.Context(), transfer.InitiateParams{
		SessionID:         req.SessionID,
		InitiatingAgentID: req.InitiatingAgentID,
		Mode:              mode,
		Context:           req.Context,
		DestinationNumber: req.DestinationNumber,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	req, err := s.transfers.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleOpenConsultation(w http.ResponseWriter, r *http.Request) {
	req, err := s.transfers.OpenConsultation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type completeTransferRequest struct {
	NewAgentID string `json:"newAgentId,omitempty"`
}

// handleCompleteTransfer finishes either flavor: agent mode needs the
// receiving agent's identity, phone mode completes without one.
func (s *Server) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	var body completeTransferRequest
	if !decodeBody(w, r, &body) {
		return
	}
	id := chi.URLParam(r, "id")

	req, err := s.transfers.Get(id)
	if err != nil {
		respondError(w, err)
		return
	}

	switch req.Mode {
	case transfer.ModePhone:
		done, err := s.transfers.CompletePhone(r.Context(), id)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"outcome": "completed", "request": done})

	case transfer.ModeAgent:
		if body.NewAgentID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "newAgentId is required for agent transfers")
			return
		}
		done, err := s.transfers.Complete(r.Context(), id, body.NewAgentID)
		if err != nil {
			respondError(w, err)
			return
		}
		outcome := "completed"
		if done.ManualJoin {
			outcome = "completed_manual_join"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"outcome":    outcome,
			"request":    done.Request,
			"credential": done.Credential,
			"manualJoin": done.ManualJoin,
		})
	}
}

func (s *Server) handleSignalCallerJoin(w http.ResponseWriter, r *http.Request) {
	if err := s.transfers.SignalCallerJoin(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": "signaled"})
}

type abortTransferRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleAbortTransfer(w http.ResponseWriter, r *http.Request) {
	var req abortTransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "aborted by user"
	}
	if err := s.transfers.Abort(r.Context(), chi.URLParam(r, "id"), reason); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": "aborted"})
}

type conferenceIdentityRequest struct {
	Identity string `json:"identity"`
}

func (s *Server) handleConferenceJoin(w http.ResponseWriter, r *http.Request) {
	var req conferenceIdentityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Identity == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "identity is required")
		return
	}
	if err := s.bridges.Join(r.Context(), req.Identity, chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": "joined"})
}

func (s *Server) handleConferenceLeave(w http.ResponseWriter, r *http.Request) {
	var req conferenceIdentityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Identity == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "identity is required")
		return
	}
	if err := s.bridges.Leave(r.Context(), req.Identity); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": "left"})
}

func (s *Server) handleConferenceLeg(w http.ResponseWriter, r *http.Request) {
	status, err := s.bridges.PhoneLegStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// handlePollSignals serves the polling delivery mode. Clients advance the
// since cursor to the newest issuedAt they have seen; the cursor instant is
// re-read, so a client keeps its own dedup across polls. The response
// carries the server's preferred polling cadence.
func (s *Server) handlePollSignals(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "since must be a non-negative epoch-millis integer")
			return
		}
		since = parsed
	}
	sigs, err := s.signals.Poll(r.Context(), chi.URLParam(r, "channel"), since)
	if err != nil {
		respondError(w, err)
		return
	}
	if sigs == nil {
		sigs = []signal.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signals":        sigs,
		"pollIntervalMs": s.cfg.SignalPollInterval.Milliseconds(),
	})
}

type issueTokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Role     string `json:"role,omitempty"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Room == "" || req.Identity == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "room and identity are required")
		return
	}
	cred, err := s.tokens.IssueCredential(r.Context(), req.Room, req.Identity, req.Role)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}
