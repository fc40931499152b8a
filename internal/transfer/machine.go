// SPDX-License-Identifier: MIT

package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/mediaroom"
	"github.com/warmline/warmline/internal/metrics"
	"github.com/warmline/warmline/internal/session"
	"github.com/warmline/warmline/internal/signal"
	"github.com/warmline/warmline/internal/summarize"
	"github.com/warmline/warmline/internal/telephony"
)

// Sessions is the slice of the session registry the machine needs.
type Sessions interface {
	Get(ctx context.Context, id string) (session.Session, error)
	SetHold(ctx context.Context, id string, on bool) (session.Session, error)
	Participants(ctx context.Context, id string) ([]session.Participant, error)
	AttachTransfer(ctx context.Context, id, transferID string) error
	DetachTransfer(ctx context.Context, id, transferID string) error
	FindByTransfer(ctx context.Context, transferID string) (session.Session, error)
}

// Rooms is the slice of the media room collaborator the machine needs.
type Rooms interface {
	IssueCredential(ctx context.Context, room, identity, role string) (mediaroom.Credential, error)
	CreateRoom(ctx context.Context, room string) error
	RemoveRoom(ctx context.Context, room string) error
	ListParticipants(ctx context.Context, room string) ([]string, error)
	MoveParticipant(ctx context.Context, from, identity, to string) error
}

// Phones is the slice of the telephony collaborator the machine needs.
type Phones interface {
	DialOut(ctx context.Context, number, conferenceID, announcement string) (telephony.CallRef, error)
	GetLegStatus(ctx context.Context, conferenceID string) (telephony.LegStatus, error)
	EndConference(ctx context.Context, conferenceID string) error
}

// Summarizer produces the briefing summary. Its failure is non-fatal.
type Summarizer interface {
	Summarize(ctx context.Context, contextText string, meta summarize.CallMetadata) (string, error)
}

// Signals is the fan-out used to direct clients.
type Signals interface {
	Publish(ctx context.Context, channelKey string, sig signal.Signal) error
}

// Machine drives transfer requests through their lifecycle. Request state
// lives in memory for the lifetime of the active transfer only; the
// registry's attach slot is the durable mutual-exclusion record.
type Machine struct {
	sessions   Sessions
	rooms      Rooms
	phones     Phones
	summarizer Summarizer
	signals    Signals
	logger     zerolog.Logger
	signalTTL  time.Duration
	now        func() time.Time

	mu       sync.Mutex
	requests map[string]*Request
}

// Config carries the machine's policy knobs.
type Config struct {
	SignalTTL time.Duration
}

// NewMachine wires the orchestration core against its collaborators.
func NewMachine(cfg Config, sessions Sessions, rooms Rooms, phones Phones, summarizer Summarizer, signals Signals) *Machine {
	ttl := cfg.SignalTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Machine{
		sessions:   sessions,
		rooms:      rooms,
		phones:     phones,
		summarizer: summarizer,
		signals:    signals,
		logger:     log.WithComponent("transfer"),
		signalTTL:  ttl,
		now:        time.Now,
		requests:   make(map[string]*Request),
	}
}

// InitiateParams are the inputs to a transfer initiation.
type InitiateParams struct {
	SessionID         string
	InitiatingAgentID string
	Mode              Mode
	Context           string
	DestinationNumber string // required for ModePhone
}

// InitiateResult is returned to the initiating client.
type InitiateResult struct {
	Request         Request `json:"request"`
	SummaryDegraded bool    `json:"summaryDegraded"`
}

// Initiate starts a transfer. Precondition failures (no caller, bad
// destination, transfer already in progress) are returned synchronously;
// the session is never left without a path back to idle.
func (m *Machine) Initiate(ctx context.Context, p InitiateParams) (InitiateResult, error) {
	if !p.Mode.Valid() {
		return InitiateResult{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidState, p.Mode)
	}
	if p.Mode == ModePhone && !validDestination(p.DestinationNumber) {
		metrics.IncTransferFailure("invalid_destination")
		return InitiateResult{}, ErrInvalidDestination
	}

	sess, err := m.sessions.Get(ctx, p.SessionID)
	if err != nil {
		return InitiateResult{}, err
	}

	parts, err := m.sessions.Participants(ctx, p.SessionID)
	if err != nil {
		return InitiateResult{}, err
	}
	if !hasCaller(parts) {
		metrics.IncTransferFailure("no_caller_present")
		return InitiateResult{}, ErrNoCallerPresent
	}

	req := &Request{
		ID:                uuid.NewString(),
		SessionID:         p.SessionID,
		InitiatingAgentID: p.InitiatingAgentID,
		Mode:              p.Mode,
		Context:           p.Context,
		DestinationNumber: p.DestinationNumber,
		State:             StateIdle,
		CreatedAt:         m.now().UTC(),
	}

	// Reserve the session's single transfer slot before any slow
	// collaborator call. Exactly one concurrent initiator wins; the rest
	// see ErrTransferInProgress.
	if err := m.sessions.AttachTransfer(ctx, p.SessionID, req.ID); err != nil {
		if errors.Is(err, session.ErrTransferInProgress) {
			metrics.IncTransferFailure("transfer_in_progress")
		}
		return InitiateResult{}, err
	}

	result := InitiateResult{}
	summary, err := m.summarizer.Summarize(ctx, p.Context, summarize.CallMetadata{
		SessionID:      p.SessionID,
		CallerIdentity: sess.CallerIdentity,
		AgentIdentity:  p.InitiatingAgentID,
	})
	if err != nil {
		// Degrade: the transfer proceeds with an empty summary and the
		// failure is surfaced for display.
		result.SummaryDegraded = true
		metrics.IncSummaryDegraded()
	}
	req.Summary = summary

	switch p.Mode {
	case ModeAgent:
		err = m.initiateAgent(ctx, req)
	case ModePhone:
		err = m.initiatePhone(ctx, req)
	}
	if err != nil {
		m.unwind(ctx, req)
		return InitiateResult{}, err
	}

	m.mu.Lock()
	m.requests[req.ID] = req
	m.mu.Unlock()

	metrics.IncTransferInitiated(string(p.Mode))
	metrics.IncActiveTransfers()
	m.logger.Info().
		Str("event", "transfer.initiated").
		Str(log.FieldTransferID, req.ID).
		Str(log.FieldSessionID, req.SessionID).
		Str(log.FieldMode, string(req.Mode)).
		Bool("summary_degraded", result.SummaryDegraded).
		Msg("transfer initiated")

	result.Request = *req
	return result, nil
}

func (m *Machine) initiateAgent(ctx context.Context, req *Request) error {
	req.ConsultationRoomID = "consult-" + shortID()
	if err := m.rooms.CreateRoom(ctx, req.ConsultationRoomID); err != nil {
		return fmt.Errorf("create consultation room: %w", err)
	}
	if _, err := m.sessions.SetHold(ctx, req.SessionID, true); err != nil {
		_ = m.rooms.RemoveRoom(ctx, req.ConsultationRoomID)
		return err
	}
	req.State = StateInitiated
	return nil
}

func (m *Machine) initiatePhone(ctx context.Context, req *Request) error {
	req.ConferenceID = "transfer-" + shortID()
	// The phone leg begins ringing immediately; there is no consult step.
	if _, err := m.phones.DialOut(ctx, req.DestinationNumber, req.ConferenceID, req.Summary); err != nil {
		return fmt.Errorf("dial out: %w", err)
	}
	req.State = StatePhoneConferencing
	return nil
}

// cleanupTimeout bounds the detached contexts used to release session
// state. Cleanup must outlive the request that triggered it: a client
// disconnect mid-failure must not leave the slot attached.
const cleanupTimeout = 5 * time.Second

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// unwind releases everything a failed initiation may have claimed, leaving
// the session safely back at idle. It runs detached from the request
// context so a cancelled initiation still gets its slot back.
func (m *Machine) unwind(ctx context.Context, req *Request) {
	ctx, cancel := cleanupContext(ctx)
	defer cancel()

	if req.ConsultationRoomID != "" {
		_ = m.rooms.RemoveRoom(ctx, req.ConsultationRoomID)
	}
	if _, err := m.sessions.SetHold(ctx, req.SessionID, false); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldSessionID, req.SessionID).Msg("failed to clear hold during unwind")
	}
	_ = m.sessions.DetachTransfer(ctx, req.SessionID, req.ID)
}

// Get returns a snapshot of the request.
func (m *Machine) Get(transferID string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[transferID]
	if !ok {
		return Request{}, ErrNotFound
	}
	return *req, nil
}

// OpenConsultation records the initiating agent's explicit entry into the
// consultation room. The transition is deliberately user-driven: room
// membership events are too noisy to infer readiness from.
func (m *Machine) OpenConsultation(ctx context.Context, transferID string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[transferID]
	if !ok {
		return Request{}, ErrNotFound
	}
	if req.State != StateInitiated {
		return Request{}, fmt.Errorf("%w: open consultation from %s", ErrInvalidState, req.State)
	}
	m.transition(req, StateConsulting)
	return *req, nil
}

// CompleteResult is returned to the completing client.
type CompleteResult struct {
	Request    Request              `json:"request"`
	Credential mediaroom.Credential `json:"credential"`
	// ManualJoin is set when the server-side participant move failed and
	// the receiving agent's client must join the primary room itself.
	ManualJoin bool `json:"manualJoin,omitempty"`
}

// Complete finishes an agent-mode transfer from the consulting state: the
// receiving agent gets a credential for the original room, the caller leg
// comes off hold, and the superseded initiating agent is told to disengage.
func (m *Machine) Complete(ctx context.Context, transferID, newAgentID string) (CompleteResult, error) {
	m.mu.Lock()
	req, ok := m.requests[transferID]
	if !ok {
		m.mu.Unlock()
		return CompleteResult{}, ErrNotFound
	}
	if req.State != StateConsulting {
		state := req.State
		m.mu.Unlock()
		return CompleteResult{}, fmt.Errorf("%w: complete from %s", ErrInvalidState, state)
	}
	snapshot := *req
	m.mu.Unlock()

	// Credential for the ORIGINAL session room, not the consultation room.
	cred, err := m.rooms.IssueCredential(ctx, snapshot.SessionID, newAgentID, "agent")
	if err != nil {
		return CompleteResult{}, fmt.Errorf("issue credential for receiving agent: %w", err)
	}

	result := CompleteResult{Credential: cred}
	if err := m.rooms.MoveParticipant(ctx, snapshot.ConsultationRoomID, newAgentID, snapshot.SessionID); err != nil {
		// Server-side moves are not supported everywhere; the receiving
		// client can always join with the issued credential instead.
		result.ManualJoin = true
		m.logger.Warn().Err(err).
			Str(log.FieldTransferID, transferID).
			Msg("participant move failed, falling back to manual join")
	}

	if _, err := m.sessions.SetHold(ctx, snapshot.SessionID, false); err != nil {
		return CompleteResult{}, err
	}

	m.notifyRoleEnded(ctx, snapshot.SessionID, snapshot.InitiatingAgentID,
		fmt.Sprintf("Transfer complete. %s now owns the conversation.", newAgentID))

	m.finish(ctx, transferID, StateCompleted)
	metrics.IncTransferCompleted(string(ModeAgent))

	snapshot.State = StateCompleted
	result.Request = snapshot
	return result, nil
}

// CompletePhone finishes a phone-mode transfer: the initiating agent's
// conference leg is gone, the caller and the dialed destination stay
// bridged, and the initiating agent's client is told to disengage.
func (m *Machine) CompletePhone(ctx context.Context, transferID string) (Request, error) {
	m.mu.Lock()
	req, ok := m.requests[transferID]
	if !ok {
		m.mu.Unlock()
		return Request{}, ErrNotFound
	}
	if req.State != StatePhoneConferencing {
		state := req.State
		m.mu.Unlock()
		return Request{}, fmt.Errorf("%w: complete phone transfer from %s", ErrInvalidState, state)
	}
	snapshot := *req
	m.mu.Unlock()

	// Clearing hold is idempotent; phone transfers normally never set it,
	// but an agent may have toggled it manually mid-call.
	if _, err := m.sessions.SetHold(ctx, snapshot.SessionID, false); err != nil {
		return Request{}, err
	}

	m.notifyRoleEnded(ctx, snapshot.SessionID, snapshot.InitiatingAgentID,
		"Transfer complete. The caller is bridged to the destination.")

	m.finish(ctx, transferID, StateCompleted)
	metrics.IncTransferCompleted(string(ModePhone))

	snapshot.State = StateCompleted
	return snapshot, nil
}

// SignalCallerJoin directs the customer's client to bridge into the phone
// conference. The client performs the same join steps as the agent did.
func (m *Machine) SignalCallerJoin(ctx context.Context, transferID string) error {
	m.mu.Lock()
	req, ok := m.requests[transferID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if req.State != StatePhoneConferencing {
		state := req.State
		m.mu.Unlock()
		return fmt.Errorf("%w: signal caller join from %s", ErrInvalidState, state)
	}
	snapshot := *req
	m.mu.Unlock()

	sess, err := m.sessions.Get(ctx, snapshot.SessionID)
	if err != nil {
		return err
	}
	sig := signal.New(signal.KindJoinConference, sess.CallerIdentity, map[string]any{
		"conferenceId": snapshot.ConferenceID,
	}, m.signalTTL)
	return m.signals.Publish(ctx, snapshot.SessionID, sig)
}

// Abort cancels a transfer from any non-terminal state and returns the
// session to idle with no residual hold and no orphaned room or bridge.
// Aborting an already-terminal transfer is a no-op success.
func (m *Machine) Abort(ctx context.Context, transferID, reason string) error {
	m.mu.Lock()
	req, ok := m.requests[transferID]
	if !ok {
		m.mu.Unlock()
		// Unknown to the machine, but the registry may still hold the
		// slot if an earlier cleanup failed or the daemon restarted.
		return m.releaseDangling(ctx, transferID, reason)
	}
	if req.State.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	snapshot := *req
	m.mu.Unlock()

	if _, err := m.sessions.SetHold(ctx, snapshot.SessionID, false); err != nil {
		m.logger.Warn().Err(err).
			Str(log.FieldTransferID, transferID).
			Msg("failed to clear hold during abort")
	}

	if snapshot.ConsultationRoomID != "" {
		m.removeRoomIfEmpty(ctx, snapshot.ConsultationRoomID)
	}
	if snapshot.ConferenceID != "" {
		m.endConferenceIfIdle(ctx, snapshot.ConferenceID)
	}

	m.finish(ctx, transferID, StateAborted)
	metrics.IncTransferAborted(classifyAbort(reason))
	m.logger.Info().
		Str("event", "transfer.aborted").
		Str(log.FieldTransferID, transferID).
		Str(log.FieldSessionID, snapshot.SessionID).
		Str("reason", reason).
		Msg("transfer aborted")
	return nil
}

// SweepStale aborts transfers stuck in consultation longer than maxAge.
// Disabled when maxAge is zero.
func (m *Machine) SweepStale(ctx context.Context, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var stale []string
	for id, req := range m.requests {
		if (req.State == StateInitiated || req.State == StateConsulting) && req.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.Abort(ctx, id, "consultation timeout"); err != nil {
			m.logger.Warn().Err(err).Str(log.FieldTransferID, id).Msg("stale transfer abort failed")
		}
	}
}

func (m *Machine) notifyRoleEnded(ctx context.Context, sessionID, agentID, reason string) {
	sig := signal.New(signal.KindCloseTabs, agentID, map[string]any{
		"message": reason,
	}, m.signalTTL)
	if err := m.signals.Publish(ctx, sessionID, sig); err != nil {
		m.logger.Warn().Err(err).
			Str(log.FieldSessionID, sessionID).
			Msg("close signal publish failed")
	}
}

func (m *Machine) removeRoomIfEmpty(ctx context.Context, room string) {
	members, err := m.rooms.ListParticipants(ctx, room)
	if err != nil {
		m.logger.Warn().Err(err).Str(log.FieldRoomID, room).Msg("consultation room membership check failed")
		return
	}
	if len(members) > 0 {
		return
	}
	if err := m.rooms.RemoveRoom(ctx, room); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldRoomID, room).Msg("consultation room removal failed")
	}
}

func (m *Machine) endConferenceIfIdle(ctx context.Context, conferenceID string) {
	status, err := m.phones.GetLegStatus(ctx, conferenceID)
	if err != nil {
		m.logger.Warn().Err(err).Str(log.FieldConferenceID, conferenceID).Msg("conference leg status check failed")
		return
	}
	if status == telephony.LegConnected {
		return
	}
	if err := m.phones.EndConference(ctx, conferenceID); err != nil {
		m.logger.Warn().Err(err).Str(log.FieldConferenceID, conferenceID).Msg("conference teardown failed")
	}
}

// releaseDangling frees a transfer slot the machine no longer tracks.
// The session comes off hold and the slot detaches so it has a path
// back to idle even after the in-memory request is gone.
func (m *Machine) releaseDangling(ctx context.Context, transferID, reason string) error {
	sess, err := m.sessions.FindByTransfer(ctx, transferID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// Slot is free everywhere: already-terminal abort, no-op.
			return nil
		}
		return err
	}

	if _, err := m.sessions.SetHold(ctx, sess.ID, false); err != nil {
		m.logger.Warn().Err(err).
			Str(log.FieldSessionID, sess.ID).
			Msg("failed to clear hold while releasing dangling transfer")
	}
	if err := m.sessions.DetachTransfer(ctx, sess.ID, transferID); err != nil {
		return err
	}

	metrics.IncTransferAborted(classifyAbort(reason))
	m.logger.Info().
		Str("event", "transfer.slot_released").
		Str(log.FieldTransferID, transferID).
		Str(log.FieldSessionID, sess.ID).
		Str("reason", reason).
		Msg("released dangling transfer slot")
	return nil
}

// finish applies the terminal transition, detaches the request from the
// session (idle again for future transfers) and drops the request. The
// detach runs detached from the caller's context so a cancelled request
// cannot strand the slot.
func (m *Machine) finish(ctx context.Context, transferID string, terminal State) {
	m.mu.Lock()
	req, ok := m.requests[transferID]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.transition(req, terminal)
	delete(m.requests, transferID)
	snapshot := *req
	m.mu.Unlock()

	ctx, cancel := cleanupContext(ctx)
	defer cancel()
	if err := m.sessions.DetachTransfer(ctx, snapshot.SessionID, snapshot.ID); err != nil {
		m.logger.Warn().Err(err).
			Str(log.FieldTransferID, snapshot.ID).
			Msg("transfer detach failed")
	}
	metrics.DecActiveTransfers()
}

func (m *Machine) transition(req *Request, to State) {
	m.logger.Info().
		Str("event", "transfer.transition").
		Str(log.FieldTransferID, req.ID).
		Str(log.FieldOldState, string(req.State)).
		Str(log.FieldNewState, string(to)).
		Msg("state transition")
	req.State = to
}

func hasCaller(parts []session.Participant) bool {
	for _, p := range parts {
		if p.Role == session.RoleCaller {
			return true
		}
	}
	return false
}

func validDestination(number string) bool {
	number = strings.TrimSpace(number)
	if number == "" {
		return false
	}
	for i, r := range number {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func classifyAbort(reason string) string {
	switch {
	case strings.Contains(reason, "timeout"):
		return "timeout"
	case strings.Contains(reason, "fail"):
		return "failure"
	default:
		return "user"
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
