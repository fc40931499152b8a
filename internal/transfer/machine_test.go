// SPDX-License-Identifier: MIT
package transfer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/warmline/warmline/internal/mediaroom"
	"github.com/warmline/warmline/internal/session"
	"github.com/warmline/warmline/internal/signal"
	"github.com/warmline/warmline/internal/summarize"
	"github.com/warmline/warmline/internal/telephony"
)

// fakeRooms implements both session.RoomService and Rooms.
type fakeRooms struct {
	mu           sync.Mutex
	participants map[string][]string
	muted        map[string]bool
	rooms        map[string]bool
	moveErr      error
	credErr      error
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		participants: make(map[string][]string),
		muted:        make(map[string]bool),
		rooms:        make(map[string]bool),
	}
}

func (f *fakeRooms) IssueCredential(_ context.Context, room, identity, _ string) (mediaroom.Credential, error) {
	if f.credErr != nil {
		return mediaroom.Credential{}, f.credErr
	}
	return mediaroom.Credential{Token: "tok-" + room + "-" + identity, Room: room}, nil
}

func (f *fakeRooms) ListParticipants(_ context.Context, room string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.participants[room]...), nil
}

func (f *fakeRooms) SetMute(_ context.Context, room, identity string, muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted[room+"/"+identity] = muted
	return nil
}

func (f *fakeRooms) CreateRoom(_ context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[room] = true
	return nil
}

func (f *fakeRooms) RemoveRoom(_ context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms, room)
	return nil
}

func (f *fakeRooms) MoveParticipant(_ context.Context, _, _, _ string) error {
	return f.moveErr
}

func (f *fakeRooms) hasRoom(room string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[room]
}

type fakePhones struct {
	mu        sync.Mutex
	dialed    []string
	dialErr   error
	legStatus telephony.LegStatus
	ended     map[string]bool
}

func newFakePhones() *fakePhones {
	return &fakePhones{legStatus: telephony.LegRinging, ended: make(map[string]bool)}
}

func (f *fakePhones) DialOut(_ context.Context, number, conferenceID, _ string) (telephony.CallRef, error) {
	if f.dialErr != nil {
		return telephony.CallRef{}, f.dialErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed = append(f.dialed, number+"->"+conferenceID)
	return telephony.CallRef{SID: "CA1", Status: "initiated"}, nil
}

func (f *fakePhones) GetLegStatus(_ context.Context, _ string) (telephony.LegStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.legStatus, nil
}

func (f *fakePhones) EndConference(_ context.Context, conferenceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended[conferenceID] = true
	return nil
}

type fakeSummarizer struct {
	fail   bool
	calls  atomic.Int64
	cancel func() // cancels the request context mid-call when set
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string, _ summarize.CallMetadata) (string, error) {
	f.calls.Add(1)
	if f.cancel != nil {
		f.cancel()
	}
	if f.fail {
		return "", summarize.ErrUnavailable
	}
	return "Summary: " + text, nil
}

type fixture struct {
	machine *Machine
	reg     *session.Registry
	rooms   *fakeRooms
	phones  *fakePhones
	sum     *fakeSummarizer
	channel *signal.Channel
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rooms := newFakeRooms()
	phones := newFakePhones()
	sum := &fakeSummarizer{}
	reg := session.NewRegistry(client, rooms)
	channel := signal.NewChannel(client)

	machine := NewMachine(Config{SignalTTL: 30 * time.Second}, reg, rooms, phones, sum, channel)
	return &fixture{machine: machine, reg: reg, rooms: rooms, phones: phones, sum: sum, channel: channel}
}

func (fx *fixture) seedSession(t *testing.T, id string, participants ...string) {
	t.Helper()
	_, err := fx.reg.Create(context.Background(), id, "caller-1")
	require.NoError(t, err)
	fx.rooms.mu.Lock()
	fx.rooms.participants[id] = participants
	fx.rooms.mu.Unlock()
}

// Scenario A: agent-mode initiation creates a consultation room, holds the
// caller and lands in Initiated.
func TestInitiateAgentMode(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID:         "room-a",
		InitiatingAgentID: "agent-a-1",
		Mode:              ModeAgent,
		Context:           "billing issue",
	})
	require.NoError(t, err)
	require.Equal(t, StateInitiated, res.Request.State)
	require.NotEmpty(t, res.Request.ConsultationRoomID)
	require.Contains(t, res.Request.ConsultationRoomID, "consult-")
	require.Equal(t, "Summary: billing issue", res.Request.Summary)
	require.False(t, res.SummaryDegraded)

	sess, err := fx.reg.Get(ctx, "room-a")
	require.NoError(t, err)
	require.True(t, sess.HoldActive)
	require.Equal(t, res.Request.ID, sess.ActiveTransferID)
	require.True(t, fx.rooms.hasRoom(res.Request.ConsultationRoomID))
}

// Scenario B: a second initiate on the same session is rejected.
func TestSecondInitiateRejected(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	_, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)

	_, err = fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-2", Mode: ModeAgent,
	})
	require.ErrorIs(t, err, ErrTransferInProgress)
}

// Concurrent initiations: exactly one winner.
func TestConcurrentInitiateExactlyOneWins(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	var wins, busy atomic.Int64
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.machine.Initiate(ctx, InitiateParams{
				SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrTransferInProgress):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
	require.EqualValues(t, racers-1, busy.Load())
}

// Scenario D: phone initiation with no caller present fails cleanly.
func TestInitiatePhoneNoCaller(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "agent-a-1") // no caller
	ctx := context.Background()

	_, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID:         "room-a",
		InitiatingAgentID: "agent-a-1",
		Mode:              ModePhone,
		DestinationNumber: "+15551234567",
	})
	require.ErrorIs(t, err, ErrNoCallerPresent)

	// Session untouched: slot free, no hold.
	sess, err := fx.reg.Get(ctx, "room-a")
	require.NoError(t, err)
	require.Empty(t, sess.ActiveTransferID)
	require.False(t, sess.HoldActive)
	require.Zero(t, fx.sum.calls.Load(), "summarizer must not run for failed preconditions")
}

func TestInitiatePhoneInvalidDestination(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")

	for _, dest := range []string{"", "  ", "call-me", "+1555x"} {
		_, err := fx.machine.Initiate(context.Background(), InitiateParams{
			SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModePhone, DestinationNumber: dest,
		})
		require.ErrorIs(t, err, ErrInvalidDestination, "destination %q", dest)
	}
}

func TestInitiatePhoneDialsOutImmediately(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")

	res, err := fx.machine.Initiate(context.Background(), InitiateParams{
		SessionID:         "room-a",
		InitiatingAgentID: "agent-a-1",
		Mode:              ModePhone,
		Context:           "escalation",
		DestinationNumber: "+15551234567",
	})
	require.NoError(t, err)
	// Phone mode has no consult step: straight to conferencing.
	require.Equal(t, StatePhoneConferencing, res.Request.State)
	require.Contains(t, res.Request.ConferenceID, "transfer-")
	require.Len(t, fx.phones.dialed, 1)
}

func TestInitiateDialFailureUnwinds(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	fx.phones.dialErr = errors.New("carrier rejected")
	ctx := context.Background()

	_, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModePhone, DestinationNumber: "+15551234567",
	})
	require.Error(t, err)

	// Safe, resumable state: slot free for the next attempt.
	sess, err := fx.reg.Get(ctx, "room-a")
	require.NoError(t, err)
	require.Empty(t, sess.ActiveTransferID)

	_, err = fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)
}

// A client disconnect mid-initiation cancels the request context while the
// slot is already reserved. Cleanup must still detach it: the next attempt
// on a fresh context has to succeed.
func TestInitiateClientDisconnectFreesSlot(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")

	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.sum.cancel = cancel

	_, err := fx.machine.Initiate(reqCtx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.Error(t, err)

	ctx := context.Background()
	sess, err := fx.reg.Get(ctx, "room-a")
	require.NoError(t, err)
	require.Empty(t, sess.ActiveTransferID)
	require.False(t, sess.HoldActive)

	fx.sum.cancel = nil
	_, err = fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)
}

// Abort must free a slot the machine no longer tracks, e.g. after a failed
// cleanup or a daemon restart left the registry pointing at a gone request.
func TestAbortReleasesUntrackedSlot(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	require.NoError(t, fx.reg.AttachTransfer(ctx, "room-a", "tr-ghost"))
	_, err := fx.reg.SetHold(ctx, "room-a", true)
	require.NoError(t, err)

	require.NoError(t, fx.machine.Abort(ctx, "tr-ghost", "cleanup recovery"))

	sess, err := fx.reg.Get(ctx, "room-a")
	require.NoError(t, err)
	require.Empty(t, sess.ActiveTransferID)
	require.False(t, sess.HoldActive)

	// Slot free again: a fresh transfer is allowed.
	_, err = fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)
}

func TestSummarizerFailureIsNonFatal(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	fx.sum.fail = true

	res, err := fx.machine.Initiate(context.Background(), InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent, Context: "billing",
	})
	require.NoError(t, err)
	require.Empty(t, res.Request.Summary)
	require.True(t, res.SummaryDegraded)
	require.Equal(t, StateInitiated, res.Request.State)
}

// Scenario C: completing from Consulting clears hold, emits close_tabs at
// the initiating agent and frees the session for future transfers.
func TestCompleteFromConsulting(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent, Context: "billing",
	})
	require.NoError(t, err)

	_, err = fx.machine.OpenConsultation(ctx, res.Request.ID)
	require.NoError(t, err)

	done, err := fx.machine.Complete(ctx, res.Request.ID, "agent-b-1")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, done.Request.State)
	require.Equal(t, "room-a", done.Credential.Room, "credential must target the original room")
	require.False(t, done.ManualJoin)

	sess, err := fx.reg.Get(ctx, "room-a")
	require.NoError(t, err)
	require.False(t, sess.HoldActive)
	require.Empty(t, sess.ActiveTransferID, "session back to idle")

	sigs, err := fx.channel.Poll(ctx, "room-a", 0)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	require.Equal(t, signal.KindCloseTabs, sigs[0].Kind)
	require.Equal(t, "agent-a-1", sigs[0].Target)
}

func TestCompleteRequiresConsulting(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)

	// Still Initiated: the consultation was never explicitly opened.
	_, err = fx.machine.Complete(ctx, res.Request.ID, "agent-b-1")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteMoveFailureFallsBackToManualJoin(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	fx.rooms.moveErr = errors.New("moves unsupported")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)
	_, err = fx.machine.OpenConsultation(ctx, res.Request.ID)
	require.NoError(t, err)

	done, err := fx.machine.Complete(ctx, res.Request.ID, "agent-b-1")
	require.NoError(t, err)
	require.True(t, done.ManualJoin)
	require.NotEmpty(t, done.Credential.Token)
}

func TestCompletePhone(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModePhone, DestinationNumber: "+15551234567",
	})
	require.NoError(t, err)

	require.NoError(t, fx.machine.SignalCallerJoin(ctx, res.Request.ID))

	req, err := fx.machine.CompletePhone(ctx, res.Request.ID)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, req.State)

	sigs, err := fx.channel.Poll(ctx, "room-a", 0)
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	kinds := map[string]string{}
	for _, s := range sigs {
		kinds[s.Kind] = s.Target
	}
	require.Equal(t, "caller-1", kinds[signal.KindJoinConference])
	require.Equal(t, "agent-a-1", kinds[signal.KindCloseTabs])
}

func TestAbortFromEveryNonTerminalState(t *testing.T) {
	ctx := context.Background()

	// From Initiated.
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)
	consultRoom := res.Request.ConsultationRoomID
	require.NoError(t, fx.machine.Abort(ctx, res.Request.ID, "agent changed mind"))

	sess, err := fx.reg.Get(ctx, "room-a")
	require.NoError(t, err)
	require.False(t, sess.HoldActive, "no residual hold")
	require.Empty(t, sess.ActiveTransferID)
	require.False(t, fx.rooms.hasRoom(consultRoom), "empty consultation room torn down")

	// From Consulting.
	fx = setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	res, err = fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)
	_, err = fx.machine.OpenConsultation(ctx, res.Request.ID)
	require.NoError(t, err)
	require.NoError(t, fx.machine.Abort(ctx, res.Request.ID, "specialist unavailable"))
	sess, _ = fx.reg.Get(ctx, "room-a")
	require.Empty(t, sess.ActiveTransferID)

	// From PhoneConferencing with an unanswered leg.
	fx = setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	res, err = fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModePhone, DestinationNumber: "+15551234567",
	})
	require.NoError(t, err)
	require.NoError(t, fx.machine.Abort(ctx, res.Request.ID, "no answer"))
	require.True(t, fx.phones.ended[res.Request.ConferenceID], "unanswered conference torn down")
}

func TestAbortIdempotent(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)

	require.NoError(t, fx.machine.Abort(ctx, res.Request.ID, "first"))
	require.NoError(t, fx.machine.Abort(ctx, res.Request.ID, "second"))
	require.NoError(t, fx.machine.Abort(ctx, "tr-unknown", "unknown id"))
}

func TestAbortKeepsOccupiedConsultationRoom(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)

	// Someone is still in the consultation room.
	fx.rooms.mu.Lock()
	fx.rooms.participants[res.Request.ConsultationRoomID] = []string{"agent-b-1"}
	fx.rooms.mu.Unlock()

	require.NoError(t, fx.machine.Abort(ctx, res.Request.ID, "caller hung up"))
	require.True(t, fx.rooms.hasRoom(res.Request.ConsultationRoomID), "occupied room must not be removed")
}

func TestAbortKeepsConnectedConference(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	fx.phones.legStatus = telephony.LegConnected
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModePhone, DestinationNumber: "+15551234567",
	})
	require.NoError(t, err)
	require.NoError(t, fx.machine.Abort(ctx, res.Request.ID, "operator abort"))
	require.False(t, fx.phones.ended[res.Request.ConferenceID], "connected conference must stay up")
}

func TestSessionReusableAfterComplete(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)
	_, err = fx.machine.OpenConsultation(ctx, res.Request.ID)
	require.NoError(t, err)
	_, err = fx.machine.Complete(ctx, res.Request.ID, "agent-b-1")
	require.NoError(t, err)

	// A further transfer on the same live session is allowed.
	_, err = fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-b-1", Mode: ModeAgent,
	})
	require.NoError(t, err)
}

func TestSweepStaleAbortsStuckConsultations(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)

	// Not stale yet.
	fx.machine.SweepStale(ctx, time.Hour)
	_, err = fx.machine.Get(res.Request.ID)
	require.NoError(t, err)

	// Pretend an hour passes.
	fx.machine.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	fx.machine.SweepStale(ctx, time.Hour)

	_, err = fx.machine.Get(res.Request.ID)
	require.ErrorIs(t, err, ErrNotFound)

	sess, err := fx.reg.Get(ctx, "room-a")
	require.NoError(t, err)
	require.Empty(t, sess.ActiveTransferID)
	require.False(t, sess.HoldActive)
}

func TestSweepDisabledByZeroTimeout(t *testing.T) {
	fx := setup(t)
	fx.seedSession(t, "room-a", "caller-1", "agent-a-1")
	ctx := context.Background()

	res, err := fx.machine.Initiate(ctx, InitiateParams{
		SessionID: "room-a", InitiatingAgentID: "agent-a-1", Mode: ModeAgent,
	})
	require.NoError(t, err)

	fx.machine.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	fx.machine.SweepStale(ctx, 0)

	_, err = fx.machine.Get(res.Request.ID)
	require.NoError(t, err, "watchdog disabled by zero timeout")
}
