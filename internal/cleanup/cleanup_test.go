// SPDX-License-Identifier: MIT

package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warmline/warmline/internal/signal"
)

type capturePublisher struct {
	mu      sync.Mutex
	signals []signal.Signal
	keys    []string
	err     error
}

func (p *capturePublisher) Publish(_ context.Context, channelKey string, sig signal.Signal) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	p.keys = append(p.keys, channelKey)
	return nil
}

func TestNotifyRoleEnded(t *testing.T) {
	pub := &capturePublisher{}
	coord := NewCoordinator(pub, 30*time.Second)

	err := coord.NotifyRoleEnded(context.Background(), "room-a", "agent-a-1", "Transfer complete.")
	require.NoError(t, err)
	require.Len(t, pub.signals, 1)

	sig := pub.signals[0]
	require.Equal(t, "room-a", pub.keys[0])
	require.Equal(t, signal.KindCloseTabs, sig.Kind)
	require.Equal(t, "agent-a-1", sig.Target)
	require.Equal(t, "Transfer complete.", sig.Payload["message"])
	require.Equal(t, 30, sig.TTL)
	require.InDelta(t, time.Now().UnixMilli(), sig.IssuedAt, 2000, "signal must be timestamped now")
}

func TestNotifyRoleEndedPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("redis down")}
	coord := NewCoordinator(pub, 30*time.Second)

	err := coord.NotifyRoleEnded(context.Background(), "room-a", "agent-a-1", "bye")
	require.Error(t, err)
}

type handlerHarness struct {
	h          *Handler
	mu         sync.Mutex
	terminated []string
	fallbacks  []string
	closeOK    bool
	closeErr   error
}

func newHandlerHarness(identity string) *handlerHarness {
	hh := &handlerHarness{closeOK: true}
	h := NewHandler(identity, 3*time.Second)
	h.sleep = func(context.Context, time.Duration) bool { return true } // instant countdown
	h.Terminate = func(_ context.Context, message string) (bool, error) {
		hh.mu.Lock()
		defer hh.mu.Unlock()
		hh.terminated = append(hh.terminated, message)
		return hh.closeOK, hh.closeErr
	}
	h.Fallback = func(_ context.Context, message string) {
		hh.mu.Lock()
		defer hh.mu.Unlock()
		hh.fallbacks = append(hh.fallbacks, message)
	}
	hh.h = h
	return hh
}

func TestHandlerClosesOnFreshSignal(t *testing.T) {
	hh := newHandlerHarness("agent-a-1")

	sig := signal.New(signal.KindCloseTabs, "agent-a-1", map[string]any{"message": "done"}, 30*time.Second)
	hh.h.Handle(context.Background(), sig)

	require.Equal(t, []string{"done"}, hh.terminated)
	require.Empty(t, hh.fallbacks, "no fallback when the close succeeded")
}

func TestHandlerFallsBackWhenCloseRefused(t *testing.T) {
	hh := newHandlerHarness("agent-a-1")
	hh.closeOK = false // browsers routinely refuse self-initiated closes

	sig := signal.New(signal.KindCloseTabs, "agent-a-1", map[string]any{"message": "done"}, 30*time.Second)
	hh.h.Handle(context.Background(), sig)

	require.Len(t, hh.terminated, 1)
	require.Equal(t, []string{"done"}, hh.fallbacks)
}

func TestHandlerFallsBackOnTerminateError(t *testing.T) {
	hh := newHandlerHarness("agent-a-1")
	hh.closeErr = errors.New("window gone")

	sig := signal.New(signal.KindCloseTabs, "agent-a-1", nil, 30*time.Second)
	hh.h.Handle(context.Background(), sig)

	require.Len(t, hh.fallbacks, 1)
}

func TestHandlerDiscardsStaleSignal(t *testing.T) {
	hh := newHandlerHarness("agent-a-1")

	sig := signal.New(signal.KindCloseTabs, "agent-a-1", nil, 30*time.Second)
	hh.h.now = func() time.Time { return time.Now().Add(time.Minute) }
	hh.h.Handle(context.Background(), sig)

	require.Empty(t, hh.terminated, "expired signal must be discarded")
	require.Empty(t, hh.fallbacks)
}

func TestHandlerIgnoresOtherTargetsAndKinds(t *testing.T) {
	hh := newHandlerHarness("agent-a-1")

	hh.h.Handle(context.Background(), signal.New(signal.KindCloseTabs, "agent-b-1", nil, 30*time.Second))
	hh.h.Handle(context.Background(), signal.New(signal.KindJoinConference, "agent-a-1", nil, 30*time.Second))

	require.Empty(t, hh.terminated)
	require.Empty(t, hh.fallbacks)
}

func TestHandlerCountdownAbortsOnCancel(t *testing.T) {
	hh := newHandlerHarness("agent-a-1")
	hh.h.sleep = sleepCtx // real countdown, cancelled context

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hh.h.Handle(ctx, signal.New(signal.KindCloseTabs, "agent-a-1", nil, 30*time.Second))

	require.Empty(t, hh.terminated, "cancelled countdown must not terminate")
}

func TestHandlerRunConsumesChannel(t *testing.T) {
	hh := newHandlerHarness("agent-a-1")

	in := make(chan signal.Signal, 2)
	in <- signal.New(signal.KindCloseTabs, "agent-a-1", map[string]any{"message": "one"}, 30*time.Second)
	close(in)

	hh.h.Run(context.Background(), in)
	require.Equal(t, []string{"one"}, hh.terminated)
}
