// SPDX-License-Identifier: MIT

package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/signal"
)

// Handler reacts to close_tabs signals addressed to one identity. Terminate
// and Fallback are injected: Terminate attempts to close the browsing
// context and reports whether that worked; Fallback navigates to a
// transfer-complete view when it did not. Self-initiated window closes are
// commonly refused, so the fallback path is expected, not exceptional.
type Handler struct {
	Identity  string
	Countdown time.Duration
	Terminate func(ctx context.Context, message string) (bool, error)
	Fallback  func(ctx context.Context, message string)

	logger zerolog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) bool
}

// NewHandler creates a handler for identity with the standard countdown.
func NewHandler(identity string, countdown time.Duration) *Handler {
	if countdown <= 0 {
		countdown = 3 * time.Second
	}
	return &Handler{
		Identity:  identity,
		Countdown: countdown,
		logger:    log.WithComponent("cleanup"),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Handle processes one signal. Signals for other identities or kinds are
// ignored; expired signals are discarded so a reconnecting client never
// closes over a transfer that ended minutes ago.
func (h *Handler) Handle(ctx context.Context, sig signal.Signal) {
	if sig.Kind != signal.KindCloseTabs || sig.Target != h.Identity {
		return
	}
	if sig.IsStale(h.now()) {
		h.logger.Debug().
			Str(log.FieldIdentity, h.Identity).
			Int64("issued_at", sig.IssuedAt).
			Msg("discarding stale close signal")
		return
	}

	message, _ := sig.Payload["message"].(string)
	h.logger.Info().
		Str("event", "cleanup.closing").
		Str(log.FieldIdentity, h.Identity).
		Str("message", message).
		Msg("close signal accepted, counting down")

	if !h.sleep(ctx, h.Countdown) {
		return
	}

	closed, err := h.Terminate(ctx, message)
	if err == nil && closed {
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).
			Str(log.FieldIdentity, h.Identity).
			Msg("terminate failed, navigating away instead")
	}
	h.Fallback(ctx, message)
}

// Run consumes signals from in until ctx is cancelled or in closes.
func (h *Handler) Run(ctx context.Context, in <-chan signal.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-in:
			if !ok {
				return
			}
			h.Handle(ctx, sig)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
