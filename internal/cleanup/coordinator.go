// SPDX-License-Identifier: MIT

// Package cleanup closes out superseded participants. The server side
// publishes targeted close_tabs signals when a role ends; the client side
// consumes them, counts down briefly so the agent sees why, and then
// terminates the browsing context, falling back to a navigation when the
// context refuses to close itself.
package cleanup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/signal"
)

// Publisher is the slice of the signal channel the coordinator needs.
type Publisher interface {
	Publish(ctx context.Context, channelKey string, sig signal.Signal) error
}

// Coordinator publishes role-ended notifications.
type Coordinator struct {
	signals   Publisher
	signalTTL time.Duration
	logger    zerolog.Logger
}

// NewCoordinator wires the coordinator against the signal channel.
func NewCoordinator(signals Publisher, signalTTL time.Duration) *Coordinator {
	if signalTTL <= 0 {
		signalTTL = 30 * time.Second
	}
	return &Coordinator{
		signals:   signals,
		signalTTL: signalTTL,
		logger:    log.WithComponent("cleanup"),
	}
}

// NotifyRoleEnded tells one participant their part in the session is over.
// The signal is timestamped and expires, so a participant who reconnects
// long after the transfer sees nothing.
func (c *Coordinator) NotifyRoleEnded(ctx context.Context, sessionID, identity, reason string) error {
	sig := signal.New(signal.KindCloseTabs, identity, map[string]any{
		"message": reason,
	}, c.signalTTL)
	if err := c.signals.Publish(ctx, sessionID, sig); err != nil {
		return err
	}
	c.logger.Info().
		Str("event", "cleanup.role_ended").
		Str(log.FieldSessionID, sessionID).
		Str(log.FieldIdentity, identity).
		Msg("close signal published")
	return nil
}
