// SPDX-License-Identifier: MIT

package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/metrics"
	"github.com/warmline/warmline/internal/telephony"
)

// Config carries the controller's timing policy. Zero values take the
// production defaults.
type Config struct {
	// RetryBackoff is the wait before re-registering after a recoverable
	// signaling error.
	RetryBackoff time.Duration
	// RestartBackoff is the wait before a full teardown-and-rejoin.
	RestartBackoff time.Duration
	// RefreshInterval is the credential refresh cadence. It must be
	// shorter than the credential lifetime.
	RefreshInterval time.Duration
	// SettleDelay is the wait between destroying a stale device and
	// registering its replacement. Registering while the old signaling
	// connection is still draining yields a dead handle.
	SettleDelay time.Duration
	// EscalationWindow bounds recoverable-error retries: a second fault
	// inside the window escalates to a full restart.
	EscalationWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 3 * time.Second
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = 5 * time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 3 * time.Hour
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.EscalationWindow <= 0 {
		c.EscalationWindow = 8 * time.Second
	}
}

// binding is one identity's owned device plus its supervision lifecycle.
type binding struct {
	identity     string
	conferenceID string
	device       Device
	cancel       context.CancelFunc
	done         chan struct{}
}

// Controller owns at most one device per identity and supervises each one
// until Leave or an unrecoverable failure path replaces it.
type Controller struct {
	cfg       Config
	creds     Credentials
	registrar Registrar
	phones    Phones
	logger    zerolog.Logger

	mu      sync.Mutex
	devices map[string]*binding
}

// NewController wires the bridge controller against its collaborators.
func NewController(cfg Config, creds Credentials, registrar Registrar, phones Phones) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:       cfg,
		creds:     creds,
		registrar: registrar,
		phones:    phones,
		logger:    log.WithComponent("bridge"),
		devices:   make(map[string]*binding),
	}
}

// Join registers a fresh device for identity and connects it to the
// conference. Any prior device for the identity is destroyed first and the
// controller waits for the old connection to drain before re-registering.
// On failure the partial device is destroyed and ErrJoinFailed is returned.
func (c *Controller) Join(ctx context.Context, identity, conferenceID string) error {
	if c.dropExisting(identity) {
		// The replaced device's signaling connection needs time to drain;
		// an immediate re-register binds to the dying handle.
		if !sleepCtx(ctx, c.cfg.SettleDelay) {
			return ctx.Err()
		}
	}

	cred, err := c.creds.IssueBridgeCredential(ctx, identity, conferenceID)
	if err != nil {
		metrics.IncBridgeJoin("failure")
		return fmt.Errorf("%w: issue credential: %w", ErrJoinFailed, err)
	}

	dev, err := c.registrar.New(ctx, cred)
	if err != nil {
		metrics.IncBridgeJoin("failure")
		return fmt.Errorf("%w: create device: %w", ErrJoinFailed, err)
	}
	if err := dev.Register(ctx); err != nil {
		dev.Destroy()
		metrics.IncBridgeJoin("failure")
		return fmt.Errorf("%w: register: %w", ErrJoinFailed, err)
	}
	if err := dev.Connect(ctx, conferenceID); err != nil {
		dev.Destroy()
		metrics.IncBridgeJoin("failure")
		return fmt.Errorf("%w: connect: %w", ErrJoinFailed, err)
	}

	superviseCtx, cancel := context.WithCancel(context.Background())
	b := &binding{
		identity:     identity,
		conferenceID: conferenceID,
		device:       dev,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	c.mu.Lock()
	c.devices[identity] = b
	c.mu.Unlock()

	go c.supervise(superviseCtx, b)

	metrics.IncBridgeJoin("success")
	c.logger.Info().
		Str("event", "bridge.joined").
		Str(log.FieldIdentity, identity).
		Str(log.FieldConferenceID, conferenceID).
		Msg("device registered and connected")
	return nil
}

// Leave disconnects and destroys the identity's device. Leaving an identity
// with no device is a no-op success.
func (c *Controller) Leave(ctx context.Context, identity string) error {
	b := c.detach(identity)
	if b == nil {
		return nil
	}
	b.cancel()
	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.device.Destroy()
	c.logger.Info().
		Str("event", "bridge.left").
		Str(log.FieldIdentity, identity).
		Msg("device destroyed")
	return nil
}

// Joined reports whether identity currently has a live device.
func (c *Controller) Joined(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.devices[identity]
	return ok
}

// PhoneLegStatus reports the dialed phone leg status of a conference.
func (c *Controller) PhoneLegStatus(ctx context.Context, conferenceID string) (telephony.LegStatus, error) {
	return c.phones.GetLegStatus(ctx, conferenceID)
}

// supervise runs the per-device loop: credential refresh on a ticker and
// fault handling from the device's error channel. It exits when the binding
// is cancelled or the device is being replaced.
func (c *Controller) supervise(ctx context.Context, b *binding) {
	defer close(b.done)

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	var lastFault time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			c.refresh(ctx, b)

		case devErr, ok := <-b.device.Errors():
			if !ok {
				return
			}
			now := time.Now()
			repeated := !lastFault.IsZero() && now.Sub(lastFault) < c.cfg.EscalationWindow
			lastFault = now

			if !devErr.Recoverable() || repeated {
				c.logger.Warn().
					Int("code", devErr.Code).
					Bool("repeated", repeated).
					Str(log.FieldIdentity, b.identity).
					Msg("escalating device fault to full restart")
				c.restart(ctx, b)
				return
			}

			c.logger.Warn().
				Int("code", devErr.Code).
				Str(log.FieldIdentity, b.identity).
				Msg("recoverable signaling fault, re-registering")
			if !sleepCtx(ctx, c.cfg.RetryBackoff) {
				return
			}
			if err := b.device.Register(ctx); err != nil {
				c.logger.Warn().Err(err).
					Str(log.FieldIdentity, b.identity).
					Msg("re-register failed")
				c.restart(ctx, b)
				return
			}
		}
	}
}

// refresh mints a fresh credential and rotates it into the device. Failure
// is logged and retried on the next tick; the call is never torn down over
// a refresh miss, the current credential stays valid until its expiry.
func (c *Controller) refresh(ctx context.Context, b *binding) {
	cred, err := c.creds.IssueBridgeCredential(ctx, b.identity, b.conferenceID)
	if err != nil {
		metrics.IncCredentialRefresh("failure")
		c.logger.Warn().Err(err).
			Str(log.FieldIdentity, b.identity).
			Msg("credential refresh failed, will retry next tick")
		return
	}
	b.device.UpdateToken(cred.Token)
	metrics.IncCredentialRefresh("success")
	c.logger.Debug().
		Str(log.FieldIdentity, b.identity).
		Time("expires_at", cred.ExpiresAt).
		Msg("credential refreshed")
}

// restart tears the binding down and rejoins from scratch after the restart
// backoff. Called from the supervision goroutine on unrecoverable faults.
func (c *Controller) restart(ctx context.Context, b *binding) {
	c.mu.Lock()
	if c.devices[b.identity] == b {
		delete(c.devices, b.identity)
	}
	c.mu.Unlock()
	b.device.Destroy()

	if !sleepCtx(ctx, c.cfg.RestartBackoff) {
		return
	}
	metrics.IncBridgeJoin("restart")
	if err := c.Join(ctx, b.identity, b.conferenceID); err != nil {
		c.logger.Error().Err(err).
			Str(log.FieldIdentity, b.identity).
			Str(log.FieldConferenceID, b.conferenceID).
			Msg("bridge restart failed")
	}
}

// dropExisting removes and destroys any current device for identity.
func (c *Controller) dropExisting(identity string) bool {
	b := c.detach(identity)
	if b == nil {
		return false
	}
	b.cancel()
	<-b.done
	b.device.Destroy()
	return true
}

func (c *Controller) detach(identity string) *binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.devices[identity]
	if !ok {
		return nil
	}
	delete(c.devices, identity)
	return b
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
