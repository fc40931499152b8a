// SPDX-License-Identifier: MIT

// Package api is the client-facing HTTP surface. Handlers are thin: decode,
// delegate to the orchestration core, map typed errors onto statuses. Every
// operation answers with a result object carrying a typed outcome, never a
// bare boolean.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/mediaroom"
	"github.com/warmline/warmline/internal/session"
	"github.com/warmline/warmline/internal/signal"
	"github.com/warmline/warmline/internal/telephony"
	"github.com/warmline/warmline/internal/transfer"
)

// Sessions is the slice of the session registry the API needs.
type Sessions interface {
	Create(ctx context.Context, id, callerIdentity string) (session.Session, error)
	Get(ctx context.Context, id string) (session.Session, error)
	SetHold(ctx context.Context, id string, on bool) (session.Session, error)
	Participants(ctx context.Context, id string) ([]session.Participant, error)
	Close(ctx context.Context, id string) error
}

// Transfers is the orchestration core surface exposed over HTTP.
type Transfers interface {
	Initiate(ctx context.Context, p transfer.InitiateParams) (transfer.InitiateResult, error)
	Get(transferID string) (transfer.Request, error)
	OpenConsultation(ctx context.Context, transferID string) (transfer.Request, error)
	Complete(ctx context.Context, transferID, newAgentID string) (transfer.CompleteResult, error)
	CompletePhone(ctx context.Context, transferID string) (transfer.Request, error)
	SignalCallerJoin(ctx context.Context, transferID string) error
	Abort(ctx context.Context, transferID, reason string) error
}

// Bridges is the conference bridge controller surface.
type Bridges interface {
	Join(ctx context.Context, identity, conferenceID string) error
	Leave(ctx context.Context, identity string) error
	PhoneLegStatus(ctx context.Context, conferenceID string) (telephony.LegStatus, error)
}

// Signals is the poll side of the signal channel.
type Signals interface {
	Poll(ctx context.Context, channelKey string, sinceMillis int64) ([]signal.Signal, error)
}

// Tokens issues media room credentials.
type Tokens interface {
	IssueCredential(ctx context.Context, room, identity, role string) (mediaroom.Credential, error)
}

// Notifier publishes role-ended close signals.
type Notifier interface {
	NotifyRoleEnded(ctx context.Context, sessionID, identity, reason string) error
}

// Config carries the HTTP surface policy knobs.
type Config struct {
	// RateLimitRequests per RateLimitWindow per client IP; zero disables.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// RateLimitBurst caps requests per second per client IP on top of the
	// sustained window; zero disables the burst cap.
	RateLimitBurst int
	// SignalPollInterval is advertised to polling clients as their cadence.
	SignalPollInterval time.Duration
}

// Server holds the handler dependencies.
type Server struct {
	cfg       Config
	sessions  Sessions
	transfers Transfers
	bridges   Bridges
	signals   Signals
	tokens    Tokens
	notifier  Notifier
	logger    zerolog.Logger
}

// NewServer wires the HTTP surface against its collaborators.
func NewServer(cfg Config, sessions Sessions, transfers Transfers, bridges Bridges, signals Signals, tokens Tokens, notifier Notifier) *Server {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.SignalPollInterval <= 0 {
		cfg.SignalPollInterval = 2 * time.Second
	}
	return &Server{
		cfg:       cfg,
		sessions:  sessions,
		transfers: transfers,
		bridges:   bridges,
		signals:   signals,
		tokens:    tokens,
		notifier:  notifier,
		logger:    log.WithComponent("api"),
	}
}

// Router builds the chi router with the canonical middleware stack:
// recoverer outermost, then correlation, metrics, logging, rate limit.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(httpMetrics)
	r.Use(requestLogger)
	if s.cfg.RateLimitRequests > 0 {
		r.Use(rateLimit(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
	}
	if s.cfg.RateLimitBurst > 0 {
		r.Use(rateLimit(s.cfg.RateLimitBurst, time.Second))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}/participants", s.handleParticipants)
		r.Post("/sessions/{id}/hold", s.handleHold)
		r.Post("/sessions/{id}/close", s.handleCloseSession)

		r.Post("/transfers", s.handleInitiateTransfer)
		r.Get("/transfers/{id}", s.handleGetTransfer)
		r.Post("/transfers/{id}/consultation/open", s.handleOpenConsultation)
		r.Post("/transfers/{id}/complete", s.handleCompleteTransfer)
		r.Post("/transfers/{id}/caller/join", s.handleSignalCallerJoin)
		r.Post("/transfers/{id}/abort", s.handleAbortTransfer)

		r.Post("/conferences/{id}/join", s.handleConferenceJoin)
		r.Post("/conferences/{id}/leave", s.handleConferenceLeave)
		r.Get("/conferences/{id}/leg", s.handleConferenceLeg)

		r.Get("/signals/{channel}", s.handlePollSignals)
		r.Post("/tokens", s.handleIssueToken)
	})
	return r
}
