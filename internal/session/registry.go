// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/metrics"
)

// RoomService is the slice of the media room collaborator the registry needs.
type RoomService interface {
	ListParticipants(ctx context.Context, room string) ([]string, error)
	SetMute(ctx context.Context, room, identity string, muted bool) error
}

const (
	keyPrefix  = "session:"
	redisOpTTL = 2 * time.Second
	recordTTL  = 24 * time.Hour
)

// Registry is the single source of truth for active call sessions.
// Records live in Redis; mutations are serialized per session ID through
// an in-process lock so attach/detach and hold updates never interleave.
type Registry struct {
	rdb    *redis.Client
	rooms  RoomService
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates a session registry on top of rdb and the media room service.
func NewRegistry(rdb *redis.Client, rooms RoomService) *Registry {
	return &Registry{
		rdb:    rdb,
		rooms:  rooms,
		logger: log.WithComponent("session"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-session mutex, creating it on first use.
// Cross-session operations proceed fully in parallel.
func (r *Registry) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Create registers a new session. It fails with ErrSessionExists if a
// non-terminal session already occupies the ID.
func (r *Registry) Create(ctx context.Context, id, callerIdentity string) (Session, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	if existing, err := r.load(ctx, id); err == nil && existing.State != StateClosed {
		return Session{}, ErrSessionExists
	} else if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}

	now := time.Now().UTC()
	s := Session{
		ID:             id,
		CallerIdentity: callerIdentity,
		State:          StateActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.store(ctx, s); err != nil {
		return Session{}, err
	}
	r.logger.Info().
		Str("event", "session.created").
		Str(log.FieldSessionID, id).
		Str(log.FieldIdentity, callerIdentity).
		Msg("session created")
	return s, nil
}

// Get returns the session record.
func (r *Registry) Get(ctx context.Context, id string) (Session, error) {
	return r.load(ctx, id)
}

// SetHold toggles hold on the caller leg. It is idempotent: requesting the
// current state is a no-op success and triggers no duplicate mute call.
func (r *Registry) SetHold(ctx context.Context, id string, on bool) (Session, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s, err := r.load(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.HoldActive == on {
		return s, nil
	}

	if err := r.rooms.SetMute(ctx, id, s.CallerIdentity, on); err != nil {
		return Session{}, fmt.Errorf("set hold: %w", err)
	}

	s.HoldActive = on
	s.UpdatedAt = time.Now().UTC()
	if err := r.store(ctx, s); err != nil {
		return Session{}, err
	}
	metrics.IncHoldToggle(on)
	r.logger.Info().
		Str("event", "session.hold").
		Str(log.FieldSessionID, id).
		Bool("hold", on).
		Msg("caller hold updated")
	return s, nil
}

// Participants re-queries the media room service on every call. Membership
// changes asynchronously; caching here would corrupt transfer decisions.
func (r *Registry) Participants(ctx context.Context, id string) ([]Participant, error) {
	identities, err := r.rooms.ListParticipants(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Participant, 0, len(identities))
	for _, identity := range identities {
		out = append(out, Participant{Identity: identity, Role: ClassifyIdentity(identity)})
	}
	return out, nil
}

// AttachTransfer reserves the session's single transfer slot. A second
// attach while one is active fails with ErrTransferInProgress.
func (r *Registry) AttachTransfer(ctx context.Context, id, transferID string) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if s.ActiveTransferID != "" && s.ActiveTransferID != transferID {
		return ErrTransferInProgress
	}
	s.ActiveTransferID = transferID
	s.UpdatedAt = time.Now().UTC()
	return r.store(ctx, s)
}

// DetachTransfer releases the transfer slot. Detaching an ID that is not
// attached is a no-op, so terminal transitions stay idempotent.
func (r *Registry) DetachTransfer(ctx context.Context, id, transferID string) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s, err := r.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	if s.ActiveTransferID != transferID {
		return nil
	}
	s.ActiveTransferID = ""
	s.UpdatedAt = time.Now().UTC()
	return r.store(ctx, s)
}

// FindByTransfer returns the session whose transfer slot holds transferID.
// It scans the record keyspace: the lookup only runs on the recovery path
// for slots whose in-memory request is gone, never per request.
func (r *Registry) FindByTransfer(ctx context.Context, transferID string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTTL)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return Session{}, fmt.Errorf("session scan: %w", err)
		}
		for _, key := range keys {
			data, err := r.rdb.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return Session{}, fmt.Errorf("session load: %w", err)
			}
			var s Session
			if err := json.Unmarshal(data, &s); err != nil {
				continue
			}
			if s.ActiveTransferID == transferID {
				return s, nil
			}
		}
		if next == 0 {
			return Session{}, ErrSessionNotFound
		}
		cursor = next
	}
}

// Close marks the session terminal once all parties have disengaged.
func (r *Registry) Close(ctx context.Context, id string) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	s.State = StateClosed
	s.ActiveTransferID = ""
	s.UpdatedAt = time.Now().UTC()
	if err := r.store(ctx, s); err != nil {
		return err
	}
	r.logger.Info().
		Str("event", "session.closed").
		Str(log.FieldSessionID, id).
		Msg("session closed")
	return nil
}

func (r *Registry) load(ctx context.Context, id string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTTL)
	defer cancel()

	data, err := r.rdb.Get(ctx, keyPrefix+id).Bytes()
	if err == redis.Nil {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session load: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("session decode: %w", err)
	}
	return s, nil
}

func (r *Registry) store(ctx context.Context, s Session) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTTL)
	defer cancel()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	if err := r.rdb.Set(ctx, keyPrefix+s.ID, data, recordTTL).Err(); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}
