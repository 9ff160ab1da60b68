package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/harborlane/mcpserver/mcp"
)

// ErrSessionNotFound indicates the session id is unknown, expired, or was
// deleted. Deleted ids are never resurrected.
var ErrSessionNotFound = errors.New("sessions: session not found")

// Factory constructs the capability handler for a newly created session.
// It is invoked once per session so handlers never share mutable state.
type Factory func(ctx context.Context, sess *Session) (Handler, error)

// Registry is the authoritative, mutex-guarded map of live sessions. All
// lookups and mutations go through it.
type Registry struct {
	log     *slog.Logger
	factory Factory

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry that builds session handlers with
// the given factory.
func NewRegistry(log *slog.Logger, factory Factory) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		log:      log,
		factory:  factory,
		sessions: make(map[string]*Session),
	}
}

// CreateSession mints a new session with an unguessable id, runs the
// initialize handshake, and registers the session only once it is Active.
// Lookups never observe an uninitialized session.
func (r *Registry) CreateSession(ctx context.Context, subject string, init *mcp.InitializeRequest) (*Session, *mcp.InitializeResult, error) {
	id := uuid.NewString()
	sess := &Session{
		id:      id,
		subject: subject,
		state:   StateUninitialized,
		log:     r.log.With(slog.String("session_id", id)),
	}

	handler, err := r.factory(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	sess.handler = handler

	res, err := sess.initialize(ctx, init)
	if err != nil {
		_ = sess.close(ctx)
		return nil, nil, err
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.log.DebugContext(ctx, "session.create", slog.String("session_id", id))
	return sess, res, nil
}

// GetSession looks up a live session by id.
func (r *Registry) GetSession(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// DeleteSession removes and closes the session. Subsequent lookups for the
// id fail with ErrSessionNotFound.
func (r *Registry) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	r.log.DebugContext(ctx, "session.delete", slog.String("session_id", id))
	return sess.close(ctx)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Broadcast emits a notification on every live session's stream,
// best-effort per session.
func (r *Registry) Broadcast(ctx context.Context, method string, params any) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess)
	}
	r.mu.Unlock()

	for _, sess := range all {
		sess.Notify(ctx, method, params)
	}
}

// CloseAll drains the registry, closing every session. Used at shutdown.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for _, sess := range all {
		if err := sess.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
