// Package sessions owns the mapping between opaque session identifiers and
// live protocol transports, and the per-session JSON-RPC dispatch state
// machine.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/harborlane/mcpserver/internal/jsonrpc"
	"github.com/harborlane/mcpserver/mcp"
)

// State is the lifecycle state of a session.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateClosed        State = "closed"
)

// ErrMethodNotFound is returned by Handler implementations for unknown
// method names. The transport converts it into a -32601 error response.
var ErrMethodNotFound = errors.New("method not found")

// ErrStreamOccupied indicates the session already has a standing
// server-to-client stream attached.
var ErrStreamOccupied = errors.New("sessions: stream already attached")

// HandlerError lets capability handlers report a failure with a specific
// JSON-RPC error code. Any other handler error is reported as -32000 with
// the error's message.
type HandlerError struct {
	Code    jsonrpc.ErrorCode
	Message string
}

func (e *HandlerError) Error() string { return e.Message }

// Handler is the capability surface registered against one session. A fresh
// Handler is constructed per session; sessions never share mutable business
// state.
type Handler interface {
	// Initialize performs the protocol handshake for the session.
	Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error)
	// Dispatch routes one request to the named method and returns its result.
	Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error)
	// DispatchNotification routes one notification. No response is produced.
	DispatchNotification(ctx context.Context, method string, params json.RawMessage) error
	// Close releases per-session resources.
	Close(ctx context.Context) error
}

// notifyBufferSize bounds the per-session outbound notification buffer.
// When the buffer is full (or no stream is attached) notifications are
// dropped, never queued without bound.
const notifyBufferSize = 16

// Session binds one logical client conversation to a protocol transport.
// Envelope processing for a session is serialized; concurrent requests for
// the same session id are handled one at a time.
type Session struct {
	id      string
	subject string
	log     *slog.Logger

	handler Handler

	mu              sync.Mutex
	state           State
	protocolVersion string

	streamMu sync.Mutex
	stream   chan *jsonrpc.Request
	dropped  atomic.Int64
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// Subject returns the principal subject the session was created under, or
// empty for unauthenticated deployments.
func (s *Session) Subject() string { return s.subject }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ProtocolVersion returns the negotiated protocol version, empty before
// initialization.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// initialize runs the handshake and transitions the session to Active. Only
// the registry calls this, before the session is visible to lookups.
func (s *Session) initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUninitialized {
		return nil, fmt.Errorf("session %s is %s, expected %s", s.id, s.state, StateUninitialized)
	}

	res, err := s.handler.Initialize(ctx, req)
	if err != nil {
		return nil, err
	}

	s.state = StateActive
	s.protocolVersion = res.ProtocolVersion
	return res, nil
}

// HandleRequest processes one request envelope and returns exactly one
// response with the matching id. Envelope-level failures are encoded as
// JSON-RPC error responses, never as Go errors; nothing here is fatal to
// the session.
func (s *Session) HandleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerError,
			fmt.Sprintf("session is %s", s.state), nil)
	}

	result, err := s.handler.Dispatch(ctx, req.Method, req.Params)
	if err != nil {
		return s.errorResponse(ctx, req, err)
	}

	res, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		s.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	return res
}

func (s *Session) errorResponse(ctx context.Context, req *jsonrpc.Request, err error) *jsonrpc.Response {
	var he *HandlerError
	switch {
	case errors.Is(err, ErrMethodNotFound):
		s.log.InfoContext(ctx, "rpc.method.unknown", slog.String("method", req.Method))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method), nil)
	case errors.As(err, &he):
		return jsonrpc.NewErrorResponse(req.ID, he.Code, he.Message, nil)
	default:
		s.log.WarnContext(ctx, "rpc.handler.fail",
			slog.String("method", req.Method), slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerError, err.Error(), nil)
	}
}

// HandleNotification processes one notification envelope. Unknown methods
// are ignored (there is no response to carry an error).
func (s *Session) HandleNotification(ctx context.Context, req *jsonrpc.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return fmt.Errorf("session is %s", s.state)
	}

	if err := s.handler.DispatchNotification(ctx, req.Method, req.Params); err != nil {
		if errors.Is(err, ErrMethodNotFound) {
			s.log.InfoContext(ctx, "notification.method.unknown", slog.String("method", req.Method))
			return nil
		}
		return err
	}
	return nil
}

// Notify emits a server-initiated notification on the session's streaming
// channel. Delivery is best-effort: with no stream attached, or with a full
// buffer, the notification is dropped with a warning.
func (s *Session) Notify(ctx context.Context, method string, params any) {
	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		s.log.ErrorContext(ctx, "notification.encode.fail",
			slog.String("method", method), slog.String("err", err.Error()))
		return
	}

	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if s.stream == nil {
		s.dropped.Add(1)
		s.log.DebugContext(ctx, "notification.drop.no_stream", slog.String("method", method))
		return
	}
	select {
	case s.stream <- n:
	default:
		s.dropped.Add(1)
		s.log.WarnContext(ctx, "notification.drop.buffer_full",
			slog.String("method", method), slog.Int64("dropped_total", s.dropped.Load()))
	}
}

// DroppedNotifications reports how many server-initiated notifications were
// dropped for lack of an attached or drained stream.
func (s *Session) DroppedNotifications() int64 { return s.dropped.Load() }

// Subscribe attaches the caller as the session's single streaming consumer.
// The returned detach func releases the slot; the channel is closed when the
// session closes.
func (s *Session) Subscribe() (<-chan *jsonrpc.Request, func(), error) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	if s.stream != nil {
		return nil, nil, ErrStreamOccupied
	}

	ch := make(chan *jsonrpc.Request, notifyBufferSize)
	s.stream = ch

	detach := func() {
		s.streamMu.Lock()
		defer s.streamMu.Unlock()
		if s.stream == ch {
			s.stream = nil
		}
	}
	return ch, detach, nil
}

// close transitions the session to Closed, ends any attached stream, and
// releases the handler. Idempotent.
func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.streamMu.Lock()
	if s.stream != nil {
		close(s.stream)
		s.stream = nil
	}
	s.streamMu.Unlock()

	return s.handler.Close(ctx)
}
