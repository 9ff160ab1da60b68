package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/harborlane/mcpserver/internal/jsonrpc"
	"github.com/harborlane/mcpserver/mcp"
)

// echoHandler answers "echo" with its params and knows nothing else.
type echoHandler struct {
	closed       bool
	initErr      error
	onInitialize func()
}

func (h *echoHandler) Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if h.onInitialize != nil {
		h.onInitialize()
	}
	if h.initErr != nil {
		return nil, h.initErr
	}
	return &mcp.InitializeResult{
		ProtocolVersion: mcp.NegotiateProtocolVersion(req.ProtocolVersion),
		ServerInfo:      mcp.Implementation{Name: "test-server", Version: "0.0.1"},
	}, nil
}

func (h *echoHandler) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "echo":
		return json.RawMessage(params), nil
	case "boom":
		return nil, fmt.Errorf("storage offline")
	case "teapot":
		return nil, &HandlerError{Code: -32042, Message: "short and stout"}
	}
	return nil, ErrMethodNotFound
}

func (h *echoHandler) DispatchNotification(ctx context.Context, method string, params json.RawMessage) error {
	if method == mcp.InitializedNotificationMethod {
		return nil
	}
	return ErrMethodNotFound
}

func (h *echoHandler) Close(ctx context.Context) error {
	h.closed = true
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *echoHandler) {
	t.Helper()
	h := &echoHandler{}
	reg := NewRegistry(nil, func(ctx context.Context, sess *Session) (Handler, error) {
		return h, nil
	})
	return reg, h
}

func createSession(t *testing.T, reg *Registry, subject string) *Session {
	t.Helper()
	sess, _, err := reg.CreateSession(context.Background(), subject, &mcp.InitializeRequest{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo:      mcp.Implementation{Name: "test-client", Version: "0.0.1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return sess
}

func TestSessionLifecycle(t *testing.T) {
	reg, h := newTestRegistry(t)
	ctx := context.Background()

	sess, res, err := reg.CreateSession(ctx, "client-123", &mcp.InitializeRequest{
		ProtocolVersion: "2025-03-26",
		ClientInfo:      mcp.Implementation{Name: "test-client", Version: "0.0.1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ID() == "" {
		t.Fatal("session id must be non-empty")
	}
	if res.ProtocolVersion != "2025-03-26" {
		t.Errorf("supported version must be echoed, got %s", res.ProtocolVersion)
	}
	if sess.State() != StateActive {
		t.Fatalf("want %s, got %s", StateActive, sess.State())
	}
	if sess.Subject() != "client-123" {
		t.Errorf("subject: %q", sess.Subject())
	}

	got, err := reg.GetSession(sess.ID())
	if err != nil || got != sess {
		t.Fatalf("lookup: got %v, %v", got, err)
	}

	// A second handshake on the same session must fail.
	if _, err := sess.initialize(ctx, &mcp.InitializeRequest{}); err == nil {
		t.Fatal("re-initialize must fail")
	}

	if err := reg.DeleteSession(ctx, sess.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !h.closed {
		t.Error("handler must be closed on delete")
	}
	if _, err := reg.GetSession(sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("deleted session must not resurrect, got %v", err)
	}
	if err := reg.DeleteSession(ctx, sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("double delete must report not found, got %v", err)
	}
}

func TestSessionInvisibleUntilActive(t *testing.T) {
	// A concurrent lookup racing the handshake must miss: the id becomes
	// resolvable only once the session is Active.
	var reg *Registry
	h := &echoHandler{}
	var sessID string
	h.onInitialize = func() {
		if _, err := reg.GetSession(sessID); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("session visible mid-handshake, lookup err: %v", err)
		}
	}
	reg = NewRegistry(nil, func(ctx context.Context, sess *Session) (Handler, error) {
		sessID = sess.ID()
		return h, nil
	})

	sess := createSession(t, reg, "")
	if sess.State() != StateActive {
		t.Fatalf("want %s, got %s", StateActive, sess.State())
	}
	if _, err := reg.GetSession(sess.ID()); err != nil {
		t.Fatalf("active session must be resolvable: %v", err)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	reg, _ := newTestRegistry(t)
	seen := make(map[string]bool)
	for range 100 {
		sess := createSession(t, reg, "")
		if seen[sess.ID()] {
			t.Fatalf("duplicate session id %s", sess.ID())
		}
		seen[sess.ID()] = true
	}
	if reg.Len() != 100 {
		t.Fatalf("want 100 sessions, got %d", reg.Len())
	}
}

func TestCreateSessionFactoryFailure(t *testing.T) {
	reg := NewRegistry(nil, func(ctx context.Context, sess *Session) (Handler, error) {
		return nil, fmt.Errorf("no backing store")
	})
	if _, _, err := reg.CreateSession(context.Background(), "", &mcp.InitializeRequest{}); err == nil {
		t.Fatal("factory failure must propagate")
	}
	if reg.Len() != 0 {
		t.Fatal("failed creation must not register a session")
	}
}

func TestCreateSessionHandshakeFailure(t *testing.T) {
	h := &echoHandler{initErr: fmt.Errorf("capability setup failed")}
	reg := NewRegistry(nil, func(ctx context.Context, sess *Session) (Handler, error) {
		return h, nil
	})

	if _, _, err := reg.CreateSession(context.Background(), "", &mcp.InitializeRequest{}); err == nil {
		t.Fatal("handshake failure must propagate")
	}
	if reg.Len() != 0 {
		t.Fatal("failed handshake must not register a session")
	}
	if !h.closed {
		t.Error("handler must be closed when the handshake fails")
	}
}

func TestHandleRequestDispatch(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sess := createSession(t, reg, "client-123")
	ctx := context.Background()

	mkReq := func(id int64, method string, params any) *jsonrpc.Request {
		req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, params)
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		return req
	}

	res := sess.HandleRequest(ctx, mkReq(1, "echo", map[string]string{"hello": "world"}))
	if res.Error != nil {
		t.Fatalf("echo failed: %v", res.Error)
	}
	var echoed map[string]string
	if err := json.Unmarshal(res.Result, &echoed); err != nil || echoed["hello"] != "world" {
		t.Fatalf("echo result mismatch: %s (%v)", res.Result, err)
	}

	res = sess.HandleRequest(ctx, mkReq(2, "no/such/method", nil))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("unknown method must yield -32601, got %v", res.Error)
	}

	res = sess.HandleRequest(ctx, mkReq(3, "boom", nil))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeServerError {
		t.Fatalf("handler failure must yield -32000, got %v", res.Error)
	}
	if res.Error.Message != "storage offline" {
		t.Errorf("handler message must survive, got %q", res.Error.Message)
	}

	res = sess.HandleRequest(ctx, mkReq(4, "teapot", nil))
	if res.Error == nil || res.Error.Code != -32042 {
		t.Fatalf("HandlerError code must survive, got %v", res.Error)
	}
}

func TestHandleRequestBeforeInitialize(t *testing.T) {
	// The state machine still guards dispatch even though the registry never
	// hands out uninitialized sessions.
	sess := &Session{
		id:      "s-1",
		state:   StateUninitialized,
		log:     slog.New(slog.DiscardHandler),
		handler: &echoHandler{},
	}

	req, _ := jsonrpc.NewRequest(jsonrpc.NewRequestID(int64(1)), "echo", nil)
	res := sess.HandleRequest(context.Background(), req)
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeServerError {
		t.Fatalf("pre-initialize request must fail, got %v", res.Error)
	}
}

func TestNotifyDropsWithoutSubscriber(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sess := createSession(t, reg, "")
	ctx := context.Background()

	sess.Notify(ctx, mcp.ToolsListChangedNotificationMethod, nil)
	if got := sess.DroppedNotifications(); got != 1 {
		t.Fatalf("want 1 dropped notification, got %d", got)
	}
}

func TestNotifyDeliversToSubscriber(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sess := createSession(t, reg, "")
	ctx := context.Background()

	ch, detach, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer detach()

	if _, _, err := sess.Subscribe(); !errors.Is(err, ErrStreamOccupied) {
		t.Fatalf("second subscriber must be refused, got %v", err)
	}

	sess.Notify(ctx, mcp.ResourcesListChangedNotificationMethod, nil)
	n := <-ch
	if n.Method != mcp.ResourcesListChangedNotificationMethod {
		t.Fatalf("want list_changed notification, got %s", n.Method)
	}
	if !n.IsNotification() {
		t.Fatal("server-initiated message must be a notification")
	}
}

func TestNotifyDropsNewestWhenBufferFull(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sess := createSession(t, reg, "")
	ctx := context.Background()

	_, detach, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer detach()

	// No reader: fill the buffer and then one more.
	for i := 0; i < notifyBufferSize+5; i++ {
		sess.Notify(ctx, mcp.ToolsListChangedNotificationMethod, nil)
	}
	if got := sess.DroppedNotifications(); got != 5 {
		t.Fatalf("want 5 dropped, got %d", got)
	}
}

func TestSubscribeAfterDetach(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sess := createSession(t, reg, "")

	_, detach, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	detach()

	ch, detach2, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("re-subscribe after detach: %v", err)
	}
	defer detach2()
	if ch == nil {
		t.Fatal("re-subscribe must return a channel")
	}
}

func TestDeleteClosesStream(t *testing.T) {
	reg, _ := newTestRegistry(t)
	sess := createSession(t, reg, "")

	ch, _, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := reg.DeleteSession(context.Background(), sess.ID()); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("stream must be closed when the session is deleted")
	}
	if sess.State() != StateClosed {
		t.Fatalf("want %s, got %s", StateClosed, sess.State())
	}
}

func TestBroadcastReachesAllStreams(t *testing.T) {
	reg, _ := newTestRegistry(t)
	a := createSession(t, reg, "")
	b := createSession(t, reg, "")

	chA, detachA, _ := a.Subscribe()
	defer detachA()
	chB, detachB, _ := b.Subscribe()
	defer detachB()

	reg.Broadcast(context.Background(), mcp.ResourcesListChangedNotificationMethod, nil)

	for _, ch := range []<-chan *jsonrpc.Request{chA, chB} {
		n := <-ch
		if n.Method != mcp.ResourcesListChangedNotificationMethod {
			t.Fatalf("want broadcast notification, got %s", n.Method)
		}
	}
}

func TestCloseAll(t *testing.T) {
	reg, h := newTestRegistry(t)
	createSession(t, reg, "")
	createSession(t, reg, "")

	if err := reg.CloseAll(context.Background()); err != nil {
		t.Fatalf("close all: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry must be empty, has %d", reg.Len())
	}
	if !h.closed {
		t.Error("handlers must be closed")
	}
}
