// Package stdio implements the stdio transport: newline-delimited JSON-RPC
// messages over a reader/writer pair, serving exactly one session.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/harborlane/mcpserver/internal/jsonrpc"
	"github.com/harborlane/mcpserver/mcp"
	"github.com/harborlane/mcpserver/sessions"
)

// maxLineBytes bounds a single JSON-RPC line on the stdio transport.
const maxLineBytes = 4 * 1024 * 1024

// Handler is a single-connection stdio transport. It reads JSON-RPC
// messages from a reader and writes responses and server-initiated
// notifications to a writer. The transport is session-scoped: the first
// initialize request creates the one session served for the lifetime of
// the connection.
type Handler struct {
	r   io.Reader
	w   io.Writer
	log *slog.Logger

	registry *sessions.Registry

	writeMu sync.Mutex
}

// NewHandler constructs a stdio Handler serving sessions built by factory.
// Defaults to os.Stdin and os.Stdout.
func NewHandler(factory sessions.Factory, opts ...Option) *Handler {
	h := &Handler{
		r:   os.Stdin,
		w:   os.Stdout,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.registry = sessions.NewRegistry(h.log, factory)
	return h
}

// Serve runs the stdio event loop until EOF on the reader or context
// cancellation. Safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() { _ = h.registry.CloseAll(context.Background()) }()

	var sess *sessions.Session

	scanner := bufio.NewScanner(h.r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
			h.writeMessage(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil))
			continue
		}

		req := msg.AsRequest()
		if req == nil {
			// Responses from the peer have nothing to correlate with.
			h.log.WarnContext(ctx, "jsonrpc.response.unsolicited")
			continue
		}

		if req.Method == mcp.InitializeMethod {
			if sess != nil {
				h.writeMessage(ctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerError, "session already initialized", nil))
				continue
			}
			var err error
			sess, err = h.initialize(ctx, req)
			if err != nil {
				h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
				h.writeMessage(ctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerError, err.Error(), nil))
			}
			continue
		}

		if sess == nil {
			if req.IsNotification() {
				continue
			}
			h.writeMessage(ctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeServerError, "expected initialize request", nil))
			continue
		}

		if req.IsNotification() {
			if err := sess.HandleNotification(ctx, req); err != nil {
				h.log.WarnContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
			}
			continue
		}

		h.writeMessage(ctx, sess.HandleRequest(ctx, req))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdio read: %w", err)
	}
	return nil
}

// initialize creates the connection's single session, answers the handshake,
// and starts pumping server-initiated notifications to the writer.
func (h *Handler) initialize(ctx context.Context, req *jsonrpc.Request) (*sessions.Session, error) {
	var initReq mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &initReq); err != nil {
		return nil, fmt.Errorf("invalid initialize params: %w", err)
	}

	sess, initRes, err := h.registry.CreateSession(ctx, "", &initReq)
	if err != nil {
		return nil, err
	}

	res, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		_ = h.registry.DeleteSession(ctx, sess.ID())
		return nil, err
	}
	h.writeMessage(ctx, res)

	stream, _, err := sess.Subscribe()
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-stream:
				if !ok {
					return
				}
				h.writeMessage(ctx, n)
			}
		}
	}()

	return sess, nil
}

// writeMessage writes one newline-terminated JSON-RPC message. Writes from
// the read loop and the notification pump are serialized.
func (h *Handler) writeMessage(ctx context.Context, msg any) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.ErrorContext(ctx, "jsonrpc.marshal.fail", slog.String("err", err.Error()))
		return
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(append(b, '\n')); err != nil {
		h.log.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}
