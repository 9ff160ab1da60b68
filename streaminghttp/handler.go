package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/harborlane/mcpserver/auth"
	"github.com/harborlane/mcpserver/internal/jsonrpc"
	"github.com/harborlane/mcpserver/internal/jwtauth"
	"github.com/harborlane/mcpserver/internal/logctx"
	"github.com/harborlane/mcpserver/internal/wellknown"
	"github.com/harborlane/mcpserver/mcp"
	"github.com/harborlane/mcpserver/sessions"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
	postResponseTypes    = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
	getResponseTypes     = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"
)

// sessionNotFoundBody is the fixed response body for requests that name a
// missing, unknown, or deleted session. Byte-identical on every such
// rejection.
const sessionNotFoundBody = `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Bad Request: No valid session ID"},"id":null}`

// invalidTokenBody is the uniform response body for rejected bearer tokens.
// The rejection reason is logged server-side and never leaked to the caller.
const invalidTokenBody = `{"error":"Invalid token"}`

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	serverName           string
	logger               *slog.Logger
	realm                string
	authorizationServers []string
	scopesSupported      []string
}

// WithServerName sets a human-readable server name surfaced in the
// protected resource metadata document.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger sets the logger used by the handler. If not provided, logs are
// discarded.
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithRealm sets the HTTP authentication realm advertised in
// WWW-Authenticate challenges. If empty (default) the realm attribute is
// omitted per RFC 6750.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithAuthorizationServers sets the issuer URLs advertised in the protected
// resource metadata document.
func WithAuthorizationServers(issuers ...string) Option {
	return func(c *newConfig) { c.authorizationServers = issuers }
}

// WithScopesSupported sets the scopes advertised in the protected resource
// metadata document.
func WithScopesSupported(scopes ...string) Option {
	return func(c *newConfig) { c.scopesSupported = scopes }
}

// Handler implements the streamable HTTP transport over a session registry.
type Handler struct {
	mux *http.ServeMux
	log *slog.Logger

	serverURL *url.URL
	registry  *sessions.Registry
	auth      auth.Authenticator
	realm     string

	prmBytes []byte
	prmURL   *url.URL
}

// New constructs a Handler.
//
// Required:
//   - publicEndpoint: externally visible URL of the MCP endpoint
//   - registry: the session registry requests are routed through
//
// authenticator may be nil, in which case the handler runs without an
// authentication gate and does not serve the discovery document.
func New(ctx context.Context, publicEndpoint string, registry *sessions.Registry, authenticator auth.Authenticator, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}

	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	cfg := &newConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		log:       slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		serverURL: mcpURL,
		registry:  registry,
		auth:      authenticator,
		realm:     cfg.realm,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", pathOnly(mcpURL)), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", pathOnly(mcpURL)), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", pathOnly(mcpURL)), h.handleDeleteMCP)

	if authenticator != nil {
		h.prmURL = &url.URL{
			Scheme: mcpURL.Scheme,
			Host:   mcpURL.Host,
			Path:   fmt.Sprintf("/.well-known/oauth-protected-resource%s", mcpURL.Path),
		}
		// Marshaled once so repeated fetches are byte-identical.
		h.prmBytes, err = json.Marshal(wellknown.ProtectedResourceMetadata{
			Resource:               mcpURL.String(),
			AuthorizationServers:   cfg.authorizationServers,
			ScopesSupported:        cfg.scopesSupported,
			BearerMethodsSupported: []string{"authorization_header"},
			ResourceName:           cfg.serverName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode protected resource metadata: %w", err)
		}

		prmPath := pathOnly(h.prmURL)
		prmPath = strings.TrimSuffix(prmPath, "/")
		mux.HandleFunc(fmt.Sprintf("GET %s", prmPath), h.handleGetProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s", prmPath), h.handleOptionsProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("GET %s/", prmPath), h.handleGetProtectedResourceMetadata)
		mux.HandleFunc(fmt.Sprintf("OPTIONS %s/", prmPath), h.handleOptionsProtectedResourceMetadata)
	}

	h.mux = mux
	return h, nil
}

// pathOnly returns just the URL path, or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// buildBearerChallenge builds a Bearer challenge header value:
//
//	Bearer realm="...", resource_metadata="...", error="..."
//
// Realm is omitted if empty; error params are only present for rejections.
func buildBearerChallenge(realm, resourceMetadata, errCode string) string {
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	pieces := make([]string, 0, 3)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if errCode != "" {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(errCode)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

func urlIfSet(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// checkAuthentication applies the bearer-token gate. A nil return means a
// response has already been written; callers must stop. In unauthenticated
// mode every request yields an anonymous principal.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) *auth.Principal {
	if h.auth == nil {
		return &auth.Principal{}
	}

	authHeader := r.Header.Get(authorizationHeader)
	if authHeader == "" {
		// RFC 6750 §3.1: no authentication information means no error code;
		// just the challenge pointing at the discovery document.
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, urlIfSet(h.prmURL), ""))
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) || strings.TrimSpace(authHeader[len(bearerPrefix):]) == "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, urlIfSet(h.prmURL), "invalid_request"))
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])

	principal, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			// The rejection reason stays in the log. The wire carries a
			// uniform body regardless of why the token failed.
			reason, _ := jwtauth.ReasonOf(err)
			h.log.InfoContext(ctx, "auth.check.fail",
				slog.String("reason", string(reason)), slog.String("err", err.Error()))
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, urlIfSet(h.prmURL), "invalid_token"))
			w.Header().Set("Content-Type", jsonMediaType.String())
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, invalidTokenBody)
			return nil
		}

		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return nil
	}

	return principal
}

// writeSessionNotFound emits the fixed 400 body used for every missing or
// unknown session id.
func (h *Handler) writeSessionNotFound(ctx context.Context, w http.ResponseWriter) {
	h.log.InfoContext(ctx, "session.load.miss")
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusBadRequest)
	_, _ = io.WriteString(w, sessionNotFoundBody)
}

// handlePostMCP accepts client-to-server messages: session initialization,
// requests, and notifications.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	principal := h.checkAuthentication(ctx, r, w)
	if principal == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		return
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	req := msg.AsRequest()

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		// The only message admitted without a session is initialize.
		if req == nil || req.Method != mcp.InitializeMethod {
			h.writeSessionNotFound(ctx, w)
			return
		}
		h.handleInitialize(ctx, w, principal, req, start)
		return
	}

	sess, err := h.registry.GetSession(sessID)
	if err != nil {
		h.writeSessionNotFound(ctx, w)
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		Subject:   sess.Subject(),
		State:     string(sess.State()),
	})

	if req == nil {
		// Client-to-server responses have no server-initiated request to
		// correlate with; acknowledge and drop.
		h.log.WarnContext(ctx, "jsonrpc.response.unsolicited")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == mcp.InitializeMethod {
		h.log.WarnContext(ctx, "session.initialize.redundant")
		writeJSONError(w, http.StatusConflict, "session already initialized")
		return
	}

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" {
		if spv := sess.ProtocolVersion(); spv != "" && pv != spv {
			h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
			writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
			return
		}
	}

	if req.IsNotification() {
		if err := sess.HandleNotification(ctx, req); err != nil {
			h.log.ErrorContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	// Requests answer over JSON or SSE according to Accept. With no Accept
	// header at all, JSON wins.
	accepted := jsonMediaType
	if r.Header.Get("Accept") != "" {
		accepted, _, err = contenttype.GetAcceptableMediaType(r, postResponseTypes)
		if err != nil {
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
	}

	res := sess.HandleRequest(ctx, req)
	body, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}

	if accepted.Matches(eventStreamMediaType) {
		f, ok := w.(http.Flusher)
		if !ok {
			h.log.ErrorContext(ctx, "sse.flusher.missing")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

		w.Header().Set("Content-Type", eventStreamMediaType.String())
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		wf.Flush()

		if err := writeSSEEvent(wf, req.ID.String(), body); err != nil {
			h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
	} else {
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
			return
		}
	}

	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handleInitialize creates a session and runs the handshake. The new session
// id travels back in the Mcp-Session-Id response header.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, principal *auth.Principal, req *jsonrpc.Request, start time.Time) {
	var initReq mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &initReq); err != nil {
		h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
		return
	}

	sess, initRes, err := h.registry.CreateSession(ctx, principal.Subject, &initReq)
	if err != nil {
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		Subject:   principal.Subject,
		State:     string(sess.State()),
	})

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	if v := initRes.ProtocolVersion; v != "" {
		w.Header().Set(mcpProtocolVersionHeader, v)
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetMCP attaches a standing SSE stream carrying server-initiated
// notifications for the session.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, getResponseTypes); err != nil {
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		w.WriteHeader(http.StatusNotAcceptable)
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	principal := h.checkAuthentication(ctx, r, w)
	if principal == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.writeSessionNotFound(ctx, w)
		return
	}
	sess, err := h.registry.GetSession(sessID)
	if err != nil {
		h.writeSessionNotFound(ctx, w)
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: sess.ID(),
		Subject:   sess.Subject(),
		State:     string(sess.State()),
	})

	stream, detach, err := sess.Subscribe()
	if err != nil {
		h.log.WarnContext(ctx, "sse.stream.conflict", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusConflict, "session already has an active stream")
		return
	}
	defer detach()

	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case n, ok := <-stream:
			if !ok {
				// Session was deleted out from under the stream.
				h.log.InfoContext(ctx, "sse.stream.closed", slog.Duration("dur", time.Since(start)))
				return
			}
			b, err := json.Marshal(n)
			if err != nil {
				h.log.ErrorContext(ctx, "sse.marshal.fail", slog.String("err", err.Error()))
				continue
			}
			if err := writeSSEEvent(wf, "", b); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.DebugContext(ctx, "sse.message.deliver", slog.String("method", n.Method))
		}
	}
}

// handleDeleteMCP terminates an existing session.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	principal := h.checkAuthentication(ctx, r, w)
	if principal == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.writeSessionNotFound(ctx, w)
		return
	}

	if err := h.registry.DeleteSession(ctx, sessID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			h.writeSessionNotFound(ctx, w)
			return
		}
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// handleGetProtectedResourceMetadata serves the pre-marshaled OAuth 2.0
// Protected Resource Metadata document. No authentication; repeated fetches
// are byte-identical.
func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", jsonMediaType.String())
	_, _ = w.Write(h.prmBytes)
}

func (h *Handler) handleOptionsProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before
// a JSON-RPC exchange is possible. This is transport-level, not JSON-RPC
// framing.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and avoids
// writing after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	// Re-check after acquiring the lock to minimize races with cancellation
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent writes one Server-Sent Event frame and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, eventID string, payload []byte) error {
	if eventID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", eventID); err != nil {
			return fmt.Errorf("failed to write SSE event ID: %w", err)
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
