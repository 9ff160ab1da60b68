package streaminghttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harborlane/mcpserver/auth"
	"github.com/harborlane/mcpserver/mcp"
	"github.com/harborlane/mcpserver/mcpservice"
	"github.com/harborlane/mcpserver/sessions"
)

// allowAuth accepts every token as the same principal.
type allowAuth struct{}

func (a *allowAuth) CheckAuthentication(ctx context.Context, tok string) (*auth.Principal, error) {
	return &auth.Principal{Subject: "user-1", Scopes: []string{"notes:read"}}, nil
}

// denyAuth rejects every token.
type denyAuth struct{}

func (a *denyAuth) CheckAuthentication(ctx context.Context, tok string) (*auth.Principal, error) {
	return nil, fmt.Errorf("%w: signature verification failed", auth.ErrUnauthorized)
}

type echoArgs struct {
	Message string `json:"message"`
}

func newTestEnv(t *testing.T, authenticator auth.Authenticator, opts ...Option) (*httptest.Server, *sessions.Registry) {
	t.Helper()

	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo("test-server", "1.0.0"),
		mcpservice.WithToolsContainer(mcpservice.NewToolsContainer(
			mcpservice.NewTool("echo", func(ctx context.Context, args echoArgs) (*mcp.CallToolResult, error) {
				return mcpservice.TextResult(args.Message), nil
			}),
		)),
	)
	registry := sessions.NewRegistry(nil, srv.SessionFactory())
	srv.ConnectRegistry(registry)

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	h, err := New(t.Context(), ts.URL, registry, authenticator, opts...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	handler = h
	return ts, registry
}

func doRPC(t *testing.T, ts *httptest.Server, sessID string, body string, hdrs map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-token")
	if sessID != "" {
		req.Header.Set("Mcp-Session-Id", sessID)
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return res
}

const initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test","version":"0"}}}`

func initializeSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res := doRPC(t, ts, "", initializeBody, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(res.Body)
		t.Fatalf("initialize status %d: %s", res.StatusCode, b)
	}
	sessID := res.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatal("initialize response must carry Mcp-Session-Id")
	}
	return sessID
}

func TestInitializeHandshake(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})

	res := doRPC(t, ts, "", initializeBody, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", res.StatusCode)
	}
	if got := res.Header.Get("Mcp-Protocol-Version"); got != "2025-06-18" {
		t.Errorf("protocol version header: %q", got)
	}

	var rpc struct {
		Result mcp.InitializeResult `json:"result"`
		ID     int                  `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rpc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rpc.ID != 1 {
		t.Errorf("response id must match request, got %d", rpc.ID)
	}
	if rpc.Result.ServerInfo.Name != "test-server" {
		t.Errorf("server info: %+v", rpc.Result.ServerInfo)
	}
	if rpc.Result.Capabilities.Tools == nil {
		t.Error("tools capability must be advertised")
	}
}

func TestRequestRoutedToSession(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})
	sessID := initializeSession(t, ts)

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`
	res := doRPC(t, ts, sessID, body, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("default response media type must be JSON, got %s", ct)
	}

	var rpc struct {
		Result mcp.CallToolResult `json:"result"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rpc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rpc.Result.Content) != 1 || rpc.Result.Content[0].Text != "hi" {
		t.Fatalf("unexpected result: %+v", rpc.Result)
	}
}

func TestRequestAnsweredOverSSEWhenAccepted(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})
	sessID := initializeSession(t, ts)

	body := `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"message":"sse"}}}`
	res := doRPC(t, ts, sessID, body, map[string]string{"Accept": "text/event-stream"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("want SSE content type, got %s", ct)
	}

	raw, _ := io.ReadAll(res.Body)
	frame := string(raw)
	if !strings.Contains(frame, "id: 7\n") {
		t.Errorf("SSE frame must carry the request id, got %q", frame)
	}
	if !strings.Contains(frame, `"sse"`) {
		t.Errorf("SSE frame must carry the result, got %q", frame)
	}
}

func TestUnknownSessionYieldsFixed400Body(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
	for _, sessID := range []string{"no-such-session", ""} {
		res := doRPC(t, ts, sessID, body, nil)
		got, _ := io.ReadAll(res.Body)
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("session %q: status %d", sessID, res.StatusCode)
		}
		if strings.TrimSpace(string(got)) != sessionNotFoundBody {
			t.Fatalf("session %q: body %q, want %q", sessID, got, sessionNotFoundBody)
		}
	}
}

func TestDeletedSessionNeverResurrected(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("delete status: %d", res.StatusCode)
	}

	// Same id again: fixed 400 body, both for RPC and for a second DELETE.
	rpcRes := doRPC(t, ts, sessID, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`, nil)
	got, _ := io.ReadAll(rpcRes.Body)
	rpcRes.Body.Close()
	if rpcRes.StatusCode != http.StatusBadRequest || strings.TrimSpace(string(got)) != sessionNotFoundBody {
		t.Fatalf("deleted session must 400 with fixed body, got %d %q", rpcRes.StatusCode, got)
	}

	res2, err := ts.Client().Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusBadRequest {
		t.Fatalf("second delete status: %d", res2.StatusCode)
	}
}

func TestNotificationAccepted(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})
	sessID := initializeSession(t, ts)

	res := doRPC(t, ts, sessID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("notification status: %d", res.StatusCode)
	}
}

func TestMissingTokenChallenged(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{}, WithRealm("mcp"))

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/", strings.NewReader(initializeBody))
	req.Header.Set("Content-Type", "application/json")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: %d", res.StatusCode)
	}
	challenge := res.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(challenge, "Bearer ") {
		t.Fatalf("challenge: %q", challenge)
	}
	if !strings.Contains(challenge, `realm="mcp"`) {
		t.Errorf("challenge must carry realm: %q", challenge)
	}
	wantPRM := ts.URL + "/.well-known/oauth-protected-resource"
	if !strings.Contains(challenge, `resource_metadata="`+wantPRM+`"`) {
		t.Errorf("challenge must point at the discovery document: %q", challenge)
	}
	if strings.Contains(challenge, "error=") {
		t.Errorf("missing-credential challenge must omit error code: %q", challenge)
	}

	// The advertised URL must actually serve the discovery document.
	mdRes, err := ts.Client().Get(wantPRM)
	if err != nil {
		t.Fatalf("get discovery document: %v", err)
	}
	defer mdRes.Body.Close()
	if mdRes.StatusCode != http.StatusOK {
		t.Fatalf("advertised discovery URL status: %d", mdRes.StatusCode)
	}
	doc, _ := io.ReadAll(mdRes.Body)
	if !strings.Contains(string(doc), `"resource"`) {
		t.Errorf("discovery document body: %q", doc)
	}
}

func TestRejectedTokenUniformBody(t *testing.T) {
	ts, _ := newTestEnv(t, &denyAuth{})

	res := doRPC(t, ts, "", initializeBody, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status: %d", res.StatusCode)
	}
	body, _ := io.ReadAll(res.Body)
	if strings.TrimSpace(string(body)) != invalidTokenBody {
		t.Fatalf("rejection body must be uniform, got %q", body)
	}
	if s := string(body); strings.Contains(s, "signature") {
		t.Errorf("rejection reason must not leak to the client: %q", s)
	}
	if challenge := res.Header.Get("WWW-Authenticate"); !strings.Contains(challenge, `error="invalid_token"`) {
		t.Errorf("challenge must carry invalid_token: %q", challenge)
	}
}

func TestAnonymousModeSkipsGate(t *testing.T) {
	ts, _ := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/", strings.NewReader(initializeBody))
	req.Header.Set("Content-Type", "application/json")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("anonymous initialize must succeed, got %d", res.StatusCode)
	}
}

func TestProtectedResourceMetadataIdempotent(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{},
		WithServerName("notes"),
		WithAuthorizationServers("https://issuer.example.com/"),
		WithScopesSupported("notes:read", "notes:write"),
	)

	fetch := func() []byte {
		res, err := ts.Client().Get(ts.URL + "/.well-known/oauth-protected-resource/")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status: %d", res.StatusCode)
		}
		b, _ := io.ReadAll(res.Body)
		return b
	}

	first := fetch()
	second := fetch()
	if !bytes.Equal(first, second) {
		t.Fatalf("discovery document must be byte-identical across fetches:\n%s\n%s", first, second)
	}

	var doc struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
		ScopesSupported      []string `json:"scopes_supported"`
	}
	if err := json.Unmarshal(first, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Resource != ts.URL {
		t.Errorf("resource: %q", doc.Resource)
	}
	if len(doc.AuthorizationServers) != 1 || doc.AuthorizationServers[0] != "https://issuer.example.com/" {
		t.Errorf("authorization_servers: %v", doc.AuthorizationServers)
	}
	if len(doc.ScopesSupported) != 2 {
		t.Errorf("scopes_supported: %v", doc.ScopesSupported)
	}

	// CORS preflight
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/.well-known/oauth-protected-resource/", nil)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status: %d", res.StatusCode)
	}
	if res.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight must allow any origin")
	}
}

func TestGetStreamDeliversNotifications(t *testing.T) {
	ts, registry := newTestEnv(t, &allowAuth{})
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessID)

	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", res.StatusCode)
	}

	// The subscriber is attached before the 200 is written, so the broadcast
	// below cannot race the stream setup.
	registry.Broadcast(context.Background(), mcp.ToolsListChangedNotificationMethod, nil)

	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			if !strings.Contains(line, mcp.ToolsListChangedNotificationMethod) {
				t.Fatalf("unexpected stream payload: %q", line)
			}
			return
		}
	}
	t.Fatalf("no SSE data frame received: %v", scanner.Err())
}

func TestGetStreamRejectsBadAccept(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Mcp-Session-Id", sessID)

	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("want 406 for non-SSE accept, got %d", res.StatusCode)
	}
}

func TestBatchArraysForbidden(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})
	res := doRPC(t, ts, "", `[`+initializeBody+`]`, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("batch status: %d", res.StatusCode)
	}
}

func TestWrongContentTypeRejected(t *testing.T) {
	ts, _ := newTestEnv(t, &allowAuth{})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/", strings.NewReader(initializeBody))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer test-token")
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("want 415, got %d", res.StatusCode)
	}
}
