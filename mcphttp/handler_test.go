package mcphttp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentskills/skillhost/auth"
	"github.com/agentskills/skillhost/auth/authtest"
	"github.com/agentskills/skillhost/internal/jsonrpc"
	"github.com/agentskills/skillhost/internal/sessionstore"
	"github.com/agentskills/skillhost/mcp"
	"github.com/agentskills/skillhost/mcphttp"
	"github.com/agentskills/skillhost/mcpservice"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"required"`
}

func testTools() *mcpservice.ToolsContainer {
	echo := mcpservice.NewTool("echo", func(ctx context.Context, caller *auth.Principal, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
		w.AppendText(fmt.Sprintf("%s says %s", caller.UserID, r.Args().Message))
		return nil
	}, mcpservice.WithToolDescription("Echoes the message back."))
	return mcpservice.NewToolsContainer(echo)
}

func newTestServer(t *testing.T, provider auth.Provider) *httptest.Server {
	t.Helper()
	h, err := mcphttp.New("http://mcp.test/mcp", sessionstore.NewMemoryStore(time.Minute), testTools(), provider,
		mcphttp.WithServerInfo(mcp.ImplementationInfo{Name: "skillhost-test", Version: "0.0.1"}),
		mcphttp.WithRealm("mcp"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func postMessage(t *testing.T, srv *httptest.Server, sessID, token string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sessID != "" {
		req.Header.Set("Mcp-Session-Id", sessID)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return res
}

func initializeSession(t *testing.T, srv *httptest.Server, token string) string {
	t.Helper()
	res := postMessage(t, srv, "", token, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LatestProtocolVersion,
			"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
		},
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d, want 200", res.StatusCode)
	}
	sessID := res.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatal("expected Mcp-Session-Id header on initialize response")
	}
	return sessID
}

// readSSEResponse extracts the single JSON-RPC response from an SSE body.
func readSSEResponse(t *testing.T, res *http.Response) *jsonrpc.Response {
	t.Helper()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	sc := bufio.NewScanner(res.Body)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var out jsonrpc.Response
			if err := json.Unmarshal([]byte(data), &out); err != nil {
				t.Fatalf("unmarshal SSE data: %v", err)
			}
			return &out
		}
	}
	t.Fatal("no data frame in SSE response")
	return nil
}

func TestInitializeCreatesSession(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{UserID: "alice@example.com"})

	res := postMessage(t, srv, "", "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LatestProtocolVersion,
			"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
		},
	})
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if res.Header.Get("Mcp-Session-Id") == "" {
		t.Error("expected Mcp-Session-Id header")
	}
	if got := res.Header.Get("Mcp-Protocol-Version"); got != mcp.LatestProtocolVersion {
		t.Errorf("Mcp-Protocol-Version = %q, want %q", got, mcp.LatestProtocolVersion)
	}

	var resp jsonrpc.Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var initRes mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if initRes.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Errorf("protocolVersion = %q, want %q", initRes.ProtocolVersion, mcp.LatestProtocolVersion)
	}
	if initRes.ServerInfo.Name != "skillhost-test" {
		t.Errorf("serverInfo.name = %q, want skillhost-test", initRes.ServerInfo.Name)
	}
	if initRes.Capabilities.Tools == nil {
		t.Error("expected tools capability to be advertised")
	}
}

func TestInitializeNegotiatesUnknownProtocolVersion(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})

	res := postMessage(t, srv, "", "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  map[string]any{"protocolVersion": "1999-01-01"},
	})
	defer res.Body.Close()

	if got := res.Header.Get("Mcp-Protocol-Version"); got != mcp.LatestProtocolVersion {
		t.Errorf("negotiated version = %q, want %q", got, mcp.LatestProtocolVersion)
	}
}

func TestPostRequiresInitializeWithoutSession(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})

	res := postMessage(t, srv, "", "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/list",
	})
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestPostRejectsNonJSONContentType(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader("hi"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer tok")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", res.StatusCode)
	}
}

func TestPostRejectsBatchMessages(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/mcp", strings.NewReader(`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestMissingAuthorizationChallenges(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})

	res := postMessage(t, srv, "", "", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
	})
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
	chal := res.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(chal, "Bearer ") {
		t.Fatalf("WWW-Authenticate = %q, want Bearer challenge", chal)
	}
	if !strings.Contains(chal, "resource_metadata=") {
		t.Errorf("challenge %q missing resource_metadata", chal)
	}
	if strings.Contains(chal, "error=") {
		t.Errorf("bare challenge %q should not carry an error code", chal)
	}
}

func TestInvalidTokenChallenges(t *testing.T) {
	verifier := authtest.NewStaticVerifier(map[string]*auth.Principal{
		"good": {Token: "good", UserID: "alice@example.com"},
	})
	srv := newTestServer(t, &staticProvider{verifier: verifier})

	res := postMessage(t, srv, "", "bad", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
	})
	defer res.Body.Close()

	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
	if chal := res.Header.Get("WWW-Authenticate"); !strings.Contains(chal, `error="invalid_token"`) {
		t.Errorf("challenge %q missing invalid_token", chal)
	}
}

func TestInsufficientScopeChallenges(t *testing.T) {
	srv := newTestServer(t, &staticProvider{
		verifier: &authtest.ErrVerifier{Err: fmt.Errorf("%w: missing skills.read", auth.ErrInsufficientScope)},
		scopes:   []string{"skills.read"},
	})

	res := postMessage(t, srv, "", "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
	})
	defer res.Body.Close()

	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", res.StatusCode)
	}
	chal := res.Header.Get("WWW-Authenticate")
	if !strings.Contains(chal, `error="insufficient_scope"`) {
		t.Errorf("challenge %q missing insufficient_scope", chal)
	}
	if !strings.Contains(chal, `scope="skills.read"`) {
		t.Errorf("challenge %q missing scope param", chal)
	}
}

func TestToolsListAndCall(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{UserID: "alice@example.com"})
	sessID := initializeSession(t, srv, "tok")

	listRes := postMessage(t, srv, sessID, "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	defer listRes.Body.Close()
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("tools/list status = %d, want 200", listRes.StatusCode)
	}
	resp := readSSEResponse(t, listRes)
	if resp.Error != nil {
		t.Fatalf("tools/list error: %+v", resp.Error)
	}
	var listOut mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &listOut); err != nil {
		t.Fatalf("decode tools/list result: %v", err)
	}
	if len(listOut.Tools) != 1 || listOut.Tools[0].Name != "echo" {
		t.Fatalf("tools = %+v, want single echo tool", listOut.Tools)
	}

	callRes := postMessage(t, srv, sessID, "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      3,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      "echo",
			"arguments": map[string]any{"message": "hello"},
		},
	})
	defer callRes.Body.Close()
	resp = readSSEResponse(t, callRes)
	if resp.Error != nil {
		t.Fatalf("tools/call error: %+v", resp.Error)
	}
	var callOut mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &callOut); err != nil {
		t.Fatalf("decode tools/call result: %v", err)
	}
	if len(callOut.Content) != 1 || callOut.Content[0].Text != "alice@example.com says hello" {
		t.Fatalf("call result = %+v", callOut)
	}
}

func TestUnknownToolReturnsRPCError(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})
	sessID := initializeSession(t, srv, "tok")

	res := postMessage(t, srv, sessID, "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/call",
		"params":  map[string]any{"name": "nope"},
	})
	defer res.Body.Close()
	resp := readSSEResponse(t, res)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("error = %+v, want invalid params", resp.Error)
	}
}

func TestUnknownMethodReturnsRPCError(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})
	sessID := initializeSession(t, srv, "tok")

	res := postMessage(t, srv, sessID, "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "resources/list",
	})
	defer res.Body.Close()
	resp := readSSEResponse(t, res)
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("error = %+v, want method not found", resp.Error)
	}
}

func TestNotificationAccepted(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})
	sessID := initializeSession(t, srv, "tok")

	res := postMessage(t, srv, sessID, "tok", map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", res.StatusCode)
	}
}

func TestRedundantInitializeConflicts(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})
	sessID := initializeSession(t, srv, "tok")

	res := postMessage(t, srv, sessID, "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "initialize",
		"params":  map[string]any{"protocolVersion": mcp.LatestProtocolVersion},
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", res.StatusCode)
	}
}

func TestSessionIsScopedToUser(t *testing.T) {
	verifier := authtest.NewStaticVerifier(map[string]*auth.Principal{
		"alice-token": {Token: "alice-token", UserID: "alice@example.com"},
		"bob-token":   {Token: "bob-token", UserID: "bob@example.com"},
	})
	srv := newTestServer(t, &staticProvider{verifier: verifier})
	sessID := initializeSession(t, srv, "alice-token")

	res := postMessage(t, srv, sessID, "bob-token", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})
	sessID := initializeSession(t, srv, "tok")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/mcp", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set("Mcp-Session-Id", sessID)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", res.StatusCode)
	}

	after := postMessage(t, srv, sessID, "tok", map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "ping",
	})
	defer after.Body.Close()
	if after.StatusCode != http.StatusNotFound {
		t.Fatalf("post-delete status = %d, want 404", after.StatusCode)
	}
}

func TestGetMCPNotAllowed(t *testing.T) {
	srv := newTestServer(t, &authtest.UnsecuredProvider{})

	res, err := srv.Client().Get(srv.URL + "/mcp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", res.StatusCode)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	srv := newTestServer(t, &staticProvider{
		verifier: authtest.NewStaticVerifier(nil),
		issuer:   "https://issuer.example.com",
		scopes:   []string{"openid", "email"},
	})

	res, err := srv.Client().Get(srv.URL + "/.well-known/oauth-protected-resource/mcp")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	var doc struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
		ScopesSupported      []string `json:"scopes_supported"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if doc.Resource != "http://mcp.test/mcp" {
		t.Errorf("resource = %q", doc.Resource)
	}
	if len(doc.AuthorizationServers) != 1 || doc.AuthorizationServers[0] != "https://issuer.example.com" {
		t.Errorf("authorization_servers = %v", doc.AuthorizationServers)
	}
	if len(doc.ScopesSupported) != 2 {
		t.Errorf("scopes_supported = %v", doc.ScopesSupported)
	}
}

func TestProviderMiddlewareAppliedToMCPRoutes(t *testing.T) {
	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Provider-Middleware", "seen")
			next.ServeHTTP(w, r)
		})
	}
	srv := newTestServer(t, &staticProvider{
		verifier:   authtest.NewStaticVerifier(nil),
		middleware: []func(http.Handler) http.Handler{tag},
	})

	res, err := srv.Client().Get(srv.URL + "/mcp")
	if err != nil {
		t.Fatalf("get mcp: %v", err)
	}
	res.Body.Close()
	if res.Header.Get("X-Provider-Middleware") != "seen" {
		t.Error("provider middleware not applied to MCP endpoint")
	}

	res, err = srv.Client().Get(srv.URL + "/.well-known/oauth-protected-resource/mcp")
	if err != nil {
		t.Fatalf("get metadata: %v", err)
	}
	res.Body.Close()
	if res.Header.Get("X-Provider-Middleware") != "" {
		t.Error("provider middleware must not wrap the metadata document")
	}
}

// staticProvider adapts a bare TokenVerifier into an auth.Provider for tests.
type staticProvider struct {
	verifier   auth.TokenVerifier
	issuer     string
	scopes     []string
	middleware []func(http.Handler) http.Handler
}

var _ auth.Provider = (*staticProvider)(nil)

func (s *staticProvider) VerifyToken(ctx context.Context, token string) (*auth.Principal, error) {
	return s.verifier.VerifyToken(ctx, token)
}

func (s *staticProvider) Routes(r chi.Router) {}

func (s *staticProvider) Middleware() []func(http.Handler) http.Handler { return s.middleware }

func (s *staticProvider) BaseURL() string {
	if s.issuer != "" {
		return s.issuer
	}
	return "https://issuer.invalid"
}

func (s *staticProvider) RequiredScopes() []string { return s.scopes }
