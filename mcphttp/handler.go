// Package mcphttp implements the streamable HTTP transport for the skill
// server. A single handler serves the MCP endpoint, the OAuth protected
// resource metadata document, and any routes the auth provider contributes.
package mcphttp

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
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agentskills/skillhost/auth"
	"github.com/agentskills/skillhost/internal/jsonrpc"
	"github.com/agentskills/skillhost/internal/logctx"
	"github.com/agentskills/skillhost/internal/sessionstore"
	"github.com/agentskills/skillhost/internal/wellknown"
	"github.com/agentskills/skillhost/mcp"
	"github.com/agentskills/skillhost/mcpservice"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections that
// happen before a JSON-RPC exchange is possible. This is transport-level,
// not JSON-RPC framing.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	serverInfo   mcp.ImplementationInfo
	instructions string
	logger       *slog.Logger
	realm        string
}

// WithServerInfo sets the implementation info returned during initialization
// and the resource name advertised in discovery metadata.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(c *newConfig) { c.serverInfo = info }
}

// WithInstructions sets the server instructions returned during initialization.
func WithInstructions(s string) Option {
	return func(c *newConfig) { c.instructions = s }
}

// WithLogger sets the slog logger used by the handler. If not provided, logs
// are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRealm sets the HTTP authentication realm advertised in WWW-Authenticate
// challenges. If empty (default) the realm attribute is omitted.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// buildBearerChallenge builds a Bearer challenge header value. Go map
// iteration is randomized, so the well-known params are emitted in a fixed
// order and any extras follow.
func buildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 2+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if v, ok := params["error"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
	}
	if v, ok := params["error_description"]; ok {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
	}
	if v, ok := params["scope"]; ok {
		pieces = append(pieces, fmt.Sprintf(`scope="%s"`, esc(v)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// Handler serves the streamable HTTP transport of the Model Context
// Protocol, scoped to the tools surface.
type Handler struct {
	router chi.Router
	log    *slog.Logger

	serverURL      *url.URL
	prmDocument    wellknown.ProtectedResourceMetadata
	prmDocumentURL *url.URL

	provider auth.Provider
	sessions sessionstore.Store
	tools    *mcpservice.ToolsContainer

	serverInfo   mcp.ImplementationInfo
	instructions string
	realm        string
}

// lockedWriteFlusher serializes writes and flushes to the SSE stream and
// refuses to write after the request context is canceled.
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

// New constructs a Handler.
//
// Required:
//   - publicEndpoint: externally visible URL of the MCP endpoint (scheme, host, path)
//   - sessions: session store (memory or Redis)
//   - tools: the tool set exposed to clients
//   - provider: auth provider; its routes are mounted alongside the MCP endpoint
func New(publicEndpoint string, sessions sessionstore.Store, tools *mcpservice.ToolsContainer, provider auth.Provider, opts ...Option) (*Handler, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tools container is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("auth provider is required")
	}

	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	cfg := &newConfig{
		serverInfo: mcp.ImplementationInfo{Name: "skillhost", Version: "dev"},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		log:          slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		serverURL:    mcpURL,
		provider:     provider,
		sessions:     sessions,
		tools:        tools,
		serverInfo:   cfg.serverInfo,
		instructions: cfg.instructions,
		realm:        cfg.realm,
	}

	var authServers []string
	if issuer := provider.BaseURL(); issuer != "" {
		authServers = []string{issuer}
	}
	h.prmDocument = wellknown.ProtectedResourceMetadata{
		Resource:               mcpURL.String(),
		AuthorizationServers:   authServers,
		ScopesSupported:        provider.RequiredScopes(),
		BearerMethodsSupported: []string{"authorization_header"},
		ResourceName:           cfg.serverInfo.Name,
	}
	h.prmDocumentURL = &url.URL{
		Scheme: mcpURL.Scheme,
		Host:   mcpURL.Host,
		Path:   "/.well-known/oauth-protected-resource" + mcpURL.Path,
	}

	r := chi.NewRouter()
	mcpPath := pathOnly(mcpURL)
	r.Group(func(r chi.Router) {
		// Provider middleware wraps only the protected MCP endpoint, not
		// the metadata documents or the provider's own flow routes.
		for _, mw := range provider.Middleware() {
			r.Use(mw)
		}
		r.Post(mcpPath, h.handlePostMCP)
		r.Get(mcpPath, h.handleGetMCP)
		r.Delete(mcpPath, h.handleDeleteMCP)
	})
	r.Get(pathOnly(h.prmDocumentURL), h.handleGetProtectedResourceMetadata)
	r.Options(pathOnly(h.prmDocumentURL), h.handleOptionsProtectedResourceMetadata)
	provider.Routes(r)
	h.router = r
	return h, nil
}

// pathOnly returns just the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// handlePostMCP accepts MCP messages from the client and establishes sessions.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	caller := h.checkAuthentication(ctx, r, w)
	if caller == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are forbidden on streaming HTTP transport")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.handleInitialize(ctx, w, r, caller, &msg, start)
		return
	}

	sess, err := h.sessions.Get(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "session not found")
			h.log.InfoContext(ctx, "session.load.miss")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		return
	}
	if sess.UserID != caller.UserID {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.user.mismatch")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID, UserID: sess.UserID})

	req := msg.AsRequest()
	if req != nil && req.Method == string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		return
	}

	if req == nil {
		// Client responses have no server-side counterpart on this trimmed
		// surface; acknowledge and move on.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ok")
		return
	}

	if req.IsNotification() {
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.String("method", req.Method), slog.Duration("dur", time.Since(start)))
		return
	}

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	res := h.dispatch(ctx, caller, req)

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	b, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := writeSSEEvent(wf, "", b); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.String("method", req.Method), slog.Duration("dur", time.Since(start)))
}

// handleInitialize services the first request of a session.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, r *http.Request, caller *auth.Principal, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) {
		writeJSONError(w, http.StatusNotFound, "expected initialize request")
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}

	pv := negotiateProtocolVersion(initReq.ProtocolVersion)
	sess := sessionstore.Session{
		ID:              uuid.NewString(),
		UserID:          caller.UserID,
		ProtocolVersion: pv,
		ClientName:      initReq.ClientInfo.Name,
		CreatedAt:       time.Now(),
	}
	if err := h.sessions.Put(ctx, sess); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID, UserID: sess.UserID})

	initRes := &mcp.InitializeResult{
		ProtocolVersion: pv,
		Capabilities: mcp.ServerCapabilities{
			Logging: &struct{}{},
			Tools:   &mcp.ListChangedCapability{ListChanged: true},
		},
		ServerInfo:   h.serverInfo,
		Instructions: h.instructions,
	}
	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}
	w.Header().Set(mcpSessionIDHeader, sess.ID)
	w.Header().Set(mcpProtocolVersionHeader, pv)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// negotiateProtocolVersion echoes the requested revision when supported and
// otherwise answers with the latest revision the server speaks.
func negotiateProtocolVersion(requested string) string {
	for _, v := range mcp.SupportedProtocolVersions {
		if v == requested {
			return requested
		}
	}
	return mcp.LatestProtocolVersion
}

// dispatch routes an in-session JSON-RPC request to its method handler.
func (h *Handler) dispatch(ctx context.Context, caller *auth.Principal, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return mustResult(req.ID, struct{}{})

	case mcp.ToolsListMethod:
		var listReq mcp.ListToolsRequest
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &listReq); err != nil {
				return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/list params", nil)
			}
		}
		tools, next, err := h.tools.ListTools(listReq.Cursor)
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
		}
		res := &mcp.ListToolsResult{Tools: tools}
		res.NextCursor = next
		return mustResult(req.ID, res)

	case mcp.ToolsCallMethod:
		var callReq mcp.CallToolRequestReceived
		if err := json.Unmarshal(req.Params, &callReq); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil)
		}
		ctx = logctx.WithSkillData(ctx, &logctx.SkillData{Tool: callReq.Name})
		res, err := h.tools.CallTool(ctx, caller, &callReq)
		if err != nil {
			if errors.Is(err, mcpservice.ErrUnknownTool) {
				return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("unknown tool: %s", callReq.Name), nil)
			}
			h.log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
		}
		return mustResult(req.ID, res)

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func mustResult(id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}

// handleGetMCP rejects standalone event streams. Sessions on this server
// have no server-initiated message queue, so there is nothing to stream.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "POST, DELETE")
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// handleDeleteMCP terminates an existing session.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	caller := h.checkAuthentication(ctx, r, w)
	if caller == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "delete.missing_session_id")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sess, err := h.sessions.Get(ctx, sessID)
	if err != nil {
		if errors.Is(err, sessionstore.ErrNotFound) {
			h.log.InfoContext(ctx, "session.delete.miss")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if sess.UserID != caller.UserID {
		h.log.InfoContext(ctx, "session.user.mismatch")
		w.WriteHeader(http.StatusNotFound)
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID, UserID: sess.UserID})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	if err := h.sessions.Delete(ctx, sess.ID); err != nil {
		h.log.ErrorContext(ctx, "session.delete.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion)
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) handleOptionsProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProtectedResourceMetadata serves the OAuth 2.0 Protected Resource
// Metadata document.
func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.prmDocument); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
	}
}

// checkAuthentication verifies the bearer token on r. On failure it writes
// the appropriate challenge and status and returns nil.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) *auth.Principal {
	header := r.Header.Get(authorizationHeader)
	if header == "" {
		// RFC 6750: absent credentials get a bare challenge without an
		// error code.
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, h.prmDocumentURL.String(), nil))
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}

	tok, ok := auth.BearerFromRequest(r)
	if !ok {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, h.prmDocumentURL.String(), map[string]string{
			"error":             "invalid_request",
			"error_description": "malformed bearer authorization header",
		}))
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}

	caller, err := h.provider.VerifyToken(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrInsufficientScope) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			params := map[string]string{
				"error":             "insufficient_scope",
				"error_description": err.Error(),
			}
			if scopes := h.provider.RequiredScopes(); len(scopes) > 0 {
				params["scope"] = strings.Join(scopes, " ")
			}
			w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, h.prmDocumentURL.String(), params))
			w.WriteHeader(http.StatusForbidden)
			return nil
		}
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, h.prmDocumentURL.String(), map[string]string{
			"error":             "invalid_token",
			"error_description": "token verification failed",
		}))
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}
	return caller
}

// writeSSEEvent writes one Server-Sent Event carrying payload and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
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
