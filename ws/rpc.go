package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/pitchy/client/account"
	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/chat"
	"github.com/pitchy/client/draft"
	"github.com/pitchy/client/logger"
	"github.com/pitchy/client/rpc"
	"github.com/pitchy/client/watch"
	"github.com/sourcegraph/jsonrpc2"
)

// RPCHandler handles JSON-RPC 2.0 over WebSocket for local front ends.
type RPCHandler struct {
	token       string
	version     string
	devMode     bool
	client      *api.Client
	auth        *auth.Store
	repo        *chat.Repository
	account     *account.Service
	drafts      *draft.Store
	authWatcher *watch.AuthWatcher
	chatWatcher *watch.ChatMessagesWatcher
}

func NewRPCHandler(token, version string, devMode bool, client *api.Client, store *auth.Store, repo *chat.Repository, drafts *draft.Store) *RPCHandler {
	authWatcher := watch.NewAuthWatcher(store)
	// A sign-out from any process invalidates everything cached for the user.
	authWatcher.SetOnChange(func(c auth.Credential) {
		if c.IsKnown() && !c.IsAuthenticated() {
			repo.Reset()
		}
	})
	chatWatcher := watch.NewChatMessagesWatcher(repo)

	for _, w := range []watch.Watcher{authWatcher, chatWatcher} {
		if err := w.Start(); err != nil {
			slog.Error("failed to start watcher", "error", err)
		}
	}

	return &RPCHandler{
		token:       token,
		version:     version,
		devMode:     devMode,
		client:      client,
		auth:        store,
		repo:        repo,
		account:     account.NewService(client, store, repo),
		drafts:      drafts,
		authWatcher: authWatcher,
		chatWatcher: chatWatcher,
	}
}

// Stop stops the RPC handler and releases resources.
func (h *RPCHandler) Stop() {
	h.authWatcher.Stop()
	h.chatWatcher.Stop()
}

func (h *RPCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.devMode,
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err)
		return
	}

	h.handleConnection(r.Context(), conn)
}

func (h *RPCHandler) handleConnection(ctx context.Context, wsConn *websocket.Conn) {
	stream := newWebSocketStream(wsConn)
	connID := uuid.Must(uuid.NewV7()).String()
	h.HandleStream(ctx, stream, connID)
}

func (h *RPCHandler) HandleStream(ctx context.Context, stream jsonrpc2.ObjectStream, connID string) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "websocket connection crashed", "connId", connID)
		}
	}()

	log := slog.With("connId", connID)
	log.Info("new connection")

	state := &rpcConnState{connID: connID}
	handler := &rpcMethodHandler{
		RPCHandler: h,
		state:      state,
		log:        log,
	}

	rpcConn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(handler))
	state.setConn(rpcConn)

	<-rpcConn.DisconnectNotify()

	state.cleanup()
	log.Info("connection closed")
}

// rpcConnState tracks per-connection state.
type rpcConnState struct {
	mu            sync.Mutex
	connID        string
	notifier      *JSONRPCNotifier
	subscriptions map[string]watch.Watcher // subID → watcher for cleanup
}

func (s *rpcConnState) setConn(conn *jsonrpc2.Conn) {
	s.mu.Lock()
	s.notifier = NewJSONRPCNotifier(conn)
	s.subscriptions = make(map[string]watch.Watcher)
	s.mu.Unlock()
}

func (s *rpcConnState) getNotifier() watch.Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifier
}

func (s *rpcConnState) trackSubscription(id string, watcher watch.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriptions == nil {
		// Connection already closed; drop the late subscription.
		watcher.Unsubscribe(id)
		return
	}
	s.subscriptions[id] = watcher
}

func (s *rpcConnState) untrackSubscription(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, id)
}

func (s *rpcConnState) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, watcher := range s.subscriptions {
		watcher.Unsubscribe(id)
	}
	s.subscriptions = nil
}

type rpcMethodHandler struct {
	*RPCHandler
	state         *rpcConnState
	log           *slog.Logger
	authenticated bool
	authMu        sync.Mutex
}

func (h *rpcMethodHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r, "rpc handler panic", "method", req.Method, "connId", h.state.connID)
		}
	}()

	h.log.Debug("received request", "method", req.Method, "id", req.ID)

	// Auth must be the first request
	if !h.isAuthenticated() {
		if req.Method != "auth" {
			h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "first request must be auth")
			conn.Close()
			return
		}
		h.handleAuth(ctx, conn, req)
		return
	}

	switch req.Method {
	// auth namespace
	case "auth.get":
		h.handleAuthGet(ctx, conn, req)
	case "auth.subscribe":
		h.handleAuthSubscribe(ctx, conn, req)
	case "auth.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.authWatcher, "auth")
	case "auth.login":
		h.handleLogin(ctx, conn, req)
	case "auth.register":
		h.handleRegister(ctx, conn, req)
	case "auth.logout":
		h.handleLogout(ctx, conn, req)
	case "auth.reset_password":
		h.handlePasswordReset(ctx, conn, req)
	// session namespace
	case "session.list":
		h.handleSessionList(ctx, conn, req)
	case "session.get":
		h.handleSessionGet(ctx, conn, req)
	case "session.create":
		h.handleSessionCreate(ctx, conn, req)
	case "session.rename":
		h.handleSessionRename(ctx, conn, req)
	case "session.delete":
		h.handleSessionDelete(ctx, conn, req)
	case "message.search":
		h.handleMessageSearch(ctx, conn, req)
	// chat namespace
	case "chat.send":
		h.handleChatSend(ctx, conn, req)
	case "chat.retry":
		h.handleChatRetry(ctx, conn, req)
	case "chat.dismiss":
		h.handleChatDismiss(ctx, conn, req)
	case "chat.messages.subscribe":
		h.handleChatMessagesSubscribe(ctx, conn, req)
	case "chat.messages.unsubscribe":
		h.handleWatcherUnsubscribe(ctx, conn, req, h.chatWatcher, "chat-messages")
	// draft namespace
	case "draft.get":
		h.handleDraftGet(ctx, conn, req)
	case "draft.save":
		h.handleDraftSave(ctx, conn, req)
	case "draft.analyze":
		h.handleDraftAnalyze(ctx, conn, req)
	case "dashboard.get":
		h.handleDashboardGet(ctx, conn, req)
	default:
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeMethodNotFound, "method not found: "+req.Method)
	}
}

func (h *rpcMethodHandler) isAuthenticated() bool {
	h.authMu.Lock()
	defer h.authMu.Unlock()
	return h.authenticated
}

func (h *rpcMethodHandler) setAuthenticated() {
	h.authMu.Lock()
	h.authenticated = true
	h.authMu.Unlock()
}

func (h *rpcMethodHandler) handleAuth(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.AuthParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		conn.Close()
		return
	}

	if subtle.ConstantTimeCompare([]byte(params.Token), []byte(h.token)) != 1 {
		h.log.Warn("invalid auth token")
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidRequest, "invalid token")
		conn.Close()
		return
	}

	h.setAuthenticated()
	h.log.Info("authenticated")

	result := rpc.AuthResult{
		Version:    h.version,
		APIBaseURL: h.client.BaseURL(),
		State:      rpc.NewAuthState(h.auth.Snapshot()),
	}
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send auth response", "error", err)
	}
}

// credential is the credential for one backend request made on behalf of
// this connection. Bridge clients never see or send tokens.
func (h *rpcMethodHandler) credential() auth.Credential {
	return h.auth.Resolve(auth.Unknown())
}

func (h *rpcMethodHandler) reply(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, result any) {
	if err := conn.Reply(ctx, req.ID, result); err != nil {
		h.log.Error("failed to send response", "method", req.Method, "error", err)
	}
}

func (h *rpcMethodHandler) replyError(ctx context.Context, conn *jsonrpc2.Conn, id jsonrpc2.ID, code int64, message string) {
	err := &jsonrpc2.Error{
		Code:    code,
		Message: message,
	}
	if replyErr := conn.ReplyWithError(ctx, id, err); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

// replyFailure reports a failed operation with its user-facing message.
func (h *rpcMethodHandler) replyFailure(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, err error) {
	h.log.Debug("request failed", "method", req.Method, "error", err)
	if replyErr := conn.ReplyWithError(ctx, req.ID, toRPCError(err)); replyErr != nil {
		h.log.Error("failed to send error response", "error", replyErr)
	}
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return errors.New("params required")
	}
	return json.Unmarshal(*req.Params, v)
}

func (h *rpcMethodHandler) handleWatcherUnsubscribe(
	ctx context.Context,
	conn *jsonrpc2.Conn,
	req *jsonrpc2.Request,
	watcher watch.Watcher,
	logName string,
) {
	var params rpc.SubscriptionParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}
	if params.ID == "" {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "id is required")
		return
	}

	watcher.Unsubscribe(params.ID)
	h.state.untrackSubscription(params.ID)
	h.log.Debug("unsubscribed", "watcher", logName, "watchId", params.ID)

	h.reply(ctx, conn, req, rpc.OKResult{OK: true})
}

// webSocketStream adapts coder/websocket to jsonrpc2.ObjectStream.
type webSocketStream struct {
	conn *websocket.Conn
	mu   sync.Mutex // protects writes
}

func newWebSocketStream(conn *websocket.Conn) *webSocketStream {
	return &webSocketStream{conn: conn}
}

func (s *webSocketStream) ReadObject(v any) error {
	_, data, err := s.conn.Read(context.Background())
	if err != nil {
		// Treat normal close frames as EOF so jsonrpc2 shuts down gracefully
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return io.EOF
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *webSocketStream) WriteObject(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, data)
}

func (s *webSocketStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

var _ jsonrpc2.ObjectStream = (*webSocketStream)(nil)
