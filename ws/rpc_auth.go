package ws

import (
	"context"

	"github.com/pitchy/client/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleAuthGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.reply(ctx, conn, req, rpc.NewAuthState(h.auth.Snapshot()))
}

func (h *rpcMethodHandler) handleAuthSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	id, state := h.authWatcher.Subscribe(h.state.getNotifier(), h.state.connID)
	h.state.trackSubscription(id, h.authWatcher)
	h.log.Debug("subscribed to auth", "watchId", id)

	h.reply(ctx, conn, req, rpc.AuthSubscribeResult{ID: id, State: state})
}

func (h *rpcMethodHandler) handleLogin(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.LoginParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.account.Login(ctx, params.Email, params.Password); err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}

	h.log.Info("signed in")
	h.reply(ctx, conn, req, rpc.NewAuthState(h.auth.Snapshot()))
}

func (h *rpcMethodHandler) handleRegister(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.RegisterParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.account.Register(ctx, params.Name, params.Email, params.Password); err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}

	h.log.Info("registered")
	h.reply(ctx, conn, req, rpc.NewAuthState(h.auth.Snapshot()))
}

func (h *rpcMethodHandler) handleLogout(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.account.Logout(ctx)

	h.log.Info("signed out")
	h.reply(ctx, conn, req, rpc.NewAuthState(h.auth.Snapshot()))
}

func (h *rpcMethodHandler) handlePasswordReset(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.PasswordResetParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.account.RequestPasswordReset(ctx, params.Email); err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}

	h.reply(ctx, conn, req, rpc.OKResult{OK: true})
}
