package ws

import (
	"context"
	"strings"

	"github.com/pitchy/client/chat"
	"github.com/pitchy/client/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleSessionList(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	sessions, err := h.repo.ListSessions(ctx, h.credential())
	if err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}
	h.reply(ctx, conn, req, sessions)
}

func (h *rpcMethodHandler) handleSessionGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	detail, err := h.repo.GetSession(ctx, params.SessionID, h.credential())
	if err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}
	h.reply(ctx, conn, req, detail)
}

func (h *rpcMethodHandler) handleSessionCreate(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionCreateParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	detail, err := h.repo.CreateSession(ctx, chat.CreateParams{
		Title:          params.Title,
		InitialMessage: params.InitialMessage,
		AnalysisID:     params.AnalysisID,
	}, h.credential())
	if err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}

	h.log.Info("session created", "sessionId", detail.ID)
	h.reply(ctx, conn, req, detail)
}

func (h *rpcMethodHandler) handleSessionRename(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionRenameParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	sess, err := h.repo.RenameSession(ctx, params.SessionID, params.Title, h.credential())
	if err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}

	h.log.Info("session renamed", "sessionId", sess.ID)
	h.reply(ctx, conn, req, sess)
}

func (h *rpcMethodHandler) handleSessionDelete(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.repo.DeleteSession(ctx, params.SessionID, h.credential()); err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}

	h.log.Info("session deleted", "sessionId", params.SessionID)
	h.reply(ctx, conn, req, rpc.OKResult{OK: true})
}

func (h *rpcMethodHandler) handleMessageSearch(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SearchParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	hits, err := h.repo.SearchMessages(ctx, strings.TrimSpace(params.Query), h.credential())
	if err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}
	h.reply(ctx, conn, req, hits)
}
