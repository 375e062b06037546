package ws

import (
	"context"
	"errors"

	"github.com/pitchy/client/api"
	"github.com/pitchy/client/chat"
	"github.com/pitchy/client/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleChatMessagesSubscribe(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.SessionParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	log := h.log.With("sessionId", params.SessionID)

	id, entries := h.chatWatcher.Subscribe(h.state.getNotifier(), h.state.connID, params.SessionID)
	h.state.trackSubscription(id, h.chatWatcher)

	h.reply(ctx, conn, req, rpc.ChatMessagesSubscribeResult{ID: id, Entries: entries})
	log.Info("subscribed to chat messages", "watchId", id)

	// The reply carries what is cached; the server's copy follows as a
	// chat.messages.changed notification.
	if err := h.repo.Conversation(params.SessionID).Refresh(ctx, h.credential()); err != nil {
		log.Warn("failed to refresh conversation", "error", err)
	}
}

// handleChatSend replies with the entry once the server has answered. A
// delivery failure is not an RPC error: the entry comes back marked failed
// so the client can offer retry or dismiss.
func (h *rpcMethodHandler) handleChatSend(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatSendParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	log := h.log.With("sessionId", params.SessionID)
	log.Info("sending message", "length", len(params.Content))

	entry, err := h.repo.Conversation(params.SessionID).Send(ctx, params.Content, h.credential())
	h.replyEntry(ctx, conn, req, entry, err)
}

func (h *rpcMethodHandler) handleChatRetry(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatEntryParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	entry, err := h.repo.Conversation(params.SessionID).Retry(ctx, params.LocalID, h.credential())
	h.replyEntry(ctx, conn, req, entry, err)
}

func (h *rpcMethodHandler) handleChatDismiss(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.ChatEntryParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.repo.Conversation(params.SessionID).Dismiss(params.LocalID); err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}
	h.reply(ctx, conn, req, rpc.OKResult{OK: true})
}

func (h *rpcMethodHandler) replyEntry(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, entry chat.Entry, err error) {
	var reqErr *api.RequestError
	if err != nil && !(errors.As(err, &reqErr) && entry.Status == chat.StatusFailed) {
		h.replyFailure(ctx, conn, req, err)
		return
	}
	h.reply(ctx, conn, req, entry)
}
