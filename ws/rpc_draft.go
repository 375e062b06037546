package ws

import (
	"context"

	"github.com/pitchy/client/dashboard"
	"github.com/pitchy/client/draft"
	"github.com/pitchy/client/rpc"
	"github.com/sourcegraph/jsonrpc2"
)

func (h *rpcMethodHandler) handleDraftGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	h.reply(ctx, conn, req, h.drafts.Load())
}

func (h *rpcMethodHandler) handleDraftSave(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	var params rpc.DraftSaveParams
	if err := unmarshalParams(req, &params); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInvalidParams, "invalid params")
		return
	}

	if err := h.drafts.Save(params.Values); err != nil {
		h.replyError(ctx, conn, req.ID, jsonrpc2.CodeInternalError, "failed to save draft")
		return
	}
	h.reply(ctx, conn, req, h.drafts.Load())
}

func (h *rpcMethodHandler) handleDraftAnalyze(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	result, err := draft.Analyze(ctx, h.client, h.drafts, h.credential())
	if err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}

	h.log.Info("draft analyzed", "score", result.InvestmentScore)
	h.reply(ctx, conn, req, rpc.DraftAnalyzeResult{Result: result})
}

func (h *rpcMethodHandler) handleDashboardGet(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	d, err := dashboard.Load(ctx, h.client, h.repo, h.credential())
	if err != nil {
		h.replyFailure(ctx, conn, req, err)
		return
	}
	h.reply(ctx, conn, req, d)
}
