package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/chat"
	"github.com/pitchy/client/rpc"
)

func (s *Server) handleListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cred, ok := s.signedIn()
	if !ok {
		return Unauthenticated(), nil
	}

	sessions, err := s.repo.ListSessions(ctx, cred)
	if err != nil {
		return RequestError(err), nil
	}
	return jsonResult(sessions)
}

func (s *Server) handleGetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, result := requireSessionID(req)
	if result != nil {
		return result, nil
	}
	cred, ok := s.signedIn()
	if !ok {
		return Unauthenticated(), nil
	}

	detail, err := s.repo.GetSession(ctx, id, cred)
	if isNotFound(err) {
		return NotFound("session", id), nil
	}
	if err != nil {
		return RequestError(err), nil
	}
	return jsonResult(detail)
}

func (s *Server) handleCreateSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil || strings.TrimSpace(title) == "" {
		return ValidationError("title is required"), nil
	}
	cred, ok := s.signedIn()
	if !ok {
		return Unauthenticated(), nil
	}

	detail, err := s.repo.CreateSession(ctx, chat.CreateParams{
		Title:          strings.TrimSpace(title),
		InitialMessage: req.GetString("initial_message", ""),
	}, cred)
	if err != nil {
		return RequestError(err), nil
	}
	return jsonResult(detail)
}

func (s *Server) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, result := requireSessionID(req)
	if result != nil {
		return result, nil
	}
	content, err := req.RequireString("content")
	if err != nil || strings.TrimSpace(content) == "" {
		return ValidationError("content is required"), nil
	}
	cred, ok := s.signedIn()
	if !ok {
		return Unauthenticated(), nil
	}

	reply, err := s.repo.AppendMessage(ctx, id, content, cred)
	if isNotFound(err) {
		return NotFound("session", id), nil
	}
	if err != nil {
		return RequestError(err), nil
	}
	return jsonResult(reply)
}

func (s *Server) handleSearchMessages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return ValidationError("query is required"), nil
	}
	cred, ok := s.signedIn()
	if !ok {
		return Unauthenticated(), nil
	}

	hits, err := s.repo.SearchMessages(ctx, strings.TrimSpace(query), cred)
	if err != nil {
		return RequestError(err), nil
	}
	return jsonResult(hits)
}

func (s *Server) handleAuthStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(rpc.NewAuthState(s.auth.Snapshot()))
}

// signedIn returns the credential when the user is signed in. Tools do not
// call the backend anonymously: every session endpoint would answer 401.
func (s *Server) signedIn() (auth.Credential, bool) {
	cred := s.credential()
	return cred, cred.IsAuthenticated()
}

func requireSessionID(req mcp.CallToolRequest) (int64, *mcp.CallToolResult) {
	v, err := req.RequireFloat("session_id")
	if err != nil || v < 1 || v != float64(int64(v)) {
		return 0, ValidationError("session_id must be a positive integer")
	}
	return int64(v), nil
}

func isNotFound(err error) bool {
	var reqErr *api.RequestError
	return errors.As(err, &reqErr) && reqErr.Status == http.StatusNotFound
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(data)), nil
}
