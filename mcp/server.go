// Package mcp implements a stdio MCP server that exposes the user's chat
// sessions to AI agents.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/chat"
)

type Server struct {
	mcp  *server.MCPServer
	repo *chat.Repository
	auth *auth.Store
}

func NewServer(version string, repo *chat.Repository, store *auth.Store) *Server {
	s := &Server{repo: repo, auth: store}
	s.mcp = server.NewMCPServer("pitchy", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdin/stdout until ctx is done or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError))
	slog.Info("MCP server started")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// credential is the shared sign-in state. Tool calls never carry tokens.
func (s *Server) credential() auth.Credential {
	return s.auth.Resolve(auth.Unknown())
}
