package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List the user's advisor chat sessions, newest first."),
	), s.handleListSessions)

	s.mcp.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get one chat session with its full ordered message history."),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.handleGetSession)

	s.mcp.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Start a new chat session, optionally with a first user message."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Session title")),
		mcp.WithString("initial_message", mcp.Description("First user message")),
	), s.handleCreateSession)

	s.mcp.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a user message to a session. Returns the message the server stored or the advisor's reply."),
		mcp.WithNumber("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Message text")),
	), s.handleSendMessage)

	s.mcp.AddTool(mcp.NewTool("search_messages",
		mcp.WithDescription("Search message text across all of the user's sessions."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to search for")),
	), s.handleSearchMessages)

	s.mcp.AddTool(mcp.NewTool("auth_status",
		mcp.WithDescription("Report whether the user is signed in."),
	), s.handleAuthStatus)
}
