// Package rpc defines JSON-RPC 2.0 wire format types for the local bridge.
// These types represent the params and result structures for all RPC methods.
package rpc

import (
	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/chat"
	"github.com/pitchy/client/draft"
)

// Client → Server

type AuthParams struct {
	Token string `json:"token"`
}

type AuthResult struct {
	Version    string    `json:"version"`
	APIBaseURL string    `json:"api_base_url"`
	State      AuthState `json:"state"`
}

// AuthState is the client's view of the credential. It never carries a token.
type AuthState struct {
	Status        string `json:"status"` // "unknown", "none", "cookie-session"
	Authenticated bool   `json:"authenticated"`
}

func NewAuthState(c auth.Credential) AuthState {
	return AuthState{Status: c.Kind().String(), Authenticated: c.IsAuthenticated()}
}

type LoginParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterParams struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type PasswordResetParams struct {
	Email string `json:"email"`
}

// Session management

type SessionParams struct {
	SessionID int64 `json:"session_id"`
}

type SessionCreateParams struct {
	Title          string `json:"title"`
	InitialMessage string `json:"initial_message,omitempty"`
	AnalysisID     *int64 `json:"analysis_id,omitempty"`
}

type SessionRenameParams struct {
	SessionID int64  `json:"session_id"`
	Title     string `json:"title"`
}

type SearchParams struct {
	Query string `json:"query"`
}

// Chat namespace

type ChatSendParams struct {
	SessionID int64  `json:"session_id"`
	Content   string `json:"content"`
}

type ChatEntryParams struct {
	SessionID int64  `json:"session_id"`
	LocalID   string `json:"local_id"`
}

// Draft namespace

type DraftSaveParams struct {
	Values draft.AnalysisDraft `json:"values"`
}

type DraftAnalyzeResult struct {
	Result api.AnalyzeResponse `json:"result"`
}

// Subscriptions

type SubscriptionParams struct {
	ID string `json:"id"`
}

type AuthSubscribeResult struct {
	ID    string    `json:"id"`
	State AuthState `json:"state"`
}

type ChatMessagesSubscribeResult struct {
	ID      string       `json:"id"`
	Entries []chat.Entry `json:"entries"`
}

// Server → Client notifications

type AuthChangedParams struct {
	ID    string    `json:"id"`
	State AuthState `json:"state"`
}

type ChatMessagesChangedParams struct {
	ID        string       `json:"id"`
	SessionID int64        `json:"session_id"`
	Entries   []chat.Entry `json:"entries"`
}

type OKResult struct {
	OK bool `json:"ok"`
}
