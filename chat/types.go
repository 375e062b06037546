package chat

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is a conversation thread, optionally linked to a saved analysis.
type Session struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	AnalysisID *int64    `json:"analysis_id,omitempty"`
}

type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionDetail struct {
	Session
	Messages []Message `json:"messages"`
}

type CreateParams struct {
	Title          string `json:"title"`
	InitialMessage string `json:"initial_message,omitempty"`
	AnalysisID     *int64 `json:"analysis_id,omitempty"`
}

// SearchHit is a message matched by full-text search, with its session title.
type SearchHit struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Title     string    `json:"title"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type appendRequest struct {
	Content string `json:"content"`
}

type renameRequest struct {
	Title string `json:"title"`
}

// Turn is one entry of a stateless conversation sent to POST /chat.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type askRequest struct {
	Messages []Turn `json:"messages"`
}

type askResponse struct {
	Reply string `json:"reply"`
}
