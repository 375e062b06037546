package apitest

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(r, &req) {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Password) < 8 {
		writeValidation(w, "password", "String should have at least 8 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[strings.ToLower(req.Email)]; exists {
		writeDetail(w, http.StatusBadRequest, "Email already registered")
		return
	}
	u := s.addUserLocked(req.Name, req.Email, req.Password)
	token := s.startSessionLocked(w, u.ID)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(r, &req) {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[strings.ToLower(req.Email)]
	if !ok || u.Password != req.Password {
		writeDetail(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token := s.startSessionLocked(w, u.ID)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if c, err := r.Cookie(SessionCookie); err == nil {
		delete(s.cookies, c.Value)
	}
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !decode(r, &req) || req.Email == "" {
		writeDetail(w, http.StatusBadRequest, "Email is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.ID == userID {
			writeJSON(w, http.StatusOK, map[string]any{
				"id":             u.ID,
				"email":          u.Email,
				"name":           u.Name,
				"is_admin":       false,
				"is_active":      true,
				"email_verified": true,
				"created_at":     s.base,
			})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "User not found")
}

type analyzeResponse struct {
	InvestmentScore int      `json:"investment_score"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
	MarketSummary   string   `json:"market_summary"`
}

type analysis struct {
	analyzeResponse
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Category  *string   `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

func assess(description string) analyzeResponse {
	return analyzeResponse{
		InvestmentScore: 40 + len(description)%60,
		Strengths:       []string{"Clear problem statement"},
		Weaknesses:      []string{"Unproven distribution"},
		Recommendations: []string{"Interview ten target customers"},
		MarketSummary:   "Growing market with established competitors.",
	}
}

func (s *Server) handleAnalyzeStartup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if !decode(r, &req) || len(strings.TrimSpace(req.Description)) < 10 {
		writeValidation(w, "description", "String should have at least 10 characters")
		return
	}
	writeJSON(w, http.StatusOK, assess(req.Description))
}

func (s *Server) handleCreateAnalysis(w http.ResponseWriter, r *http.Request, userID int64) {
	var req struct {
		Name        string  `json:"name"`
		Description string  `json:"description"`
		Category    *string `json:"category"`
	}
	if !decode(r, &req) || len(req.Description) < 10 {
		writeValidation(w, "description", "String should have at least 10 characters")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	a := analysis{
		analyzeResponse: assess(req.Description),
		ID:              s.nextID,
		Name:            req.Name,
		Category:        req.Category,
		CreatedAt:       s.nowLocked(),
	}
	s.analyses[userID] = append([]analysis{a}, s.analyses[userID]...)
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := append([]analysis{}, s.analyses[userID]...)
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if !decode(r, &req) || len(req.Messages) == 0 {
		writeDetail(w, http.StatusBadRequest, "messages is required")
		return
	}
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			last = req.Messages[i].Content
			break
		}
	}
	if last == "" {
		writeDetail(w, http.StatusBadRequest, "last user message is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": "Re: " + last})
}

type sessionDetail struct {
	*ChatSession
	Messages []Message `json:"messages"`
}

func (s *Server) ownedSessionLocked(r *http.Request, userID int64) (*ChatSession, bool) {
	id, ok := pathID(r)
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions[id]
	if !ok || sess.userID != userID {
		return nil, false
	}
	return sess, true
}

func (s *Server) addMessageLocked(sess *ChatSession, role, content string) Message {
	s.nextID++
	m := Message{ID: s.nextID, Role: role, Content: content, CreatedAt: s.nowLocked()}
	sess.messages = append(sess.messages, m)
	return m
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := []*ChatSession{}
	for _, sess := range s.sessions {
		if sess.userID == userID {
			items = append(items, sess)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, userID int64) {
	var req struct {
		Title          string  `json:"title"`
		InitialMessage *string `json:"initial_message"`
		AnalysisID     *int64  `json:"analysis_id"`
	}
	if !decode(r, &req) {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeValidation(w, "title", "String should have at least 1 character")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	sess := &ChatSession{
		ID:         s.nextID,
		Title:      req.Title,
		CreatedAt:  s.nowLocked(),
		AnalysisID: req.AnalysisID,
		userID:     userID,
	}
	s.sessions[sess.ID] = sess
	if req.InitialMessage != nil && *req.InitialMessage != "" {
		s.addMessageLocked(sess, "user", *req.InitialMessage)
	}
	writeJSON(w, http.StatusOK, sessionDetail{ChatSession: sess, Messages: append([]Message{}, sess.messages...)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.ownedSessionLocked(r, userID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{ChatSession: sess, Messages: append([]Message{}, sess.messages...)})
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request, userID int64) {
	var req struct {
		Title string `json:"title"`
	}
	if !decode(r, &req) || strings.TrimSpace(req.Title) == "" {
		writeValidation(w, "title", "String should have at least 1 character")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.ownedSessionLocked(r, userID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}
	sess.Title = req.Title
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.ownedSessionLocked(r, userID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}
	delete(s.sessions, sess.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.ownedSessionLocked(r, userID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}
	writeJSON(w, http.StatusOK, append([]Message{}, sess.messages...))
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request, userID int64) {
	var req struct {
		Content string `json:"content"`
	}
	if !decode(r, &req) || req.Content == "" {
		writeValidation(w, "content", "String should have at least 1 character")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.ownedSessionLocked(r, userID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Chat session not found")
		return
	}
	userMsg := s.addMessageLocked(sess, "user", req.Content)
	if s.replyMode == ReplyEcho {
		writeJSON(w, http.StatusOK, userMsg)
		return
	}
	reply := s.addMessageLocked(sess, "assistant", fmt.Sprintf("Analyst reply to: %s", req.Content))
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, userID int64) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("query")))
	type hit struct {
		ID        int64     `json:"id"`
		SessionID int64     `json:"session_id"`
		Title     string    `json:"title"`
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"created_at"`
	}
	hits := []hit{}
	if query == "" {
		writeJSON(w, http.StatusOK, hits)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.userID != userID {
			continue
		}
		for _, m := range sess.messages {
			if strings.Contains(strings.ToLower(m.Content), query) {
				hits = append(hits, hit{ID: m.ID, SessionID: sess.ID, Title: sess.Title, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })
	if len(hits) > 50 {
		hits = hits[:50]
	}
	writeJSON(w, http.StatusOK, hits)
}
