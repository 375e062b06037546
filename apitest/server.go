// Package apitest provides an in-memory implementation of the analysis
// service's HTTP API for tests.
package apitest

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// SessionCookie is the name of the HttpOnly session cookie.
const SessionCookie = "session"

// ReplyMode selects what POST /chat/sessions/{id}/messages returns.
type ReplyMode int

const (
	// ReplyEcho stores only the user message and returns it.
	ReplyEcho ReplyMode = iota
	// ReplyAssistant stores the user message and an assistant reply and
	// returns the reply.
	ReplyAssistant
)

type User struct {
	ID       int64
	Name     string
	Email    string
	Password string
}

type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatSession struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	AnalysisID *int64    `json:"analysis_id,omitempty"`

	userID   int64
	messages []Message
}

// RecordedRequest captures the credential-bearing parts of a request.
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	Cookie        string
}

type failure struct {
	status int
	body   string
}

type Server struct {
	*httptest.Server

	mu        sync.Mutex
	nextID    int64
	tick      int64
	base      time.Time
	users     map[string]*User // by email
	cookies   map[string]int64 // session cookie value -> user ID
	tokens    map[string]int64 // access token -> user ID
	sessions  map[int64]*ChatSession
	analyses  map[int64][]analysis // by user ID
	replyMode ReplyMode
	requests  []RecordedRequest
	failures  map[string]failure
	delays    map[string]time.Duration
	produced  map[string]int
}

type Option func(*Server)

func WithReplyMode(mode ReplyMode) Option {
	return func(s *Server) { s.replyMode = mode }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		base:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		users:    make(map[string]*User),
		cookies:  make(map[string]int64),
		tokens:   make(map[string]int64),
		sessions: make(map[int64]*ChatSession),
		analyses: make(map[int64][]analysis),
		failures: make(map[string]failure),
		delays:   make(map[string]time.Duration),
		produced: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/logout", s.handleLogout)
	r.Post("/auth/request-password-reset", s.handlePasswordReset)
	r.Get("/me", s.requireUser(s.handleMe))

	r.Post("/analyze-startup", s.handleAnalyzeStartup)
	r.Post("/analysis", s.requireUser(s.handleCreateAnalysis))
	r.Get("/analysis", s.requireUser(s.handleListAnalyses))

	r.Post("/chat", s.handleChat)
	r.Get("/chat/sessions", s.requireUser(s.handleListSessions))
	r.Post("/chat/sessions", s.requireUser(s.handleCreateSession))
	r.Get("/chat/sessions/{id}", s.requireUser(s.handleGetSession))
	r.Patch("/chat/sessions/{id}", s.requireUser(s.handleRenameSession))
	r.Delete("/chat/sessions/{id}", s.requireUser(s.handleDeleteSession))
	r.Get("/chat/sessions/{id}/messages", s.requireUser(s.handleListMessages))
	r.Post("/chat/sessions/{id}/messages", s.requireUser(s.handleAppendMessage))
	r.Get("/chat/messages/search", s.requireUser(s.handleSearch))

	return r
}

// SeedUser registers a user directly and returns a bearer access token.
func (s *Server) SeedUser(name, email, password string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.addUserLocked(name, email, password)
	token := randomToken()
	s.tokens[token] = u.ID
	return token
}

// Fail makes every request to method+path answer with status and body until
// cleared with Recover.
func (s *Server) Fail(method, path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, body: body}
}

func (s *Server) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method+" "+path)
}

// Delay holds responses to method+path for d after they have been produced.
func (s *Server) Delay(method, path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[method+" "+path] = d
}

// Produced reports how many delayed responses to method+path have been
// computed, whether or not they have been delivered yet.
func (s *Server) Produced(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.produced[method+" "+path]
}

func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Messages returns a copy of the stored messages of a session.
func (s *Server) Messages(sessionID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	return append([]Message(nil), sess.messages...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			Cookie:        r.Header.Get("Cookie"),
		})
		fail, failing := s.failures[key]
		delay := s.delays[key]
		s.mu.Unlock()

		if failing {
			w.WriteHeader(fail.status)
			w.Write([]byte(fail.body))
			return
		}
		if delay <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		// The response is computed now and delivered late, like a slow network.
		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, r)
		s.mu.Lock()
		s.produced[key]++
		s.mu.Unlock()
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)
		w.Write(rec.Body.Bytes())
	})
}

// requireUser resolves the caller from the session cookie or bearer token.
func (s *Server) requireUser(next func(w http.ResponseWriter, r *http.Request, userID int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.userFromRequest(r)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) userFromRequest(r *http.Request) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		id, ok := s.tokens[strings.TrimPrefix(h, "Bearer ")]
		return id, ok
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		id, ok := s.cookies[c.Value]
		return id, ok
	}
	return 0, false
}

func (s *Server) addUserLocked(name, email, password string) *User {
	s.nextID++
	u := &User{ID: s.nextID, Name: name, Email: email, Password: password}
	s.users[strings.ToLower(email)] = u
	return u
}

// nowLocked returns strictly increasing timestamps so ordering by
// created_at is deterministic.
func (s *Server) nowLocked() time.Time {
	s.tick++
	return s.base.Add(time.Duration(s.tick) * time.Millisecond)
}

func (s *Server) startSessionLocked(w http.ResponseWriter, userID int64) string {
	cookie := randomToken()
	token := randomToken()
	s.cookies[cookie] = userID
	s.tokens[token] = userID
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    cookie,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

func randomToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func decode(r *http.Request, v any) bool {
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeValidation mimics a validation failure whose detail is a list.
func writeValidation(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"detail": []map[string]any{{"loc": []string{"body", field}, "msg": msg, "type": "value_error"}},
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}
