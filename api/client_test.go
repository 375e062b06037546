package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pitchy/client/apitest"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/durable"
)

var bgCtx = context.Background()

func TestDo_BearerCredentialSetsAuthorizationHeader(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	token := srv.SeedUser("Ann", "ann@example.com", "password1")

	c := NewClient(srv.URL)
	profile, err := c.Me(bgCtx, auth.Bearer(token))
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if profile.Email != "ann@example.com" {
		t.Errorf("expected ann@example.com, got %q", profile.Email)
	}

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	if last.Authorization != "Bearer "+token {
		t.Errorf("Authorization = %q, want %q", last.Authorization, "Bearer "+token)
	}
	if last.Cookie != "" {
		t.Errorf("bearer requests carry no cookies, got %q", last.Cookie)
	}
}

func TestDo_CookieSessionSendsCookiesOnly(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	srv.SeedUser("Ann", "ann@example.com", "password1")

	c := NewClient(srv.URL)
	if _, err := c.Login(bgCtx, "ann@example.com", "password1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := c.Me(bgCtx, auth.CookieSession()); err != nil {
		t.Fatalf("Me with cookie session failed: %v", err)
	}

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	if last.Authorization != "" {
		t.Errorf("cookie session must not send Authorization, got %q", last.Authorization)
	}
	if !strings.Contains(last.Cookie, apitest.SessionCookie+"=") {
		t.Errorf("expected session cookie, got %q", last.Cookie)
	}
}

func TestDo_NoneSendsNeither(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	srv.SeedUser("Ann", "ann@example.com", "password1")

	c := NewClient(srv.URL)
	c.Login(bgCtx, "ann@example.com", "password1")

	_, err := c.Me(bgCtx, auth.None())

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Status != http.StatusUnauthorized || reqErr.Message != "Not authenticated" {
		t.Errorf("got status %d message %q", reqErr.Status, reqErr.Message)
	}

	reqs := srv.Requests()
	last := reqs[len(reqs)-1]
	if last.Authorization != "" || last.Cookie != "" {
		t.Errorf("expected no credentials, got auth %q cookie %q", last.Authorization, last.Cookie)
	}
}

func TestDo_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"detail string", http.StatusBadRequest, `{"detail":"X"}`, "X"},
		{"unparseable body", http.StatusInternalServerError, `<html>oops</html>`, DefaultErrorMessage},
		{"empty body", http.StatusBadGateway, ``, DefaultErrorMessage},
		{"detail list", http.StatusUnprocessableEntity, `{"detail":[{"msg":"too short"}]}`, DefaultErrorMessage},
		{"no detail field", http.StatusForbidden, `{"error":"nope"}`, DefaultErrorMessage},
		{"empty detail", http.StatusBadRequest, `{"detail":""}`, DefaultErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := Do[map[string]any](bgCtx, NewClient(srv.URL), http.MethodGet, "/x", nil, auth.None())

			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected RequestError, got %T %v", err, err)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("message = %q, want %q", err.Error(), tt.wantMsg)
			}
			if reqErr.Kind != KindApplication || reqErr.Status != tt.status {
				t.Errorf("kind %v status %d", reqErr.Kind, reqErr.Status)
			}
		})
	}
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := Do[map[string]any](bgCtx, NewClient(url), http.MethodGet, "/x", nil, auth.None())

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.Kind != KindTransport || reqErr.Message != DefaultErrorMessage {
		t.Errorf("got kind %v message %q", reqErr.Kind, reqErr.Message)
	}
	if reqErr.Unwrap() == nil {
		t.Error("expected transport cause to be retained")
	}
}

func TestDo_UndecodableSuccessIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := Do[map[string]any](bgCtx, NewClient(srv.URL), http.MethodGet, "/x", nil, auth.None())

	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Kind != KindTransport {
		t.Fatalf("expected transport RequestError, got %v", err)
	}
}

func TestDo_BodyHandling(t *testing.T) {
	var gotBody, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		buf.ReadFrom(r.Body)
		gotBody = buf.String()
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	if _, err := Do[map[string]any](bgCtx, c, http.MethodPost, "/x", map[string]string{"a": "b"}, auth.None()); err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if gotBody != `{"a":"b"}` || gotContentType != "application/json" {
		t.Errorf("POST body %q content-type %q", gotBody, gotContentType)
	}

	if _, err := Do[map[string]any](bgCtx, c, http.MethodGet, "/x", map[string]string{"a": "b"}, auth.None()); err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if gotBody != "" || gotContentType != "" {
		t.Errorf("GET should send no body, got %q (%q)", gotBody, gotContentType)
	}
}

func TestLogout_ClearsStoredCookies(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	srv.SeedUser("Ann", "ann@example.com", "password1")

	kv := durable.NewMemoryStore()
	c := NewClient(srv.URL, WithCookieJar(NewStoredJar(kv)))

	if _, err := c.Login(bgCtx, "ann@example.com", "password1"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, ok, _ := kv.Get(CookieKey); !ok {
		t.Fatal("expected cookies persisted after login")
	}

	if err := c.Logout(bgCtx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, ok, _ := kv.Get(CookieKey); ok {
		t.Error("expected cookies removed after logout")
	}
	if _, err := c.Me(bgCtx, auth.CookieSession()); err == nil {
		t.Error("expected cookie session to be rejected after logout")
	}
}

func TestRegisterValidationFallsBackToGenericMessage(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()

	_, err := NewClient(srv.URL).Register(bgCtx, "Ann", "ann@example.com", "short")
	if err == nil || err.Error() != DefaultErrorMessage {
		t.Errorf("expected %q, got %v", DefaultErrorMessage, err)
	}
}

func TestAnalysisEndpoints(t *testing.T) {
	srv := apitest.NewServer()
	defer srv.Close()
	token := srv.SeedUser("Ann", "ann@example.com", "password1")
	c := NewClient(srv.URL)

	res, err := c.AnalyzeStartup(bgCtx, "Name: Acme\nDescription: rockets for everyone")
	if err != nil {
		t.Fatalf("AnalyzeStartup failed: %v", err)
	}
	if res.InvestmentScore == 0 || len(res.Strengths) == 0 {
		t.Errorf("unexpected assessment %+v", res)
	}

	saved, err := c.CreateAnalysis(bgCtx, AnalysisRequest{Name: "Acme", Description: "rockets for everyone"}, auth.Bearer(token))
	if err != nil {
		t.Fatalf("CreateAnalysis failed: %v", err)
	}
	if saved.ID == 0 || saved.Name != "Acme" || saved.MarketSummary == "" {
		t.Errorf("unexpected saved analysis %+v", saved)
	}

	list, err := c.ListAnalyses(bgCtx, auth.Bearer(token))
	if err != nil {
		t.Fatalf("ListAnalyses failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != saved.ID {
		t.Errorf("expected saved analysis in history, got %+v", list)
	}
}
