package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pitchy/client/auth"
)

type empty struct{}

func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	return Do[TokenResponse](ctx, c, http.MethodPost, "/auth/login", LoginRequest{Email: email, Password: password}, auth.None())
}

func (c *Client) Register(ctx context.Context, name, email, password string) (TokenResponse, error) {
	return Do[TokenResponse](ctx, c, http.MethodPost, "/auth/register", RegisterRequest{Name: name, Email: email, Password: password}, auth.None())
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	_, err := Do[empty](ctx, c, http.MethodPost, "/auth/request-password-reset", PasswordResetRequest{Email: email}, auth.None())
	return err
}

// Logout asks the server to invalidate the session cookie, then forgets the
// stored cookies whether or not the server answered. It satisfies
// auth.Revoker.
func (c *Client) Logout(ctx context.Context) error {
	_, err := Do[empty](ctx, c, http.MethodPost, "/auth/logout", nil, auth.CookieSession())
	if clearer, ok := c.jar.(interface{ Clear() error }); ok {
		if clearErr := clearer.Clear(); clearErr != nil {
			slog.Warn("failed to clear stored cookies", "error", clearErr)
		}
	}
	return err
}

var _ auth.Revoker = (*Client)(nil)

func (c *Client) Me(ctx context.Context, cred auth.Credential) (UserProfile, error) {
	return Do[UserProfile](ctx, c, http.MethodGet, "/me", nil, cred)
}

// AnalyzeStartup runs an assessment without saving it.
func (c *Client) AnalyzeStartup(ctx context.Context, description string) (AnalyzeResponse, error) {
	return Do[AnalyzeResponse](ctx, c, http.MethodPost, "/analyze-startup", AnonymousAnalysisRequest{Description: description}, auth.None())
}

// CreateAnalysis runs an assessment and saves it to the user's history.
func (c *Client) CreateAnalysis(ctx context.Context, req AnalysisRequest, cred auth.Credential) (Analysis, error) {
	return Do[Analysis](ctx, c, http.MethodPost, "/analysis", req, cred)
}

func (c *Client) ListAnalyses(ctx context.Context, cred auth.Credential) ([]Analysis, error) {
	return Do[[]Analysis](ctx, c, http.MethodGet, "/analysis", nil, cred)
}
