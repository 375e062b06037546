// Package account runs the sign-in and sign-out flows, keeping the auth
// store in step with the server.
package account

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
)

// ErrEmptyToken is returned when the server accepts credentials but issues
// no access token. The auth state is left unchanged.
var ErrEmptyToken = errors.New("server returned an empty access token")

// CacheResetter drops per-user caches on sign-out.
type CacheResetter interface {
	Reset()
}

type Service struct {
	client *api.Client
	auth   *auth.Store
	caches []CacheResetter
}

func NewService(client *api.Client, store *auth.Store, caches ...CacheResetter) *Service {
	return &Service{client: client, auth: store, caches: caches}
}

func (s *Service) Login(ctx context.Context, email, password string) error {
	resp, err := s.client.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return err
	}
	return s.signIn(resp)
}

func (s *Service) Register(ctx context.Context, name, email, password string) error {
	resp, err := s.client.Register(ctx, strings.TrimSpace(name), strings.TrimSpace(email), password)
	if err != nil {
		return err
	}
	return s.signIn(resp)
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	return s.client.RequestPasswordReset(ctx, strings.TrimSpace(email))
}

// Logout always signs out locally. The server call is made by the auth
// store's revoker and its failure is only logged.
func (s *Service) Logout(ctx context.Context) {
	s.auth.Clear(ctx)
	for _, c := range s.caches {
		c.Reset()
	}
}

func (s *Service) signIn(resp api.TokenResponse) error {
	if resp.AccessToken == "" {
		return ErrEmptyToken
	}
	// Other processes miss the login if this fails, but this one is signed in.
	if err := s.auth.SetAuthenticated(); err != nil {
		slog.Warn("login not shared with other processes", "error", err)
	}
	return nil
}
