// Package dashboard loads everything the account overview shows in one
// round of concurrent requests.
package dashboard

import (
	"context"
	"slices"
	"strings"

	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/chat"
	"golang.org/x/sync/errgroup"
)

type Dashboard struct {
	Profile  api.UserProfile `json:"profile"`
	Analyses []api.Analysis  `json:"analyses"`
	Sessions []chat.Session  `json:"sessions"`
}

// Load fetches the profile, saved analyses and chat sessions concurrently.
// The first failure cancels the other requests and is returned.
func Load(ctx context.Context, client *api.Client, repo *chat.Repository, cred auth.Credential) (Dashboard, error) {
	var d Dashboard
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		profile, err := client.Me(gctx, cred)
		d.Profile = profile
		return err
	})
	g.Go(func() error {
		analyses, err := client.ListAnalyses(gctx, cred)
		d.Analyses = analyses
		return err
	})
	g.Go(func() error {
		sessions, err := repo.ListSessions(gctx, cred)
		d.Sessions = sessions
		return err
	})

	if err := g.Wait(); err != nil {
		return Dashboard{}, err
	}
	if d.Analyses == nil {
		d.Analyses = []api.Analysis{}
	}
	return d, nil
}

// FilterAnalyses keeps analyses whose market summary, strengths or
// weaknesses contain query, ignoring case. A blank query keeps everything.
func FilterAnalyses(analyses []api.Analysis, query string) []api.Analysis {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return analyses
	}

	var out []api.Analysis
	for _, a := range analyses {
		if matches(a, query) {
			out = append(out, a)
		}
	}
	return out
}

func matches(a api.Analysis, query string) bool {
	if strings.Contains(strings.ToLower(a.MarketSummary), query) {
		return true
	}
	for _, s := range slices.Concat(a.Strengths, a.Weaknesses) {
		if strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}
