// Package draft keeps the in-progress startup analysis form in the durable
// store so it survives restarts.
package draft

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pitchy/client/api"
)

var ErrInvalidDraft = errors.New("invalid draft")

var Stages = []string{"idea", "mvp", "seed", "series-a", "growth"}

var Categories = []string{"B2B SaaS", "Fintech", "EdTech", "E-commerce", "HealthTech", "AI/ML"}

// AnalysisDraft holds the form values. Every field is optional while the
// user is typing.
type AnalysisDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	URL         string `json:"url"`
	Stage       string `json:"stage"`
}

// State is the stored slot: the form values and the last result, if any.
type State struct {
	Values AnalysisDraft        `json:"values"`
	Result *api.AnalyzeResponse `json:"result"`
}

func Default() State {
	return State{}
}

// Validate reports whether the draft can be submitted.
func (d AnalysisDraft) Validate() error {
	if len(strings.TrimSpace(d.Name)) < 2 {
		return fmt.Errorf("%w: enter a name", ErrInvalidDraft)
	}
	if len(strings.TrimSpace(d.Description)) < 10 {
		return fmt.Errorf("%w: enter at least 10 characters of description", ErrInvalidDraft)
	}
	if d.Stage != "" && !slices.Contains(Stages, d.Stage) {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidDraft, d.Stage)
	}
	return nil
}

// Request is the body for a saved analysis.
func (d AnalysisDraft) Request() api.AnalysisRequest {
	return api.AnalysisRequest{
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		URL:         d.URL,
		Stage:       d.Stage,
	}
}

// Summary folds every field into a single description for the anonymous
// endpoint, which accepts nothing else.
func (d AnalysisDraft) Summary() string {
	lines := []string{
		"Name: " + d.Name,
		"Category: " + orDash(d.Category),
		"Stage: " + orDash(d.Stage),
	}
	if d.URL != "" {
		lines = append(lines, "Website: "+d.URL)
	}
	lines = append(lines, "Description: "+d.Description)
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
