package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/pitchy/client/draft"
)

func (a *app) cmdDraft(ctx context.Context, args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "show":
		return a.showDraft()
	case "set":
		return a.setDraft(args)
	case "analyze":
		return a.analyzeDraft(ctx)
	case "clear":
		if err := a.drafts.Save(draft.AnalysisDraft{}); err != nil {
			return err
		}
		if err := a.drafts.SaveResult(nil); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Draft cleared.")
		return nil
	default:
		return errUsage
	}
}

func (a *app) showDraft() error {
	state := a.drafts.Load()
	v := state.Values
	fmt.Fprintf(a.out, "Name:        %s\n", v.Name)
	fmt.Fprintf(a.out, "Category:    %s\n", v.Category)
	fmt.Fprintf(a.out, "Stage:       %s\n", v.Stage)
	fmt.Fprintf(a.out, "URL:         %s\n", v.URL)
	fmt.Fprintf(a.out, "Description: %s\n", v.Description)
	if state.Result != nil {
		fmt.Fprintln(a.out)
		printAnalysis(a.out, *state.Result)
	}
	return nil
}

// setDraft updates only the fields given on the command line.
func (a *app) setDraft(args []string) error {
	values := a.drafts.Load().Values

	fs := a.flagSet("draft set")
	name := fs.String("name", "", "startup name")
	description := fs.String("description", "", "what the startup does")
	category := fs.String("category", "", "one of the known categories")
	url := fs.String("url", "", "website")
	stage := fs.String("stage", "", "funding stage")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return errUsage
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			values.Name = *name
		case "description":
			values.Description = *description
		case "category":
			values.Category = *category
		case "url":
			values.URL = *url
		case "stage":
			values.Stage = *stage
		}
	})

	if err := a.drafts.Save(values); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Draft saved.")
	return nil
}

func (a *app) analyzeDraft(ctx context.Context) error {
	result, err := draft.Analyze(ctx, a.client, a.drafts, a.credential())
	if err != nil {
		return err
	}
	printAnalysis(a.out, result)
	return nil
}
