package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mdp/qrterminal/v3"
	"github.com/pitchy/client/api"
	"github.com/pitchy/client/chat"
)

const dateLayout = "2006-01-02 15:04"

var (
	bold      = color.New(color.Bold).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
	userLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	botLabel  = color.New(color.FgCyan, color.Bold).SprintFunc()
	warnLabel = color.New(color.FgYellow).SprintFunc()
	failLabel = color.New(color.FgRed, color.Bold).SprintFunc()
)

func printSessions(w io.Writer, sessions []chat.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, faint("  no sessions"))
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "  %-4d %-32s %s\n", s.ID, s.Title, faint(s.CreatedAt.Local().Format(dateLayout)))
	}
}

func roleLabel(role chat.Role) string {
	if role == chat.RoleAssistant {
		return botLabel("Advisor:")
	}
	return userLabel("You:")
}

func printMessage(w io.Writer, m chat.Message) {
	fmt.Fprintf(w, "%s %s\n", roleLabel(m.Role), m.Content)
}

func printSession(w io.Writer, d chat.SessionDetail) {
	fmt.Fprintf(w, "%s  %s\n\n", bold(d.Title), faint(fmt.Sprintf("#%d  %s", d.ID, d.CreatedAt.Local().Format(dateLayout))))
	for _, m := range d.Messages {
		printMessage(w, m)
	}
}

func printEntry(w io.Writer, e chat.Entry) {
	switch e.Status {
	case chat.StatusPending:
		fmt.Fprintf(w, "%s %s %s\n", roleLabel(e.Message.Role), e.Message.Content, warnLabel("(sending)"))
	case chat.StatusFailed:
		fmt.Fprintf(w, "%s %s %s\n", roleLabel(e.Message.Role), e.Message.Content, failLabel("(failed: "+e.Error+")"))
	default:
		printMessage(w, e.Message)
	}
}

func printHits(w io.Writer, hits []chat.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, faint("no matches"))
		return
	}
	for _, h := range hits {
		fmt.Fprintf(w, "%s %s  %s\n", bold(fmt.Sprintf("#%d", h.SessionID)), h.Title, faint(h.CreatedAt.Local().Format(dateLayout)))
		fmt.Fprintf(w, "    %s %s\n", roleLabel(chat.Role(h.Role)), h.Content)
	}
}

func printAnalysis(w io.Writer, r api.AnalyzeResponse) {
	fmt.Fprintf(w, "%s %d/100\n", bold("Investment score:"), r.InvestmentScore)
	if r.MarketSummary != "" {
		fmt.Fprintf(w, "\n%s\n  %s\n", bold("Market"), r.MarketSummary)
	}
	printList(w, "Strengths", r.Strengths)
	printList(w, "Weaknesses", r.Weaknesses)
	printList(w, "Recommendations", r.Recommendations)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", bold(title))
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", strings.TrimSpace(item))
	}
}

// printQR renders link as a terminal QR code followed by the link itself.
func printQR(w io.Writer, link string) {
	qrterminal.GenerateWithConfig(link, qrterminal.Config{
		Level:          qrterminal.L,
		Writer:         w,
		HalfBlocks:     true,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
		QuietZone:      1,
	})
	fmt.Fprintln(w, link)
}
