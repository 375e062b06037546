package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pitchy/client/chat"
)

const (
	exitCommand    = "/exit"
	retryCommand   = "/retry"
	dismissCommand = "/dismiss"

	titleMaxRunes = 60
)

func parseSessionID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid session id %q: %w", s, errUsage)
	}
	return id, nil
}

// sessionArgs parses "ID REST..." and returns the id and the joined rest.
func sessionArgs(args []string, wantRest bool) (int64, string, error) {
	if len(args) == 0 || (wantRest && len(args) < 2) || (!wantRest && len(args) != 1) {
		return 0, "", errUsage
	}
	id, err := parseSessionID(args[0])
	if err != nil {
		return 0, "", err
	}
	return id, strings.Join(args[1:], " "), nil
}

func (a *app) cmdSessions(ctx context.Context, args []string) error {
	sessions, err := a.repo.ListSessions(ctx, a.credential())
	if err != nil {
		return err
	}
	printSessions(a.out, sessions)
	return nil
}

func (a *app) cmdShow(ctx context.Context, args []string) error {
	fs := a.flagSet("show")
	qr := fs.Bool("qr", false, "print a QR code linking to the session")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, _, err := sessionArgs(fs.Args(), false)
	if err != nil {
		return err
	}

	detail, err := a.repo.GetSession(ctx, id, a.credential())
	if err != nil {
		return err
	}
	printSession(a.out, detail)
	if *qr {
		fmt.Fprintln(a.out)
		printQR(a.out, fmt.Sprintf("%s/dashboard?session=%d", a.cfg.FrontendURL, id))
	}
	return nil
}

func (a *app) cmdNew(ctx context.Context, args []string) error {
	fs := a.flagSet("new")
	title := fs.String("title", "", "session title")
	message := fs.String("message", "", "first message")
	analysis := fs.Int64("analysis", 0, "link the session to a saved analysis")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*title) == "" {
		return errUsage
	}

	params := chat.CreateParams{Title: strings.TrimSpace(*title), InitialMessage: *message}
	if *analysis > 0 {
		params.AnalysisID = analysis
	}
	detail, err := a.repo.CreateSession(ctx, params, a.credential())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created session %d\n", detail.ID)
	return nil
}

func (a *app) cmdSend(ctx context.Context, args []string) error {
	id, content, err := sessionArgs(args, true)
	if err != nil {
		return err
	}

	conv := a.repo.Conversation(id)
	entry, err := conv.Send(ctx, content, a.credential())
	if err != nil {
		return err
	}
	printEntry(a.out, entry)
	printReply(a.out, conv, entry)
	return nil
}

func (a *app) cmdRename(ctx context.Context, args []string) error {
	id, title, err := sessionArgs(args, true)
	if err != nil {
		return err
	}

	sess, err := a.repo.RenameSession(ctx, id, strings.TrimSpace(title), a.credential())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Renamed session %d to %q\n", sess.ID, sess.Title)
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	id, _, err := sessionArgs(args, false)
	if err != nil {
		return err
	}

	if err := a.repo.DeleteSession(ctx, id, a.credential()); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted session %d\n", id)
	return nil
}

func (a *app) cmdSearch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	hits, err := a.repo.SearchMessages(ctx, strings.TrimSpace(strings.Join(args, " ")), a.credential())
	if err != nil {
		return err
	}
	printHits(a.out, hits)
	return nil
}

// cmdChat runs an interactive conversation. Signed-in users talk in a saved
// session; anyone else gets the stateless advisor.
func (a *app) cmdChat(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	cred := a.credential()

	if !cred.IsAuthenticated() {
		if len(args) == 1 {
			return errors.New("sign in to open a saved session")
		}
		return a.anonymousChat(ctx)
	}

	var conv *chat.Conversation
	if len(args) == 1 {
		id, err := parseSessionID(args[0])
		if err != nil {
			return err
		}
		conv = a.repo.Conversation(id)
		if err := conv.Refresh(ctx, cred); err != nil {
			return err
		}
		for _, e := range conv.Entries() {
			printEntry(a.out, e)
		}
	}

	fmt.Fprintf(a.out, "%s\n", faint("Type a message. "+retryCommand+" resends a failed message, "+exitCommand+" quits."))
	for {
		line, err := a.readChatLine()
		if err != nil {
			return err
		}
		switch {
		case line == "":
			continue
		case line == exitCommand:
			return nil
		case line == retryCommand || line == dismissCommand:
			if conv == nil {
				continue
			}
			a.handleFailed(ctx, conv, line)
			continue
		}

		if conv == nil {
			detail, err := a.repo.CreateSession(ctx, chat.CreateParams{Title: sessionTitle(line)}, a.credential())
			if err != nil {
				fmt.Fprintln(a.out, failLabel(err.Error()))
				continue
			}
			fmt.Fprintln(a.out, faint(fmt.Sprintf("Started session %d", detail.ID)))
			conv = a.repo.Conversation(detail.ID)
		}

		entry, err := conv.Send(ctx, line, a.credential())
		if errors.Is(err, chat.ErrEmptyMessage) {
			continue
		}
		printReply(a.out, conv, entry)
	}
}

func (a *app) anonymousChat(ctx context.Context) error {
	fmt.Fprintf(a.out, "%s\n", faint("Not signed in: this conversation is not saved. "+exitCommand+" quits."))

	var turns []chat.Turn
	for {
		line, err := a.readChatLine()
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if line == exitCommand {
			return nil
		}

		turns = append(turns, chat.Turn{Role: chat.RoleUser, Content: line})
		reply, err := chat.Ask(ctx, a.client, turns, a.credential())
		if err != nil {
			// Drop the unanswered turn so the next question is not sent twice.
			turns = turns[:len(turns)-1]
			fmt.Fprintln(a.out, failLabel(err.Error()))
			continue
		}
		turns = append(turns, chat.Turn{Role: chat.RoleAssistant, Content: reply})
		printMessage(a.out, chat.Message{Role: chat.RoleAssistant, Content: reply})
	}
}

// readChatLine returns io.EOF as a clean exit.
func (a *app) readChatLine() (string, error) {
	fmt.Fprint(a.out, userLabel("> "))
	line, err := a.in.ReadString('\n')
	if errors.Is(err, io.EOF) {
		if line == "" {
			fmt.Fprintln(a.out)
			return exitCommand, nil
		}
	} else if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// handleFailed retries or dismisses the most recent failed entry.
func (a *app) handleFailed(ctx context.Context, conv *chat.Conversation, command string) {
	entries := conv.Entries()
	var failed *chat.Entry
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Status == chat.StatusFailed {
			failed = &entries[i]
			break
		}
	}
	if failed == nil {
		fmt.Fprintln(a.out, faint("nothing to "+strings.TrimPrefix(command, "/")))
		return
	}

	if command == dismissCommand {
		if err := conv.Dismiss(failed.LocalID); err != nil {
			fmt.Fprintln(a.out, failLabel(err.Error()))
		}
		return
	}
	entry, err := conv.Retry(ctx, failed.LocalID, a.credential())
	if err != nil && entry.LocalID == "" {
		fmt.Fprintln(a.out, failLabel(err.Error()))
		return
	}
	printReply(a.out, conv, entry)
}

// printReply prints what the server answered for entry: the failure, or any
// assistant messages confirmed right after it.
func printReply(w io.Writer, conv *chat.Conversation, entry chat.Entry) {
	if entry.Status == chat.StatusFailed {
		printEntry(w, entry)
		return
	}
	entries := conv.Entries()
	idx := slices.IndexFunc(entries, func(e chat.Entry) bool { return e.LocalID == entry.LocalID })
	if idx < 0 {
		return
	}
	for _, e := range entries[idx+1:] {
		if e.Status != chat.StatusConfirmed || e.Message.Role != chat.RoleAssistant {
			break
		}
		printEntry(w, e)
	}
}

func sessionTitle(firstMessage string) string {
	if utf8.RuneCountInString(firstMessage) <= titleMaxRunes {
		return firstMessage
	}
	return string([]rune(firstMessage)[:titleMaxRunes-1]) + "…"
}
