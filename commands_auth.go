package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/dashboard"
	"golang.org/x/term"
)

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// prompt returns value if set, otherwise asks for a line on stdin.
func (a *app) prompt(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	fmt.Fprint(a.errOut, label+": ")
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPassword reads without echo when stdin is a terminal.
func (a *app) readPassword() (string, error) {
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.errOut, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return a.prompt("Password", "")
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	fs := a.flagSet("login")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := a.prompt("Email", *email)
	if err != nil {
		return err
	}
	password, err := a.readPassword()
	if err != nil {
		return err
	}

	if err := a.account.Login(ctx, e, password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, color.GreenString("Signed in as %s", strings.TrimSpace(e)))
	return nil
}

func (a *app) cmdRegister(ctx context.Context, args []string) error {
	fs := a.flagSet("register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	n, err := a.prompt("Name", *name)
	if err != nil {
		return err
	}
	e, err := a.prompt("Email", *email)
	if err != nil {
		return err
	}
	password, err := a.readPassword()
	if err != nil {
		return err
	}

	if err := a.account.Register(ctx, n, e, password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, color.GreenString("Account created. Signed in as %s", strings.TrimSpace(e)))
	return nil
}

func (a *app) cmdResetPassword(ctx context.Context, args []string) error {
	fs := a.flagSet("reset-password")
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := a.prompt("Email", *email)
	if err != nil {
		return err
	}
	if err := a.account.RequestPasswordReset(ctx, e); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "If an account exists for that email, a reset link is on its way.")
	return nil
}

func (a *app) cmdLogout(ctx context.Context, args []string) error {
	a.account.Logout(ctx)
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func (a *app) cmdStatus(ctx context.Context, args []string) error {
	cred := a.credential()
	fmt.Fprintf(a.out, "API:    %s\n", a.client.BaseURL())
	fmt.Fprintf(a.out, "Auth:   %s\n", cred)
	if !cred.IsAuthenticated() {
		fmt.Fprintln(a.out, "Not signed in. Run `pitchy login`.")
		return nil
	}

	profile, err := a.client.Me(ctx, cred)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "User:   %s <%s>\n", profile.Name, profile.Email)
	return nil
}

func (a *app) cmdDashboard(ctx context.Context, args []string) error {
	fs := a.flagSet("dashboard")
	filter := fs.String("filter", "", "only show analyses mentioning TEXT")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := dashboard.Load(ctx, a.client, a.repo, a.credential())
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "%s <%s>\n\n", bold(d.Profile.Name), d.Profile.Email)
	analyses := dashboard.FilterAnalyses(d.Analyses, *filter)
	fmt.Fprintf(a.out, "%s (%d)\n", bold("Analyses"), len(analyses))
	for _, an := range analyses {
		fmt.Fprintf(a.out, "  %-4d %-24s score %d  %s\n", an.ID, an.Name, an.InvestmentScore, an.CreatedAt.Local().Format(dateLayout))
	}
	fmt.Fprintf(a.out, "\n%s (%d)\n", bold("Sessions"), len(d.Sessions))
	printSessions(a.out, d.Sessions)
	return nil
}

// cmdWatch prints every sign-in change, including ones made by other
// processes sharing the data directory, until interrupted.
func (a *app) cmdWatch(ctx context.Context, args []string) error {
	fmt.Fprintf(a.out, "Auth: %s\n", a.credential())
	unsubscribe := a.auth.Subscribe(func(c auth.Credential) {
		fmt.Fprintf(a.out, "Auth: %s\n", c)
	})
	defer unsubscribe()

	<-ctx.Done()
	return nil
}
