package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/fatih/color"
	"github.com/pitchy/client/account"
	"github.com/pitchy/client/api"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/chat"
	"github.com/pitchy/client/config"
	"github.com/pitchy/client/draft"
	"github.com/pitchy/client/durable"
	"github.com/pitchy/client/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// errUsage makes run print the command's usage and exit with status 2.
var errUsage = errors.New("usage")

type command struct {
	usage string
	run   func(a *app, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"login":          {"login [--email E]", (*app).cmdLogin},
	"register":       {"register [--name N] [--email E]", (*app).cmdRegister},
	"reset-password": {"reset-password [--email E]", (*app).cmdResetPassword},
	"logout":         {"logout", (*app).cmdLogout},
	"status":         {"status", (*app).cmdStatus},
	"dashboard":      {"dashboard [--filter TEXT]", (*app).cmdDashboard},
	"sessions":       {"sessions", (*app).cmdSessions},
	"show":           {"show [--qr] ID", (*app).cmdShow},
	"new":            {"new --title T [--message M] [--analysis ID]", (*app).cmdNew},
	"send":           {"send ID MESSAGE...", (*app).cmdSend},
	"rename":         {"rename ID TITLE...", (*app).cmdRename},
	"delete":         {"delete ID", (*app).cmdDelete},
	"search":         {"search QUERY...", (*app).cmdSearch},
	"chat":           {"chat [ID]", (*app).cmdChat},
	"draft":          {"draft [show|set|analyze|clear] [flags]", (*app).cmdDraft},
	"watch":          {"watch", (*app).cmdWatch},
	"serve":          {"serve [--addr A] [--qr]", (*app).cmdServe},
	"mcp":            {"mcp", (*app).cmdMCP},
}

// app holds the wiring shared by every command.
type app struct {
	cfg      *config.Config
	kv       durable.Store
	client   *api.Client
	auth     *auth.Store
	repo     *chat.Repository
	account  *account.Service
	drafts   *draft.Store
	explicit auth.Credential

	in     *bufio.Reader
	stdin  io.Reader
	out    io.Writer
	errOut io.Writer
}

func newApp(cfg *config.Config, kv durable.Store, stdin io.Reader, stdout, stderr io.Writer) *app {
	client := api.NewClient(cfg.APIBaseURL,
		api.WithCookieJar(api.NewStoredJar(kv)),
		api.WithTimeout(cfg.HTTPTimeout),
	)
	store := auth.NewStore(kv,
		auth.WithRevoker(client),
		auth.WithLogoutTimeout(cfg.LogoutTimeout),
	)
	store.Hydrate()
	repo := chat.NewRepository(client)

	return &app{
		cfg:      cfg,
		kv:       kv,
		client:   client,
		auth:     store,
		repo:     repo,
		account:  account.NewService(client, store, repo),
		drafts:   draft.NewStore(kv),
		explicit: auth.Unknown(),
		in:       bufio.NewReader(stdin),
		stdin:    stdin,
		out:      stdout,
		errOut:   stderr,
	}
}

func (a *app) close() {
	a.auth.Close()
	if err := a.kv.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}

// credential is the credential for the next request: --token wins over the
// shared sign-in state.
func (a *app) credential() auth.Credential {
	return a.auth.Resolve(a.explicit)
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "pitchy %s\n\nUsage: pitchy [--token TOKEN] COMMAND [ARGS]\n\nCommands:\n", version)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
}

// run executes one CLI invocation and returns the process exit status.
func run(ctx context.Context, args []string, kv durable.Store, cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("pitchy", flag.ContinueOnError)
	global.SetOutput(stderr)
	token := global.String("token", os.Getenv("PITCHY_TOKEN"), "bearer token for this invocation (overrides the shared sign-in)")
	global.Usage = func() { usage(stderr) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		usage(stderr)
		return 2
	}

	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(stderr)
		return 2
	}

	a := newApp(cfg, kv, stdin, stdout, stderr)
	defer a.close()
	if *token != "" {
		a.explicit = auth.Bearer(*token)
	}

	err := cmd.run(a, ctx, global.Args()[1:])
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		fmt.Fprintf(stderr, "Usage: pitchy %s\n", cmd.usage)
		return 2
	default:
		slog.Debug("command failed", "command", name, "error", err)
		fmt.Fprintln(stderr, color.RedString("Error: %s", err))
		return 1
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	closeLog := logger.Init(logger.Config{
		DataDir: cfg.DataDir,
		DevMode: cfg.DevMode,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Format:  cfg.LogFormat,
	})

	kv, err := durable.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		slog.Error("failed to open storage", "backend", cfg.StorageBackend, "error", err)
		fmt.Fprintln(os.Stderr, color.RedString("Error: %s", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], kv, cfg, os.Stdin, os.Stdout, os.Stderr)
	stop()
	closeLog()
	os.Exit(code)
}
