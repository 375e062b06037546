package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/pitchy/client/auth"
	"github.com/pitchy/client/mcp"
	"github.com/pitchy/client/middleware"
	"github.com/pitchy/client/rpc"
	"github.com/pitchy/client/ws"
)

const shutdownTimeout = 10 * time.Second

// newHandler builds the bridge router. Everything except /health and /ws
// needs the bridge token as a bearer header; /ws checks it in its first
// request.
func newHandler(token, frontendURL string, store *auth.Store, rpcHandler http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{frontendURL}))
	r.Use(middleware.Auth(token, "/health", "/ws"))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"message": "pong"})
	})

	r.Get("/api/auth", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, rpc.NewAuthState(store.Snapshot()))
	})

	r.Get("/ws", rpcHandler.ServeHTTP)

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// cmdServe runs the local bridge until interrupted.
func (a *app) cmdServe(ctx context.Context, args []string) error {
	fs := a.flagSet("serve")
	addr := fs.String("addr", a.cfg.BridgeAddr, "listen address")
	qr := fs.Bool("qr", false, "print a QR code for connecting a front end")
	if err := fs.Parse(args); err != nil {
		return err
	}

	token := a.cfg.BridgeToken
	generated := token == ""
	if generated {
		token = uuid.NewString()
	}

	rpcHandler := ws.NewRPCHandler(token, version, a.cfg.DevMode, a.client, a.auth, a.repo, a.drafts)
	defer rpcHandler.Stop()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", *addr, err)
	}
	srv := &http.Server{
		Handler:           newHandler(token, a.cfg.FrontendURL, a.auth, rpcHandler),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	wsURL := "ws://" + ln.Addr().String() + "/ws"
	fmt.Fprintf(a.out, "Bridge listening on %s\n", wsURL)
	if generated {
		fmt.Fprintf(a.out, "Token: %s\n", token)
	}
	if *qr {
		q := url.Values{"bridge": {wsURL}, "token": {token}}
		printQR(a.out, a.cfg.FrontendURL+"/?"+q.Encode())
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("bridge listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down bridge")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// cmdMCP serves the MCP tools on stdin/stdout.
func (a *app) cmdMCP(ctx context.Context, args []string) error {
	return mcp.NewServer(version, a.repo, a.auth).Run(ctx)
}
