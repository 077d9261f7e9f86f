// ABOUTME: Gateway orchestrator wiring Telegram, the session executor, and the heartbeat.
// ABOUTME: Owns listener setup (TCP or Tailscale), the HTTP server, and graceful shutdown.

package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/herald-gateway/internal/agent"
	"github.com/2389/herald-gateway/internal/auth"
	"github.com/2389/herald-gateway/internal/config"
	"github.com/2389/herald-gateway/internal/dedupe"
	"github.com/2389/herald-gateway/internal/executor"
	"github.com/2389/herald-gateway/internal/format"
	"github.com/2389/herald-gateway/internal/heartbeat"
	"github.com/2389/herald-gateway/internal/history"
)

// Dedupe window for webhook retries. Telegram redelivers for up to a day,
// but update ids are monotonic so a short window with a size cap is enough.
const (
	dedupeTTL     = 10 * time.Minute
	dedupeMaxSize = 4096
)

// Gateway is the long-running service: one Telegram bot, one session
// executor, one heartbeat scheduler, one HTTP listener.
type Gateway struct {
	config    *config.Config
	logger    *slog.Logger
	startedAt time.Time

	telegram    *Telegram
	handler     *Handler
	exec        *executor.Executor
	store       *history.Store
	seen        *dedupe.Tracker
	hb          *heartbeat.Scheduler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New assembles the gateway from configuration. Nothing starts listening
// until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	g := &Gateway{
		config:    cfg,
		logger:    logger,
		startedAt: time.Now(),
	}

	store, err := history.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}
	g.store = store

	exec, err := executor.New(executor.Options{
		WorkingDir:         cfg.Claude.WorkingDir,
		Model:              cfg.Claude.Model,
		MemoryPath:         cfg.Claude.MemoryPath,
		AgentTeams:         cfg.Claude.AgentTeams,
		InitialIdleTimeout: cfg.Claude.InitialIdleTimeout,
		ResultIdleTimeout:  cfg.Claude.ResultIdleTimeout,
		MinPartialChars:    cfg.Claude.MinPartialChars,
	}, agent.NewClaudeSession)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating executor: %w", err)
	}
	g.exec = exec

	g.seen = dedupe.New(dedupeTTL, dedupeMaxSize)
	g.handler = NewHandler(cfg.Telegram, exec, nil, store, g.seen)

	telegram, err := NewTelegram(cfg.Telegram,
		bot.WithMiddlewares(g.handler.Middleware),
		bot.WithDefaultHandler(g.handler.Handle),
	)
	if err != nil {
		store.Close()
		g.seen.Close()
		return nil, err
	}
	g.telegram = telegram
	g.handler.tg = telegram

	hbCfg := cfg.Heartbeat
	hbExec := heartbeat.NewExecutor(hbCfg, exec)
	g.hb = heartbeat.NewScheduler(hbCfg, hbExec, g.heartbeatResolver(), g.deliverHeartbeat)

	g.httpServer = &http.Server{
		Handler:           g.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// heartbeatResolver maps the configured target to the chat heartbeat checks
// run in and deliver to. "none" never resolves, "last" follows the most
// recent user chat, anything else is a literal chat id.
func (g *Gateway) heartbeatResolver() heartbeat.ChatResolver {
	target := g.config.Heartbeat.Target

	switch target {
	case heartbeat.TargetNone:
		return func() (int64, bool) { return 0, false }

	case heartbeat.TargetLast, "":
		return func() (int64, bool) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			chatID, err := g.store.LastActiveChat(ctx)
			if errors.Is(err, history.ErrNoHistory) {
				return 0, false
			}
			if err != nil {
				g.logger.Error("resolving last active chat", "error", err)
				return 0, false
			}
			return chatID, true
		}

	default:
		chatID, err := strconv.ParseInt(target, 10, 64)
		if err != nil {
			g.logger.Error("invalid heartbeat target, alerts disabled", "target", target)
			return func() (int64, bool) { return 0, false }
		}
		return func() (int64, bool) { return chatID, true }
	}
}

// deliverHeartbeat sends an alert to the resolved chat.
func (g *Gateway) deliverHeartbeat(ctx context.Context, chatID int64, res heartbeat.Result) error {
	g.logger.Info("delivering heartbeat alert", "chat_id", chatID, "ok", res.OK)
	for _, msg := range format.Render(res.Content) {
		if err := g.telegram.SendMessage(ctx, chatID, msg); err != nil {
			return err
		}
	}
	return nil
}

// buildMux wires the webhook, health, and admin routes.
func (g *Gateway) buildMux() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(g.config.Telegram.WebhookPath, g.telegram.WebhookHandler())
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	admin := http.NewServeMux()
	admin.HandleFunc("/admin/status", g.handleStatus)
	admin.HandleFunc("/admin/heartbeat", g.handleTriggerHeartbeat)
	admin.HandleFunc("/admin/reset", g.handleReset)

	if secret := g.config.Auth.JWTSecret; secret != "" {
		verifier := auth.NewJWTVerifier([]byte(secret))
		mux.Handle("/admin/", auth.Middleware(verifier)(admin))
	} else {
		g.logger.Warn("auth.jwt_secret not set, admin endpoints disabled")
	}

	return mux
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"active_sessions": g.exec.ActiveSessions(),
	})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":            "ok",
		"uptime_seconds":    int(time.Since(g.startedAt).Seconds()),
		"heartbeat_enabled": g.config.Heartbeat.Enabled,
		"requested_by":      auth.SubjectFromContext(r.Context()),
	})
}

func (g *Gateway) handleTriggerHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	g.logger.Info("heartbeat triggered via admin endpoint",
		"subject", auth.SubjectFromContext(r.Context()))
	res := g.hb.Trigger(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":        res.Success,
		"ok":             res.OK,
		"should_deliver": res.ShouldDeliver,
		"error":          res.Error,
	})
}

// handleReset tears down one chat's agent session so the next message starts
// a fresh conversation. Body: {"chat_id": N}.
func (g *Gateway) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ChatID int64 `json:"chat_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == 0 {
		http.Error(w, `{"error":"chat_id required"}`, http.StatusBadRequest)
		return
	}

	had := g.exec.Has(req.ChatID)
	g.exec.Reset(r.Context(), req.ChatID)
	g.logger.Info("conversation reset via admin endpoint",
		"chat_id", req.ChatID,
		"subject", auth.SubjectFromContext(r.Context()))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"reset": true, "had_session": had})
}

// Run starts the gateway and blocks until the context is canceled or a
// server fails. Always attempts graceful shutdown on the way out.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	if url := g.config.Telegram.WebhookURL; url != "" {
		if err := g.telegram.RegisterWebhook(ctx, url, g.config.Telegram.WebhookSecret); err != nil {
			ln.Close()
			return err
		}
	}

	go g.telegram.StartWebhook(ctx)
	g.hb.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	serverErr := g.waitForShutdownSignal(ctx, errCh)
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops all components in dependency order: no new updates, then
// the scheduler, then in-flight sessions, then storage.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}

	g.hb.Stop()
	g.exec.Shutdown()
	g.seen.Close()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("history store: %w", err))
	}

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale: %w", err))
		}
	}

	g.logger.Info("gateway shut down")
	return errors.Join(errs...)
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the state directory, using a default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "herald-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable (get one at https://login.tailscale.com/admin/settings/keys)")
	}
	return authKey, nil
}

// setupTailscaleListener starts a tsnet node and returns the HTTP listener.
// Funnel is the usual mode here: Telegram's servers must be able to reach
// the webhook from the public internet.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil

	case tsCfg.HTTPS:
		return g.setupTailscaleTLSListener()

	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// setupTailscaleTLSListener serves TLS using Tailscale's auto-provisioned certs.
func (g *Gateway) setupTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
