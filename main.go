// Command scratchcard runs the multi-session scratch card server.
//
// Commands:
//  1. "server" (default): HTTP server with the REST API, WebSocket updates and an /mcp endpoint
//  2. "mcp": MCP stdio server; reuses a running API or starts an internal one
//  3. "backup": archive the sessions directory to the backup store once
//  4. "restore": replace the sessions directory with the latest backup (server must be stopped)
//
// Settings come from the environment (and .env); flags override them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/scratchcard/api"
	"github.com/wricardo/scratchcard/auth"
	"github.com/wricardo/scratchcard/backup"
	"github.com/wricardo/scratchcard/game/config"
	"github.com/wricardo/scratchcard/game/events"
	"github.com/wricardo/scratchcard/game/lock"
	"github.com/wricardo/scratchcard/game/service"
	"github.com/wricardo/scratchcard/game/session"
	"github.com/wricardo/scratchcard/internal/envconfig"
	"github.com/wricardo/scratchcard/transport/mcp"
	"github.com/wricardo/scratchcard/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Scratch Card Server"
)

var log = logrus.WithField("pkg", "main")

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		log.WithError(err).Fatal("exiting")
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:           "scratchcard",
		Usage:          AppName,
		Version:        Version,
		DefaultCommand: "server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file to load before reading the environment"},
			&cli.StringFlag{Name: "host", Usage: "HTTP server host (HOST)"},
			&cli.IntFlag{Name: "port", Usage: "HTTP server port (PORT)"},
			&cli.StringFlag{Name: "config-dir", Usage: "directory of preset game configurations (CONFIG_DIR)"},
			&cli.StringFlag{Name: "sessions-dir", Usage: "directory of session snapshots (SESSIONS_DIR)"},
			&cli.StringFlag{Name: "lock-mode", Usage: "hold or auto-release (LOCK_MODE)"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "run the HTTP server with REST API, WebSocket and MCP endpoint",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "ngrok", Usage: "expose the server through an ngrok tunnel (NGROK_ENABLED)"},
					&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain (NGROK_DOMAIN)"},
				},
				Action: runServer,
			},
			{
				Name:  "mcp",
				Usage: "run an MCP stdio server backed by the REST API",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "api-url", Usage: "REST API to proxy to; defaults to http://localhost:PORT"},
				},
				Action: runMCP,
			},
			{
				Name:   "backup",
				Usage:  "archive the sessions directory to the backup store",
				Action: runBackup,
			},
			{
				Name:   "restore",
				Usage:  "replace the sessions directory with the latest backup",
				Action: runRestore,
			},
		},
	}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cli.Command) (envconfig.Config, error) {
	cfg, err := envconfig.Load(cmd.String("env-file"))
	if err != nil {
		return cfg, err
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	if cmd.IsSet("config-dir") {
		cfg.ConfigDir = cmd.String("config-dir")
	}
	if cmd.IsSet("sessions-dir") {
		cfg.SessionsDir = cmd.String("sessions-dir")
	}
	if cmd.IsSet("lock-mode") {
		cfg.LockMode = cmd.String("lock-mode")
	}
	if cmd.IsSet("debug") && cmd.Bool("debug") {
		cfg.LogLevel = logrus.DebugLevel.String()
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	logrus.SetLevel(cfg.Level())
	return cfg, nil
}

// app holds the wired components of a running server.
type app struct {
	cfg      envconfig.Config
	sessions *session.Manager
	bus      *events.Bus
	locks    *lock.Manager
	trigger  *backup.Trigger
	backups  *backup.Service
	service  service.GameService
	auth     *auth.Authenticator
}

func newStore(ctx context.Context, cfg envconfig.Config) (backup.Store, error) {
	if r2 := cfg.R2(); r2.Enabled() {
		log.WithField("bucket", r2.Bucket).Info("using R2 backup store")
		return backup.NewR2Store(ctx, r2)
	}
	log.WithField("dir", cfg.BackupDir).Info("using local backup store")
	return backup.NewDirStore(cfg.BackupDir)
}

// newApp wires config, registry, locks, backups, service and auth. When
// RestoreOnStart is set the latest backup is unpacked before sessions load.
func newApp(ctx context.Context, cfg envconfig.Config) (*app, error) {
	configs, err := config.NewManager(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create config manager: %w", err)
	}

	persistence, err := session.NewFilePersistence(cfg.SessionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create session persistence: %w", err)
	}
	sessions := session.NewManagerWithPersistence(persistence)

	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup store: %w", err)
	}
	backups := backup.NewService(cfg.SessionsDir, store, backup.WithFlush(sessions.SaveAllSessions))

	if cfg.RestoreOnStart {
		key, err := backups.Restore(ctx)
		switch {
		case errors.Is(err, backup.ErrNoBackup):
			log.Info("no backup to restore")
		case err != nil:
			log.WithError(err).Warn("restore on start failed, continuing with local sessions")
		default:
			log.WithField("key", key).Info("restored sessions from backup")
		}
	}

	if err := sessions.LoadPersistedSessions(); err != nil {
		log.WithError(err).Warn("failed to load persisted sessions")
	}

	trigger := backup.NewTrigger(backups, nil)
	bus := events.NewBus()
	locks := lock.NewManager(lock.Options{
		TTL:             cfg.LockTTL,
		SweepInterval:   cfg.LockSweepInterval,
		IdleBackupAfter: cfg.IdleBackupAfter,
		Mode:            cfg.Mode(),
		Trigger:         trigger,
	})
	gameService := service.NewGameService(sessions, configs, locks, service.WithPublisher(bus))

	authn, err := auth.NewAuthenticator(cfg.AdminPassword, cfg.PlayerPassword, gameService)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	return &app{
		cfg:      cfg,
		sessions: sessions,
		bus:      bus,
		locks:    locks,
		trigger:  trigger,
		backups:  backups,
		service:  gameService,
		auth:     authn,
	}, nil
}

// start launches the background workers: backup worker, winning-reveal
// listener, lock sweeper and token purge. They stop with ctx.
func (a *app) start(ctx context.Context) error {
	go a.trigger.Run(ctx)

	winners, unsubscribe := a.bus.Subscribe(events.DefaultBuffer, events.WinningRevealed)
	go func() {
		defer unsubscribe()
		a.trigger.Listen(ctx, winners)
	}()

	if err := a.locks.StartSweeper(ctx); err != nil {
		return err
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			if n := a.auth.PurgeExpired(); n > 0 {
				log.WithField("count", n).Debug("purged expired tokens")
			}
		}),
		gocron.WithName("token-purge"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule token purge: %w", err)
	}
	sched.Start()
	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			log.WithError(err).Warn("scheduler shutdown failed")
		}
	}()
	return nil
}

// handler builds the HTTP handler: REST API, WebSocket hub and /mcp.
func (a *app) handler(ctx context.Context, selfURL string) http.Handler {
	hub := websocket.NewHub(a.service)
	go hub.Run(ctx)

	updates, unsubscribe := a.bus.Subscribe(events.DefaultBuffer)
	go func() {
		defer unsubscribe()
		hub.Listen(ctx, updates)
	}()

	apiServer := api.NewServer(a.service, a.auth, hub, api.WithBackupper(a.backups))
	mcpClient := mcp.NewClient(selfURL, a.cfg.PlayerPassword)

	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/mcp", mcpHandler(mcpClient.GetMCPServer()))
	return mux
}

// shutdown writes every session snapshot.
func (a *app) shutdown() {
	if err := a.sessions.SaveAllSessions(); err != nil {
		log.WithError(err).Error("failed to save sessions on shutdown")
	}
	a.bus.Close()
}

// mcpHandler serves single JSON-RPC messages over HTTP POST.
func mcpHandler(srv *server.MCPServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := srv.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			log.WithError(err).Warn("failed to write MCP response")
		}
	}
}

// localURL is how in-process clients reach the listener at addr.
func localURL(host string, port int) string {
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, fmt.Sprint(port))
}

func runServer(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("ngrok") {
		cfg.NgrokEnabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.NgrokDomain = cmd.String("ngrok-domain")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{"version": Version, "lock_mode": cfg.Mode()}).Infof("starting %s", AppName)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.start(ctx); err != nil {
		return err
	}

	addr := cfg.Addr()
	handler := a.handler(ctx, localURL(cfg.Host, cfg.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithFields(logrus.Fields{
			"api": "http://" + addr + "/api",
			"ws":  "ws://" + addr + "/ws?session=<code>",
			"mcp": "http://" + addr + "/mcp",
		}).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if cfg.NgrokEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveNgrok(ctx, cfg, handler)
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-serverErr:
		log.WithError(err).Error("HTTP server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
	}

	wg.Wait()
	a.shutdown()
	log.Info("server stopped")
	return err
}

// serveNgrok exposes handler through an ngrok tunnel until ctx is done.
func serveNgrok(ctx context.Context, cfg envconfig.Config, handler http.Handler) {
	if cfg.NgrokAuthToken == "" {
		log.Warn("ngrok enabled but NGROK_AUTHTOKEN is not set")
		return
	}

	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuthToken))
	if err != nil {
		log.WithError(err).Error("failed to start ngrok tunnel")
		return
	}

	log.WithField("url", tun.URL()).Info("ngrok tunnel established")

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("ngrok server error")
	}
	log.Info("ngrok tunnel closed")
}

// runMCP serves MCP over stdio. It proxies to --api-url when that API
// answers; otherwise it starts an internal API on a loopback port.
func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	baseURL := cmd.String("api-url")
	if baseURL == "" {
		baseURL = localURL(cfg.Host, cfg.Port)
	}

	if !apiAvailable(baseURL) {
		log.WithField("url", baseURL).Info("no API server found, starting internal one")

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		internalURL := "http://" + listener.Addr().String()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		if err := a.start(ctx); err != nil {
			return err
		}
		defer a.shutdown()

		httpServer := &http.Server{Handler: a.handler(ctx, internalURL)}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("internal HTTP server error")
			}
		}()
		defer httpServer.Close()

		baseURL = internalURL
	}

	log.WithField("url", baseURL).Info("MCP stdio server ready")
	return server.ServeStdio(mcp.NewClient(baseURL, cfg.PlayerPassword).GetMCPServer())
}

func apiAvailable(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func runBackup(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	key, err := backup.NewService(cfg.SessionsDir, store).Backup(ctx)
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}

func runRestore(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}

	key, err := backup.NewService(cfg.SessionsDir, store).Restore(ctx)
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}
