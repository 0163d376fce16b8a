package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/scratchcard/game/lock"
	"github.com/wricardo/scratchcard/game/service"
	"github.com/wricardo/scratchcard/internal/envconfig"
	"github.com/wricardo/scratchcard/transport/mcp"
)

func TestConstants(t *testing.T) {
	if Version != "1.0.0" {
		t.Errorf("Expected version 1.0.0, got %s", Version)
	}
	if AppName != "Scratch Card Server" {
		t.Errorf("Expected app name Scratch Card Server, got %s", AppName)
	}
}

func TestCommandStructure(t *testing.T) {
	cmd := newCommand()

	if cmd.DefaultCommand != "server" {
		t.Errorf("DefaultCommand = %s", cmd.DefaultCommand)
	}
	want := map[string]bool{"server": false, "mcp": false, "backup": false, "restore": false}
	for _, sub := range cmd.Commands {
		if _, ok := want[sub.Name]; ok {
			want[sub.Name] = true
		}
		if sub.Action == nil {
			t.Errorf("command %s has no action", sub.Name)
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing command %s", name)
		}
	}
}

func testConfig(t *testing.T) envconfig.Config {
	t.Helper()
	cfg, err := envconfig.Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.ConfigDir = "configs"
	cfg.SessionsDir = filepath.Join(t.TempDir(), "sessions")
	cfg.BackupDir = filepath.Join(t.TempDir(), "backups")
	return cfg
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	t.Setenv("PORT", "7000")

	var got envconfig.Config
	cmd := newCommand()
	for _, sub := range cmd.Commands {
		if sub.Name == "server" {
			sub.Action = func(ctx context.Context, c *cli.Command) error {
				cfg, err := loadConfig(c)
				got = cfg
				return err
			}
		}
	}

	args := []string{"scratchcard", "--env-file", missing, "--port", "9191", "--lock-mode", "auto-release", "--debug", "server"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got.Port != 9191 {
		t.Errorf("Port = %d, flag should win over env", got.Port)
	}
	if got.Mode() != lock.ModeAutoRelease {
		t.Errorf("Mode = %s", got.Mode())
	}
	if got.LogLevel != "debug" {
		t.Errorf("LogLevel = %s", got.LogLevel)
	}
	if got.Host != "localhost" {
		t.Errorf("Host = %s, unset flag should keep env default", got.Host)
	}
}

func TestLoadConfig_InvalidLockMode(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.env")
	cmd := newCommand()
	for _, sub := range cmd.Commands {
		if sub.Name == "server" {
			sub.Action = func(ctx context.Context, c *cli.Command) error {
				_, err := loadConfig(c)
				return err
			}
		}
	}

	err := cmd.Run(context.Background(), []string{"scratchcard", "--env-file", missing, "--lock-mode", "shared", "server"})
	if err == nil || !strings.Contains(err.Error(), "unknown lock mode") {
		t.Errorf("expected lock mode error, got %v", err)
	}
}

func TestNewApp(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	a, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.shutdown()

	configs, err := a.service.ListConfigs(ctx)
	if err != nil || len(configs) == 0 {
		t.Fatalf("ListConfigs = %v, %v", configs, err)
	}
	if _, err := a.service.CreateSession(ctx, "lobby", service.CreateRequest{Preset: "classic"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, _, err := a.auth.LoginPlayer(cfg.PlayerPassword); err != nil {
		t.Errorf("LoginPlayer: %v", err)
	}
}

func TestNewApp_InvalidConfigDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConfigDir = "/non/existent/path"

	if _, err := newApp(context.Background(), cfg); err == nil {
		t.Error("Expected error for non-existent config directory")
	}
}

func TestNewApp_RestoreOnStart(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	if _, err := first.service.CreateSession(ctx, "lobby", service.CreateRequest{Preset: "classic"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := first.backups.Backup(ctx); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	first.shutdown()

	// fresh disk, same backup store
	cfg.SessionsDir = filepath.Join(t.TempDir(), "sessions")
	cfg.RestoreOnStart = true

	second, err := newApp(ctx, cfg)
	if err != nil {
		t.Fatalf("newApp with restore: %v", err)
	}
	defer second.shutdown()

	if _, err := second.service.GetSession(ctx, "lobby"); err != nil {
		t.Errorf("restored session missing: %v", err)
	}
}

func TestNewApp_RestoreWithoutBackup(t *testing.T) {
	cfg := testConfig(t)
	cfg.RestoreOnStart = true

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp should tolerate an empty store: %v", err)
	}
	a.shutdown()
}

func TestLocalURL(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"localhost", 8080, "http://localhost:8080"},
		{"0.0.0.0", 9000, "http://127.0.0.1:9000"},
		{"", 80, "http://127.0.0.1:80"},
		{"::", 8080, "http://127.0.0.1:8080"},
	}
	for _, tt := range tests {
		if got := localURL(tt.host, tt.port); got != tt.want {
			t.Errorf("localURL(%q, %d) = %s, want %s", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestMCPHandler(t *testing.T) {
	handler := mcpHandler(mcp.NewClient("http://127.0.0.1:1", "pw").GetMCPServer())

	t.Run("rejects GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("lists tools", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body)))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		for _, tool := range []string{"list_sessions", "reveal", "acquire_lock"} {
			if !strings.Contains(rec.Body.String(), tool) {
				t.Errorf("expected %s in %s", tool, rec.Body.String())
			}
		}
	})
}

func TestAPIAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if !apiAvailable(srv.URL) {
		t.Error("expected API to be available")
	}
	if apiAvailable("http://127.0.0.1:1") {
		t.Error("expected unreachable API to be unavailable")
	}
}
