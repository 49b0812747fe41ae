// ABOUTME: Entry point for the livedesk chat server
// ABOUTME: Commands: serve, bootstrap, health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/livedesk/internal/auth"
	"github.com/2389/livedesk/internal/config"
	"github.com/2389/livedesk/internal/server"
	"github.com/2389/livedesk/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ _               _           _
| (_)_   _____  __| | ___  ___| | __
| | \ \ / / _ \/ _' |/ _ \/ __| |/ /
| | |\ V /  __/ (_| |  __/\__ \   <
|_|_| \_/ \___|\__,_|\___||___/_|\_\
`

// getConfigPath returns the path to the config file.
// Priority: LIVEDESK_CONFIG env var > XDG_CONFIG_HOME/livedesk/livedesk.yaml
// > ~/.config/livedesk/livedesk.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LIVEDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "livedesk.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "livedesk", "livedesk.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: livedesk <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve       Start the chat server")
		fmt.Println("  bootstrap   Create a tenant and its first agent")
		fmt.Println("  health      Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Dispatch: %s (max %d per agent)\n", cfg.Dispatch.Mode, cfg.Dispatch.MaxPerAgent)
	if cfg.Events.URL != "" {
		green.Print("    ▶ ")
		fmt.Printf("Events:   %s\n", cfg.Events.Exchange)
	}
	fmt.Println()

	logger.Info("starting livedesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"dispatch_mode", cfg.Dispatch.Mode,
	)

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return srv.Run(ctx)
}

// runBootstrap creates a tenant plus its first supervisor agent, generating
// a config file with a random JWT secret when none exists yet.
func runBootstrap(ctx context.Context) error {
	flags := map[string]*string{}
	var tenantName, tenantKey, username, password string
	flags["--tenant"] = &tenantName
	flags["--key"] = &tenantKey
	flags["--username"] = &username
	flags["--password"] = &password

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		dst, ok := flags[args[i]]
		if !ok {
			return fmt.Errorf("unknown flag: %s", args[i])
		}
		if i+1 >= len(args) {
			return fmt.Errorf("%s requires a value", args[i])
		}
		i++
		*dst = args[i]
	}
	if tenantName == "" || tenantKey == "" || username == "" || password == "" {
		return fmt.Errorf("--tenant, --key, --username and --password are required")
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}
		color.Green("✓ Config created: %s", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// Re-running bootstrap against an existing database reuses the tenant.
	tenant, err := st.GetTenantByKey(ctx, tenantKey)
	switch {
	case err == nil:
		color.Yellow("! Tenant %s already exists, reusing it", tenantKey)
	case errors.Is(err, store.ErrNotFound):
		tenant = &store.Tenant{Key: tenantKey, Name: tenantName, CreatedAt: time.Now()}
		if err := st.CreateTenant(ctx, tenant); err != nil {
			return fmt.Errorf("creating tenant: %w", err)
		}
		color.Green("✓ Tenant created: %s (key %s)", tenantName, tenantKey)
	default:
		return fmt.Errorf("looking up tenant: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	agent := &store.Agent{
		TenantID:     tenant.ID,
		Username:     username,
		PasswordHash: hash,
		DisplayName:  username,
		Role:         store.RoleSupervisor,
		CreatedAt:    time.Now(),
	}
	if err := st.CreateAgent(ctx, agent); err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	color.Green("✓ Supervisor created: %s", username)
	fmt.Println()
	fmt.Println("Start the server with: livedesk serve")
	return nil
}

func writeDefaultConfig(path string) error {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	content := fmt.Sprintf(`server:
  http_addr: "127.0.0.1:8080"

database:
  path: "livedesk.db"

files:
  dir: "files"
  base_url: "http://127.0.0.1:8080/files"

auth:
  jwt_secret: "%s"
  session_ttl: "12h"

presence:
  customer_grace: "5m"
  connect_limit: "1m"

dispatch:
  mode: "balance"
  max_per_agent: 5

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`, secret)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&colorHandler{level: level})
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return h
}
