// ABOUTME: Entry point for coven-webhook, the multi-tenant Telegram webhook store
// ABOUTME: Provides serve, health, tenants, keys and get commands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/coven-webhook/internal/config"
	"github.com/2389/coven-webhook/internal/kv"
	"github.com/2389/coven-webhook/internal/server"
	"github.com/2389/coven-webhook/internal/tenant"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                 _     _                 _
  ___ _____   _____ _ __       __      _____| |__ | |__   ___   ___ | | __
 / __/ _ \ \ / / _ \ '_ \ _____\ \ /\ / / _ \ '_ \| '_ \ / _ \ / _ \| |/ /
| (_| (_) \ V /  __/ | | |_____|\ V  V /  __/ |_) | | | | (_) | (_) |   <
 \___\___/ \_/ \___|_| |_|       \_/\_/ \___|_.__/|_| |_|\___/ \___/|_|\_\
`

// defaultConfigPath returns the config file to use when none is given.
// Priority: COVEN_WEBHOOK_CONFIG env var > XDG_CONFIG_HOME/coven/webhook.yaml > ~/.config/coven/webhook.yaml
// Returns "" when the default file does not exist, which means env-only.
func defaultConfigPath() string {
	if envPath := os.Getenv("COVEN_WEBHOOK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	path := filepath.Join(configDir, "coven", "webhook.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// resolveConfigPath picks the positional config argument if present.
func resolveConfigPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultConfigPath()
}

func usage() {
	fmt.Println("Usage: coven-webhook <command> [config]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve [config]                 Start the webhook server")
	fmt.Println("  health [config]                Check server health")
	fmt.Println("  tenants [config]               List tenants with stores on disk")
	fmt.Println("  keys [config] <tenant>         List stored update ids for a tenant")
	fmt.Println("  get [config] <tenant> <key>    Print a stored message")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A missing .env is normal; everything it could set also comes from the environment.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: loading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "tenants":
		err = runTenants(os.Stdout, args)
	case "keys":
		err = runKeys(ctx, os.Stdout, args)
	case "get":
		err = runGet(ctx, os.Stdout, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, args []string) error {
	configPath := resolveConfigPath(args)

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	shownPath := configPath
	if shownPath == "" {
		shownPath = "(environment only)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", shownPath)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s (%s)\n", cfg.Storage.BasePath, cfg.Storage.Backend)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Telegram.AckEnabled {
		green.Print("    ▶ ")
		fmt.Printf("Ack:       %q\n", cfg.Telegram.AckText)
	}
	fmt.Println()

	logger.Info("starting coven-webhook",
		"config", shownPath,
		"http_addr", cfg.Server.HTTPAddr,
		"base_path", cfg.Storage.BasePath,
		"backend", cfg.Storage.Backend,
	)

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return srv.Run(ctx)
}

// healthURL turns the listen address into something a local client can dial.
func healthURL(cfg *config.Config) string {
	addr := cfg.Server.HTTPAddr
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "0.0.0.0" || host == "::" {
			addr = net.JoinHostPort("127.0.0.1", port)
		}
	}
	return "http://" + addr + cfg.Server.HealthPath
}

func runHealth(ctx context.Context, args []string) error {
	cfg, err := loadConfig(resolveConfigPath(args))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg), nil)
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

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	fmt.Println(string(body))
	return nil
}

func runTenants(out io.Writer, args []string) error {
	cfg, err := loadConfig(resolveConfigPath(args))
	if err != nil {
		return err
	}

	router := tenant.New(cfg.Storage.BasePath, kv.OpenMemory, setupLogger(cfg.Logging))
	ids, err := router.OnDisk()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

// openTenant opens an existing tenant store without creating new ones.
// The returned router must be closed by the caller.
func openTenant(ctx context.Context, configPath, tenantID string) (*tenant.Router, kv.Engine, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Storage.Backend == kv.BackendMemory {
		return nil, nil, errors.New("memory backend keeps nothing on disk")
	}
	if err := tenant.ValidateID(tenantID); err != nil {
		return nil, nil, err
	}

	open, err := kv.Backend(cfg.Storage.Backend)
	if err != nil {
		return nil, nil, err
	}
	router := tenant.New(cfg.Storage.BasePath, open, setupLogger(cfg.Logging))

	// Resolve would create a store for an unknown tenant.
	if _, err := os.Stat(filepath.Join(router.Path(tenantID), kv.DatabaseFile)); err != nil {
		return nil, nil, fmt.Errorf("tenant %s has no store under %s", tenantID, cfg.Storage.BasePath)
	}

	engine, err := router.Resolve(ctx, tenantID)
	if err != nil {
		router.Close()
		return nil, nil, err
	}
	return router, engine, nil
}

func runGet(ctx context.Context, out io.Writer, args []string) error {
	var configPath string
	switch len(args) {
	case 2:
		configPath = defaultConfigPath()
	case 3:
		configPath, args = args[0], args[1:]
	default:
		return errors.New("usage: coven-webhook get [config] <tenant> <key>")
	}
	tenantID, key := args[0], args[1]

	router, engine, err := openTenant(ctx, configPath, tenantID)
	if err != nil {
		return err
	}
	defer router.Close()

	value, found, err := engine.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("tenant %s has no message %s", tenantID, key)
	}
	fmt.Fprintln(out, value)
	return nil
}

func runKeys(ctx context.Context, out io.Writer, args []string) error {
	var configPath string
	switch len(args) {
	case 1:
		configPath = defaultConfigPath()
	case 2:
		configPath, args = args[0], args[1:]
	default:
		return errors.New("usage: coven-webhook keys [config] <tenant>")
	}
	tenantID := args[0]

	router, engine, err := openTenant(ctx, configPath, tenantID)
	if err != nil {
		return err
	}
	defer router.Close()

	lister, ok := engine.(kv.Lister)
	if !ok {
		return fmt.Errorf("backend %T cannot list keys", engine)
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		fmt.Fprintln(out, key)
	}
	return nil
}
