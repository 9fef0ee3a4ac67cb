// Package main is the entry point for the remote control agent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/remotectl/agent/internal/api"
	"github.com/remotectl/agent/internal/discovery"
	"github.com/remotectl/agent/internal/executor"
	"github.com/remotectl/agent/internal/keystore"
	"github.com/remotectl/agent/internal/pairing"
	"github.com/remotectl/agent/internal/session"
	"github.com/remotectl/agent/internal/staging"
	"github.com/remotectl/agent/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

const (
	defaultListenAddr = "0.0.0.0"
	defaultPort       = 8765

	// pairingSweepInterval is how often expired pairing codes are evicted.
	pairingSweepInterval = time.Minute

	// tokenPurgeInterval is how often expired refresh tokens are purged.
	tokenPurgeInterval = time.Hour

	shutdownTimeout = 10 * time.Second
)

// defaultDataDir resolves the agent state directory: /var/lib when running
// as a system service, the user config dir otherwise.
func defaultDataDir() string {
	if os.Geteuid() == 0 {
		return "/var/lib/remote-agent"
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "remote-agent")
	}
	return ".remote-agent"
}

// Config holds the agent configuration.
type Config struct {
	// Network
	ListenAddr string
	Port       int

	// Storage
	DataDir    string
	StagingDir string

	// Discovery
	NoDiscovery bool

	// Escalation
	SudoTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("remote-agent %s\n", version)
			return
		}
	}

	cfg := parseFlags()
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("agent failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Token-signing key, sealed to this machine.
	key, err := keystore.NewStore(cfg.DataDir).Load()
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	issuer := session.NewIssuer(st, key)
	go purgeTokens(ctx, st, logger)

	registry := pairing.NewRegistry()
	go registry.Run(ctx, pairingSweepInterval)

	area, err := staging.New(cfg.StagingDir, logger)
	if err != nil {
		return fmt.Errorf("create staging area: %w", err)
	}
	defer area.Close()

	exec := executor.New(logger, area)
	exec.SetEscalationTimeout(cfg.SudoTimeout)

	deviceID, err := discovery.LoadDeviceID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load device identity: %w", err)
	}

	beacon := discovery.NewBeacon(logger, deviceID)
	if cfg.NoDiscovery {
		logger.Info("discovery disabled")
	} else if err := beacon.Start(cfg.Port); err != nil {
		// The agent stays reachable by address even when mDNS is down.
		if errors.Is(err, discovery.ErrNoNetworkInterface) {
			logger.Warn("no usable network interface, discovery disabled")
		} else {
			logger.Warn("discovery failed to start", "error", err)
		}
	}
	defer beacon.Stop()

	srv := api.NewServer(logger, registry, issuer, beacon, exec, area)

	httpSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port)),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // large uploads and downloads
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("agent listening",
			"addr", httpSrv.Addr,
			"device_id", deviceID,
			"version", version,
		)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", "error", err)
	}

	logger.Info("agent stopped")
	return nil
}

// purgeTokens periodically removes expired refresh tokens from the store.
func purgeTokens(ctx context.Context, st *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.PurgeExpiredTokens(); err != nil {
				logger.Warn("token purge failed", "error", err)
			}
		}
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen", defaultListenAddr, "Listen address")
	flag.IntVar(&cfg.Port, "port", defaultPort, "Listen port (also advertised via mDNS)")
	flag.StringVar(&cfg.DataDir, "data-dir", defaultDataDir(), "Data directory for keys and the principal store")
	flag.StringVar(&cfg.StagingDir, "staging-dir", "", "Staging directory for uploads (default: system temp)")
	flag.BoolVar(&cfg.NoDiscovery, "no-discovery", false, "Disable mDNS discovery")
	flag.DurationVar(&cfg.SudoTimeout, "sudo-timeout", 0, "Timeout for escalated operations (default 30s)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", "text", "Log format (text, json)")
	flag.Parse()

	// Allow environment variables to override
	if v := os.Getenv("REMOTE_AGENT_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("REMOTE_AGENT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("REMOTE_AGENT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("REMOTE_AGENT_STAGING_DIR"); v != "" {
		cfg.StagingDir = v
	}
	if os.Getenv("REMOTE_AGENT_NO_DISCOVERY") == "true" {
		cfg.NoDiscovery = true
	}
	if v := os.Getenv("REMOTE_AGENT_SUDO_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SudoTimeout = d
		}
	}

	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}

	return cfg
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var slogHandler slog.Handler
	if format == "json" {
		slogHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		slogHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(slogHandler)
}
