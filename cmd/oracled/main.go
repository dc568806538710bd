package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/i5heu/ouroboros-oracle/internal/config"
	"github.com/i5heu/ouroboros-oracle/pkg/logging"
	"github.com/i5heu/ouroboros-oracle/pkg/types"

	oracle "github.com/i5heu/ouroboros-oracle"
)

const (
	logKeyDataPath = "dataPath"
	logKeyOwner    = "owner"
	logKeySignal   = "signal"
	logKeyError    = "error"
	logKeyAddress  = "address"
)

func main() {
	flags := parseFlags()

	cfg, err := loadConfig(flags)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "oracled: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(parseLogLevel(cfg.LogLevel, flags.debug))

	logger.InfoContext(context.Background(), "starting oracle daemon",
		logKeyDataPath, cfg.DataPath,
		logKeyOwner, cfg.Owner)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.InfoContext(
			ctx,
			"received shutdown signal",
			logKeySignal,
			sig.String(),
		)
		cancel()
	}()

	if err := run(ctx, cfg, flags, logger); err != nil {
		logger.ErrorContext(context.Background(), "daemon error", logKeyError, err)
		os.Exit(1)
	}
}

// daemonFlags holds the parsed command line configuration.
type daemonFlags struct {
	configPath string
	dataPath   string
	owner      string
	providers  string
	cooldown   int
	relay      bool
	relayPort  uint
	debug      bool
}

// parseFlags parses command line flags.
func parseFlags() daemonFlags {
	f := daemonFlags{}

	flag.StringVar(&f.configPath, "config", "",
		"Path to YAML config file (flags override its values)")
	flag.StringVar(&f.dataPath, "data", "",
		"Path to data directory")
	flag.StringVar(&f.owner, "owner", "",
		"Hex principal of the controller owner")
	flag.StringVar(&f.providers, "providers", "",
		"Comma-separated hex principals granted the provider role")
	flag.IntVar(&f.cooldown, "cooldown", -1,
		"Per-principal cooldown in seconds")
	flag.BoolVar(&f.relay, "relay", true,
		"Serve the HTTP relay")
	flag.UintVar(&f.relayPort, "relay-port", 0,
		"Preferred relay port (0 picks a default)")
	flag.BoolVar(&f.debug, "debug", false,
		"Enable debug logging")

	flag.Parse()

	return f
}

// loadConfig merges the optional YAML file with command line flags.
// Flags win.
func loadConfig(f daemonFlags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if f.dataPath != "" {
		cfg.DataPath = f.dataPath
	}
	if f.owner != "" {
		cfg.Owner = f.owner
	}
	if f.providers != "" {
		cfg.Providers = strings.Split(f.providers, ",")
	}
	if f.cooldown >= 0 {
		cfg.CooldownSeconds = f.cooldown
	}
	if f.relayPort != 0 {
		cfg.RelayPort = int(f.relayPort)
	}

	if cfg.Owner == "" {
		return config.Config{}, fmt.Errorf("owner is required (flag -owner or config file)")
	}

	return cfg, nil
}

func parseLogLevel(level string, debug bool) slog.Level {
	if debug {
		return slog.LevelDebug
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// run is the main daemon logic, separated for testability.
func run(
	ctx context.Context,
	cfg config.Config,
	flags daemonFlags,
	logger *slog.Logger,
) error {
	owner, err := types.PrincipalFromHex(cfg.Owner)
	if err != nil {
		return fmt.Errorf("parse owner principal: %w", err)
	}

	providers := make([]types.Principal, 0, len(cfg.Providers))
	for _, raw := range cfg.Providers {
		p, err := types.PrincipalFromHex(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("parse provider principal %q: %w", raw, err)
		}
		providers = append(providers, p)
	}

	if cfg.RelayPort > 65535 {
		return fmt.Errorf("relay port invalid: %d", cfg.RelayPort)
	}

	svc, err := oracle.New(oracle.Config{
		Paths:            []string{cfg.DataPath},
		MinimumFreeGB:    cfg.MinimumFreeGB,
		Owner:            owner,
		Providers:        providers,
		Cooldown:         time.Duration(cfg.CooldownSeconds) * time.Second,
		SnapshotInterval: time.Duration(cfg.SnapshotSeconds) * time.Second,
		RelayEnabled:     flags.relay,
		RelayPort:        uint16(cfg.RelayPort),
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	if addr := svc.RelayAddress(); addr != "" {
		logger.InfoContext(ctx, "relay available", logKeyAddress, addr)
	}

	<-ctx.Done()

	logger.InfoContext(ctx, "daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), 10*time.Second,
	)
	defer cancel()
	return svc.Close(shutdownCtx)
}
