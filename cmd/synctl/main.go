// Package main provides synctl, a one-shot operator CLI for the task
// synchronization service: it runs a single outbox-dispatch pass and a
// single reconciliation pass against both external sources, then exits.
// Unlike syncd, it does not serve the Intent API or loop on an interval —
// it is the "demo/ops runner" spec.md §6 describes, meant for cron-driven
// or ad-hoc invocation (`synctl tick`) and for config validation
// (`synctl check`).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/taskforge/sync/internal/config"
	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/identity"
	"github.com/taskforge/sync/internal/outbox"
	"github.com/taskforge/sync/internal/reconciler"
	"github.com/taskforge/sync/internal/sheet"
	"github.com/taskforge/sync/internal/store"
)

// Exit codes per spec.md §6.
const (
	exitSuccess         = 0
	exitInvalidConfig   = 64
	exitUnauthorized    = 65
	exitInternal        = 70
	exitTransient       = 75
	defaultTickDeadline = 60 * time.Second
)

const (
	version = "1.0.0-dev"
	name    = "synctl"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(exitSuccess)
	}

	command := "tick"
	if args := flag.Args(); len(args) > 0 {
		command = args[0]
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	os.Exit(run(command, logger))
}

func run(command string, logger *slog.Logger) int {
	dbConfig := store.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))

		return exitInvalidConfig
	}

	if command == "check" {
		logger.Info("configuration valid", slog.String("database", dbConfig.MaskDatabaseURL()))

		return exitSuccess
	}

	if command != "tick" {
		logger.Error("unknown command", slog.String("command", command))

		return exitInvalidConfig
	}

	return runTick(logger, dbConfig)
}

func runTick(logger *slog.Logger, dbConfig *store.Config) int {
	conn, err := store.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))

		return exitInternal
	}
	defer conn.Close()

	st, err := store.New(conn)
	if err != nil {
		logger.Error("failed to initialize store", slog.String("error", err.Error()))

		return exitInternal
	}

	gatewayTimeout := time.Duration(config.GetEnvInt("GATEWAY_TIMEOUT_SECONDS", int(forge.DefaultTimeout/time.Second))) * time.Second

	forgeOpts := []forge.Option{
		forge.WithHTTPClient(&http.Client{Timeout: gatewayTimeout}),
	}
	if baseURL := config.GetEnvStr("FORGE_API_BASE_URL", ""); baseURL != "" {
		forgeOpts = append(forgeOpts, forge.WithBaseURL(baseURL))
	}

	forgeGateway := forge.NewClient(config.GetEnvStr("FORGE_TOKEN", ""), forgeOpts...)

	sheetAuthMode := sheet.AuthMode(config.GetEnvStr("SHEET_AUTH_MODE", string(sheet.AuthModeTenant)))

	sheetGateway, err := sheet.NewClient(
		config.GetEnvStr("SHEET_BROKER_CMD", "sheet-broker"),
		sheetAuthMode,
		config.GetEnvStr("SHEET_DEFAULT_APP_TOKEN", ""),
		sheet.WithCallTimeout(gatewayTimeout),
	)
	if err != nil {
		logger.Error("failed to start sheet broker", slog.String("error", err.Error()))

		return exitInternal
	}
	defer sheetGateway.Close()

	resolver := identity.New(st, sheetGateway, logger)

	dispatcher := outbox.New(st, forgeGateway, sheetGateway, resolver, outbox.LoadConfig(), nil)
	recon := reconciler.New(st, forgeGateway, sheetGateway, reconciler.LoadConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), defaultTickDeadline)
	defer cancel()

	dispatcher.Tick(ctx)

	var tickErr error

	if err := recon.TickForge(ctx); err != nil {
		tickErr = err

		logger.Error("reconciler: forge tick failed", slog.String("error", err.Error()))
	}

	if err := recon.TickSheet(ctx); err != nil {
		tickErr = err

		logger.Error("reconciler: sheet tick failed", slog.String("error", err.Error()))
	}

	if tickErr == nil {
		logger.Info("tick complete")

		return exitSuccess
	}

	return exitCodeFor(tickErr)
}

// exitCodeFor classifies a Gateway error into the spec's exit-code taxonomy.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, forge.ErrUnauthorized), errors.Is(err, sheet.ErrUnauthorized):
		return exitUnauthorized
	case errors.Is(err, forge.ErrTransient), errors.Is(err, sheet.ErrTransient),
		errors.Is(err, forge.ErrRateLimited), errors.Is(err, sheet.ErrRateLimited):
		return exitTransient
	default:
		return exitInternal
	}
}
