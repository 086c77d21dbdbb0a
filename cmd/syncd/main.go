// Package main provides syncd, the task synchronization daemon.
//
// syncd keeps a code-forge issue tracker and a spreadsheet-database table in
// agreement: it exposes the control-plane Intent API over HTTP, runs the
// Outbox Dispatcher that carries out queued external mutations, and runs the
// Reconciler that polls both external stores for changes made outside the
// daemon.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskforge/sync/internal/api"
	"github.com/taskforge/sync/internal/api/middleware"
	"github.com/taskforge/sync/internal/config"
	"github.com/taskforge/sync/internal/forge"
	"github.com/taskforge/sync/internal/identity"
	"github.com/taskforge/sync/internal/intent"
	"github.com/taskforge/sync/internal/outbox"
	"github.com/taskforge/sync/internal/reconciler"
	"github.com/taskforge/sync/internal/sheet"
	"github.com/taskforge/sync/internal/store"
)

const (
	version = "1.0.0-dev"
	name    = "syncd"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting task-sync daemon",
		slog.String("service", name),
		slog.String("version", version),
	)

	dbConfig := store.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := store.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	st, err := store.New(conn)
	if err != nil {
		logger.Error("failed to initialize store", slog.String("error", err.Error()))
		os.Exit(1)
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
		os.Exit(1)
	}
	defer sheetGateway.Close()

	resolver := identity.New(st, sheetGateway, logger)

	intentSvc := intent.New(st, resolver, intent.LoadConfig())

	apiKeyStore, err := store.NewPersistentAPIKeyStore(conn)
	if err != nil {
		logger.Error("failed to initialize API key store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	serverConfig.APIKeyStore = apiKeyStore

	rateLimiter := middleware.NewInMemoryRateLimiter(&middleware.Config{
		GlobalRPS: config.GetEnvInt("SYNCD_RATE_LIMIT_GLOBAL_RPS", 100),
		PluginRPS: config.GetEnvInt("SYNCD_RATE_LIMIT_CLIENT_RPS", 50),
		UnAuthRPS: config.GetEnvInt("SYNCD_RATE_LIMIT_UNAUTH_RPS", 10),
		MaxPlugins: config.GetEnvInt("SYNCD_RATE_LIMIT_MAX_CLIENTS", 100),
	})
	defer rateLimiter.Close()

	server := api.NewServer(&serverConfig, apiKeyStore, rateLimiter, intentSvc)

	var audit outbox.AuditPublisher

	if brokers := config.GetEnvStr("KAFKA_BROKERS", ""); brokers != "" {
		audit = outbox.NewKafkaAuditPublisher(brokers, logger)
	}

	dispatcher := outbox.New(st, forgeGateway, sheetGateway, resolver, outbox.LoadConfig(), audit)
	recon := reconciler.New(st, forgeGateway, sheetGateway, reconciler.LoadConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go dispatcher.Run(ctx)
	go recon.Run(ctx)

	go func() {
		<-stop
		logger.Info("received shutdown signal, stopping background workers")
		cancel()
	}()

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("task-sync daemon stopped")
}
