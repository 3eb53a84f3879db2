// Package main is the entrypoint for the costgate server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finsight/costgate/internal/components/authctx"
	"github.com/finsight/costgate/internal/components/costs"
	"github.com/finsight/costgate/internal/components/members"
	"github.com/finsight/costgate/internal/identity"
	cachemem "github.com/finsight/costgate/internal/platform/cache/memory"
	"github.com/finsight/costgate/internal/platform/config"
	"github.com/finsight/costgate/internal/platform/http/client"
	"github.com/finsight/costgate/internal/ratelimit"
	"github.com/finsight/costgate/internal/server"
	"github.com/finsight/costgate/internal/store"

	// Register store drivers
	_ "github.com/finsight/costgate/internal/store/memory"
	_ "github.com/finsight/costgate/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: strict or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	appURL := flag.String("app-url", "", "Dashboard origin for invite links (overrides config)")
	backendBaseURL := flag.String("backend-base-url", "", "Cost service origin (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: memory or sqlite (overrides config)")
	storeDataDir := flag.String("store-data-dir", "", "Store data directory (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:     listenAddr,
			AppURL:         appURL,
			BackendBaseURL: backendBaseURL,
			StoreDriver:    storeDriver,
			StoreDataDir:   storeDataDir,
			LoggingLevel:   loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	// Persistence driver
	if cfg.Store.Driver == "sqlite" && cfg.Store.DataDir != "" {
		if err := os.MkdirAll(cfg.Store.DataDir, 0700); err != nil {
			logger.Error("failed to create data directory", "path", cfg.Store.DataDir, "error", err)
			os.Exit(1)
		}
	}
	driver, err := store.New(&store.DriverConfig{
		Driver:   cfg.Store.Driver,
		DataDir:  cfg.Store.DataDir,
		Settings: cfg.Store.Drivers,
	})
	if err != nil {
		logger.Error("failed to create store driver", "error", err, "available", store.AvailableDrivers())
		os.Exit(1)
	}
	if err := driver.Init(context.Background()); err != nil {
		logger.Error("failed to initialize store", "driver", driver.Name(), "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	// Identity components
	users := identity.NewMemoryUserRepo()
	sessions := identity.NewMemorySessionRepo()
	userAuth := identity.NewUserAuth(12)

	// Auth-context resolver
	resolver := authctx.NewResolver(users, driver, driver, authctx.Config{
		TTL:        time.Duration(cfg.AuthCache.TTLMS) * time.Millisecond,
		MaxEntries: cfg.AuthCache.MaxEntries,
	}, logger)

	// Cost query surface
	outbound := client.New(&client.Config{
		ConnectTimeoutMS: cfg.OutboundHTTP.ConnectTimeoutMS,
		MaxResponseBytes: cfg.OutboundHTTP.MaxResponseBytes,
		AllowPrivate:     cfg.OutboundHTTP.AllowPrivate,
	})
	backend := costs.NewBackendClient(costs.ClientConfig{
		BaseURL:      cfg.Backend.BaseURL,
		APIKeyHeader: cfg.Backend.APIKeyHeader,
		Timeout:      time.Duration(cfg.Backend.TimeoutMS) * time.Millisecond,
		TotalTimeout: time.Duration(cfg.Backend.TotalTimeoutMS) * time.Millisecond,
	}, outbound)
	gateway := costs.NewGateway(resolver, backend, costs.GatewayConfig{
		AuthRetryDelay: time.Duration(cfg.Backend.AuthRetryDelayMS) * time.Millisecond,
	}, logger)
	aggregator := costs.NewAggregator(gateway, cfg.Costs.FiscalYearStartMonth, logger)

	// Membership workflow
	limiter := ratelimit.New(cachemem.New(time.Hour, 5*time.Minute), &ratelimit.Config{
		RequestsPerWindow: cfg.Invites.RatePerHour,
		Window:            time.Hour,
		KeyPrefix:         "ratelimit:invites:",
	}, logger)

	var mailer members.Mailer
	if cfg.Email.Mode == "smtp" {
		mailer = members.NewSMTPMailer(members.SMTPConfig{
			Addr:     cfg.Email.Addr,
			From:     cfg.Email.From,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		})
	} else {
		mailer = members.NewLogMailer(logger)
	}

	memberSvc := members.NewService(driver, users, limiter, mailer, members.Config{
		AppURL:    cfg.AppURL,
		InviteTTL: time.Duration(cfg.Invites.TTLHours) * time.Hour,
	}, logger)

	srv, err := server.New(cfg, logger, &server.Deps{
		Users:      users,
		Sessions:   sessions,
		UserAuth:   userAuth,
		Resolver:   resolver,
		Gateway:    gateway,
		Aggregator: aggregator,
		Members:    memberSvc,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
