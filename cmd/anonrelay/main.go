package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"anonrelay/internal/config"
	"anonrelay/internal/constants"
	"anonrelay/internal/database"
	"anonrelay/internal/l10n"
	"anonrelay/internal/models"
	"anonrelay/internal/retry"
	"anonrelay/internal/service"
	"anonrelay/internal/tracing"
	"anonrelay/pkg/mediagen"
	"anonrelay/pkg/transport"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes sensitive information)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	localesDir = flag.String("locales", "locales", "Path to locale catalogs")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("anonrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting anonrelay")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewTracingManager(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	catalog, err := l10n.Load(*localesDir)
	if err != nil {
		return fmt.Errorf("failed to load locale catalogs: %w", err)
	}

	// Open the database with exponential backoff: on a fresh deploy the
	// data volume may appear slightly after the process starts.
	var db *database.Database
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var openErr error
		db, openErr = database.New(cfg.Database.Path)
		return openErr
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warnf("Failed to close database: %v", err)
		}
	}()

	client := transport.NewClient(cfg.Gateway.APIBaseURL, cfg.Gateway.Token, &http.Client{
		Timeout: time.Duration(cfg.Gateway.TimeoutMs) * time.Millisecond,
	})

	generator := mediagen.NewGenerator(mediagen.Options{
		VoiceProviders: buildProviders(cfg.Generator.VoiceProviders, cfg.Media.CacheDir),
		ImageProviders: buildProviders(cfg.Generator.ImageProviders, cfg.Media.CacheDir),
		CardProvider:   firstProvider(buildProviders(cfg.Generator.ImageProviders, cfg.Media.CacheDir)),
		MaxAttempts:    cfg.Generator.MaxAttempts,
		Logger:         logger,
	})

	reg := service.NewRegistry(db)
	alloc := service.NewAllocator(db, cfg.Pseudonym.PoolSize, cfg.Pseudonym.FreshnessWindowH)

	disp := service.NewDispatcher(service.DispatcherOptions{
		Store:              db,
		Registry:           reg,
		Allocator:          alloc,
		Client:             client,
		Catalog:            catalog,
		Logger:             logger,
		DefaultCooldownSec: cfg.Relay.DefaultCooldownSec,
		EffectID:           cfg.Relay.MessageEffectID,
		AdminChatID:        cfg.AdminChatID,
	})

	composer := service.NewComposer(reg, disp, generator, client, catalog, logger)
	admin := service.NewAdmin(db, client, catalog, logger, cfg.AdminUserIDs)

	engine := service.NewEngine(service.EngineOptions{
		Registry:       reg,
		Dispatcher:     disp,
		Allocator:      alloc,
		Composer:       composer,
		Admin:          admin,
		Client:         client,
		Catalog:        catalog,
		Logger:         logger,
		BotUsername:    cfg.Gateway.BotUsername,
		AlbumLatencyMs: cfg.Media.AlbumFlushLatency,
	})

	scheduler := service.NewScheduler(db, cfg.Media.CacheDir, cfg.RetentionDays, cfg.Server.CleanupIntervalHr, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	srv := NewServer(cfg, engine, logger)

	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	engine.Aggregator().FlushAll()
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownGraceSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown error: %v", err)
	}

	wg.Wait()
	logger.Info("Shutdown complete")
	return nil
}

func buildProviders(configs []models.ProviderConfig, cacheDir string) []mediagen.Provider {
	providers := make([]mediagen.Provider, 0, len(configs))
	for _, pc := range configs {
		providers = append(providers, mediagen.NewHTTPProvider(
			pc.Name, pc.URL, pc.APIKey, cacheDir,
			time.Duration(pc.TimeoutMs)*time.Millisecond,
		))
	}
	return providers
}

func firstProvider(providers []mediagen.Provider) mediagen.Provider {
	if len(providers) == 0 {
		return nil
	}
	return providers[0]
}
