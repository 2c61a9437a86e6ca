package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/anchor"
	"github.com/adamscao/certguard/internal/api"
	"github.com/adamscao/certguard/internal/config"
	"github.com/adamscao/certguard/internal/db"
	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/issuance"
	"github.com/adamscao/certguard/internal/ledger"
	"github.com/adamscao/certguard/internal/logging"
	"github.com/adamscao/certguard/internal/policy"
	"github.com/adamscao/certguard/internal/storage"
	"github.com/adamscao/certguard/internal/verify"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/certguard/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("CertGuard Server\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting CertGuard server",
		zap.String("version", Version),
		zap.String("commit", Commit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	logger.Info("connecting to database", zap.String("path", cfg.Database.Path))
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Artifact storage
	artifacts, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact storage: %w", err)
	}
	logger.Info("artifact storage ready", zap.String("backend", cfg.Storage.Backend))

	// Ledger client; nil when anchoring is disabled
	ledgerClient, err := ledger.New(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	if ledgerClient != nil {
		defer ledgerClient.Close()
		logger.Info("ledger ready",
			zap.String("backend", cfg.Ledger.Backend),
			zap.String("address", ledgerClient.Address()),
		)
	} else {
		logger.Warn("ledger disabled, certificates will not be anchored")
	}

	// Initialize repositories
	certRepo := repository.NewCertRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)

	// Initialize services
	validator := policy.NewValidator(cfg)
	anchorSvc := anchor.New(ledgerClient, cfg.Ledger.GetTimeout(), logger)
	issuanceSvc := issuance.NewService(certRepo, auditRepo, artifacts, anchorSvc, validator, cfg.Server.PublicURL, logger)
	engine := verify.New(certRepo, artifacts, ledgerClient, cfg.Ledger.GetTimeout(), logger)

	// Create HTTP server
	server := api.NewServer(cfg, engine, issuanceSvc, validator, certRepo, auditRepo, logger)

	return server.Run(ctx)
}
