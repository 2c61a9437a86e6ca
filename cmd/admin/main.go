package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/anchor"
	"github.com/adamscao/certguard/internal/auth"
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
	configPath string
	cfg        *config.Config
	database   *db.DB
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "CertGuard administration tool",
	Long:  "Administrative tool for issuing, deciding and verifying certificates, checking the ledger and reading audit logs",
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the admin API token",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random admin token for admin.token",
	Args:  cobra.NoArgs,
	RunE:  generateToken,
}

func init() {
	// Root flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/certguard/config.yaml", "Config file path")

	// Add commands
	tokenCmd.AddCommand(tokenGenerateCmd)
	rootCmd.AddCommand(certCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initDB() error {
	// Load configuration
	var err error
	cfg, err = config.LoadWithEnv(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err = logging.New(cfg.Logging.Level, "text")
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	// Connect to database
	database, err = db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// services bundles what the certificate commands need
type services struct {
	certRepo  *repository.CertRepository
	auditRepo *repository.AuditRepository
	issuance  *issuance.Service
	engine    *verify.Engine
	ledger    ledger.Client
}

func (s *services) Close() {
	if s.ledger != nil {
		s.ledger.Close()
	}
	database.Close()
}

func initServices(cmd *cobra.Command) (*services, error) {
	if err := initDB(); err != nil {
		return nil, err
	}

	artifacts, err := storage.New(cmd.Context(), cfg.Storage)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
	}

	ledgerClient, err := ledger.New(cfg.Ledger)
	if err != nil {
		database.Close()
		return nil, ledgerOpenError(err)
	}

	certRepo := repository.NewCertRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)
	validator := policy.NewValidator(cfg)

	return &services{
		certRepo:  certRepo,
		auditRepo: auditRepo,
		issuance: issuance.NewService(certRepo, auditRepo, artifacts,
			anchor.New(ledgerClient, cfg.Ledger.GetTimeout(), logger),
			validator, cfg.Server.PublicURL, logger),
		engine: verify.New(certRepo, artifacts, ledgerClient, cfg.Ledger.GetTimeout(), logger),
		ledger: ledgerClient,
	}, nil
}

// ledgerOpenError explains a journal held by the running server
func ledgerOpenError(err error) error {
	if errors.Is(err, ledger.ErrLocked) {
		return fmt.Errorf("%w (stop the server or use the /v1/admin API while it is running)", err)
	}
	return fmt.Errorf("failed to initialize ledger: %w", err)
}

func generateToken(cmd *cobra.Command, args []string) error {
	token, err := auth.GenerateAdminToken()
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", token)
	fmt.Fprintf(os.Stderr, "\nSet this as admin.token in the config file or CERTGUARD_ADMIN_TOKEN.\n")
	return nil
}

// cliActor identifies CLI-originated operations in the audit log
func cliActor() issuance.Actor {
	host, _ := os.Hostname()
	return issuance.Actor{ClientIP: "cli@" + host, UserAgent: "certguard-admin"}
}
