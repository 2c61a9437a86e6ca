package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Storage backends
const (
	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Ledger backends
const (
	LedgerBackendNone  = "none"
	LedgerBackendLocal = "local"
	LedgerBackendRPC   = "rpc"
)

const defaultLedgerTimeout = 10 * time.Second

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Issuance IssuanceConfig `yaml:"issuance"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// PublicURL is the externally reachable base URL embedded in QR codes
	PublicURL string `yaml:"public_url"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig selects where certificate artifacts are kept
type StorageConfig struct {
	Backend string             `yaml:"backend"`
	Local   LocalStorageConfig `yaml:"local"`
	S3      S3StorageConfig    `yaml:"s3"`
}

// LocalStorageConfig contains filesystem storage configuration
type LocalStorageConfig struct {
	Dir string `yaml:"dir"`
}

// S3StorageConfig contains object storage configuration
type S3StorageConfig struct {
	Bucket         string `yaml:"bucket"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	Prefix         string `yaml:"prefix"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

// LedgerConfig contains ledger anchoring configuration
type LedgerConfig struct {
	Backend string            `yaml:"backend"`
	Address string            `yaml:"address"`
	Timeout string            `yaml:"timeout"`
	Local   LedgerLocalConfig `yaml:"local"`
	RPC     LedgerRPCConfig   `yaml:"rpc"`
}

// LedgerLocalConfig contains configuration of the journal-backed ledger
type LedgerLocalConfig struct {
	Path string `yaml:"path"`
}

// LedgerRPCConfig contains configuration of the JSON-RPC ledger gateway
type LedgerRPCConfig struct {
	URL             string `yaml:"url"`
	ContractAddress string `yaml:"contract_address"`
}

// IssuanceConfig contains certificate issuance policy
type IssuanceConfig struct {
	DefaultStatus   string `yaml:"default_status"`
	MaxArtifactSize int64  `yaml:"max_artifact_size"`
}

// AdminConfig contains admin configuration
type AdminConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Server.PublicURL == "" {
		return fmt.Errorf("server.public_url is required")
	}
	if u, err := url.Parse(c.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.public_url must be an absolute URL")
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Storage validation
	switch c.Storage.Backend {
	case StorageBackendLocal:
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir is required")
		}
	case StorageBackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required")
		}
	default:
		return fmt.Errorf("storage.backend must be 'local' or 's3'")
	}

	// Ledger validation
	if err := c.Ledger.Validate(); err != nil {
		return err
	}

	// Issuance validation
	if c.Issuance.DefaultStatus != "approved" && c.Issuance.DefaultStatus != "pending" {
		return fmt.Errorf("issuance.default_status must be 'approved' or 'pending'")
	}
	if c.Issuance.MaxArtifactSize <= 0 {
		return fmt.Errorf("issuance.max_artifact_size must be positive")
	}

	// Admin validation
	if c.Admin.Token == "" {
		return fmt.Errorf("admin.token is required")
	}
	if c.Admin.Token == "change-me" {
		fmt.Fprintf(os.Stderr, "WARNING: Using default admin token. Please change it in production!\n")
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	return nil
}

// Validate checks the ledger section
func (l *LedgerConfig) Validate() error {
	switch l.Backend {
	case LedgerBackendNone:
	case LedgerBackendLocal:
		if l.Local.Path == "" {
			return fmt.Errorf("ledger.local.path is required")
		}
	case LedgerBackendRPC:
		if l.RPC.URL == "" {
			return fmt.Errorf("ledger.rpc.url is required")
		}
		if l.RPC.ContractAddress == "" {
			return fmt.Errorf("ledger.rpc.contract_address is required")
		}
	default:
		return fmt.Errorf("ledger.backend must be one of: none, local, rpc")
	}

	if l.Timeout != "" {
		d, err := ParseDuration(l.Timeout)
		if err != nil {
			return fmt.Errorf("ledger.timeout is invalid: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("ledger.timeout must be positive")
		}
	}

	return nil
}

// GetTimeout returns the bound on a single ledger call
func (l *LedgerConfig) GetTimeout() time.Duration {
	d, err := ParseDuration(l.Timeout)
	if err != nil || d <= 0 {
		return defaultLedgerTimeout
	}
	return d
}

// ParseDuration parses a duration with support for days (e.g., "90d")
func ParseDuration(s string) (time.Duration, error) {
	// Handle "d" suffix for days
	if len(s) > 1 && s[len(s)-1] == 'd' {
		d, err := strconv.Atoi(s[:len(s)-1])
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(d) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
