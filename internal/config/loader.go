package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	if dbPath := os.Getenv("CERTGUARD_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if adminToken := os.Getenv("CERTGUARD_ADMIN_TOKEN"); adminToken != "" {
		cfg.Admin.Token = adminToken
	}

	if listenAddr := os.Getenv("CERTGUARD_LISTEN_ADDR"); listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	if publicURL := os.Getenv("CERTGUARD_PUBLIC_URL"); publicURL != "" {
		cfg.Server.PublicURL = publicURL
	}

	if bucket := os.Getenv("CERTGUARD_S3_BUCKET"); bucket != "" {
		cfg.Storage.S3.Bucket = bucket
	}

	if rpcURL := os.Getenv("CERTGUARD_LEDGER_RPC_URL"); rpcURL != "" {
		cfg.Ledger.RPC.URL = rpcURL
	}

	if contract := os.Getenv("CERTGUARD_LEDGER_CONTRACT"); contract != "" {
		cfg.Ledger.RPC.ContractAddress = contract
	}

	// Validate again after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}
