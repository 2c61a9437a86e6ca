package db

import (
	"database/sql"
	"fmt"
)

// currentSchemaVersion is the schema version created by initializeSchema
const currentSchemaVersion = 1

// RunMigrations executes all database migrations
func RunMigrations(db *DB) error {
	// Check if schema_version table exists
	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		// First time initialization
		if err := initializeSchema(db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow(`
		SELECT version FROM schema_version
		ORDER BY applied_at DESC LIMIT 1
	`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion < 1 || currentVersion > currentSchemaVersion {
		return fmt.Errorf("invalid schema version: %d", currentVersion)
	}

	return nil
}

// initializeSchema creates all tables for a new database
func initializeSchema(db *DB) error {
	tx, err := db.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []string{
		schemaVersionTable,
		certificatesTable,
		certificatesIndexes,
		certificatesImmutableTrigger,
		auditLogsTable,
		auditLogsIndexes,
	}
	for _, step := range steps {
		if err := execSQL(tx, step); err != nil {
			return err
		}
	}

	// Insert initial schema version
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
		return err
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

// Schema definitions
const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	certificatesTable = `
CREATE TABLE certificates (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    cert_id          TEXT NOT NULL UNIQUE,
    recipient_name   TEXT NOT NULL,
    recipient_email  TEXT NOT NULL,
    company_name     TEXT NOT NULL DEFAULT '',
    course_name      TEXT NOT NULL,
    course_duration  TEXT NOT NULL DEFAULT '',
    remarks          TEXT NOT NULL DEFAULT '',
    issued_date      DATETIME NOT NULL,
    status           TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected')),
    artifact_locator TEXT NOT NULL,
    content_hash     TEXT NOT NULL,
    ledger_tx_ref    TEXT NOT NULL DEFAULT '',
    ledger_address   TEXT NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    decided_at       DATETIME
)`

	certificatesIndexes = `
CREATE INDEX idx_certs_status ON certificates(status);
CREATE INDEX idx_certs_recipient_email ON certificates(recipient_email);
CREATE INDEX idx_certs_content_hash ON certificates(content_hash);
CREATE INDEX idx_certs_issued_date ON certificates(issued_date)`

	// Integrity fields are write-once
	certificatesImmutableTrigger = `
CREATE TRIGGER trg_certs_integrity_immutable
BEFORE UPDATE OF cert_id, artifact_locator, content_hash, ledger_tx_ref, ledger_address ON certificates
BEGIN
    SELECT RAISE(ABORT, 'certificate integrity fields are immutable');
END`

	auditLogsTable = `
CREATE TABLE audit_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    action      TEXT NOT NULL,
    cert_id     TEXT,
    client_ip   TEXT NOT NULL,
    user_agent  TEXT,
    success     INTEGER NOT NULL,
    error_msg   TEXT,
    details     TEXT
)`

	auditLogsIndexes = `
CREATE INDEX idx_audit_timestamp ON audit_logs(timestamp);
CREATE INDEX idx_audit_action ON audit_logs(action);
CREATE INDEX idx_audit_cert_id ON audit_logs(cert_id);
CREATE INDEX idx_audit_success ON audit_logs(success)`
)
