package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/adamscao/certguard/internal/models"
)

var (
	ErrNotFound          = errors.New("certificate not found")
	ErrDuplicateCertID   = errors.New("certificate id already exists")
	ErrInvalidTransition = errors.New("certificate status can no longer change")
)

const certColumns = `
	id, cert_id, recipient_name, recipient_email, company_name, course_name,
	course_duration, remarks, issued_date, status, artifact_locator, content_hash,
	ledger_tx_ref, ledger_address, created_at, decided_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CertRepository handles certificate record data access
type CertRepository struct {
	db *sql.DB
}

// NewCertRepository creates a new certificate repository
func NewCertRepository(db *sql.DB) *CertRepository {
	return &CertRepository{db: db}
}

// Create inserts a new certificate record
func (r *CertRepository) Create(ctx context.Context, cert *models.CertificateRecord) error {
	query := `
		INSERT INTO certificates (
			cert_id, recipient_name, recipient_email, company_name, course_name,
			course_duration, remarks, issued_date, status, artifact_locator,
			content_hash, ledger_tx_ref, ledger_address
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		cert.CertID,
		cert.RecipientName,
		cert.RecipientEmail,
		cert.CompanyName,
		cert.CourseName,
		cert.CourseDuration,
		cert.Remarks,
		cert.IssuedDate.UTC(),
		string(cert.Status),
		cert.ArtifactLocator,
		cert.ContentHash,
		cert.LedgerTxRef,
		cert.LedgerAddress,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateCertID
		}
		return fmt.Errorf("failed to create certificate record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	cert.ID = id
	cert.CreatedAt = time.Now().UTC()

	return nil
}

// GetByCertID retrieves a certificate by its public identifier
func (r *CertRepository) GetByCertID(ctx context.Context, certID string) (*models.CertificateRecord, error) {
	query := `SELECT ` + certColumns + ` FROM certificates WHERE cert_id = ?`

	cert, err := scanCert(r.db.QueryRowContext(ctx, query, certID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}

	return cert, nil
}

// UpdateStatus moves a pending certificate to approved or rejected.
// A certificate is decided exactly once.
func (r *CertRepository) UpdateStatus(ctx context.Context, certID string, status models.CertStatus) error {
	if status != models.StatusApproved && status != models.StatusRejected {
		return ErrInvalidTransition
	}

	query := `
		UPDATE certificates
		SET status = ?, decided_at = ?
		WHERE cert_id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query, string(status), time.Now().UTC(), certID, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to update certificate status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := r.GetByCertID(ctx, certID); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// List lists certificates, newest first, optionally filtered by status
func (r *CertRepository) List(ctx context.Context, status models.CertStatus, limit int) ([]*models.CertificateRecord, error) {
	query := `SELECT ` + certColumns + ` FROM certificates WHERE 1=1`
	args := []any{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}

	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()

	var certs []*models.CertificateRecord

	for rows.Next() {
		cert, err := scanCert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}

	return certs, nil
}

func scanCert(row rowScanner) (*models.CertificateRecord, error) {
	cert := &models.CertificateRecord{}
	var status string
	var decidedAt sql.NullTime

	err := row.Scan(
		&cert.ID,
		&cert.CertID,
		&cert.RecipientName,
		&cert.RecipientEmail,
		&cert.CompanyName,
		&cert.CourseName,
		&cert.CourseDuration,
		&cert.Remarks,
		&cert.IssuedDate,
		&status,
		&cert.ArtifactLocator,
		&cert.ContentHash,
		&cert.LedgerTxRef,
		&cert.LedgerAddress,
		&cert.CreatedAt,
		&decidedAt,
	)
	if err != nil {
		return nil, err
	}

	cert.Status = models.CertStatus(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		cert.DecidedAt = &t
	}

	return cert, nil
}
