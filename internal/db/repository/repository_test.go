package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/certguard/internal/db"
	"github.com/adamscao/certguard/internal/models"
	"github.com/adamscao/certguard/pkg/digest"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "data", "certguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))
	return database
}

func sampleCert(certID string) *models.CertificateRecord {
	return &models.CertificateRecord{
		CertID:          certID,
		RecipientName:   "Ada Lovelace",
		RecipientEmail:  "ada@example.com",
		CompanyName:     "Analytical Engines Ltd",
		CourseName:      "Applied Cryptography",
		CourseDuration:  "40h",
		IssuedDate:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:          models.StatusPending,
		ArtifactLocator: certID + ".pdf",
		ContentHash:     digest.Sum([]byte("hello")),
		LedgerTxRef:     "0xabc",
		LedgerAddress:   "local:/tmp/ledger",
	}
}

func TestCertRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewCertRepository(openTestDB(t).DB)

	cert := sampleCert("c0ffee00-0000-4000-8000-000000000001")
	require.NoError(t, repo.Create(ctx, cert))
	assert.NotZero(t, cert.ID)

	got, err := repo.GetByCertID(ctx, cert.CertID)
	require.NoError(t, err)
	assert.Equal(t, cert.RecipientName, got.RecipientName)
	assert.Equal(t, cert.ContentHash, got.ContentHash)
	assert.Equal(t, cert.LedgerTxRef, got.LedgerTxRef)
	assert.Equal(t, cert.LedgerAddress, got.LedgerAddress)
	assert.True(t, cert.IssuedDate.Equal(got.IssuedDate))
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.DecidedAt)
	assert.True(t, got.Anchored())
}

func TestCertRepository_GetMissing(t *testing.T) {
	repo := NewCertRepository(openTestDB(t).DB)

	_, err := repo.GetByCertID(context.Background(), "CERT-nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCertRepository_DuplicateCertID(t *testing.T) {
	ctx := context.Background()
	repo := NewCertRepository(openTestDB(t).DB)

	require.NoError(t, repo.Create(ctx, sampleCert("dup")))
	assert.ErrorIs(t, repo.Create(ctx, sampleCert("dup")), ErrDuplicateCertID)
}

func TestCertRepository_UpdateStatusOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewCertRepository(openTestDB(t).DB)
	require.NoError(t, repo.Create(ctx, sampleCert("decide-me")))

	require.NoError(t, repo.UpdateStatus(ctx, "decide-me", models.StatusApproved))

	got, err := repo.GetByCertID(ctx, "decide-me")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	require.NotNil(t, got.DecidedAt)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, "decide-me", models.StatusRejected), ErrInvalidTransition)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "missing", models.StatusApproved), ErrNotFound)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, "decide-me", models.StatusPending), ErrInvalidTransition)
}

func TestCertRepository_IntegrityFieldsImmutable(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	repo := NewCertRepository(database.DB)
	require.NoError(t, repo.Create(ctx, sampleCert("locked")))

	for _, column := range []string{"content_hash", "artifact_locator", "ledger_tx_ref", "ledger_address", "cert_id"} {
		t.Run(column, func(t *testing.T) {
			_, err := database.ExecContext(ctx, "UPDATE certificates SET "+column+" = 'x' WHERE cert_id = 'locked'")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "immutable")
		})
	}

	got, err := repo.GetByCertID(ctx, "locked")
	require.NoError(t, err)
	assert.Equal(t, digest.Sum([]byte("hello")), got.ContentHash)
}

func TestCertRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewCertRepository(openTestDB(t).DB)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Create(ctx, sampleCert(id)))
	}
	require.NoError(t, repo.UpdateStatus(ctx, "b", models.StatusRejected))

	all, err := repo.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "c", all[0].CertID)

	pending, err := repo.List(ctx, models.StatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := repo.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCertRepository_PropagatesDriverErrors(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	boom := errors.New("disk I/O error")
	mock.ExpectQuery("SELECT .* FROM certificates WHERE cert_id = \\?").
		WithArgs("any").
		WillReturnError(boom)

	repo := NewCertRepository(sqlDB)
	_, err = repo.GetByCertID(context.Background(), "any")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_CreateListCount(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepository(openTestDB(t).DB)

	entries := []*models.AuditLog{
		{Action: models.ActionCertIssue, CertID: "a", ClientIP: "127.0.0.1", Success: true},
		{Action: models.ActionCertVerify, CertID: "a", ClientIP: "10.0.0.1", UserAgent: "curl", Success: true},
		{Action: models.ActionAuthFailed, ClientIP: "10.0.0.2", Success: false, ErrorMsg: "invalid admin token"},
	}
	for _, e := range entries {
		require.NoError(t, repo.Create(ctx, e))
		assert.NotZero(t, e.ID)
	}

	forCert, err := repo.List(ctx, "a", "", 10)
	require.NoError(t, err)
	assert.Len(t, forCert, 2)

	failed, err := repo.List(ctx, "", models.ActionAuthFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.False(t, failed[0].Success)
	assert.Equal(t, "invalid admin token", failed[0].ErrorMsg)
	assert.Empty(t, failed[0].CertID)

	count, err := repo.CountByAction(ctx, models.ActionCertVerify, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuditRepository_DeleteOld(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepository(openTestDB(t).DB)

	require.NoError(t, repo.Create(ctx, &models.AuditLog{Action: models.ActionCertVerify, ClientIP: "127.0.0.1", Success: true}))

	n, err := repo.DeleteOld(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.DeleteOld(ctx, time.Now().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
