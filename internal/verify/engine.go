// Package verify answers whether a certificate's artifact is unchanged since
// issuance and, when it was anchored, whether the ledger agrees.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/ledger"
	"github.com/adamscao/certguard/internal/models"
	"github.com/adamscao/certguard/internal/qrcode"
	"github.com/adamscao/certguard/pkg/digest"
)

// DefaultLedgerTimeout bounds a single ledger lookup
const DefaultLedgerTimeout = 5 * time.Second

// RecordStore looks up certificate records. A missing record is reported
// as repository.ErrNotFound.
type RecordStore interface {
	GetByCertID(ctx context.Context, certID string) (*models.CertificateRecord, error)
}

// ArtifactFetcher reads artifact bytes by locator
type ArtifactFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Engine runs verifications. It performs no writes and holds no state
// between calls.
type Engine struct {
	records       RecordStore
	artifacts     ArtifactFetcher
	ledger        ledger.Client
	ledgerTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// New creates a verification engine. client may be nil when no ledger is configured.
func New(records RecordStore, artifacts ArtifactFetcher, client ledger.Client, ledgerTimeout time.Duration, logger *zap.Logger) *Engine {
	if ledgerTimeout <= 0 {
		ledgerTimeout = DefaultLedgerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		records:       records,
		artifacts:     artifacts,
		ledger:        client,
		ledgerTimeout: ledgerTimeout,
		logger:        logger.Named("verify"),
		now:           time.Now,
	}
}

// Verify checks the certificate identified by certID. Only record store
// failures are returned as errors; every other outcome is a Result.
func (e *Engine) Verify(ctx context.Context, certID string) (*Result, error) {
	result := &Result{CheckedAt: e.now().UTC()}

	rec, err := e.records.GetByCertID(ctx, certID)
	if errors.Is(err, repository.ErrNotFound) {
		result.Verdict = VerdictNotFound
		result.Message = message(result)
		e.logResult(certID, result)
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up certificate %s: %w", certID, err)
	}

	result.Cert = certInfo(rec)
	result.LedgerTxRef = rec.LedgerTxRef

	artifact, err := e.artifacts.Fetch(ctx, rec.ArtifactLocator)
	if err != nil {
		e.logger.Warn("artifact unavailable",
			zap.String("cert_id", certID),
			zap.String("locator", rec.ArtifactLocator),
			zap.Error(err),
		)
		result.Verdict = VerdictArtifactMissing
		result.Message = message(result)
		e.logResult(certID, result)
		return result, nil
	}

	result.LiveHash = digest.Sum(artifact)
	result.DBValid = digest.Equal(result.LiveHash, rec.ContentHash)
	result.LedgerValid, result.LedgerStatus = e.checkLedger(ctx, rec, result.LiveHash)

	result.OverallValid = result.DBValid && (result.LedgerValid == nil || *result.LedgerValid)
	switch {
	case !result.DBValid:
		result.Verdict = VerdictHashMismatch
	case !result.OverallValid:
		result.Verdict = VerdictLedgerDisagreement
	default:
		result.Verdict = VerdictValid
	}
	result.Message = message(result)

	e.logResult(certID, result)
	return result, nil
}

// VerifyPayload verifies the certificate named by a scanned QR payload.
// The final URL path segment is tried first; a certificate id found anywhere
// in the payload is tried only if that lookup comes back NOT_FOUND.
func (e *Engine) VerifyPayload(ctx context.Context, payload string) (*Result, error) {
	var result *Result

	primary, err := qrcode.ExtractCertID(payload)
	if err == nil {
		result, err = e.Verify(ctx, primary)
		if err != nil || result.Verdict != VerdictNotFound {
			return result, err
		}
	}

	fallback := qrcode.FallbackCertID(payload)
	if fallback != "" && fallback != primary {
		e.logger.Debug("retrying verification with fallback certificate id",
			zap.String("primary", primary),
			zap.String("fallback", fallback),
		)
		return e.Verify(ctx, fallback)
	}

	if result == nil {
		result = &Result{Verdict: VerdictNotFound, CheckedAt: e.now().UTC()}
		result.Message = message(result)
	}
	return result, nil
}

// checkLedger asks the ledger whether liveHash was stored. A nil
// pointer means the ledger gave no answer and the status says why.
func (e *Engine) checkLedger(ctx context.Context, rec *models.CertificateRecord, liveHash string) (*bool, LedgerStatus) {
	if !rec.Anchored() {
		return nil, LedgerNotAnchored
	}
	if e.ledger == nil {
		e.logger.Warn("certificate is anchored but no ledger is configured",
			zap.String("cert_id", rec.CertID),
			zap.Error(ledger.ErrDisabled),
		)
		return nil, LedgerUnreachable
	}
	if rec.LedgerAddress != e.ledger.Address() {
		e.logger.Info("ledger reference points at a different ledger",
			zap.String("cert_id", rec.CertID),
			zap.String("record_address", rec.LedgerAddress),
			zap.String("ledger_address", e.ledger.Address()),
		)
		return nil, LedgerStaleReference
	}

	ctx, cancel := context.WithTimeout(ctx, e.ledgerTimeout)
	defer cancel()

	ok, err := e.ledger.Verify(ctx, liveHash)
	if err != nil {
		e.logger.Warn("ledger unreachable during verification",
			zap.String("cert_id", rec.CertID),
			zap.String("hash", liveHash),
			zap.Error(err),
		)
		return nil, LedgerUnreachable
	}
	if !ok {
		return boolPtr(false), LedgerDisagrees
	}
	return boolPtr(true), LedgerAgrees
}

func (e *Engine) logResult(certID string, r *Result) {
	fields := []zap.Field{
		zap.String("cert_id", certID),
		zap.String("verdict", string(r.Verdict)),
		zap.Bool("overall_valid", r.OverallValid),
	}
	if r.LedgerStatus != "" {
		fields = append(fields, zap.String("ledger_status", string(r.LedgerStatus)))
	}
	e.logger.Info("certificate verified", fields...)
}
