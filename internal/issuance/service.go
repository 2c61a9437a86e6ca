// Package issuance creates certificate records with their write-once
// integrity fields and handles the one-time approval decision.
package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/anchor"
	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/models"
	"github.com/adamscao/certguard/internal/policy"
	"github.com/adamscao/certguard/internal/qrcode"
	"github.com/adamscao/certguard/internal/storage"
)

const artifactContentType = "application/pdf"

var ErrNotApproved = errors.New("certificate is not approved")

// CertStore persists certificate records
type CertStore interface {
	Create(ctx context.Context, cert *models.CertificateRecord) error
	GetByCertID(ctx context.Context, certID string) (*models.CertificateRecord, error)
	UpdateStatus(ctx context.Context, certID string, status models.CertStatus) error
}

// AuditStore records audit entries
type AuditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// Actor identifies who triggered an operation, for the audit log
type Actor struct {
	ClientIP  string
	UserAgent string
}

// IssueResult is a freshly issued certificate
type IssueResult struct {
	Cert      *models.CertificateRecord `json:"cert"`
	Anchored  bool                      `json:"anchored"`
	QRPayload string                    `json:"qr_payload"`
}

// Service issues and decides certificates
type Service struct {
	certs     CertStore
	audit     AuditStore
	artifacts storage.Store
	anchor    *anchor.Service
	validator *policy.Validator
	publicURL string
	logger    *zap.Logger
}

// NewService creates an issuance service
func NewService(
	certs CertStore,
	audit AuditStore,
	artifacts storage.Store,
	anchorSvc *anchor.Service,
	validator *policy.Validator,
	publicURL string,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		certs:     certs,
		audit:     audit,
		artifacts: artifacts,
		anchor:    anchorSvc,
		validator: validator,
		publicURL: publicURL,
		logger:    logger.Named("issuance"),
	}
}

// Issue stores artifact, anchors its hash and creates the certificate record.
// A ledger failure leaves the certificate unanchored; storage and record
// failures abort issuance.
func (s *Service) Issue(ctx context.Context, req *models.IssueRequest, artifact []byte, actor Actor) (*IssueResult, error) {
	if err := s.validator.ValidateIssueRequest(req, int64(len(artifact))); err != nil {
		return nil, err
	}

	certID := uuid.NewString()
	locator := certID + ".pdf"

	if err := s.artifacts.Put(ctx, locator, artifact, artifactContentType); err != nil {
		s.recordAudit(ctx, models.ActionCertIssue, certID, actor, err, nil)
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	anchored, err := s.anchor.Anchor(ctx, artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to hash artifact: %w", err)
	}

	cert := &models.CertificateRecord{
		CertID:          certID,
		RecipientName:   req.RecipientName,
		RecipientEmail:  req.RecipientEmail,
		CompanyName:     req.CompanyName,
		CourseName:      req.CourseName,
		CourseDuration:  req.CourseDuration,
		Remarks:         req.Remarks,
		IssuedDate:      req.IssuedDate,
		Status:          s.validator.InitialStatus(),
		ArtifactLocator: locator,
		ContentHash:     anchored.Hash,
		LedgerTxRef:     anchored.LedgerTxRef,
		LedgerAddress:   anchored.LedgerAddress,
	}

	if err := s.certs.Create(ctx, cert); err != nil {
		s.logger.Error("certificate record not created, artifact left in storage",
			zap.String("cert_id", certID),
			zap.String("locator", locator),
			zap.Error(err),
		)
		s.recordAudit(ctx, models.ActionCertIssue, certID, actor, err, nil)
		return nil, fmt.Errorf("failed to create certificate record: %w", err)
	}

	s.recordAudit(ctx, models.ActionCertIssue, certID, actor, nil, map[string]any{
		"content_hash": cert.ContentHash,
		"status":       cert.Status,
		"anchored":     anchored.Anchored,
	})
	if !anchored.Anchored && s.anchor.Enabled() {
		s.recordAudit(ctx, models.ActionCertAnchorFailed, certID, actor, errors.New("ledger write did not complete"), nil)
	}

	s.logger.Info("certificate issued",
		zap.String("cert_id", certID),
		zap.String("hash", cert.ContentHash),
		zap.Bool("anchored", anchored.Anchored),
		zap.String("status", string(cert.Status)),
	)

	return &IssueResult{
		Cert:      cert,
		Anchored:  anchored.Anchored,
		QRPayload: qrcode.BuildPayload(s.publicURL, certID),
	}, nil
}

// Decide approves or rejects a pending certificate. A certificate is decided once.
func (s *Service) Decide(ctx context.Context, certID string, approve bool, actor Actor) (*models.CertificateRecord, error) {
	to, action := models.StatusRejected, models.ActionCertReject
	if approve {
		to, action = models.StatusApproved, models.ActionCertApprove
	}

	cert, err := s.certs.GetByCertID(ctx, certID)
	if err != nil {
		return nil, err
	}

	if err := s.validator.ValidateTransition(cert.Status, to); err != nil {
		s.recordAudit(ctx, action, certID, actor, err, nil)
		return nil, err
	}

	if err := s.certs.UpdateStatus(ctx, certID, to); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			err = fmt.Errorf("%w: certificate was decided concurrently", policy.ErrInvalidTransition)
		}
		s.recordAudit(ctx, action, certID, actor, err, nil)
		return nil, err
	}

	s.recordAudit(ctx, action, certID, actor, nil, nil)
	s.logger.Info("certificate decided", zap.String("cert_id", certID), zap.String("status", string(to)))

	return s.certs.GetByCertID(ctx, certID)
}

// Artifact returns the stored artifact of an approved certificate
func (s *Service) Artifact(ctx context.Context, certID string) (*models.CertificateRecord, []byte, error) {
	cert, err := s.certs.GetByCertID(ctx, certID)
	if err != nil {
		return nil, nil, err
	}
	if cert.Status != models.StatusApproved {
		return nil, nil, ErrNotApproved
	}

	data, err := s.artifacts.Fetch(ctx, cert.ArtifactLocator)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch artifact: %w", err)
	}

	return cert, data, nil
}

// recordAudit writes an audit entry. Failures are logged and otherwise ignored.
func (s *Service) recordAudit(ctx context.Context, action, certID string, actor Actor, opErr error, details map[string]any) {
	entry := &models.AuditLog{
		Action:    action,
		CertID:    certID,
		ClientIP:  actor.ClientIP,
		UserAgent: actor.UserAgent,
		Success:   opErr == nil,
	}
	if opErr != nil {
		entry.ErrorMsg = opErr.Error()
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}

	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}
