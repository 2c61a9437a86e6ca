package policy

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/adamscao/certguard/internal/config"
	"github.com/adamscao/certguard/internal/models"
)

const (
	maxNameLength    = 200
	maxRemarksLength = 2000
)

var (
	ErrEmptyArtifact     = errors.New("artifact is empty")
	ErrArtifactTooLarge  = errors.New("artifact exceeds the maximum size")
	ErrInvalidTransition = errors.New("certificate status transition not allowed")
)

// ValidationError reports a request field that breaks issuance policy
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Validator validates issuance requests and status changes against policy
type Validator struct {
	config *config.Config
	now    func() time.Time
}

// NewValidator creates a new policy validator
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{
		config: cfg,
		now:    time.Now,
	}
}

// ValidateIssueRequest normalizes req in place and checks it, together with
// the artifact size, against issuance policy
func (v *Validator) ValidateIssueRequest(req *models.IssueRequest, artifactSize int64) error {
	req.RecipientName = strings.TrimSpace(req.RecipientName)
	req.RecipientEmail = strings.TrimSpace(req.RecipientEmail)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	req.CourseName = strings.TrimSpace(req.CourseName)
	req.CourseDuration = strings.TrimSpace(req.CourseDuration)
	req.Remarks = strings.TrimSpace(req.Remarks)

	if err := requireText("recipient_name", req.RecipientName, maxNameLength); err != nil {
		return err
	}
	if err := requireText("course_name", req.CourseName, maxNameLength); err != nil {
		return err
	}
	if len(req.CompanyName) > maxNameLength {
		return &ValidationError{Field: "company_name", Reason: "is too long"}
	}
	if len(req.Remarks) > maxRemarksLength {
		return &ValidationError{Field: "remarks", Reason: "is too long"}
	}

	// Validate email
	if req.RecipientEmail == "" {
		return &ValidationError{Field: "recipient_email", Reason: "is required"}
	}
	addr, err := mail.ParseAddress(req.RecipientEmail)
	if err != nil || addr.Address != req.RecipientEmail {
		return &ValidationError{Field: "recipient_email", Reason: "is not a valid email address"}
	}

	// Default and bound the issue date
	now := v.now().UTC()
	if req.IssuedDate.IsZero() {
		req.IssuedDate = now.Truncate(24 * time.Hour)
	}
	if req.IssuedDate.After(now.Add(24 * time.Hour)) {
		return &ValidationError{Field: "issued_date", Reason: "is in the future"}
	}

	// Check artifact size
	if artifactSize <= 0 {
		return ErrEmptyArtifact
	}
	if artifactSize > v.config.Issuance.MaxArtifactSize {
		return fmt.Errorf("%w (%d > %d bytes)", ErrArtifactTooLarge, artifactSize, v.config.Issuance.MaxArtifactSize)
	}

	return nil
}

// InitialStatus returns the status new certificates are created with
func (v *Validator) InitialStatus() models.CertStatus {
	if v.config.Issuance.DefaultStatus == string(models.StatusPending) {
		return models.StatusPending
	}
	return models.StatusApproved
}

// ValidateTransition checks that a certificate may move from one status to
// another. Only pending certificates can be decided.
func (v *Validator) ValidateTransition(from, to models.CertStatus) error {
	if from != models.StatusPending {
		return fmt.Errorf("%w: certificate is already %s", ErrInvalidTransition, from)
	}
	if to != models.StatusApproved && to != models.StatusRejected {
		return fmt.Errorf("%w: cannot move to %s", ErrInvalidTransition, to)
	}
	return nil
}

// MaxArtifactSize returns the largest accepted artifact in bytes
func (v *Validator) MaxArtifactSize() int64 {
	return v.config.Issuance.MaxArtifactSize
}

func requireText(field, value string, maxLen int) error {
	if value == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	if len(value) > maxLen {
		return &ValidationError{Field: field, Reason: "is too long"}
	}
	return nil
}
