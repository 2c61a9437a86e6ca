package policy

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/certguard/internal/config"
	"github.com/adamscao/certguard/internal/models"
)

func newTestValidator(defaultStatus string) *Validator {
	v := NewValidator(&config.Config{
		Issuance: config.IssuanceConfig{DefaultStatus: defaultStatus, MaxArtifactSize: 1024},
	})
	v.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return v
}

func validRequest() *models.IssueRequest {
	return &models.IssueRequest{
		RecipientName:  "  Alan Turing ",
		RecipientEmail: "alan@example.com",
		CourseName:     "Computability",
	}
}

func TestValidateIssueRequest_NormalizesAndDefaults(t *testing.T) {
	v := newTestValidator("approved")
	req := validRequest()

	require.NoError(t, v.ValidateIssueRequest(req, 100))
	assert.Equal(t, "Alan Turing", req.RecipientName)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), req.IssuedDate)
}

func TestValidateIssueRequest_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.IssueRequest)
		size   int64
		field  string
		target error
	}{
		{"missing name", func(r *models.IssueRequest) { r.RecipientName = " " }, 10, "recipient_name", nil},
		{"missing course", func(r *models.IssueRequest) { r.CourseName = "" }, 10, "course_name", nil},
		{"missing email", func(r *models.IssueRequest) { r.RecipientEmail = "" }, 10, "recipient_email", nil},
		{"bad email", func(r *models.IssueRequest) { r.RecipientEmail = "not-an-email" }, 10, "recipient_email", nil},
		{"display name email", func(r *models.IssueRequest) { r.RecipientEmail = "Alan <alan@example.com>" }, 10, "recipient_email", nil},
		{"long name", func(r *models.IssueRequest) { r.RecipientName = strings.Repeat("a", 201) }, 10, "recipient_name", nil},
		{"future date", func(r *models.IssueRequest) { r.IssuedDate = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC) }, 10, "issued_date", nil},
		{"empty artifact", func(r *models.IssueRequest) {}, 0, "", ErrEmptyArtifact},
		{"large artifact", func(r *models.IssueRequest) {}, 1025, "", ErrArtifactTooLarge},
	}

	v := newTestValidator("approved")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			err := v.ValidateIssueRequest(req, tt.size)
			require.Error(t, err)

			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestInitialStatus(t *testing.T) {
	assert.Equal(t, models.StatusApproved, newTestValidator("approved").InitialStatus())
	assert.Equal(t, models.StatusPending, newTestValidator("pending").InitialStatus())
}

func TestValidateTransition(t *testing.T) {
	v := newTestValidator("pending")

	assert.NoError(t, v.ValidateTransition(models.StatusPending, models.StatusApproved))
	assert.NoError(t, v.ValidateTransition(models.StatusPending, models.StatusRejected))
	assert.ErrorIs(t, v.ValidateTransition(models.StatusApproved, models.StatusRejected), ErrInvalidTransition)
	assert.ErrorIs(t, v.ValidateTransition(models.StatusRejected, models.StatusApproved), ErrInvalidTransition)
	assert.ErrorIs(t, v.ValidateTransition(models.StatusPending, models.StatusPending), ErrInvalidTransition)
}
