package models

import "time"

// CertStatus is the approval state of a certificate
type CertStatus string

const (
	StatusPending  CertStatus = "pending"
	StatusApproved CertStatus = "approved"
	StatusRejected CertStatus = "rejected"
)

// Valid reports whether s is a known status
func (s CertStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CertificateRecord represents one issued certificate.
// CertID, ArtifactLocator, ContentHash, LedgerTxRef and LedgerAddress are
// written once at issuance and never updated.
type CertificateRecord struct {
	ID              int64      `json:"-"`
	CertID          string     `json:"cert_id"`
	RecipientName   string     `json:"recipient_name"`
	RecipientEmail  string     `json:"recipient_email"`
	CompanyName     string     `json:"company_name,omitempty"`
	CourseName      string     `json:"course_name"`
	CourseDuration  string     `json:"course_duration,omitempty"`
	Remarks         string     `json:"remarks,omitempty"`
	IssuedDate      time.Time  `json:"issued_date"`
	Status          CertStatus `json:"status"`
	ArtifactLocator string     `json:"artifact_locator"`
	ContentHash     string     `json:"content_hash"`
	LedgerTxRef     string     `json:"ledger_tx_ref,omitempty"`
	LedgerAddress   string     `json:"ledger_address,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
}

// Anchored reports whether the record carries a ledger reference
func (c *CertificateRecord) Anchored() bool {
	return c.LedgerTxRef != "" && c.LedgerAddress != ""
}

// IssueRequest carries the recipient and course details of a new certificate
type IssueRequest struct {
	RecipientName  string    `json:"recipient_name" form:"recipient_name"`
	RecipientEmail string    `json:"recipient_email" form:"recipient_email"`
	CompanyName    string    `json:"company_name" form:"company_name"`
	CourseName     string    `json:"course_name" form:"course_name"`
	CourseDuration string    `json:"course_duration" form:"course_duration"`
	Remarks        string    `json:"remarks" form:"remarks"`
	IssuedDate     time.Time `json:"issued_date" form:"issued_date" time_format:"2006-01-02"`
}
