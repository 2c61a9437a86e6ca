package verify

import (
	"time"

	"github.com/adamscao/certguard/internal/models"
)

// Verdict is the outcome of one verification request
type Verdict string

const (
	VerdictValid              Verdict = "VALID"
	VerdictNotFound           Verdict = "NOT_FOUND"
	VerdictArtifactMissing    Verdict = "ARTIFACT_MISSING"
	VerdictHashMismatch       Verdict = "HASH_MISMATCH"
	VerdictLedgerDisagreement Verdict = "LEDGER_DISAGREEMENT"
)

// LedgerStatus explains the ledger side of a verification. When LedgerValid
// is nil the status says why no answer was obtained.
type LedgerStatus string

const (
	LedgerAgrees         LedgerStatus = "agrees"
	LedgerDisagrees      LedgerStatus = "disagrees"
	LedgerNotAnchored    LedgerStatus = "not_anchored"
	LedgerUnreachable    LedgerStatus = "unreachable"
	LedgerStaleReference LedgerStatus = "stale_reference"
)

// CertInfo is the public metadata of a verified certificate
type CertInfo struct {
	CertID        string            `json:"cert_id"`
	RecipientName string            `json:"recipient_name"`
	CourseName    string            `json:"course_name"`
	CompanyName   string            `json:"company_name,omitempty"`
	IssuedDate    time.Time         `json:"issued_date"`
	Status        models.CertStatus `json:"status"`
}

// Result is a structured verification verdict.
// OverallValid = DBValid && LedgerValid != false.
type Result struct {
	Verdict      Verdict      `json:"verdict"`
	OverallValid bool         `json:"overall_valid"`
	DBValid      bool         `json:"db_valid"`
	LedgerValid  *bool        `json:"ledger_valid"`
	LedgerStatus LedgerStatus `json:"ledger_status,omitempty"`
	LedgerTxRef  string       `json:"ledger_tx_ref,omitempty"`
	LiveHash     string       `json:"live_hash,omitempty"`
	Cert         *CertInfo    `json:"cert,omitempty"`
	Message      string       `json:"message"`
	CheckedAt    time.Time    `json:"checked_at"`
}

func certInfo(rec *models.CertificateRecord) *CertInfo {
	return &CertInfo{
		CertID:        rec.CertID,
		RecipientName: rec.RecipientName,
		CourseName:    rec.CourseName,
		CompanyName:   rec.CompanyName,
		IssuedDate:    rec.IssuedDate,
		Status:        rec.Status,
	}
}

func boolPtr(v bool) *bool {
	return &v
}

func message(r *Result) string {
	var msg string
	switch r.Verdict {
	case VerdictNotFound:
		return "No certificate exists with this ID"
	case VerdictArtifactMissing:
		return "The certificate record exists but its document could not be retrieved"
	case VerdictHashMismatch:
		msg = "The certificate document does not match the fingerprint recorded at issuance"
	case VerdictLedgerDisagreement:
		msg = "The ledger does not confirm the fingerprint recorded at issuance"
	case VerdictValid:
		switch r.LedgerStatus {
		case LedgerAgrees:
			msg = "Certificate is authentic and confirmed by the ledger"
		case LedgerNotAnchored:
			msg = "Certificate is authentic; it was not anchored on the ledger"
		case LedgerUnreachable:
			msg = "Certificate is authentic; the ledger could not be reached for confirmation"
		case LedgerStaleReference:
			msg = "Certificate is authentic; its ledger reference belongs to a retired ledger"
		default:
			msg = "Certificate is authentic"
		}
	}

	if r.Cert != nil && r.Cert.Status != models.StatusApproved {
		msg += " (status: " + string(r.Cert.Status) + ")"
	}
	return msg
}
