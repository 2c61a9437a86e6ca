package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/issuance"
	"github.com/adamscao/certguard/internal/models"
	"github.com/adamscao/certguard/internal/policy"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// multipartOverhead covers the text fields and part headers of an issue upload
	multipartOverhead = 1 << 20
)

// AdminHandler handles administrative operations
type AdminHandler struct {
	service   *issuance.Service
	validator *policy.Validator
	certRepo  *repository.CertRepository
	auditRepo *repository.AuditRepository
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	service *issuance.Service,
	validator *policy.Validator,
	certRepo *repository.CertRepository,
	auditRepo *repository.AuditRepository,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		service:   service,
		validator: validator,
		certRepo:  certRepo,
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// ListCertificatesResponse represents a certificate listing
type ListCertificatesResponse struct {
	Certificates []*models.CertificateRecord `json:"certificates"`
	Count        int                         `json:"count"`
}

// ListAuditLogsResponse represents an audit log listing
type ListAuditLogsResponse struct {
	Logs  []*models.AuditLog `json:"logs"`
	Count int                `json:"count"`
}

// IssueCertificate issues a certificate from an uploaded artifact
// POST /v1/admin/certs (multipart: artifact file plus recipient fields)
func (h *AdminHandler) IssueCertificate(c *gin.Context) {
	maxSize := h.validator.MaxArtifactSize()
	maxBody := maxSize + multipartOverhead

	if c.Request.ContentLength > maxBody {
		respondTooLarge(c, maxSize)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBody)

	var req models.IssueRequest
	if err := c.ShouldBind(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondTooLarge(c, maxSize)
			return
		}
		RespondError(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	fileHeader, err := c.FormFile("artifact")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_artifact", "Artifact file is required")
		return
	}

	if fileHeader.Size > maxSize {
		respondTooLarge(c, maxSize)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_artifact", "Failed to read artifact")
		return
	}
	defer file.Close()

	artifact, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_artifact", "Failed to read artifact")
		return
	}

	result, err := h.service.Issue(c.Request.Context(), &req, artifact, actorFrom(c))
	if err != nil {
		var verr *policy.ValidationError
		switch {
		case errors.As(err, &verr):
			RespondErrorWithDetails(c, http.StatusBadRequest, "validation_failed", err.Error(), gin.H{"field": verr.Field})
		case errors.Is(err, policy.ErrEmptyArtifact):
			RespondError(c, http.StatusBadRequest, "invalid_artifact", err.Error())
		case errors.Is(err, policy.ErrArtifactTooLarge):
			RespondError(c, http.StatusRequestEntityTooLarge, "artifact_too_large", err.Error())
		default:
			h.logger.Error("certificate issuance failed", zap.Error(err))
			RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to issue certificate")
		}
		return
	}

	c.JSON(http.StatusCreated, result)
}

func respondTooLarge(c *gin.Context, maxSize int64) {
	RespondError(c, http.StatusRequestEntityTooLarge, "artifact_too_large",
		fmt.Sprintf("Artifact exceeds %d bytes", maxSize))
}

// ListCertificates lists certificates, optionally filtered by status
// GET /v1/admin/certs?status=pending&limit=50
func (h *AdminHandler) ListCertificates(c *gin.Context) {
	status := models.CertStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		RespondError(c, http.StatusBadRequest, "invalid_status", "Status must be pending, approved or rejected")
		return
	}

	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	certs, err := h.certRepo.List(c.Request.Context(), status, limit)
	if err != nil {
		h.logger.Error("failed to list certificates", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to list certificates")
		return
	}

	RespondSuccess(c, ListCertificatesResponse{Certificates: certs, Count: len(certs)})
}

// ApproveCertificate approves a pending certificate
// POST /v1/admin/certs/:certId/approve
func (h *AdminHandler) ApproveCertificate(c *gin.Context) {
	h.decide(c, true)
}

// RejectCertificate rejects a pending certificate
// POST /v1/admin/certs/:certId/reject
func (h *AdminHandler) RejectCertificate(c *gin.Context) {
	h.decide(c, false)
}

func (h *AdminHandler) decide(c *gin.Context, approve bool) {
	certID := c.Param("certId")

	cert, err := h.service.Decide(c.Request.Context(), certID, approve, actorFrom(c))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", "Certificate not found")
	case errors.Is(err, policy.ErrInvalidTransition):
		RespondError(c, http.StatusConflict, "invalid_transition", err.Error())
	case err != nil:
		h.logger.Error("failed to decide certificate", zap.String("cert_id", certID), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to update certificate")
	default:
		RespondSuccess(c, cert)
	}
}

// ListAuditLogs lists audit log entries
// GET /v1/admin/audit?cert_id=&action=&limit=50
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	logs, err := h.auditRepo.List(c.Request.Context(), c.Query("cert_id"), c.Query("action"), limit)
	if err != nil {
		h.logger.Error("failed to list audit logs", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to list audit logs")
		return
	}

	RespondSuccess(c, ListAuditLogsResponse{Logs: logs, Count: len(logs)})
}

func parseLimit(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(s)
	if err != nil || limit <= 0 || limit > maxListLimit {
		RespondError(c, http.StatusBadRequest, "invalid_limit", fmt.Sprintf("Limit must be between 1 and %d", maxListLimit))
		return 0, false
	}
	return limit, true
}

func actorFrom(c *gin.Context) issuance.Actor {
	return issuance.Actor{
		ClientIP:  GetClientIP(c),
		UserAgent: c.GetHeader("User-Agent"),
	}
}
