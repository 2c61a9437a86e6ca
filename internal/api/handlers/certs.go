package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/issuance"
	"github.com/adamscao/certguard/internal/qrcode"
)

// CertHandler serves certificate artifacts and QR codes
type CertHandler struct {
	service   *issuance.Service
	certRepo  *repository.CertRepository
	publicURL string
	logger    *zap.Logger
}

// NewCertHandler creates a new certificate handler
func NewCertHandler(service *issuance.Service, certRepo *repository.CertRepository, publicURL string, logger *zap.Logger) *CertHandler {
	return &CertHandler{
		service:   service,
		certRepo:  certRepo,
		publicURL: publicURL,
		logger:    logger,
	}
}

// GetArtifact downloads the artifact of an approved certificate
// GET /v1/certs/:certId/artifact
func (h *CertHandler) GetArtifact(c *gin.Context) {
	certID := c.Param("certId")

	cert, data, err := h.service.Artifact(c.Request.Context(), certID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", "Certificate not found")
		return
	case errors.Is(err, issuance.ErrNotApproved):
		RespondError(c, http.StatusForbidden, "not_approved", "Certificate has not been approved")
		return
	case err != nil:
		h.logger.Error("failed to load artifact", zap.String("cert_id", certID), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "internal_error", "Failed to load certificate document")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+cert.CertID+`.pdf"`)
	c.Header("X-Content-Hash", cert.ContentHash)
	c.Data(http.StatusOK, "application/pdf", data)
}

// GetQRCode renders the verification QR code of a certificate
// GET /v1/certs/:certId/qr.png?size=256
func (h *CertHandler) GetQRCode(c *gin.Context) {
	certID := c.Param("certId")

	size := qrcode.DefaultSize
	if s := c.Query("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_size", "Size must be an integer")
			return
		}
		size = n
	}

	if _, err := h.certRepo.GetByCertID(c.Request.Context(), certID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", "Certificate not found")
			return
		}
		h.logger.Error("failed to look up certificate", zap.String("cert_id", certID), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, "database_error", "Failed to look up certificate")
		return
	}

	png, err := qrcode.EncodePNG(qrcode.BuildPayload(h.publicURL, certID), size)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_size", err.Error())
		return
	}

	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}
