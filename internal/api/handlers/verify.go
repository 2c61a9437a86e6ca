package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/models"
	"github.com/adamscao/certguard/internal/verify"
)

// VerifyHandler handles public certificate verification
type VerifyHandler struct {
	engine    *verify.Engine
	auditRepo *repository.AuditRepository
	logger    *zap.Logger
}

// NewVerifyHandler creates a new verification handler
func NewVerifyHandler(engine *verify.Engine, auditRepo *repository.AuditRepository, logger *zap.Logger) *VerifyHandler {
	return &VerifyHandler{
		engine:    engine,
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// VerifyQRRequest carries a scanned QR payload
type VerifyQRRequest struct {
	Payload string `json:"payload" form:"payload" binding:"required"`
}

// VerifyCertificate verifies a certificate by id
// GET /v1/verify/:certId
func (h *VerifyHandler) VerifyCertificate(c *gin.Context) {
	certID := c.Param("certId")

	result, err := h.engine.Verify(c.Request.Context(), certID)
	h.respond(c, certID, result, err)
}

// VerifyQR verifies the certificate named by a scanned QR payload
// GET /v1/verify/qr?payload=...
// POST /v1/verify/qr
func (h *VerifyHandler) VerifyQR(c *gin.Context) {
	var req VerifyQRRequest
	if err := c.ShouldBind(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", "QR payload is required")
		return
	}

	result, err := h.engine.VerifyPayload(c.Request.Context(), req.Payload)

	certID := ""
	if result != nil && result.Cert != nil {
		certID = result.Cert.CertID
	}
	h.respond(c, certID, result, err)
}

func (h *VerifyHandler) respond(c *gin.Context, certID string, result *verify.Result, err error) {
	if err != nil {
		h.logger.Error("verification failed", zap.String("cert_id", certID), zap.Error(err))
		h.recordAudit(c, certID, false, err.Error(), "")
		RespondError(c, http.StatusInternalServerError, "internal_error", "Verification is temporarily unavailable")
		return
	}

	details, _ := json.Marshal(map[string]any{
		"verdict":       result.Verdict,
		"ledger_status": result.LedgerStatus,
	})
	h.recordAudit(c, certID, result.OverallValid, "", string(details))

	status := http.StatusOK
	if result.Verdict == verify.VerdictNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, result)
}

func (h *VerifyHandler) recordAudit(c *gin.Context, certID string, success bool, errMsg, details string) {
	// The request context may already be gone when the client disconnects
	ctx := context.WithoutCancel(c.Request.Context())

	err := h.auditRepo.Create(ctx, &models.AuditLog{
		Action:    models.ActionCertVerify,
		CertID:    certID,
		ClientIP:  GetClientIP(c),
		UserAgent: c.GetHeader("User-Agent"),
		Success:   success,
		ErrorMsg:  errMsg,
		Details:   details,
	})
	if err != nil {
		h.logger.Warn("failed to write audit log", zap.Error(err))
	}
}
