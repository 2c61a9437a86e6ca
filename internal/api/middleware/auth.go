package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/auth"
	"github.com/adamscao/certguard/internal/models"
)

// AuditStore records audit entries
type AuditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AdminAuth middleware checks for admin token. Rejected attempts are audited.
func AdminAuth(adminToken string, audit AuditStore, logger *zap.Logger) gin.HandlerFunc {
	tokenHash := auth.HashToken(adminToken)

	return func(c *gin.Context) {
		token := c.GetHeader("X-Admin-Token")

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin token required",
			})
			c.Abort()
			return
		}

		if !auth.VerifyToken(token, tokenHash) {
			err := audit.Create(context.WithoutCancel(c.Request.Context()), &models.AuditLog{
				Action:    models.ActionAuthFailed,
				ClientIP:  c.ClientIP(),
				UserAgent: c.GetHeader("User-Agent"),
				Success:   false,
				ErrorMsg:  "invalid admin token on " + c.Request.Method + " " + c.FullPath(),
			})
			if err != nil {
				logger.Warn("failed to write audit log", zap.Error(err))
			}

			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin token",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
