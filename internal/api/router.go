package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/api/handlers"
	"github.com/adamscao/certguard/internal/api/middleware"
	"github.com/adamscao/certguard/internal/config"
	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/issuance"
	"github.com/adamscao/certguard/internal/policy"
	"github.com/adamscao/certguard/internal/verify"
)

const shutdownTimeout = 15 * time.Second

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	config *config.Config
	logger *zap.Logger
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	engine *verify.Engine,
	service *issuance.Service,
	validator *policy.Validator,
	certRepo *repository.CertRepository,
	auditRepo *repository.AuditRepository,
	logger *zap.Logger,
) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.MaxMultipartMemory = cfg.Issuance.MaxArtifactSize

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger.Named("http")))

	// Create handlers
	verifyHandler := handlers.NewVerifyHandler(engine, auditRepo, logger)
	certHandler := handlers.NewCertHandler(service, certRepo, cfg.Server.PublicURL, logger)
	adminHandler := handlers.NewAdminHandler(service, validator, certRepo, auditRepo, logger)

	// API v1 routes
	v1 := router.Group("/v1")
	{
		// Public verification endpoints
		verifyGroup := v1.Group("/verify")
		{
			verifyGroup.GET("/qr", verifyHandler.VerifyQR)
			verifyGroup.POST("/qr", verifyHandler.VerifyQR)
			verifyGroup.GET("/:certId", verifyHandler.VerifyCertificate)
		}

		// Certificate endpoints
		certs := v1.Group("/certs")
		{
			certs.GET("/:certId/artifact", certHandler.GetArtifact)
			certs.GET("/:certId/qr.png", certHandler.GetQRCode)
		}

		// Admin endpoints (require admin token)
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.Admin.Token, auditRepo, logger))
		{
			admin.POST("/certs", adminHandler.IssueCertificate)
			admin.GET("/certs", adminHandler.ListCertificates)
			admin.POST("/certs/:certId/approve", adminHandler.ApproveCertificate)
			admin.POST("/certs/:certId/reject", adminHandler.RejectCertificate)
			admin.GET("/audit", adminHandler.ListAuditLogs)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	return &Server{
		router: router,
		config: cfg,
		logger: logger,
	}
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
