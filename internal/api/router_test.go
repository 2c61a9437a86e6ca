package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adamscao/certguard/internal/anchor"
	"github.com/adamscao/certguard/internal/config"
	"github.com/adamscao/certguard/internal/db"
	"github.com/adamscao/certguard/internal/db/repository"
	"github.com/adamscao/certguard/internal/issuance"
	"github.com/adamscao/certguard/internal/ledger"
	"github.com/adamscao/certguard/internal/models"
	"github.com/adamscao/certguard/internal/policy"
	"github.com/adamscao/certguard/internal/storage"
	"github.com/adamscao/certguard/internal/verify"
)

const adminToken = "test-admin-token"

type testServer struct {
	router    http.Handler
	artifacts *storage.Local
	auditRepo *repository.AuditRepository
}

func newTestServer(t *testing.T, defaultStatus string) *testServer {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Server:   config.ServerConfig{ListenAddr: ":0", PublicURL: "https://certs.example.com"},
		Issuance: config.IssuanceConfig{DefaultStatus: defaultStatus, MaxArtifactSize: 1 << 16},
		Admin:    config.AdminConfig{Token: adminToken},
		Logging:  config.LoggingConfig{Level: "info", Format: "json"},
	}

	database, err := db.New(filepath.Join(dir, "certguard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.RunMigrations(database))

	artifacts, err := storage.NewLocal(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)

	client, err := ledger.OpenLocal(filepath.Join(dir, "ledger"), "")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	logger := zap.NewNop()
	certRepo := repository.NewCertRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)
	validator := policy.NewValidator(cfg)
	service := issuance.NewService(certRepo, auditRepo, artifacts,
		anchor.New(client, time.Second, logger), validator, cfg.Server.PublicURL, logger)
	engine := verify.New(certRepo, artifacts, client, time.Second, logger)

	srv := NewServer(cfg, engine, service, validator, certRepo, auditRepo, logger)
	return &testServer{router: srv.Router(), artifacts: artifacts, auditRepo: auditRepo}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) issue(t *testing.T, artifact []byte) issuance.IssueResult {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("recipient_name", "Hedy Lamarr"))
	require.NoError(t, mw.WriteField("recipient_email", "hedy@example.com"))
	require.NoError(t, mw.WriteField("course_name", "Frequency Hopping"))
	require.NoError(t, mw.WriteField("issued_date", "2025-04-01"))
	fw, err := mw.CreateFormFile("artifact", "cert.pdf")
	require.NoError(t, err)
	_, err = fw.Write(artifact)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/certs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Token", adminToken)

	w := s.do(t, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res issuance.IssueResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func decodeResult(t *testing.T, w *httptest.ResponseRecorder) verify.Result {
	t.Helper()
	var res verify.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "approved")
	w := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIssueAndVerify(t *testing.T) {
	s := newTestServer(t, "approved")
	issued := s.issue(t, []byte("hello"))
	certID := issued.Cert.CertID

	assert.True(t, issued.Anchored)
	assert.Equal(t, "2025-04-01", issued.Cert.IssuedDate.Format("2006-01-02"))

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/verify/"+certID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	res := decodeResult(t, w)
	assert.Equal(t, verify.VerdictValid, res.Verdict)
	assert.True(t, res.OverallValid)
	require.NotNil(t, res.LedgerValid)
	assert.True(t, *res.LedgerValid)
	assert.Equal(t, "Hedy Lamarr", res.Cert.RecipientName)

	require.NoError(t, s.artifacts.Put(context.Background(), certID+".pdf", []byte("hellp"), "application/pdf"))
	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/verify/"+certID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	res = decodeResult(t, w)
	assert.Equal(t, verify.VerdictHashMismatch, res.Verdict)
	assert.False(t, res.DBValid)

	logs, err := s.auditRepo.List(context.Background(), certID, models.ActionCertVerify, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestVerify_NotFound(t *testing.T) {
	s := newTestServer(t, "approved")

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/verify/CERT-nonexistent", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, verify.VerdictNotFound, decodeResult(t, w).Verdict)
}

func TestVerifyQR(t *testing.T) {
	s := newTestServer(t, "approved")
	issued := s.issue(t, []byte("hello"))

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/verify/qr?payload="+url.QueryEscape(issued.QRPayload), nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, verify.VerdictValid, decodeResult(t, w).Verdict)

	body := `{"payload":"https://legacy.example.com/show?id=` + issued.Cert.CertID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/verify/qr", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = s.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, issued.Cert.CertID, decodeResult(t, w).Cert.CertID)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/verify/qr", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t, "approved")

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/admin/certs", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/certs", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	w = s.do(t, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	logs, err := s.auditRepo.List(context.Background(), "", models.ActionAuthFailed, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestApprovalFlow(t *testing.T) {
	s := newTestServer(t, "pending")
	issued := s.issue(t, []byte("%PDF-1.7 pending"))
	certID := issued.Cert.CertID

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/certs/"+certID+"/artifact", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	list := httptest.NewRequest(http.MethodGet, "/v1/admin/certs?status=pending", nil)
	list.Header.Set("X-Admin-Token", adminToken)
	w = s.do(t, list)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), certID)

	approve := httptest.NewRequest(http.MethodPost, "/v1/admin/certs/"+certID+"/approve", nil)
	approve.Header.Set("X-Admin-Token", adminToken)
	w = s.do(t, approve)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	reject := httptest.NewRequest(http.MethodPost, "/v1/admin/certs/"+certID+"/reject", nil)
	reject.Header.Set("X-Admin-Token", adminToken)
	w = s.do(t, reject)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/certs/"+certID+"/artifact", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.7 pending", w.Body.String())
	assert.Equal(t, issued.Cert.ContentHash, w.Header().Get("X-Content-Hash"))

	audit := httptest.NewRequest(http.MethodGet, "/v1/admin/audit?cert_id="+certID, nil)
	audit.Header.Set("X-Admin-Token", adminToken)
	w = s.do(t, audit)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.ActionCertApprove)
}

func TestIssue_ValidationError(t *testing.T) {
	s := newTestServer(t, "approved")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("recipient_name", "Nobody"))
	require.NoError(t, mw.WriteField("recipient_email", "not-an-email"))
	require.NoError(t, mw.WriteField("course_name", "None"))
	fw, err := mw.CreateFormFile("artifact", "cert.pdf")
	require.NoError(t, err)
	_, err = fw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/certs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Token", adminToken)

	w := s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "recipient_email")
}

func TestIssue_OversizedUploadRejected(t *testing.T) {
	s := newTestServer(t, "approved")

	newUpload := func(t *testing.T) (*bytes.Buffer, string) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("recipient_name", "Hedy Lamarr"))
		require.NoError(t, mw.WriteField("recipient_email", "hedy@example.com"))
		require.NoError(t, mw.WriteField("course_name", "Frequency Hopping"))
		fw, err := mw.CreateFormFile("artifact", "cert.pdf")
		require.NoError(t, err)
		_, err = fw.Write(bytes.Repeat([]byte("x"), 1<<16+2<<20))
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		return &body, mw.FormDataContentType()
	}

	t.Run("declared length", func(t *testing.T) {
		body, contentType := newUpload(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/certs", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Admin-Token", adminToken)

		w := s.do(t, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "artifact_too_large")
	})

	t.Run("streamed body", func(t *testing.T) {
		body, contentType := newUpload(t)
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/certs", body)
		req.ContentLength = -1
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-Admin-Token", adminToken)

		w := s.do(t, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "artifact_too_large")
	})

	t.Run("oversized artifact within body slack", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		require.NoError(t, mw.WriteField("recipient_name", "Hedy Lamarr"))
		require.NoError(t, mw.WriteField("recipient_email", "hedy@example.com"))
		require.NoError(t, mw.WriteField("course_name", "Frequency Hopping"))
		fw, err := mw.CreateFormFile("artifact", "cert.pdf")
		require.NoError(t, err)
		_, err = fw.Write(bytes.Repeat([]byte("x"), 1<<16+1))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/v1/admin/certs", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-Admin-Token", adminToken)

		w := s.do(t, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestQRCode(t *testing.T) {
	s := newTestServer(t, "approved")
	issued := s.issue(t, []byte("hello"))

	w := s.do(t, httptest.NewRequest(http.MethodGet, "/v1/certs/"+issued.Cert.CertID+"/qr.png?size=200", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/v1/certs/missing/qr.png", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
