package handler

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"github.com/gogogo1024/reportgate/services/reportaccess/internal/access"
)

var svc = access.NewService(access.NewInMemoryStore())

const errInvalidJSON = "invalid json"

// SetService swaps the access service the handlers use.
//
// The default is backed by an in-memory store for local dev.
func SetService(s *access.Service) {
	if s == nil {
		return
	}
	svc = s
}

type policyRequest struct {
	IsPublic           *bool    `json:"is_public,omitempty"`
	ExpiresAt          string   `json:"expires_at,omitempty"` // RFC3339, optional
	AccessPassword     *string  `json:"access_password,omitempty"`
	AllowedEmails      []string `json:"allowed_emails,omitempty"`
	MaxAccessCount     *int64   `json:"max_access_count,omitempty"`
	CurrentAccessCount *int64   `json:"current_access_count,omitempty"`
}

// policyView is what the owner API returns. The password itself never leaves
// the service.
type policyView struct {
	IsPublic           bool       `json:"is_public"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	HasPassword        bool       `json:"has_password"`
	AllowedEmails      []string   `json:"allowed_emails,omitempty"`
	MaxAccessCount     *int64     `json:"max_access_count,omitempty"`
	CurrentAccessCount int64      `json:"current_access_count"`
	LastAccessedAt     *time.Time `json:"last_accessed_at,omitempty"`
}

type policyResponse struct {
	Policy *policyView `json:"policy"`
}

type accessRequest struct {
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
}

type recordResponse struct {
	CurrentAccessCount int64 `json:"current_access_count"`
}

type reportResponse struct {
	ReportKey string `json:"report_key"`
}

// CreateReport PUT /v1/reports/:key
func CreateReport(ctx context.Context, c *app.RequestContext) {
	key := c.Param("key")
	if err := svc.CreateReport(ctx, key); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, reportResponse{ReportKey: key})
}

// CreateReportWithKey POST /v1/reports
func CreateReportWithKey(ctx context.Context, c *app.RequestContext) {
	key := uuid.NewString()
	if err := svc.CreateReport(ctx, key); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusCreated, reportResponse{ReportKey: key})
}

// DeleteReport DELETE /v1/reports/:key
func DeleteReport(ctx context.Context, c *app.RequestContext) {
	if err := svc.DeleteReport(ctx, c.Param("key")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(consts.StatusNoContent)
}

// SetPolicy PUT /v1/reports/:key/access-policy
func SetPolicy(ctx context.Context, c *app.RequestContext) {
	var req policyRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": errInvalidJSON})
		return
	}

	settings := access.Settings{
		IsPublic:           req.IsPublic,
		AccessPassword:     req.AccessPassword,
		AllowedEmails:      req.AllowedEmails,
		MaxAccessCount:     req.MaxAccessCount,
		CurrentAccessCount: req.CurrentAccessCount,
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339Nano, req.ExpiresAt)
		if err != nil {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "expires_at must be RFC3339"})
			return
		}
		settings.ExpiresAt = &t
	}

	p, err := svc.SetPolicy(ctx, c.Param("key"), settings)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, policyResponse{Policy: newPolicyView(p)})
}

// GetPolicy GET /v1/reports/:key/access-policy
func GetPolicy(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, policyResponse{Policy: newPolicyView(svc.GetPolicy(ctx, c.Param("key")))})
}

// RemovePolicy DELETE /v1/reports/:key/access-policy[?best_effort=1]
func RemovePolicy(ctx context.Context, c *app.RequestContext) {
	key := c.Param("key")
	if queryBool(c, "best_effort") {
		res := svc.TryRemovePolicy(ctx, key)
		c.JSON(consts.StatusOK, res)
		return
	}
	if err := svc.RemovePolicy(ctx, key); err != nil {
		writeError(c, err)
		return
	}
	c.Status(consts.StatusNoContent)
}

// CheckAccess POST /v1/reports/:key/access/check
//
// Denials are 200 responses carrying the reason; the caller decides how to
// render them.
func CheckAccess(ctx context.Context, c *app.RequestContext) {
	var req accessRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": errInvalidJSON})
		return
	}
	c.JSON(consts.StatusOK, svc.CheckAccess(ctx, c.Param("key"), req.Email, req.Password))
}

// RecordAccess POST /v1/reports/:key/access/record
func RecordAccess(ctx context.Context, c *app.RequestContext) {
	var req accessRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": errInvalidJSON})
		return
	}
	n, err := svc.RecordAccess(ctx, c.Param("key"), req.Email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, recordResponse{CurrentAccessCount: n})
}

// OpenReport POST /v1/reports/:key/open
func OpenReport(ctx context.Context, c *app.RequestContext) {
	var req accessRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": errInvalidJSON})
		return
	}
	c.JSON(consts.StatusOK, svc.OpenReport(ctx, c.Param("key"), req.Email, req.Password))
}

func newPolicyView(p *access.Policy) *policyView {
	if p == nil {
		return nil
	}
	return &policyView{
		IsPublic:           p.IsPublic,
		ExpiresAt:          p.ExpiresAt,
		HasPassword:        p.AccessPassword != nil,
		AllowedEmails:      p.AllowedEmails,
		MaxAccessCount:     p.MaxAccessCount,
		CurrentAccessCount: p.CurrentAccessCount,
		LastAccessedAt:     p.LastAccessedAt,
	}
}

func bindOptionalJSON(c *app.RequestContext, v interface{}) error {
	if len(c.Request.Body()) == 0 {
		return nil
	}
	return c.BindJSON(v)
}

// writeError maps service errors onto status codes. Backend details stay in
// the service log.
func writeError(c *app.RequestContext, err error) {
	switch {
	case errors.Is(err, access.ErrInvalidSettings):
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
	case errors.Is(err, access.ErrInvalidReportKey):
		c.JSON(consts.StatusBadRequest, utils.H{"error": access.ErrInvalidReportKey.Error()})
	case errors.Is(err, access.ErrNotFound):
		c.JSON(consts.StatusNotFound, utils.H{"error": access.ErrNotFound.Error()})
	case errors.Is(err, access.ErrQuotaExceeded):
		c.JSON(consts.StatusConflict, utils.H{"error": access.ErrQuotaExceeded.Error()})
	case errors.Is(err, access.ErrStoreUnavailable):
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": access.ErrStoreUnavailable.Error()})
	default:
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "internal error"})
	}
}
