package router

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/prometheus/client_golang/prometheus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogogo1024/reportgate/services/reportaccess/biz/handler"
	"github.com/gogogo1024/reportgate/services/reportaccess/internal/access"
)

type testServer struct {
	h     *server.Hertz
	store *access.InMemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := access.NewInMemoryStore()
	reg := prometheus.NewRegistry()
	log, _ := logtest.NewNullLogger()
	handler.SetService(access.NewService(store, access.WithLogger(log), access.WithMetrics(access.NewMetrics(reg))))
	handler.SetStatsEnabled(false)

	h := server.New()
	Register(h, reg)
	return &testServer{h: h, store: store}
}

func (s *testServer) do(method, url, body string) *ut.ResponseRecorder {
	var b *ut.Body
	if body != "" {
		b = &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}
	}
	return ut.PerformRequest(s.h.Engine, method, url, b, ut.Header{Key: "Content-Type", Value: "application/json"})
}

func decode(t *testing.T, w *ut.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Result().Body(), v), string(w.Result().Body()))
}

func TestPasswordAndQuotaFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(consts.MethodPut, "/v1/reports/r1", "")
	require.Equal(t, consts.StatusOK, w.Code)

	w = s.do(consts.MethodPut, "/v1/reports/r1/access-policy",
		`{"is_public":true,"access_password":"abc123","max_access_count":2}`)
	require.Equal(t, consts.StatusOK, w.Code, string(w.Result().Body()))
	var pol struct {
		Policy map[string]interface{} `json:"policy"`
	}
	decode(t, w, &pol)
	assert.Equal(t, true, pol.Policy["has_password"])
	assert.NotContains(t, pol.Policy, "access_password")

	w = s.do(consts.MethodPost, "/v1/reports/r1/access/check", `{"password":"wrong"}`)
	require.Equal(t, consts.StatusOK, w.Code)
	var d access.Decision
	decode(t, w, &d)
	assert.Equal(t, access.Decision{Reason: access.ReasonInvalidPassword}, d)

	for i := 0; i < 2; i++ {
		w = s.do(consts.MethodPost, "/v1/reports/r1/open", `{"password":"abc123"}`)
		d = access.Decision{}
		decode(t, w, &d)
		require.True(t, d.Allowed)
		require.NotNil(t, d.RemainingAccess)
		assert.Equal(t, int64(1-i), *d.RemainingAccess)
	}

	w = s.do(consts.MethodPost, "/v1/reports/r1/access/check", `{"password":"abc123"}`)
	d = access.Decision{}
	decode(t, w, &d)
	assert.Equal(t, access.ReasonQuotaExceeded, d.Reason)

	w = s.do(consts.MethodPost, "/v1/reports/r1/access/record", "")
	assert.Equal(t, consts.StatusConflict, w.Code)
}

func TestCreateReportGeneratesKey(t *testing.T) {
	s := newTestServer(t)

	w := s.do(consts.MethodPost, "/v1/reports", "")
	require.Equal(t, consts.StatusCreated, w.Code)
	var resp struct {
		ReportKey string `json:"report_key"`
	}
	decode(t, w, &resp)
	assert.Len(t, resp.ReportKey, 36)

	w = s.do(consts.MethodPost, "/v1/reports/"+resp.ReportKey+"/access/check", "")
	var d access.Decision
	decode(t, w, &d)
	assert.True(t, d.Allowed)
}

func TestPolicyLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.do(consts.MethodPut, "/v1/reports/r1", "")

	w := s.do(consts.MethodGet, "/v1/reports/r1/access-policy", "")
	require.Equal(t, consts.StatusOK, w.Code)
	assert.JSONEq(t, `{"policy":null}`, string(w.Result().Body()))

	w = s.do(consts.MethodPut, "/v1/reports/r1/access-policy",
		`{"is_public":true,"expires_at":"2030-01-01T00:00:00Z","allowed_emails":["a@x.com"]}`)
	require.Equal(t, consts.StatusOK, w.Code)

	w = s.do(consts.MethodGet, "/v1/reports/r1/access-policy", "")
	var pol struct {
		Policy struct {
			IsPublic      bool     `json:"is_public"`
			ExpiresAt     string   `json:"expires_at"`
			AllowedEmails []string `json:"allowed_emails"`
		} `json:"policy"`
	}
	decode(t, w, &pol)
	assert.True(t, pol.Policy.IsPublic)
	assert.Equal(t, "2030-01-01T00:00:00Z", pol.Policy.ExpiresAt)
	assert.Equal(t, []string{"a@x.com"}, pol.Policy.AllowedEmails)

	w = s.do(consts.MethodPost, "/v1/reports/r1/access/check", `{"email":"b@x.com"}`)
	var d access.Decision
	decode(t, w, &d)
	assert.Equal(t, access.ReasonEmailNotAuthorized, d.Reason)

	w = s.do(consts.MethodDelete, "/v1/reports/r1/access-policy", "")
	assert.Equal(t, consts.StatusNoContent, w.Code)

	w = s.do(consts.MethodDelete, "/v1/reports/r1/access-policy?best_effort=1", "")
	require.Equal(t, consts.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"removed"}`, string(w.Result().Body()))

	w = s.do(consts.MethodDelete, "/v1/reports/missing/access-policy?best_effort=true", "")
	assert.JSONEq(t, `{"status":"skipped"}`, string(w.Result().Body()))

	w = s.do(consts.MethodDelete, "/v1/reports/missing/access-policy", "")
	assert.Equal(t, consts.StatusNotFound, w.Code)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.do(consts.MethodPut, "/v1/reports/r1", "")

	tests := []struct {
		name   string
		method string
		url    string
		body   string
		want   int
	}{
		{"bad json", consts.MethodPut, "/v1/reports/r1/access-policy", `{`, consts.StatusBadRequest},
		{"bad time", consts.MethodPut, "/v1/reports/r1/access-policy", `{"expires_at":"tomorrow"}`, consts.StatusBadRequest},
		{"bad email", consts.MethodPut, "/v1/reports/r1/access-policy", `{"allowed_emails":["nope"]}`, consts.StatusBadRequest},
		{"negative quota", consts.MethodPut, "/v1/reports/r1/access-policy", `{"max_access_count":-1}`, consts.StatusBadRequest},
		{"unknown report", consts.MethodPut, "/v1/reports/nope/access-policy", `{"is_public":true}`, consts.StatusNotFound},
		{"delete unknown", consts.MethodDelete, "/v1/reports/nope", "", consts.StatusNotFound},
		{"record unknown", consts.MethodPost, "/v1/reports/nope/access/record", "", consts.StatusNotFound},
		{"stats disabled", consts.MethodGet, "/v1/access/stats", "", consts.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(tt.method, tt.url, tt.body)
			assert.Equal(t, tt.want, w.Code, string(w.Result().Body()))
		})
	}
}

func TestUnknownReportIsDenied(t *testing.T) {
	s := newTestServer(t)

	w := s.do(consts.MethodPost, "/v1/reports/nope/open", "")
	require.Equal(t, consts.StatusOK, w.Code)
	var d access.Decision
	decode(t, w, &d)
	assert.Equal(t, access.Decision{Reason: access.ReasonReportNotFound}, d)
}

func TestRecordWithoutPolicy(t *testing.T) {
	s := newTestServer(t)
	s.do(consts.MethodPut, "/v1/reports/r1", "")

	w := s.do(consts.MethodPost, "/v1/reports/r1/access/record", `{"email":"a@x.com"}`)
	require.Equal(t, consts.StatusOK, w.Code)
	assert.JSONEq(t, `{"current_access_count":0}`, string(w.Result().Body()))
}

func TestStatsInMemory(t *testing.T) {
	s := newTestServer(t)
	handler.SetStatsEnabled(true)
	t.Cleanup(func() { handler.SetStatsEnabled(false) })

	s.do(consts.MethodPut, "/v1/reports/r1", "")
	s.do(consts.MethodPut, "/v1/reports/r1/access-policy", `{"is_public":true,"max_access_count":3}`)
	s.do(consts.MethodPost, "/v1/reports/r1/open", "")

	w := s.do(consts.MethodGet, "/v1/access/stats", "")
	require.Equal(t, consts.StatusOK, w.Code)
	var resp struct {
		Backend string               `json:"backend"`
		Access  access.InMemoryStats `json:"access"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "in_memory", resp.Backend)
	assert.Equal(t, access.InMemoryStats{Reports: 1, Policies: 1, QuotaPolicies: 1, RecordedAccess: 1}, resp.Access)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(consts.MethodPost, "/v1/reports/nope/access/check", "")

	w := s.do(consts.MethodGet, "/metrics", "")
	require.Equal(t, consts.StatusOK, w.Code)
	body := string(w.Result().Body())
	assert.True(t, strings.Contains(body, `reportaccess_decisions_total{allowed="false",reason="REPORT_NOT_FOUND"} 1`), body)
}
