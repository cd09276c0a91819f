package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policyhub-backend/infrastructure/config"
	"policyhub-backend/infrastructure/di"
	"policyhub-backend/interfaces/http/rest/middleware"
)

const issueBody = `{
	"policy_id": "pol-1",
	"policy_number": "POL-1",
	"customer_id": "cust-1",
	"product_code": "HOME",
	"time_zone": "America/New_York",
	"effective": "2025-01-01T00:00:00",
	"expiry": "2026-01-01T00:00:00",
	"calculation": {"premium": "1200", "tax": "120", "currency": "USD"}
}`

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func newServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	container, cleanup, err := di.InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return container.Router
}

func do(t *testing.T, h http.Handler, method, path, tenant, roles, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set(middleware.HeaderTenantID, tenant)
	}
	if roles != "" {
		req.Header.Set(middleware.HeaderRoles, roles)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.True(t, env.Success, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestPolicyLifecycleOverHTTP(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodPost, "/v1/policies", "acme", "", issueBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var issued struct {
		AggregateID string `json:"aggregate_id"`
		Version     int    `json:"version"`
	}
	decode(t, rec, &issued)
	assert.Equal(t, "pol-1", issued.AggregateID)
	assert.Equal(t, 1, issued.Version)

	rec = do(t, h, http.MethodGet, "/v1/policies/pol-1", "acme", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary struct {
		PolicyNumber string `json:"policy_number"`
		TenantID     string `json:"tenant_id"`
	}
	decode(t, rec, &summary)
	assert.Equal(t, "POL-1", summary.PolicyNumber)
	assert.Equal(t, "acme", summary.TenantID)

	rec = do(t, h, http.MethodGet, "/v1/policies", "acme", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	decode(t, rec, &page)
	assert.Len(t, page.Items, 1)

	rec = do(t, h, http.MethodGet, "/v1/policies/pol-1/transactions", "acme", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTenantIsolation(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodPost, "/v1/policies", "acme", "", issueBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/policies/pol-1", "globex", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccessControl(t *testing.T) {
	h := newServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		tenant string
		roles  string
		want   int
	}{
		{"missing tenant", http.MethodGet, "/v1/policies", "", "", http.StatusUnauthorized},
		{"admin without role", http.MethodGet, "/v1/admin/projections", "acme", "", http.StatusForbidden},
		{"admin with other role", http.MethodGet, "/v1/admin/projections", "acme", "agent", http.StatusForbidden},
		{"admin", http.MethodGet, "/v1/admin/projections", "acme", "agent,admin", http.StatusOK},
		{"health needs no tenant", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.tenant, tt.roles, "")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRebuildOverHTTP(t *testing.T) {
	h := newServer(t)

	rec := do(t, h, http.MethodPost, "/v1/policies", "acme", "", issueBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/admin/projections/rebuild", "acme", "admin", `{"aggregate_type":"policy"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Rebuilt int `json:"rebuilt"`
	}
	decode(t, rec, &out)
	assert.Equal(t, 1, out.Rebuilt)

	rec = do(t, h, http.MethodPost, "/v1/admin/projections/rebuild", "acme", "admin", `{"aggregate_type":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
