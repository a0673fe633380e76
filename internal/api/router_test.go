package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/internal/auth"
	"github.com/vnmchuo/usage-tracker/internal/billing"
	"github.com/vnmchuo/usage-tracker/internal/kv"
	"github.com/vnmchuo/usage-tracker/internal/org"
	"github.com/vnmchuo/usage-tracker/internal/pricing"
)

func newService(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	tracer := noop.NewTracerProvider().Tracer("test")

	usage := billing.NewKVStore(kv.NewMemoryTable(billing.UsageSchema("usage")))
	dir := org.NewKVDirectory(kv.NewMemoryTable(org.OrgSchema("orgs")))
	authz := auth.NewAuthorizer(dir, logger)

	h := NewHandler(
		billing.NewRecorder(usage, pricing.Default(), authz, nil, logger, tracer),
		billing.NewAggregator(usage, authz, logger, tracer),
		org.NewManager(dir, usage, logger, tracer),
		logger,
	)
	return NewRouter(h, RouterOptions{AllowedOrigins: []string{"https://app.example"}})
}

func call(t *testing.T, srv http.Handler, method, target, token, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func register(t *testing.T, srv http.Handler, name string) (string, string) {
	t.Helper()
	code, resp := call(t, srv, "POST", "/organizations", "", `{"organization_name":"`+name+`"}`)
	require.Equal(t, http.StatusOK, code)
	return resp["organization_id"].(string), resp["auth_token"].(string)
}

func TestRouter_Lifecycle(t *testing.T) {
	srv := newService(t)
	orgA, tokA := register(t, srv, "Acme")
	orgB, tokB := register(t, srv, "Acme")
	assert.NotEqual(t, orgA, orgB)

	usage := func(orgID, user, model string, in, out int) string {
		return `{"model_name":"` + model + `","input_tokens":` + strconv.Itoa(in) + `,"output_tokens":` + strconv.Itoa(out) +
			`,"user_id":"` + user + `","organization_id":"` + orgID + `","timestamp":"2024-01-15T10:00:00"}`
	}

	code, resp := call(t, srv, "POST", "/usage", tokA, usage(orgA, "alice", "gpt-4", 100, 50))
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, 0.006, resp["total_cost"])

	code, _ = call(t, srv, "POST", "/usage", tokA, usage(orgA, "bob", "gpt-4", 1000, 1000))
	require.Equal(t, http.StatusOK, code)
	code, _ = call(t, srv, "POST", "/usage", tokB, usage(orgB, "carol", "gpt-4", 10, 10))
	require.Equal(t, http.StatusOK, code)

	// writing into another organization is forbidden
	code, resp = call(t, srv, "POST", "/usage", tokB, usage(orgA, "mallory", "gpt-4", 1, 1))
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Unauthorized access. Organizations can only access their own data.", resp["error"])

	code, resp = call(t, srv, "POST", "/usage", tokA, usage(orgA, "alice", "gpt-9000", 1, 1))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp["error"], "Unsupported model: gpt-9000")

	code, resp = call(t, srv, "GET", "/costs/organization?organization_id="+orgA+"&start_date=2024-01-01&end_date=2024-01-31", tokA, "")
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, float64(2), resp["total_users"])
	assert.Equal(t, float64(30), resp["time_period_days"])
	users := resp["user_costs"].([]interface{})
	assert.Equal(t, "bob", users[0].(map[string]interface{})["user_id"])

	code, resp = call(t, srv, "GET", "/costs/user?organization_id="+orgA+"&user_id=alice&start_date=2024-01-15&end_date=2024-01-16", tokA, "")
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, 0.006, resp["total_cost"])
	assert.Equal(t, float64(1), resp["usage_count"])
	assert.Equal(t, "2024-01-15T00:00:00", resp["start_date"])
	assert.Equal(t, "2024-01-16T00:00:00", resp["end_date"])

	// a bare end date is midnight, so a record later that day is outside
	code, resp = call(t, srv, "GET", "/costs/user?organization_id="+orgA+"&user_id=alice&start_date=2024-01-15&end_date=2024-01-15", tokA, "")
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, float64(0), resp["usage_count"])

	code, _ = call(t, srv, "GET", "/costs/organization?organization_id="+orgA+"&start_date=2024-01-01&end_date=2024-01-31", tokB, "")
	assert.Equal(t, http.StatusForbidden, code)

	// deletion with the wrong token leaves both organizations intact
	code, _ = call(t, srv, "DELETE", "/organizations", "", `{"organization_id":"`+orgA+`","auth_token":"`+tokB+`"}`)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, resp = call(t, srv, "GET", "/costs/organization?organization_id="+orgA+"&start_date=2024-01-01&end_date=2024-01-31", tokA, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), resp["usage_count"])

	code, resp = call(t, srv, "DELETE", "/organizations", "", `{"organization_id":"`+orgA+`","auth_token":"`+tokA+`"}`)
	require.Equal(t, http.StatusOK, code, resp)
	assert.Equal(t, float64(2), resp["purged_records"])

	// the token is gone with the organization
	code, _ = call(t, srv, "GET", "/costs/organization?organization_id="+orgA+"&start_date=2024-01-01&end_date=2024-01-31", tokA, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = call(t, srv, "GET", "/costs/organization?organization_id="+orgB+"&start_date=2024-01-01&end_date=2024-01-31", tokB, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), resp["usage_count"])
}

func TestRouter_MissingFieldsWriteNothing(t *testing.T) {
	srv := newService(t)
	orgID, tok := register(t, srv, "Acme")

	full := map[string]interface{}{
		"model_name":      "gpt-4",
		"input_tokens":    1,
		"output_tokens":   1,
		"user_id":         "u1",
		"organization_id": orgID,
	}
	for _, field := range []string{"model_name", "input_tokens", "output_tokens", "user_id", "organization_id"} {
		body := map[string]interface{}{}
		for k, v := range full {
			if k != field {
				body[k] = v
			}
		}
		raw, _ := json.Marshal(body)
		code, resp := call(t, srv, "POST", "/usage", tok, string(raw))
		assert.Equal(t, http.StatusBadRequest, code, field)
		assert.Equal(t, "Missing required field: "+field, resp["error"])
	}

	_, resp := call(t, srv, "GET", "/costs/organization?organization_id="+orgID+"&start_date=2000-01-01&end_date=2100-01-01", tok, "")
	assert.Equal(t, float64(0), resp["usage_count"])
}

func TestRouter_Health(t *testing.T) {
	srv := newService(t)
	code, resp := call(t, srv, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp["status"])

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestRouter_CORS(t *testing.T) {
	srv := newService(t)
	req := httptest.NewRequest("OPTIONS", "/usage", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}
