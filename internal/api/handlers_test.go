package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupguard/internal/blocklist"
	"signupguard/internal/classifier"
	"signupguard/internal/mxresolver"
)

// stubResolver answers every MX query with a fixed record set.
type stubResolver struct {
	records []mxresolver.MX
}

func (s *stubResolver) LookupMX(ctx context.Context, domain string) ([]mxresolver.MX, error) {
	return s.records, nil
}

func newTestDeps(t *testing.T) (*blocklist.Registry, *blocklist.Loader, *classifier.Classifier) {
	t.Helper()

	reg := blocklist.NewRegistry()
	for _, cat := range blocklist.Catalog {
		reg.Create(cat.Name)
	}
	reg.Create(blocklist.MXCacheIndex)

	loader := blocklist.NewLoader(reg, blocklist.NewFetcher(blocklist.FetcherConfig{}), blocklist.LoaderConfig{
		BaseDir: t.TempDir(),
	})

	cls := classifier.New(reg, &stubResolver{records: []mxresolver.MX{{Priority: 10, Host: "mx.example.com"}}})
	return reg, loader, cls
}

func newTestServer(t *testing.T, jwtSecret string) (*Server, *blocklist.Registry, *blocklist.Loader) {
	t.Helper()
	reg, loader, cls := newTestDeps(t)
	return NewServer(cls, loader, nil, "0", jwtSecret), reg, loader
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "body: %s", rec.Body.String())
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec, body := doJSON(t, s.Handler(), "GET", "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestClassify_PostCleanTarget(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec, body := doJSON(t, s.Handler(), "POST", "/v1/classify",
		`{"email":"alice@corp.example","ip":"8.8.4.4"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", body["risk_level"])
	assert.Equal(t, []interface{}{}, body["reasons"])
}

func TestClassify_GetBlockedIP(t *testing.T) {
	s, reg, _ := newTestServer(t, "")
	require.NoError(t, reg.Insert("malicious_ip", "5.5.5.5", "true"))

	rec, body := doJSON(t, s.Handler(), "GET", "/v1/classify?ip=5.5.5.5", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "high", body["risk_level"])
	assert.Equal(t, []interface{}{"malicious_ip"}, body["reasons"])
}

func TestClassify_DisposableEmail(t *testing.T) {
	s, reg, _ := newTestServer(t, "")
	require.NoError(t, reg.Insert("disposable_email", "maildrop.cc", "true"))

	rec, body := doJSON(t, s.Handler(), "POST", "/v1/classify", `{"email":"x@maildrop.cc"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "high", body["risk_level"])
}

func TestClassify_BadRequests(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"no signals", "POST", "/v1/classify", `{}`},
		{"malformed json", "POST", "/v1/classify", `{"email":`},
		{"bad ip", "GET", "/v1/classify?ip=999.1.1.1", ""},
		{"ipv6", "GET", "/v1/classify?ip=2001:db8::1", ""},
		{"bad email", "POST", "/v1/classify", `{"email":"no-at-sign"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := doJSON(t, s.Handler(), tt.method, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_request", body["error"])
		})
	}
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec, body := doJSON(t, s.Handler(), "GET", "/v1/status", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["last_status"])

	sizes, ok := body["per_category_sizes"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, sizes, len(blocklist.Catalog))
}

func TestAdminUpdate_NoSecretConfigured(t *testing.T) {
	s, _, loader := newTestServer(t, "")
	rec, body := doJSON(t, s.Handler(), "POST", "/v1/admin/update", "", nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["triggered"])
	// The trigger is queued for the loader's next cycle.
	assert.Equal(t, "pending", loader.Status().LastStatus)
}

func TestAdminUpdate_RequiresJWT(t *testing.T) {
	s, _, _ := newTestServer(t, "test-secret")

	rec, _ := doJSON(t, s.Handler(), "POST", "/v1/admin/update", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, s.Handler(), "POST", "/v1/admin/update", "", map[string]string{
		"Authorization": "Bearer garbage",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminUpdate_ValidJWT(t *testing.T) {
	s, _, _ := newTestServer(t, "test-secret")

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "ops@example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	rec, body := doJSON(t, s.Handler(), "POST", "/v1/admin/update", "", map[string]string{
		"Authorization": "Bearer " + signed,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, body["triggered"])
}

func TestAdminUpdate_WrongSigningKey(t *testing.T) {
	s, _, _ := newTestServer(t, "test-secret")

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "ops"})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	rec, _ := doJSON(t, s.Handler(), "POST", "/v1/admin/update", "", map[string]string{
		"Authorization": "Bearer " + signed,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t, "test-secret")

	// Every route must answer OPTIONS itself; a method-mismatch 405 from
	// the router would skip the middleware and ship no CORS headers.
	for _, path := range []string{"/health", "/v1/classify", "/v1/status", "/v1/admin/update", "/ws/status"} {
		rec, _ := doJSON(t, s.Handler(), "OPTIONS", path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
	}
}

func TestValidEmail(t *testing.T) {
	assert.True(t, validEmail("a@b.c"))
	assert.True(t, validEmail(`"quoted@local"@example.com`))
	assert.False(t, validEmail("no-at-sign"))
	assert.False(t, validEmail("@example.com"))
	assert.False(t, validEmail("trailing@"))
}
