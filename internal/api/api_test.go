package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	jose "gopkg.in/go-jose/go-jose.v2"
	"gopkg.in/go-jose/go-jose.v2/jwt"

	"env-dashboard/internal/hub"
	"env-dashboard/internal/ingest"
	"env-dashboard/internal/latest"
	"env-dashboard/internal/metrics"
	"env-dashboard/internal/query"
	"env-dashboard/internal/store"
)

const (
	testSecret   = "test-secret-please-change"
	testIssuer   = "env-dashboard"
	testAudience = "env-dashboard-ui"
	testDevices  = 4
)

type fixture struct {
	handler http.Handler
	hub     *hub.Hub
	access  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st := store.NewMemory()
	ix := latest.New(st, testDevices, nil, logger)
	hb := hub.New(16, logger, nil)
	p := ingest.NewPipeline(ix, hb, logger)
	e := query.NewEngine(st, ix)

	auth, err := NewAuth(testSecret, testIssuer, testAudience, logger)
	require.NoError(t, err)

	access := &bytes.Buffer{}
	h := NewRouter(p, e, logger, Options{
		Auth:      auth,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		AccessLog: access,
	})
	return &fixture{handler: h, hub: hb, access: access}
}

func mint(t *testing.T, claims Claims, audience string) string {
	t.Helper()
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(testSecret)},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	now := time.Now()
	raw, err := jwt.Signed(sig).
		Claims(jwt.Claims{
			Issuer:   testIssuer,
			Subject:  "user-1",
			Audience: jwt.Audience{audience},
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
		}).
		Claims(claims).
		CompactSerialize()
	require.NoError(t, err)
	return raw
}

func (f *fixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestPostThenQuery(t *testing.T) {
	f := newFixture(t)
	user := mint(t, Claims{Role: "user"}, testAudience)

	sub := f.hub.Connect()

	rec := f.do(t, http.MethodPost, "/api/data/3", "", `{"measurements":[{"value":21.5},{"value":1013.2},{"value":40}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored := decode[map[string]any](t, rec)
	require.Equal(t, 3.0, stored["deviceId"])
	require.Equal(t, 21.5, stored["temperature"])
	require.NotEmpty(t, stored["readingDate"])

	// Push odešel všem připojeným.
	require.Len(t, sub.Drain(), 1)

	rec = f.do(t, http.MethodGet, "/api/data/3/latest", user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	recent := decode[[]map[string]any](t, rec)
	require.Len(t, recent, 1)
	require.Equal(t, 1013.2, recent[0]["pressure"])

	rec = f.do(t, http.MethodGet, "/api/data/3", user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = f.do(t, http.MethodGet, "/api/data/3/history?range=1h", user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]map[string]any](t, rec), 1)

	require.Contains(t, f.access.String(), `"POST /api/data/3 HTTP/1.1" 200`)
}

func TestPostRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	sub := f.hub.Connect()

	cases := map[string]string{
		"/api/data/1":   `{"measurements":[{"value":"x"},{"value":1},{"value":2}]}`,
		"/api/data/2":   `{"measurements":[{"value":1}]}`,
		"/api/data/9":   `{"measurements":[{"value":1},{"value":2},{"value":3}]}`,
		"/api/data/abc": `{"measurements":[{"value":1},{"value":2},{"value":3}]}`,
	}
	for path, body := range cases {
		rec := f.do(t, http.MethodPost, path, "", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.Contains(t, decode[map[string]string](t, rec), "error")
	}
	require.Empty(t, sub.Drain())
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/data/latest", "/api/data/1", "/api/data/1/5", "/api/data/1/latest"} {
		rec := f.do(t, http.MethodGet, path, "", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	wrongAudience := mint(t, Claims{}, "someone-else")
	rec := f.do(t, http.MethodGet, "/api/data/latest", wrongAudience, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/data/latest", "not-a-token", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLatestAllHasPlaceholders(t *testing.T) {
	f := newFixture(t)
	user := mint(t, Claims{}, testAudience)

	f.do(t, http.MethodPost, "/api/data/2", "", `{"measurements":[{"value":1},{"value":2},{"value":3}]}`)

	rec := f.do(t, http.MethodGet, "/api/data/latest", user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]map[string]any](t, rec)
	require.Len(t, entries, testDevices)
	require.Equal(t, map[string]any{"deviceId": 0.0}, entries[0])
	require.Equal(t, 1.0, entries[2]["temperature"])
}

func TestRecentCount(t *testing.T) {
	f := newFixture(t)
	user := mint(t, Claims{}, testAudience)
	for i := 0; i < 3; i++ {
		f.do(t, http.MethodPost, "/api/data/1", "", `{"measurements":[{"value":1},{"value":2},{"value":3}]}`)
	}

	rec := f.do(t, http.MethodGet, "/api/data/1/2", user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/api/data/1/0", user, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/data/3/5", user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/data/1/history?range=forever", user, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	user := mint(t, Claims{Role: "user"}, testAudience)
	admin := mint(t, Claims{Role: "adminOS", IsAdmin: true}, testAudience)

	f.do(t, http.MethodPost, "/api/data/1", "", `{"measurements":[{"value":1},{"value":2},{"value":3}]}`)

	rec := f.do(t, http.MethodDelete, "/api/data/1", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/data/1", user, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/data/1", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Device data deleted.", decode[string](t, rec))

	rec = f.do(t, http.MethodDelete, "/api/data/1", admin, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/data/all", user, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/data/all", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "All device data deleted.", decode[string](t, rec))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/data/1", "", `{"measurements":[{"value":1},{"value":2},{"value":3}]}`)

	rec := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `envdash_http_requests_total{route="add_data",status="200"} 1`)
}

func TestNewAuthNeedsSecret(t *testing.T) {
	_, err := NewAuth("", testIssuer, testAudience, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
