package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ieltsadmin/internal/auth"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizedPath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/tracks/123/sections/9":                            "/api/v1/tracks/{id}/sections/{id}",
		"/api/v1/drafts/0b7a3a8e-5d4e-4a8c-9a51-3c1f1f1d2e3a/back": "/api/v1/drafts/{id}/back",
		"/media/audio/2026/03/x.mp3":                               "/media/*",
		"/api/v1/uploads/audio/2026/03/x.mp3":                      "/api/v1/uploads/*",
		"/api/v1/uploads/123/progress":                             "/api/v1/uploads/{id}/progress",
		"":                                                         "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizedPath(in), in)
	}
}

func TestExtractIDs(t *testing.T) {
	ids := extractIDs("/api/v1/exams/456/attempts")
	assert.Equal(t, map[string]int64{"exam_id": 456}, ids)

	ids = extractIDs("/api/v1/tracks/7/sections/3/questions")
	assert.Equal(t, int64(7), ids["track_id"])
	assert.Len(t, ids, 1)
}

func TestMiddlewareLogsAndCounts(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	c := NewCollector(nil, logger)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// authentication attaches the user to a child request further down the chain
		inner.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: 42})))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tracks/12", nil))

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, int64(12), entry.Data["track_id"])
	assert.Equal(t, "/api/v1/tracks/{id}", entry.Data["path"])
	assert.Equal(t, int64(42), entry.Data["user_id"])

	rr := httptest.NewRecorder()
	c.MetricsHandler(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rr.Body.String(), `ielts_http_requests_total{method="GET",path="/api/v1/tracks/{id}",status="404"} 1`))
}

func TestMiddlewareOmitsUserForAnonymousRequests(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	c := NewCollector(nil, logger)
	h := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Len(t, hook.Entries, 1)
	_, ok := hook.LastEntry().Data["user_id"]
	assert.False(t, ok)
}
