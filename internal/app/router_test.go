package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterSmokeWithoutDatabase(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	router, err := NewRouter(Config{
		AuthRateLimitPerMin: 60,
		BlobDir:             t.TempDir(),
		BlobPublicBaseURL:   "/media",
	}, nil, logger)
	require.NoError(t, err)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{name: "healthz", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, target: "/metrics", wantStatus: http.StatusOK},
		{name: "media_missing", method: http.MethodGet, target: "/media/audio/2026/01/none.mp3", wantStatus: http.StatusNotFound},
		{name: "me_unauthorized", method: http.MethodGet, target: "/api/v1/auth/me", wantStatus: http.StatusUnauthorized},
		{name: "tracks_unauthorized", method: http.MethodGet, target: "/api/v1/tracks", wantStatus: http.StatusUnauthorized},
		{name: "students_unauthorized", method: http.MethodGet, target: "/api/v1/students", wantStatus: http.StatusUnauthorized},
		{name: "wizard_unauthorized", method: http.MethodPost, target: "/api/v1/wizard/drafts", body: `{"module":"reading"}`, wantStatus: http.StatusUnauthorized},
		{name: "login_invalid_body", method: http.MethodPost, target: "/api/v1/auth/login", body: "{", wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			assert.Equal(t, tc.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestRouterRejectsMissingBlobDir(t *testing.T) {
	_, err := NewRouter(Config{}, nil, nil)
	assert.Error(t, err)
}
