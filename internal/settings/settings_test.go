package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ieltsadmin/internal/auth"
	"ieltsadmin/internal/validate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOverKeepsDefaults(t *testing.T) {
	out := Defaults()
	require.NoError(t, decodeOver(&out, []byte(`{"site_name":"Band Nine Centre","reading_minutes":50}`)))
	assert.Equal(t, "Band Nine Centre", out.SiteName)
	assert.Equal(t, 50, out.ReadingMinutes)
	assert.Equal(t, 30, out.ListeningMinutes)
	assert.Equal(t, 50, out.MaxAudioMB)

	out = Defaults()
	require.NoError(t, decodeOver(&out, []byte(`{"listening_minutes":0}`)))
	assert.Equal(t, 30, out.ListeningMinutes)

	assert.Error(t, decodeOver(&out, []byte(`{`)))
}

func TestSettingsValidation(t *testing.T) {
	assert.NoError(t, validate.Struct(Defaults()))

	bad := Defaults()
	bad.SupportEmail = "not-an-email"
	bad.ListeningMinutes = 0
	bad.MaxImageMB = 501
	bad.SiteName = " "
	err := validate.Struct(Normalize(bad))
	fe, ok := validate.AsFieldErrors(err)
	require.True(t, ok)
	assert.Contains(t, fe, "support_email")
	assert.Contains(t, fe, "listening_minutes")
	assert.Contains(t, fe, "max_image_mb")
	assert.Contains(t, fe, "site_name")
}

type mockSettingsService struct {
	current Settings
	saved   *Settings
	getErr  error
}

func (m *mockSettingsService) Get(ctx context.Context) (*Settings, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	cur := m.current
	return &cur, nil
}

func (m *mockSettingsService) Update(ctx context.Context, actorID int64, in Settings) (*Settings, error) {
	in = Normalize(in)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	m.saved = &in
	return &in, nil
}

func serveSettings(t *testing.T, h http.HandlerFunc, method, body string, user *auth.User) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/settings", bytes.NewBufferString(body))
	if user != nil {
		req = req.WithContext(auth.ContextWithUser(req.Context(), user))
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func TestUpdateMergesPartialBody(t *testing.T) {
	svc := &mockSettingsService{current: Defaults()}
	h := NewHandler(svc)

	rr := serveSettings(t, h.Update, http.MethodPut, `{"writing_minutes":70,"support_email":" Help@Centre.test "}`, &auth.User{ID: 1, Role: auth.RoleAdmin})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NotNil(t, svc.saved)
	assert.Equal(t, 70, svc.saved.WritingMinutes)
	assert.Equal(t, 60, svc.saved.ReadingMinutes)
	assert.Equal(t, "help@centre.test", svc.saved.SupportEmail)
}

func TestUpdateRejectsInvalid(t *testing.T) {
	h := NewHandler(&mockSettingsService{current: Defaults()})
	rr := serveSettings(t, h.Update, http.MethodPut, `{"reading_minutes":500}`, &auth.User{ID: 1, Role: auth.RoleAdmin})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var env struct {
		Error struct {
			Fields map[string]string `json:"fields"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	assert.Contains(t, env.Error.Fields, "reading_minutes")

	rr = serveSettings(t, h.Update, http.MethodPut, `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetFailure(t *testing.T) {
	h := NewHandler(&mockSettingsService{getErr: errors.New("db down")})
	rr := serveSettings(t, h.Get, http.MethodGet, "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
