package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ieltsadmin/internal/validate"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAuthService struct {
	authenticateFn   func(ctx context.Context, identifier, password string) (*User, error)
	sessionUserFn    func(ctx context.Context, token string) (*User, error)
	revokedTokens    []string
	updateProfileFn  func(ctx context.Context, userID int64, in ProfileInput) (*User, error)
	changePasswordFn func(ctx context.Context, userID int64, keepToken string, in ChangePasswordInput) error
	updateStaffFn    func(ctx context.Context, actorID, userID int64, in UpdateStaffInput) (*User, error)
	bootstrapFn      func(ctx context.Context, in BootstrapInput) (*User, error)
}

func (m *mockAuthService) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	if m.authenticateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.authenticateFn(ctx, identifier, password)
}

func (m *mockAuthService) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	return fmt.Sprintf("token-%d", userID), time.Now().Add(time.Hour), nil
}

func (m *mockAuthService) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if m.sessionUserFn == nil {
		return nil, ErrUnauthorized
	}
	return m.sessionUserFn(ctx, token)
}

func (m *mockAuthService) RevokeSession(ctx context.Context, token string) error {
	m.revokedTokens = append(m.revokedTokens, token)
	return nil
}

func (m *mockAuthService) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*User, error) {
	if m.updateProfileFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateProfileFn(ctx, userID, in)
}

func (m *mockAuthService) ChangePassword(ctx context.Context, userID int64, keepToken string, in ChangePasswordInput) error {
	if m.changePasswordFn == nil {
		return errors.New("not implemented")
	}
	return m.changePasswordFn(ctx, userID, keepToken, in)
}

func (m *mockAuthService) ListStaff(ctx context.Context, role, q string) ([]User, error) {
	return []User{}, nil
}

func (m *mockAuthService) CreateStaff(ctx context.Context, actorID int64, in CreateStaffInput) (*User, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAuthService) UpdateStaff(ctx context.Context, actorID, userID int64, in UpdateStaffInput) (*User, error) {
	if m.updateStaffFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateStaffFn(ctx, actorID, userID, in)
}

func (m *mockAuthService) BootstrapAdmin(ctx context.Context, in BootstrapInput) (*User, error) {
	if m.bootstrapFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.bootstrapFn(ctx, in)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestLoginPasswordSetsSessionCookie(t *testing.T) {
	h := NewHandler(&mockAuthService{
		authenticateFn: func(ctx context.Context, identifier, password string) (*User, error) {
			assert.Equal(t, "admin", identifier)
			return &User{ID: 7, Username: "admin", Role: RoleAdmin, IsActive: true}, nil
		},
	}, false)

	body := bytes.NewBufferString(`{"identifier":"admin","password":"secret123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", body)
	rr := httptest.NewRecorder()
	h.LoginPassword(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.Equal(t, "token-7", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestLoginPasswordErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrForbidden, http.StatusForbidden},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewHandler(&mockAuthService{
			authenticateFn: func(context.Context, string, string) (*User, error) { return nil, tc.err },
		}, false)
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"identifier":"x","password":"y"}`))
		rr := httptest.NewRecorder()
		h.LoginPassword(rr, req)
		assert.Equal(t, tc.want, rr.Code, tc.err.Error())
	}
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	svc := &mockAuthService{}
	h := NewHandler(svc, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "abc"})
	rr := httptest.NewRecorder()
	h.Logout(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"abc"}, svc.revokedTokens)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].MaxAge < 0)
	assert.True(t, cookies[0].Secure)
}

func TestRequireAuthAndRoles(t *testing.T) {
	h := NewHandler(&mockAuthService{
		sessionUserFn: func(ctx context.Context, token string) (*User, error) {
			switch token {
			case "admin-token":
				return &User{ID: 1, Role: RoleAdmin, IsActive: true}, nil
			case "editor-token":
				return &User{ID: 2, Role: RoleEditor, IsActive: true}, nil
			}
			return nil, ErrUnauthorized
		},
	}, false)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, found := CurrentUser(r.Context())
		require.True(t, found)
		w.Header().Set("X-User", fmt.Sprint(u.ID))
		w.WriteHeader(http.StatusNoContent)
	})
	protected := h.RequireAuth(h.RequireRoles(RoleAdmin)(ok))

	cases := []struct {
		token string
		want  int
	}{
		{"", http.StatusUnauthorized},
		{"bogus", http.StatusUnauthorized},
		{"editor-token", http.StatusForbidden},
		{"admin-token", http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/staff", nil)
		if tc.token != "" {
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tc.token})
		}
		rr := httptest.NewRecorder()
		protected.ServeHTTP(rr, req)
		assert.Equal(t, tc.want, rr.Code, tc.token)
	}
}

func TestUpdateProfileValidationFields(t *testing.T) {
	h := NewHandler(&mockAuthService{
		updateProfileFn: func(ctx context.Context, userID int64, in ProfileInput) (*User, error) {
			return nil, validate.Struct(in)
		},
	}, false)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/profile", bytes.NewBufferString(`{"full_name":"A","email":"nope"}`))
	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 3, Role: RoleEditor}))
	rr := httptest.NewRecorder()
	h.UpdateProfile(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decodeEnvelope(t, rr)
	require.NotNil(t, env.Error)
	assert.Equal(t, "validation failed", env.Error.Message)
	assert.Contains(t, env.Error.Fields, "full_name")
	assert.Contains(t, env.Error.Fields, "email")
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	var keep string
	h := NewHandler(&mockAuthService{
		changePasswordFn: func(ctx context.Context, userID int64, keepToken string, in ChangePasswordInput) error {
			keep = keepToken
			return ErrWrongPassword
		},
	}, false)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/profile/password",
		bytes.NewBufferString(`{"current_password":"oldpassword","new_password":"newpassword"}`))
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "live"})
	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 3}))
	rr := httptest.NewRecorder()
	h.ChangePassword(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "live", keep)
	env := decodeEnvelope(t, rr)
	assert.Contains(t, env.Error.Fields, "current_password")
}

func TestUpdateStaffParsesID(t *testing.T) {
	h := NewHandler(&mockAuthService{
		updateStaffFn: func(ctx context.Context, actorID, userID int64, in UpdateStaffInput) (*User, error) {
			assert.Equal(t, int64(1), actorID)
			assert.Equal(t, int64(42), userID)
			return nil, ErrUserNotFound
		},
	}, false)

	r := chi.NewRouter()
	r.Put("/staff/{id}", h.UpdateStaff)

	req := httptest.NewRequest(http.MethodPut, "/staff/42", bytes.NewBufferString(`{"full_name":"Ed","role":"editor","is_active":true}`))
	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 1, Role: RoleAdmin}))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodPut, "/staff/abc", bytes.NewBufferString(`{}`))
	req = req.WithContext(ContextWithUser(req.Context(), &User{ID: 1, Role: RoleAdmin}))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBootstrapDenied(t *testing.T) {
	h := NewHandler(&mockAuthService{
		bootstrapFn: func(context.Context, BootstrapInput) (*User, error) { return nil, ErrBootstrapDenied },
	}, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bootstrap/init", bytes.NewBufferString(`{"token":"x"}`))
	rr := httptest.NewRecorder()
	h.BootstrapInit(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestServiceInputRules(t *testing.T) {
	err := validate.Struct(ChangePasswordInput{CurrentPassword: "samesame1", NewPassword: "samesame1"})
	require.Error(t, err)
	assert.Contains(t, err.(validate.FieldErrors), "new_password")

	err = validate.Struct(CreateStaffInput{Username: "ed", Email: "ed@x.io", Password: "longenough", FullName: "Ed", Role: "owner"})
	require.Error(t, err)
	fe := err.(validate.FieldErrors)
	assert.Contains(t, fe, "username")
	assert.Contains(t, fe, "role")

	assert.NoError(t, validate.Struct(CreateStaffInput{
		Username: "editor1", Email: "ed@x.io", Password: "longenough", FullName: "Ed Smith", Role: RoleEditor,
	}))
}

func TestTokenHelpers(t *testing.T) {
	tok, err := generateToken(32)
	require.NoError(t, err)
	assert.Len(t, tok, 43)
	assert.Len(t, hashToken(tok), 64)
	assert.NotEqual(t, hashToken(tok), hashToken(tok+"x"))
	assert.True(t, secureEqual("abc", "abc"))
	assert.False(t, secureEqual("abc", "abd"))
}

func TestUserSlotSeesNestedUser(t *testing.T) {
	ctx, slot := WithUserSlot(context.Background())
	assert.Zero(t, *slot)

	child := ContextWithUser(ctx, &User{ID: 7})
	assert.Equal(t, int64(7), *slot)
	u, ok := CurrentUser(child)
	require.True(t, ok)
	assert.Equal(t, int64(7), u.ID)

	_, ok = CurrentUser(ctx)
	assert.False(t, ok)
}
