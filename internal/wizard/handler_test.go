package wizard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ieltsadmin/internal/auth"
	"ieltsadmin/internal/content"
	"ieltsadmin/internal/validate"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWizardService struct {
	createFn   func(ctx context.Context, actorID int64, module string) (*Draft, error)
	saveStepFn func(ctx context.Context, actorID int64, id, step string, raw json.RawMessage) (*Draft, error)
	commitFn   func(ctx context.Context, actorID int64, id string) (*content.TrackTree, error)
	deleteFn   func(ctx context.Context, actorID int64, id string) error
}

var errNotImplemented = errors.New("not implemented")

func (m *mockWizardService) Create(ctx context.Context, actorID int64, module string) (*Draft, error) {
	if m.createFn == nil {
		return nil, errNotImplemented
	}
	return m.createFn(ctx, actorID, module)
}

func (m *mockWizardService) List(ctx context.Context, actorID int64) ([]Summary, error) {
	return []Summary{}, nil
}

func (m *mockWizardService) Get(ctx context.Context, actorID int64, id string) (*Draft, error) {
	return nil, ErrDraftNotFound
}

func (m *mockWizardService) SaveStep(ctx context.Context, actorID int64, id, step string, raw json.RawMessage) (*Draft, error) {
	if m.saveStepFn == nil {
		return nil, errNotImplemented
	}
	return m.saveStepFn(ctx, actorID, id, step, raw)
}

func (m *mockWizardService) Back(ctx context.Context, actorID int64, id string) (*Draft, error) {
	return nil, ErrFirstStep
}

func (m *mockWizardService) Delete(ctx context.Context, actorID int64, id string) error {
	if m.deleteFn == nil {
		return errNotImplemented
	}
	return m.deleteFn(ctx, actorID, id)
}

func (m *mockWizardService) Commit(ctx context.Context, actorID int64, id string) (*content.TrackTree, error) {
	if m.commitFn == nil {
		return nil, errNotImplemented
	}
	return m.commitFn(ctx, actorID, id)
}

type testEnvelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func newWizardRouter(svc service) http.Handler {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/drafts", h.List)
	r.Post("/drafts", h.Create)
	r.Get("/drafts/{id}", h.Get)
	r.Delete("/drafts/{id}", h.Delete)
	r.Put("/drafts/{id}/steps/{step}", h.SaveStep)
	r.Post("/drafts/{id}/back", h.Back)
	r.Post("/drafts/{id}/commit", h.Commit)
	return r
}

var editor = &auth.User{ID: 8, Role: auth.RoleEditor}

func serve(t *testing.T, router http.Handler, method, path, body string, user *auth.User) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if user != nil {
		req = req.WithContext(auth.ContextWithUser(req.Context(), user))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

const draftID = "0f8fad5b-d9cb-469f-a165-70867728950e"

func TestCreateDraft(t *testing.T) {
	router := newWizardRouter(&mockWizardService{
		createFn: func(ctx context.Context, actorID int64, module string) (*Draft, error) {
			assert.Equal(t, int64(8), actorID)
			d, err := newDraft(module)
			if err != nil {
				return nil, err
			}
			d.ID = draftID
			return d, nil
		},
	})

	rr, env := serve(t, router, http.MethodPost, "/drafts", `{"module":"listening"}`, editor)
	require.Equal(t, http.StatusCreated, rr.Code)
	var d Draft
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, StepDetails, d.Step)
	assert.Len(t, d.Steps, 5)

	rr, env = serve(t, router, http.MethodPost, "/drafts", `{"module":"speaking"}`, editor)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, env.Error.Fields, "module")

	rr, _ = serve(t, router, http.MethodPost, "/drafts", `{"module":"listening"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestSaveStepPassesRawBody(t *testing.T) {
	router := newWizardRouter(&mockWizardService{
		saveStepFn: func(ctx context.Context, actorID int64, id, step string, raw json.RawMessage) (*Draft, error) {
			assert.Equal(t, draftID, id)
			assert.Equal(t, StepDetails, step)
			assert.JSONEq(t, `{"title":"Practice Test 1"}`, string(raw))
			return &Draft{ID: id, Module: content.ModuleReading, Step: StepPassages}, nil
		},
	})
	rr, env := serve(t, router, http.MethodPut, "/drafts/"+draftID+"/steps/details", `{"title":"Practice Test 1"}`, editor)
	require.Equal(t, http.StatusOK, rr.Code)
	var d Draft
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, StepPassages, d.Step)
}

func TestStepErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrStepLocked, http.StatusConflict},
		{ErrUnknownStep, http.StatusBadRequest},
		{validate.FieldErrors{"title": "too short"}, http.StatusBadRequest},
		{ErrDraftNotFound, http.StatusNotFound},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newWizardRouter(&mockWizardService{
			saveStepFn: func(context.Context, int64, string, string, json.RawMessage) (*Draft, error) {
				return nil, tc.err
			},
		})
		rr, env := serve(t, router, http.MethodPut, "/drafts/"+draftID+"/steps/questions", `{}`, editor)
		assert.Equal(t, tc.want, rr.Code, tc.err.Error())
		assert.False(t, env.OK)
	}
}

func TestCommit(t *testing.T) {
	router := newWizardRouter(&mockWizardService{
		commitFn: func(ctx context.Context, actorID int64, id string) (*content.TrackTree, error) {
			return &content.TrackTree{Track: content.Track{ID: 42, Title: "Practice Test 1"}}, nil
		},
	})
	rr, env := serve(t, router, http.MethodPost, "/drafts/"+draftID+"/commit", "", editor)
	require.Equal(t, http.StatusCreated, rr.Code)
	var tree content.TrackTree
	require.NoError(t, json.Unmarshal(env.Data, &tree))
	assert.Equal(t, int64(42), tree.ID)

	router = newWizardRouter(&mockWizardService{
		commitFn: func(context.Context, int64, string) (*content.TrackTree, error) { return nil, ErrNotReady },
	})
	rr, _ = serve(t, router, http.MethodPost, "/drafts/"+draftID+"/commit", "", editor)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestBackAtFirstStepConflicts(t *testing.T) {
	router := newWizardRouter(&mockWizardService{})
	rr, _ := serve(t, router, http.MethodPost, "/drafts/"+draftID+"/back", "", editor)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestDeleteAndGet(t *testing.T) {
	router := newWizardRouter(&mockWizardService{
		deleteFn: func(ctx context.Context, actorID int64, id string) error {
			assert.Equal(t, draftID, id)
			return nil
		},
	})
	rr, env := serve(t, router, http.MethodDelete, "/drafts/"+draftID, "", editor)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.OK)

	rr, _ = serve(t, router, http.MethodGet, "/drafts/"+draftID, "", editor)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, env = serve(t, router, http.MethodGet, "/drafts", "", editor)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}
