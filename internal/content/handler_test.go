package content

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

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockContentService struct {
	listTracksFn   func(ctx context.Context, f TrackFilter) ([]Track, error)
	createTrackFn  func(ctx context.Context, actorID int64, in TrackInput) (*Track, error)
	deleteTrackFn  func(ctx context.Context, actorID, trackID int64) error
	treeFn         func(ctx context.Context, trackID int64) (*TrackTree, error)
	createQFn      func(ctx context.Context, actorID, trackID, sectionID int64, in QuestionInput) (*Question, error)
	saveTimingsFn  func(ctx context.Context, actorID, trackID int64, timings []TimingInput) (*TrackTree, error)
	publishTrackFn func(ctx context.Context, actorID, trackID int64) (*Track, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockContentService) ListTracks(ctx context.Context, f TrackFilter) ([]Track, error) {
	if m.listTracksFn == nil {
		return nil, errNotImplemented
	}
	return m.listTracksFn(ctx, f)
}

func (m *mockContentService) GetTrack(ctx context.Context, trackID int64) (*Track, error) {
	return nil, errNotImplemented
}

func (m *mockContentService) CreateTrack(ctx context.Context, actorID int64, in TrackInput) (*Track, error) {
	if m.createTrackFn == nil {
		return nil, errNotImplemented
	}
	return m.createTrackFn(ctx, actorID, in)
}

func (m *mockContentService) UpdateTrack(ctx context.Context, actorID, trackID int64, in TrackUpdateInput) (*Track, error) {
	return nil, errNotImplemented
}

func (m *mockContentService) DeleteTrack(ctx context.Context, actorID, trackID int64) error {
	if m.deleteTrackFn == nil {
		return errNotImplemented
	}
	return m.deleteTrackFn(ctx, actorID, trackID)
}

func (m *mockContentService) GetTrackTree(ctx context.Context, trackID int64) (*TrackTree, error) {
	if m.treeFn == nil {
		return nil, errNotImplemented
	}
	return m.treeFn(ctx, trackID)
}

func (m *mockContentService) CreateSection(ctx context.Context, actorID, trackID int64, in SectionInput) (*Section, error) {
	return nil, errNotImplemented
}

func (m *mockContentService) UpdateSection(ctx context.Context, actorID, trackID, sectionID int64, in SectionInput) (*Section, error) {
	return nil, errNotImplemented
}

func (m *mockContentService) DeleteSection(ctx context.Context, actorID, trackID, sectionID int64) error {
	return errNotImplemented
}

func (m *mockContentService) CreateQuestion(ctx context.Context, actorID, trackID, sectionID int64, in QuestionInput) (*Question, error) {
	if m.createQFn == nil {
		return nil, errNotImplemented
	}
	return m.createQFn(ctx, actorID, trackID, sectionID, in)
}

func (m *mockContentService) UpdateQuestion(ctx context.Context, actorID, trackID, questionID int64, in QuestionInput) (*Question, error) {
	return nil, errNotImplemented
}

func (m *mockContentService) DeleteQuestion(ctx context.Context, actorID, trackID, questionID int64) error {
	return errNotImplemented
}

func (m *mockContentService) AttachAudio(ctx context.Context, actorID, trackID int64, in AudioInput) (*Track, error) {
	return nil, errNotImplemented
}

func (m *mockContentService) SaveTimings(ctx context.Context, actorID, trackID int64, timings []TimingInput) (*TrackTree, error) {
	if m.saveTimingsFn == nil {
		return nil, errNotImplemented
	}
	return m.saveTimingsFn(ctx, actorID, trackID, timings)
}

func (m *mockContentService) PublishTrack(ctx context.Context, actorID, trackID int64) (*Track, error) {
	if m.publishTrackFn == nil {
		return nil, errNotImplemented
	}
	return m.publishTrackFn(ctx, actorID, trackID)
}

func (m *mockContentService) UnpublishTrack(ctx context.Context, actorID, trackID int64) (*Track, error) {
	return nil, errNotImplemented
}

type testEnvelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
		Details []string          `json:"details"`
	} `json:"error"`
}

func newContentRouter(svc service) http.Handler {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/tracks", h.ListTracks)
	r.Post("/tracks", h.CreateTrack)
	r.Delete("/tracks/{id}", h.DeleteTrack)
	r.Get("/tracks/{id}/tree", h.GetTrackTree)
	r.Post("/tracks/{id}/sections/{sectionID}/questions", h.CreateQuestion)
	r.Put("/tracks/{id}/timings", h.SaveTimings)
	r.Post("/tracks/{id}/publish", h.PublishTrack)
	return r
}

func serve(t *testing.T, router http.Handler, method, path, body string, user *auth.User) (*httptest.ResponseRecorder, testEnvelope) {
	t.Helper()
	var rdr *bytes.Buffer
	if body != "" {
		rdr = bytes.NewBufferString(body)
	} else {
		rdr = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != nil {
		req = req.WithContext(auth.ContextWithUser(req.Context(), user))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var env testEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return rr, env
}

var editor = &auth.User{ID: 5, Role: auth.RoleEditor}

func TestListTracksParsesFilter(t *testing.T) {
	var got TrackFilter
	router := newContentRouter(&mockContentService{
		listTracksFn: func(ctx context.Context, f TrackFilter) ([]Track, error) {
			got = f
			return []Track{{ID: 1, Title: "Test 1", Module: ModuleReading}}, nil
		},
	})

	rr, env := serve(t, router, http.MethodGet, "/tracks?module=reading&published=true&q=cam", "", editor)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.OK)
	assert.Equal(t, "reading", got.Module)
	assert.Equal(t, "cam", got.Q)
	require.NotNil(t, got.Published)
	assert.True(t, *got.Published)

	rr, _ = serve(t, router, http.MethodGet, "/tracks?published=maybe", "", editor)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateTrackNeedsUser(t *testing.T) {
	router := newContentRouter(&mockContentService{})
	rr, _ := serve(t, router, http.MethodPost, "/tracks", `{"title":"x"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateTrackValidationFields(t *testing.T) {
	router := newContentRouter(&mockContentService{
		createTrackFn: func(ctx context.Context, actorID int64, in TrackInput) (*Track, error) {
			assert.Equal(t, int64(5), actorID)
			return nil, validate.Struct(in)
		},
	})
	rr, env := serve(t, router, http.MethodPost, "/tracks", `{"title":"ab","module":"speaking"}`, editor)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation failed", env.Error.Message)
	assert.Contains(t, env.Error.Fields, "title")
	assert.Contains(t, env.Error.Fields, "module")
}

func TestPublishIncompleteReturnsChecklist(t *testing.T) {
	router := newContentRouter(&mockContentService{
		publishTrackFn: func(ctx context.Context, actorID, trackID int64) (*Track, error) {
			return nil, &IncompleteError{Problems: []string{"listening track needs an audio file", "section 2 has no questions"}}
		},
	})
	rr, env := serve(t, router, http.MethodPost, "/tracks/9/publish", "", editor)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, ErrTrackIncomplete.Error(), env.Error.Message)
	assert.Len(t, env.Error.Details, 2)
}

func TestSaveTimingsFieldErrors(t *testing.T) {
	router := newContentRouter(&mockContentService{
		saveTimingsFn: func(ctx context.Context, actorID, trackID int64, timings []TimingInput) (*TrackTree, error) {
			require.Len(t, timings, 1)
			assert.Equal(t, int64(3), timings[0].SectionID)
			return nil, ValidateTimings(intPtr(100), []Section{{ID: 3, SectionNo: 1}}, timings)
		},
	})
	rr, env := serve(t, router, http.MethodPut, "/tracks/9/timings", `{"timings":[{"section_id":3,"start_secs":10,"end_secs":200}]}`, editor)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, env.Error.Fields, "timings[0].end_secs")
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrTrackInUse, http.StatusConflict},
		{ErrTrackPublished, http.StatusConflict},
		{ErrTrackNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		router := newContentRouter(&mockContentService{
			deleteTrackFn: func(context.Context, int64, int64) error { return tc.err },
		})
		rr, env := serve(t, router, http.MethodDelete, "/tracks/4", "", editor)
		assert.Equal(t, tc.want, rr.Code, tc.err.Error())
		assert.False(t, env.OK)
	}
}

func TestCreateQuestionParsesIDs(t *testing.T) {
	router := newContentRouter(&mockContentService{
		createQFn: func(ctx context.Context, actorID, trackID, sectionID int64, in QuestionInput) (*Question, error) {
			assert.Equal(t, int64(9), trackID)
			assert.Equal(t, int64(31), sectionID)
			assert.Equal(t, TypeShortAnswer, in.QuestionType)
			return &Question{ID: 77, QuestionNo: in.QuestionNo}, nil
		},
	})
	rr, env := serve(t, router, http.MethodPost, "/tracks/9/sections/31/questions",
		`{"question_no":4,"question_type":"short_answer","prompt":"Where?","answer_key":{"accepted":["library"]}}`, editor)
	require.Equal(t, http.StatusCreated, rr.Code)
	var q Question
	require.NoError(t, json.Unmarshal(env.Data, &q))
	assert.Equal(t, int64(77), q.ID)

	rr, _ = serve(t, router, http.MethodPost, "/tracks/9/sections/x/questions", `{}`, editor)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTreeNotFound(t *testing.T) {
	router := newContentRouter(&mockContentService{
		treeFn: func(context.Context, int64) (*TrackTree, error) { return nil, ErrTrackNotFound },
	})
	rr, _ := serve(t, router, http.MethodGet, "/tracks/1/tree", "", editor)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
