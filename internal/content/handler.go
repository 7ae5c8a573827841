package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ieltsadmin/internal/app/apiresp"
	"ieltsadmin/internal/auth"
	"ieltsadmin/internal/validate"

	"github.com/go-chi/chi/v5"
)

type service interface {
	ListTracks(ctx context.Context, f TrackFilter) ([]Track, error)
	GetTrack(ctx context.Context, trackID int64) (*Track, error)
	CreateTrack(ctx context.Context, actorID int64, in TrackInput) (*Track, error)
	UpdateTrack(ctx context.Context, actorID, trackID int64, in TrackUpdateInput) (*Track, error)
	DeleteTrack(ctx context.Context, actorID, trackID int64) error
	GetTrackTree(ctx context.Context, trackID int64) (*TrackTree, error)
	CreateSection(ctx context.Context, actorID, trackID int64, in SectionInput) (*Section, error)
	UpdateSection(ctx context.Context, actorID, trackID, sectionID int64, in SectionInput) (*Section, error)
	DeleteSection(ctx context.Context, actorID, trackID, sectionID int64) error
	CreateQuestion(ctx context.Context, actorID, trackID, sectionID int64, in QuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, actorID, trackID, questionID int64, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, actorID, trackID, questionID int64) error
	AttachAudio(ctx context.Context, actorID, trackID int64, in AudioInput) (*Track, error)
	SaveTimings(ctx context.Context, actorID, trackID int64, timings []TimingInput) (*TrackTree, error)
	PublishTrack(ctx context.Context, actorID, trackID int64) (*Track, error)
	UnpublishTrack(ctx context.Context, actorID, trackID int64) (*Track, error)
}

type Handler struct {
	svc service
}

type timingsRequest struct {
	Timings []TimingInput `json:"timings"`
}

func NewHandler(svc service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListTracks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := TrackFilter{Module: q.Get("module"), Q: q.Get("q")}
	if v := strings.TrimSpace(q.Get("published")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "published must be true or false")
			return
		}
		f.Published = &b
	}

	items, err := h.svc.ListTracks(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) GetTrack(w http.ResponseWriter, r *http.Request) {
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	track, err := h.svc.GetTrack(r.Context(), trackID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, track)
}

func (h *Handler) CreateTrack(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req TrackInput
	if !decode(w, r, &req) {
		return
	}
	track, err := h.svc.CreateTrack(r.Context(), user.ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, track)
}

func (h *Handler) UpdateTrack(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	var req TrackUpdateInput
	if !decode(w, r, &req) {
		return
	}
	track, err := h.svc.UpdateTrack(r.Context(), user.ID, trackID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, track)
}

func (h *Handler) DeleteTrack(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	if err := h.svc.DeleteTrack(r.Context(), user.ID, trackID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"status": "deleted", "id": trackID})
}

func (h *Handler) GetTrackTree(w http.ResponseWriter, r *http.Request) {
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	tree, err := h.svc.GetTrackTree(r.Context(), trackID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, tree)
}

func (h *Handler) CreateSection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	var req SectionInput
	if !decode(w, r, &req) {
		return
	}
	sec, err := h.svc.CreateSection(r.Context(), user.ID, trackID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, sec)
}

func (h *Handler) UpdateSection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	sectionID, ok := parseID(w, r, "sectionID", "section")
	if !ok {
		return
	}
	var req SectionInput
	if !decode(w, r, &req) {
		return
	}
	sec, err := h.svc.UpdateSection(r.Context(), user.ID, trackID, sectionID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, sec)
}

func (h *Handler) DeleteSection(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	sectionID, ok := parseID(w, r, "sectionID", "section")
	if !ok {
		return
	}
	if err := h.svc.DeleteSection(r.Context(), user.ID, trackID, sectionID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"status": "deleted", "id": sectionID})
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	sectionID, ok := parseID(w, r, "sectionID", "section")
	if !ok {
		return
	}
	var req QuestionInput
	if !decode(w, r, &req) {
		return
	}
	q, err := h.svc.CreateQuestion(r.Context(), user.ID, trackID, sectionID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, q)
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	questionID, ok := parseID(w, r, "questionID", "question")
	if !ok {
		return
	}
	var req QuestionInput
	if !decode(w, r, &req) {
		return
	}
	q, err := h.svc.UpdateQuestion(r.Context(), user.ID, trackID, questionID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	questionID, ok := parseID(w, r, "questionID", "question")
	if !ok {
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), user.ID, trackID, questionID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"status": "deleted", "id": questionID})
}

func (h *Handler) AttachAudio(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	var req AudioInput
	if !decode(w, r, &req) {
		return
	}
	track, err := h.svc.AttachAudio(r.Context(), user.ID, trackID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, track)
}

func (h *Handler) SaveTimings(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	var req timingsRequest
	if !decode(w, r, &req) {
		return
	}
	tree, err := h.svc.SaveTimings(r.Context(), user.ID, trackID, req.Timings)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, tree)
}

func (h *Handler) PublishTrack(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	track, err := h.svc.PublishTrack(r.Context(), user.ID, trackID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, track)
}

func (h *Handler) UnpublishTrack(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	trackID, ok := parseID(w, r, "id", "track")
	if !ok {
		return
	}
	track, err := h.svc.UnpublishTrack(r.Context(), user.ID, trackID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, track)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var incomplete *IncompleteError
	switch {
	case errors.As(err, &incomplete):
		apiresp.WriteProblems(w, r, http.StatusUnprocessableEntity, ErrTrackIncomplete.Error(), incomplete.Problems)
	case errors.Is(err, ErrInvalidInput), validate.IsInvalid(err):
		apiresp.WriteInvalid(w, r, err)
	case errors.Is(err, ErrTrackNotFound), errors.Is(err, ErrSectionNotFound), errors.Is(err, ErrQuestionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTrackInUse), errors.Is(err, ErrTrackPublished), errors.Is(err, ErrNoAudio),
		errors.Is(err, ErrDuplicateSection), errors.Is(err, ErrDuplicateQuestion):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
	}
	return user, ok
}

func parseID(w http.ResponseWriter, r *http.Request, param, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid "+name+" id")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
