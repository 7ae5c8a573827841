package exam

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
	ListExams(ctx context.Context, f ExamFilter) ([]Exam, error)
	GetExam(ctx context.Context, examID int64) (*Exam, error)
	CreateExam(ctx context.Context, actorID int64, in ExamInput) (*Exam, error)
	UpdateExam(ctx context.Context, actorID, examID int64, in ExamInput) (*Exam, error)
	DeleteExam(ctx context.Context, actorID, examID int64) error
	PublishExam(ctx context.Context, actorID, examID int64) (*Exam, error)
	UnpublishExam(ctx context.Context, actorID, examID int64) (*Exam, error)
	ListAssignments(ctx context.Context, examID int64) ([]Assignment, error)
	ReplaceAssignments(ctx context.Context, actorID, examID int64, studentIDs []int64) ([]Assignment, error)
	ListAttempts(ctx context.Context, examID int64) ([]Attempt, error)
	GetAttempt(ctx context.Context, attemptID int64) (*AttemptDetail, error)
	ScoreAttempt(ctx context.Context, actorID, attemptID int64) (*AttemptDetail, error)
	GradeWriting(ctx context.Context, actorID, attemptID int64, in WritingInput) (*Attempt, error)
}

type Handler struct {
	svc service
}

type assignmentsRequest struct {
	StudentIDs []int64 `json:"student_ids"`
}

func NewHandler(svc service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ExamFilter{Q: q.Get("q")}
	if v := strings.TrimSpace(q.Get("published")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "published must be true or false")
			return
		}
		f.Published = &b
	}
	items, err := h.svc.ListExams(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseID(w, r, "exam")
	if !ok {
		return
	}
	e, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req ExamInput
	if !decode(w, r, &req) {
		return
	}
	e, err := h.svc.CreateExam(r.Context(), user.ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, e)
}

func (h *Handler) UpdateExam(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	examID, ok := parseID(w, r, "exam")
	if !ok {
		return
	}
	var req ExamInput
	if !decode(w, r, &req) {
		return
	}
	e, err := h.svc.UpdateExam(r.Context(), user.ID, examID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) DeleteExam(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	examID, ok := parseID(w, r, "exam")
	if !ok {
		return
	}
	if err := h.svc.DeleteExam(r.Context(), user.ID, examID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"status": "deleted", "id": examID})
}

func (h *Handler) PublishExam(w http.ResponseWriter, r *http.Request) {
	h.togglePublish(w, r, h.svc.PublishExam)
}

func (h *Handler) UnpublishExam(w http.ResponseWriter, r *http.Request) {
	h.togglePublish(w, r, h.svc.UnpublishExam)
}

func (h *Handler) togglePublish(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actorID, examID int64) (*Exam, error)) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	examID, ok := parseID(w, r, "exam")
	if !ok {
		return
	}
	e, err := fn(r.Context(), user.ID, examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, e)
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseID(w, r, "exam")
	if !ok {
		return
	}
	items, err := h.svc.ListAssignments(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) ReplaceAssignments(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	examID, ok := parseID(w, r, "exam")
	if !ok {
		return
	}
	var req assignmentsRequest
	if !decode(w, r, &req) {
		return
	}
	items, err := h.svc.ReplaceAssignments(r.Context(), user.ID, examID, req.StudentIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	examID, ok := parseID(w, r, "exam")
	if !ok {
		return
	}
	items, err := h.svc.ListAttempts(r.Context(), examID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := parseID(w, r, "attempt")
	if !ok {
		return
	}
	a, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a)
}

func (h *Handler) ScoreAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	attemptID, ok := parseID(w, r, "attempt")
	if !ok {
		return
	}
	a, err := h.svc.ScoreAttempt(r.Context(), user.ID, attemptID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a)
}

func (h *Handler) GradeWriting(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	attemptID, ok := parseID(w, r, "attempt")
	if !ok {
		return
	}
	var req WritingInput
	if !decode(w, r, &req) {
		return
	}
	a, err := h.svc.GradeWriting(r.Context(), user.ID, attemptID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, a)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), validate.IsInvalid(err):
		apiresp.WriteInvalid(w, r, err)
	case errors.Is(err, ErrExamNotFound), errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrTrackNotFound),
		errors.Is(err, ErrStudentNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTrackModuleMismatch):
		apiresp.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrExamPublished), errors.Is(err, ErrExamHasAttempts), errors.Is(err, ErrTrackNotPublished),
		errors.Is(err, ErrAttemptNotSubmitted), errors.Is(err, ErrNoWritingTrack):
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

func parseID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
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
