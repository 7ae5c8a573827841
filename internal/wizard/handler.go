package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"ieltsadmin/internal/app/apiresp"
	"ieltsadmin/internal/auth"
	"ieltsadmin/internal/content"
	"ieltsadmin/internal/validate"

	"github.com/go-chi/chi/v5"
)

const maxStepBody = 2 << 20

type service interface {
	Create(ctx context.Context, actorID int64, module string) (*Draft, error)
	List(ctx context.Context, actorID int64) ([]Summary, error)
	Get(ctx context.Context, actorID int64, id string) (*Draft, error)
	SaveStep(ctx context.Context, actorID int64, id, step string, raw json.RawMessage) (*Draft, error)
	Back(ctx context.Context, actorID int64, id string) (*Draft, error)
	Delete(ctx context.Context, actorID int64, id string) error
	Commit(ctx context.Context, actorID int64, id string) (*content.TrackTree, error)
}

type Handler struct {
	svc service
}

type createRequest struct {
	Module string `json:"module"`
}

func NewHandler(svc service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := h.svc.Create(r.Context(), user.ID, req.Module)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, d)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	items, err := h.svc.List(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, d)
}

func (h *Handler) SaveStep(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxStepBody))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "step payload is too large")
		return
	}
	d, err := h.svc.SaveStep(r.Context(), user.ID, chi.URLParam(r, "id"), chi.URLParam(r, "step"), raw)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, d)
}

func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	d, err := h.svc.Back(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, d)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), user.ID, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	tree, err := h.svc.Commit(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, tree)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownStep), validate.IsInvalid(err):
		apiresp.WriteInvalid(w, r, err)
	case errors.Is(err, ErrDraftNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrStepLocked), errors.Is(err, ErrNotReady), errors.Is(err, ErrFirstStep):
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
