package settings

import (
	"context"
	"encoding/json"
	"net/http"

	"ieltsadmin/internal/app/apiresp"
	"ieltsadmin/internal/auth"
	"ieltsadmin/internal/validate"
)

type service interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, actorID int64, in Settings) (*Settings, error)
}

type Handler struct {
	svc service
}

func NewHandler(svc service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	cur, err := h.svc.Get(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, cur)
}

// Update replaces the settings. Fields missing from the body keep their
// current value.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	cur, err := h.svc.Get(r.Context())
	if err != nil {
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	next := *cur
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	saved, err := h.svc.Update(r.Context(), user.ID, next)
	if err != nil {
		if validate.IsInvalid(err) {
			apiresp.WriteInvalid(w, r, err)
			return
		}
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, saved)
}
