package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ieltsadmin/internal/app/apiresp"
	"ieltsadmin/internal/auth"
	"ieltsadmin/internal/validate"

	"github.com/go-chi/chi/v5"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type service interface {
	List(ctx context.Context, f Filter) (*Page, error)
	Get(ctx context.Context, id int64) (*Student, error)
	Create(ctx context.Context, actorID int64, in StudentInput) (*Student, error)
	Update(ctx context.Context, actorID, id int64, in StudentUpdate) (*Student, error)
	Deactivate(ctx context.Context, actorID, id int64) error
	Import(ctx context.Context, actorID int64, filename string, r io.Reader) (*ImportReport, error)
	ExportXLSX(ctx context.Context, f Filter) ([]byte, error)
}

type Handler struct {
	svc       service
	maxImport int64
}

func NewHandler(svc service, maxImportBytes int64) *Handler {
	if maxImportBytes <= 0 {
		maxImportBytes = 10 << 20
	}
	return &Handler{svc: svc, maxImport: maxImportBytes}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	page, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, page)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, st)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var in StudentInput
	if !decode(w, r, &in) {
		return
	}
	st, err := h.svc.Create(r.Context(), user.ID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, st)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var in StudentUpdate
	if !decode(w, r, &in) {
		return
	}
	st, err := h.svc.Update(r.Context(), user.ID, id, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, st)
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Deactivate(r.Context(), user.ID, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"id": id, "is_active": false})
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImport+(1<<20))
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	if hdr.Size > h.maxImport {
		apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "import file is too large")
		return
	}

	report, err := h.svc.Import(r.Context(), user.ID, hdr.Filename, file)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	})
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	data, err := h.svc.ExportXLSX(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="students-%s.xlsx"`, time.Now().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func parseFilter(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	q := r.URL.Query()
	f := Filter{Q: q.Get("q")}
	if v := strings.TrimSpace(q.Get("active")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apiresp.WriteError(w, r, http.StatusBadRequest, "active must be true or false")
			return f, false
		}
		f.Active = &b
	}
	for key, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, key+" must be a non-negative integer")
			return f, false
		}
		*dst = n
	}
	return f, true
}

func currentUser(w http.ResponseWriter, r *http.Request) (*auth.User, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return user, true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid student id")
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

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if validate.IsInvalid(err) {
		apiresp.WriteInvalid(w, r, err)
		return
	}
	switch {
	case errors.Is(err, ErrStudentNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrStudentDuplicate):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnsupportedFile):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
