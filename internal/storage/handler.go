package storage

import (
	"bufio"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ieltsadmin/internal/app/apiresp"
	"ieltsadmin/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const sniffLen = 512

type Handler struct {
	store     Store
	limits    Limits
	limitsFor func(ctx context.Context) Limits
	progress  *ProgressTracker
	log       logrus.FieldLogger
}

func NewHandler(store Store, limits Limits, progress *ProgressTracker, log logrus.FieldLogger) *Handler {
	if progress == nil {
		progress = NewProgressTracker(0)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{store: store, limits: limits, progress: progress, log: log}
}

// WithLimits makes the handler read its size caps from fn on every upload,
// so changes saved in settings apply without a restart.
func (h *Handler) WithLimits(fn func(ctx context.Context) Limits) *Handler {
	h.limitsFor = fn
	return h
}

func (h *Handler) currentLimits(ctx context.Context) Limits {
	if h.limitsFor == nil {
		return h.limits
	}
	return h.limitsFor(ctx)
}

// Upload streams the multipart "file" part into the store. The client may
// name the upload with X-Upload-ID and poll Progress while it runs.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	kind, err := ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limits := h.currentLimits(r.Context())
	max := limits.For(kind)
	r.Body = http.MaxBytesReader(w, r.Body, max+(1<<20))

	owner := uploaderID(r)
	uploadID := strings.TrimSpace(r.Header.Get("X-Upload-ID"))
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	mr, err := r.MultipartReader()
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid multipart form")
		return
	}
	var part io.Reader
	var filename, declared string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if p.FormName() == "file" {
			part, filename, declared = p, p.FileName(), p.Header.Get("Content-Type")
			break
		}
	}
	if part == nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "file field is required")
		return
	}

	br := bufio.NewReaderSize(part, sniffLen)
	head, _ := br.Peek(sniffLen)
	contentType, err := CheckFile(kind, filename, declared, -1, limits, head)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.progress.Start(owner, uploadID, r.ContentLength)
	obj, err := h.store.Put(r.Context(), PutInput{
		Kind:        kind,
		Filename:    filename,
		ContentType: contentType,
		Body:        br,
		Size:        r.ContentLength,
		MaxBytes:    max,
		Progress: func(written, total int64) {
			h.progress.Update(owner, uploadID, written, total)
		},
	})
	if err != nil {
		h.progress.Finish(owner, uploadID, "", err)
		h.writeError(w, r, err)
		return
	}
	h.progress.Finish(owner, uploadID, obj.Key, nil)

	h.log.WithFields(logrus.Fields{
		"key":       obj.Key,
		"kind":      obj.Kind,
		"size":      obj.Size,
		"upload_id": uploadID,
	}).Info("blob stored")

	apiresp.WriteOK(w, r, http.StatusCreated, map[string]any{
		"upload_id":    uploadID,
		"key":          obj.Key,
		"url":          obj.URL,
		"kind":         obj.Kind,
		"size":         obj.Size,
		"content_type": obj.ContentType,
	})
}

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	p, ok := h.progress.Get(uploaderID(r), chi.URLParam(r, "id"))
	if !ok {
		apiresp.WriteError(w, r, http.StatusNotFound, "upload not found")
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := h.store.Delete(r.Context(), key); err != nil {
		h.writeError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"status": "deleted", "key": key})
}

func uploaderID(r *http.Request) int64 {
	if u, ok := auth.CurrentUser(r.Context()); ok {
		return u.ID
	}
	return 0
}

// ServeMedia serves stored blobs under /media/*.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey) {
			http.NotFound(w, r)
			return
		}
		h.log.WithError(err).WithField("key", key).Warn("open blob failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, filepath.Base(key), time.Time{}, rs)
		return
	}
	_, _ = io.Copy(w, rc)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, ErrTooLarge), errors.As(err, &maxErr):
		apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, ErrUnsupportedType):
		apiresp.WriteError(w, r, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrEmptyFile), errors.Is(err, ErrInvalidKind), errors.Is(err, ErrInvalidKey):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	default:
		h.log.WithError(err).Error("blob operation failed")
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
