package apiresp

import (
	"encoding/json"
	"errors"
	"net/http"

	"ieltsadmin/internal/validate"

	"github.com/go-chi/chi/v5/middleware"
)

type ErrorPayload struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Details []string          `json:"details,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
}

type Envelope struct {
	OK    bool          `json:"ok"`
	Data  interface{}   `json:"data,omitempty"`
	Error *ErrorPayload `json:"error,omitempty"`
	Meta  Meta          `json:"meta"`
}

func WriteOK(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	write(w, r, status, Envelope{OK: true, Data: data})
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	if msg == "" {
		msg = http.StatusText(status)
	}
	write(w, r, status, Envelope{Error: &ErrorPayload{Code: codeFromStatus(status), Message: msg}})
}

// WriteProblems reports a rule violation that has several independent causes,
// e.g. the checklist returned when a track is not ready to publish.
func WriteProblems(w http.ResponseWriter, r *http.Request, status int, msg string, problems []string) {
	write(w, r, status, Envelope{Error: &ErrorPayload{
		Code:    codeFromStatus(status),
		Message: msg,
		Details: problems,
	}})
}

// WriteInvalid writes a 400. Field errors produced by the validate package are
// expanded so the console can place each message next to its input.
func WriteInvalid(w http.ResponseWriter, r *http.Request, err error) {
	payload := &ErrorPayload{Code: codeFromStatus(http.StatusBadRequest), Message: err.Error()}
	var fe validate.FieldErrors
	if errors.As(err, &fe) {
		payload.Message = "validation failed"
		payload.Fields = fe
	}
	write(w, r, http.StatusBadRequest, Envelope{Error: payload})
}

func write(w http.ResponseWriter, r *http.Request, status int, res Envelope) {
	res.Meta = Meta{RequestID: middleware.GetReqID(r.Context())}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

func codeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		if status >= 200 && status < 300 {
			return ""
		}
		return "error"
	}
}
