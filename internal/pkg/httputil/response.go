package httputil

import (
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/audience-engine/internal/pkg/logger"
)

// MaxBodyBytes caps request bodies read by Decode and ReadBody.
const MaxBodyBytes = 5 << 20

// ErrorResponse is the error envelope for every handler. RequestID echoes
// the chi request id so a client report can be matched to server logs.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

var log = logger.With("component", "httputil")

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("json encode failed", "error", err)
	}
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// HTML renders tmpl as a full page. Pages served from signed links must
// not be cached by intermediaries.
func HTML(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		log.Warn("render page failed", "template", tmpl.Name(), "error", err)
	}
}

// Error writes a client error.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	JSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	Error(w, r, http.StatusBadRequest, "bad_request", message)
}

// InternalError logs err against the request id and hides it from the
// client.
func InternalError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error("internal error",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err)
	Error(w, r, http.StatusInternalServerError, "internal", "internal server error")
}

// ReadBody returns the raw request body, refusing anything over
// MaxBodyBytes.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
}

// Decode reads a JSON body into dst. On failure it has already written the
// error response and returns false.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := ReadBody(w, r)
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		Error(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return false
	case err != nil:
		BadRequest(w, r, "unreadable body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		BadRequest(w, r, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
