// Package errors holds HTTP error response helpers that keep the real
// failure in the logs and a generic message on the wire.
package errors

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	slog.Error(message, "error", err, "request_id", middleware.GetReqID(r.Context()))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	slog.Warn("bad request", "error", err, "request_id", middleware.GetReqID(r.Context()))
	http.Error(w, clientMessage, http.StatusBadRequest)
}

func NotFoundError(w http.ResponseWriter, r *http.Request, clientMessage string) {
	http.Error(w, clientMessage, http.StatusNotFound)
}

func ConflictError(w http.ResponseWriter, r *http.Request, clientMessage string) {
	http.Error(w, clientMessage, http.StatusConflict)
}

func LogError(r *http.Request, message string, err error) {
	slog.Error(message, "error", err, "request_id", middleware.GetReqID(r.Context()))
}
