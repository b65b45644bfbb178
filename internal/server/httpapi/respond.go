package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

type detail struct {
	Detail string `json:"detail"`
}

type message struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a service error to an HTTP status. tokenStatus is used for
// token failures: 401 on bearer-authenticated routes, 400 for tokens carried
// in email links.
func statusFor(err error, tokenStatus int) int {
	switch {
	case errors.Is(err, common.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, common.ErrPasswordMismatch):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrInvalidToken), common.IsTokenError(err):
		return tokenStatus
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error, tokenStatus int) {
	status := statusFor(err, tokenStatus)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "internal server error"
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, detail{Detail: msg})
}
