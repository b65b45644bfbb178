package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r.Context()))
}

func (h *handlers) updateAvatar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxAvatarBytes)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, detail{Detail: "file too large"})
			return
		}
		h.fail(w, r, fmt.Errorf("%w: file is required", common.ErrorValidation), http.StatusBadRequest)
		return
	}
	defer file.Close()

	user, err := h.svc.UpdateAvatar(r.Context(), currentUser(r.Context()), file)
	if err != nil {
		h.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
