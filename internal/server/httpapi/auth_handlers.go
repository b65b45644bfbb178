package httpapi

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
	"github.com/flosch/pongo2/v6"
	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

//go:embed templates/reset_password_form.html
var templateFS embed.FS

var resetFormTemplate = pongo2.Must(pongo2.FromBytes(mustRead("templates/reset_password_form.html")))

func mustRead(name string) []byte {
	b, err := templateFS.ReadFile(name)
	if err != nil {
		panic(err)
	}
	return b
}

var errUntrustedHost = errors.New("untrusted host")

type emailRequest struct {
	Email string `json:"email"`
}

func (e emailRequest) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
	)
}

// baseURL is where emailed links point, always ending in "/". Without a
// configured PublicBaseURL the request Host must be in AllowedHosts, and
// X-Forwarded-Proto is honoured only with TrustProxyHeaders.
func (h *handlers) baseURL(r *http.Request) (string, error) {
	if h.opts.PublicBaseURL != "" {
		return strings.TrimSuffix(h.opts.PublicBaseURL, "/") + "/", nil
	}
	host := strings.ToLower(r.Host)
	if !slices.ContainsFunc(h.opts.AllowedHosts, func(a string) bool { return strings.EqualFold(a, host) }) {
		return "", fmt.Errorf("%w: %q", errUntrustedHost, r.Host)
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if h.opts.TrustProxyHeaders {
		switch p := strings.ToLower(r.Header.Get("X-Forwarded-Proto")); p {
		case "http", "https":
			scheme = p
		}
	}
	return scheme + "://" + host + "/", nil
}

// linkBase writes a 400 and reports false when no trusted base URL exists.
func (h *handlers) linkBase(w http.ResponseWriter, r *http.Request) (string, bool) {
	base, err := h.baseURL(r)
	if err != nil {
		h.logger.Warn(r.Context(), "rejected request with untrusted host", "host", r.Host)
		writeJSON(w, http.StatusBadRequest, detail{Detail: "Invalid host header"})
		return "", false
	}
	return base, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", common.ErrorValidation)
	}
	return nil
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	var in services.SignupInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err, http.StatusBadRequest)
		return
	}

	base, ok := h.linkBase(w, r)
	if !ok {
		return
	}

	user, err := h.svc.Signup(r.Context(), in, base)
	if err != nil {
		h.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// login takes an OAuth2 password-grant style form; username is the email.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, fmt.Errorf("%w: invalid form", common.ErrorValidation), http.StatusUnauthorized)
		return
	}
	email, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if email == "" || password == "" {
		h.fail(w, r, fmt.Errorf("%w: username and password are required", common.ErrorValidation), http.StatusUnauthorized)
		return
	}

	pair, err := h.svc.Login(r.Context(), email, password)
	if err != nil {
		h.fail(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handlers) refreshToken(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeJSON(w, http.StatusUnauthorized, detail{Detail: "Not authenticated"})
		return
	}

	pair, err := h.svc.Refresh(r.Context(), tokens.Token[tokens.Refresh](raw))
	if err != nil {
		h.fail(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r.Context())
	if err := h.svc.Logout(r.Context(), user.Email); err != nil {
		h.fail(w, r, err, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Logged out"})
}

func (h *handlers) confirmedEmail(w http.ResponseWriter, r *http.Request) {
	t := tokens.Token[tokens.EmailConfirm](chi.URLParam(r, "token"))

	res, err := h.svc.ConfirmEmail(r.Context(), t)
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			writeJSON(w, http.StatusBadRequest, detail{Detail: "Verification error"})
			return
		}
		h.fail(w, r, err, http.StatusBadRequest)
		return
	}

	if res == services.ConfirmAlreadyDone {
		writeJSON(w, http.StatusOK, message{Message: "Your email is already confirmed"})
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Email confirmed"})
}

func (h *handlers) decodeEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body emailRequest
	if err := decodeJSON(r, &body); err != nil {
		h.fail(w, r, err, http.StatusBadRequest)
		return "", false
	}
	if err := body.Validate(); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %s", common.ErrorValidation, err.Error()), http.StatusBadRequest)
		return "", false
	}
	return body.Email, true
}

func (h *handlers) requestEmail(w http.ResponseWriter, r *http.Request) {
	email, ok := h.decodeEmail(w, r)
	if !ok {
		return
	}

	base, ok := h.linkBase(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RequestEmailConfirmation(r.Context(), email, base)
	if err != nil {
		h.fail(w, r, err, http.StatusBadRequest)
		return
	}

	if res == services.RequestAlreadyConfirmed {
		writeJSON(w, http.StatusOK, message{Message: "Your email is already confirmed"})
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Check your email for confirmation."})
}

func (h *handlers) requestResetPassword(w http.ResponseWriter, r *http.Request) {
	email, ok := h.decodeEmail(w, r)
	if !ok {
		return
	}

	base, ok := h.linkBase(w, r)
	if !ok {
		return
	}

	res, err := h.svc.RequestPasswordReset(r.Context(), email, base)
	if err != nil {
		h.fail(w, r, err, http.StatusBadRequest)
		return
	}

	if res == services.ResetUnknownUser {
		writeJSON(w, http.StatusOK, message{Message: "No user with email " + email})
		return
	}
	writeJSON(w, http.StatusOK, message{Message: "Check your email for reset password."})
}

func (h *handlers) renderResetForm(w http.ResponseWriter, r *http.Request, status int, token, errMsg string) {
	page, err := resetFormTemplate.Execute(pongo2.Context{"token": token, "error": errMsg})
	if err != nil {
		h.fail(w, r, fmt.Errorf("render reset form: %w", err), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(page))
}

func (h *handlers) resetPasswordForm(w http.ResponseWriter, r *http.Request) {
	h.renderResetForm(w, r, http.StatusOK, chi.URLParam(r, "token"), "")
}

func (h *handlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "token")
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, fmt.Errorf("%w: invalid form", common.ErrorValidation), http.StatusBadRequest)
		return
	}

	err := h.svc.ResetPassword(r.Context(), tokens.Token[tokens.PasswordReset](raw),
		r.PostForm.Get("new_password"), r.PostForm.Get("confirm_password"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, message{Message: "Password updated."})
	case errors.Is(err, common.ErrPasswordMismatch):
		h.renderResetForm(w, r, http.StatusBadRequest, raw, "Passwords do not match")
	case errors.Is(err, common.ErrInvalidToken):
		writeJSON(w, http.StatusBadRequest, detail{Detail: "Invalid token"})
	default:
		h.fail(w, r, err, http.StatusBadRequest)
	}
}
