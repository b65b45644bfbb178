// Package httpapi is the public REST API of authkeeper, served with chi.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// authService is the part of services.AuthService the handlers use.
type authService interface {
	Signup(ctx context.Context, in services.SignupInput, baseURL string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.TokenPair, error)
	Refresh(ctx context.Context, t tokens.Token[tokens.Refresh]) (*services.TokenPair, error)
	Logout(ctx context.Context, email string) error
	ConfirmEmail(ctx context.Context, t tokens.Token[tokens.EmailConfirm]) (services.ConfirmResult, error)
	RequestEmailConfirmation(ctx context.Context, email, baseURL string) (services.RequestResult, error)
	RequestPasswordReset(ctx context.Context, email, baseURL string) (services.ResetResult, error)
	ResetPassword(ctx context.Context, t tokens.Token[tokens.PasswordReset], newPassword, confirmPassword string) error
	Authenticate(ctx context.Context, t tokens.Token[tokens.Access]) (*models.User, error)
	UpdateAvatar(ctx context.Context, user *models.User, image io.Reader) (*models.User, error)
}

// Options configure the router.
type Options struct {
	// PublicBaseURL prefixes emailed links. When empty the link host comes
	// from the request and must be listed in AllowedHosts.
	PublicBaseURL     string
	AllowedHosts      []string
	TrustProxyHeaders bool
	AllowedOrigins    []string
	MaxAvatarBytes    int64
}

type handlers struct {
	svc    authService
	opts   Options
	logger logging.Logger
}

func NewRouter(svc authService, opts Options, l logging.Logger) http.Handler {
	if opts.MaxAvatarBytes <= 0 {
		opts.MaxAvatarBytes = 5 << 20
	}
	h := &handlers{svc: svc, opts: opts, logger: l}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(l))
	r.Use(middleware.Recoverer)
	// cors treats an empty origin list as "allow all", so no origins means no
	// cors handler at all.
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: explicitOrigins(opts.AllowedOrigins),
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.signup)
			r.Post("/login", h.login)
			r.Get("/refresh_token", h.refreshToken)
			r.With(h.requireAccess).Post("/logout", h.logout)
			r.Get("/confirmed_email/{token}", h.confirmedEmail)
			r.Post("/request_email", h.requestEmail)
			r.Post("/request_reset_password", h.requestResetPassword)
			r.Get("/reset_password_form/{token}", h.resetPasswordForm)
			r.Post("/reset_password/{token}", h.resetPassword)
		})
		r.Route("/users", func(r chi.Router) {
			r.Use(h.requireAccess)
			r.Get("/me", h.me)
			r.Patch("/avatar", h.updateAvatar)
		})
	})

	return r
}

// explicitOrigins reports whether origins name concrete hosts. Credentials are
// never allowed for a wildcard.
func explicitOrigins(origins []string) bool {
	return len(origins) > 0 && !slices.Contains(origins, "*")
}

func requestLogger(l logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			l.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
