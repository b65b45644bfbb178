package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/images"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(f *fakeService, opts Options) http.Handler {
	if f.user == nil {
		f.user = &models.User{ID: "1", Email: "a@x.com", UserName: "alice", Confirmed: true}
	}
	if opts.AllowedOrigins == nil {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.AllowedHosts == nil {
		opts.AllowedHosts = []string{"example.com", "api.local"}
	}
	return NewRouter(f, opts, logging.Nop{})
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err         error
		tokenStatus int
		want        int
	}{
		{common.ErrAlreadyExists, 400, http.StatusConflict},
		{common.ErrUnknownEmail, 400, http.StatusUnauthorized},
		{common.ErrEmailNotConfirmed, 400, http.StatusUnauthorized},
		{common.ErrInvalidPassword, 400, http.StatusUnauthorized},
		{common.ErrReplayDetected, 400, http.StatusUnauthorized},
		{common.ErrPasswordMismatch, 401, http.StatusBadRequest},
		{common.ErrorValidation, 401, http.StatusUnprocessableEntity},
		{common.ErrInvalidToken, 400, http.StatusBadRequest},
		{common.ErrTokenExpired, 401, http.StatusUnauthorized},
		{common.ErrTokenExpired, 400, http.StatusBadRequest},
		{common.ErrWrongPurpose, 400, http.StatusBadRequest},
		{common.ErrInvalidSignature, 401, http.StatusUnauthorized},
		{errors.New("db down"), 400, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err, tt.tokenStatus), "%v", tt.err)
	}
}

func TestSignup(t *testing.T) {
	f := &fakeService{}
	h := newTestRouter(f, Options{})

	req := httptest.NewRequest(http.MethodPost, "http://api.local/api/auth/signup",
		jsonBody(t, map[string]string{"username": "alice", "email": "a@x.com", "password": "s3cret!"}))
	rec := do(t, h, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	m := decodeMap(t, rec)
	assert.Equal(t, "a@x.com", m["email"])
	assert.NotContains(t, m, "password_hash")
	assert.Equal(t, "alice", f.gotSignup.UserName)
	assert.Equal(t, "http://api.local/", f.gotBaseURL)
}

func TestSignup_Errors(t *testing.T) {
	f := &fakeService{err: common.ErrAlreadyExists}
	h := newTestRouter(f, Options{PublicBaseURL: "https://auth.example.com"})

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		jsonBody(t, map[string]string{"username": "a", "email": "a@x.com", "password": "s3cret!"})))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "account already exists", decodeMap(t, rec)["detail"])
	assert.Equal(t, "https://auth.example.com/", f.gotBaseURL)

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader("{broken")))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.err = errors.New("db down")
	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/api/auth/signup",
		jsonBody(t, map[string]string{"username": "a", "email": "a@x.com", "password": "s3cret!"})))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeMap(t, rec)["detail"])
}

func TestLogin(t *testing.T) {
	f := &fakeService{pair: &services.TokenPair{AccessToken: "acc", RefreshToken: "ref", TokenType: "bearer"}}
	h := newTestRouter(f, Options{})

	rec := do(t, h, formRequest(http.MethodPost, "/api/auth/login", url.Values{"username": {"a@x.com"}, "password": {"pw"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"access_token":"acc","refresh_token":"ref","token_type":"bearer"}`, rec.Body.String())
	assert.Equal(t, "a@x.com", f.gotEmail)
	assert.Equal(t, "pw", f.gotPassword)
}

func TestLogin_Failures(t *testing.T) {
	for _, err := range []error{common.ErrUnknownEmail, common.ErrEmailNotConfirmed, common.ErrInvalidPassword} {
		f := &fakeService{err: err}
		rec := do(t, newTestRouter(f, Options{}), formRequest(http.MethodPost, "/api/auth/login",
			url.Values{"username": {"a@x.com"}, "password": {"pw"}}))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, err.Error(), decodeMap(t, rec)["detail"])
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	}

	rec := do(t, newTestRouter(&fakeService{}, Options{}), formRequest(http.MethodPost, "/api/auth/login", url.Values{}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRefreshToken(t *testing.T) {
	f := &fakeService{pair: &services.TokenPair{AccessToken: "a2", RefreshToken: "r2", TokenType: "bearer"}}
	h := newTestRouter(f, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/refresh_token", nil)
	req.Header.Set("Authorization", "Bearer r1")
	rec := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "r1", f.gotToken)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/auth/refresh_token", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, err := range []error{common.ErrReplayDetected, common.ErrTokenExpired, common.ErrWrongPurpose, common.ErrInvalidToken} {
		f.err = err
		req := httptest.NewRequest(http.MethodGet, "/api/auth/refresh_token", nil)
		req.Header.Set("Authorization", "bearer r1")
		rec = do(t, h, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%v", err)
	}
}

func TestMe_RequiresAccessToken(t *testing.T) {
	f := &fakeService{}
	h := newTestRouter(f, Options{})

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", decodeMap(t, rec)["detail"])

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = do(t, h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req.Header.Set("Authorization", "Bearer good-access")
	rec = do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decodeMap(t, rec)["username"])
}

func TestLogout(t *testing.T) {
	f := &fakeService{}
	h := newTestRouter(f, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer good-access")
	rec := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@x.com", f.loggedOut)
}

func TestConfirmedEmail(t *testing.T) {
	f := &fakeService{confirm: services.ConfirmDone}
	h := newTestRouter(f, Options{})

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/api/auth/confirmed_email/tok1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Email confirmed", decodeMap(t, rec)["message"])
	assert.Equal(t, "tok1", f.gotToken)

	f.confirm = services.ConfirmAlreadyDone
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/auth/confirmed_email/tok1", nil))
	assert.Equal(t, "Your email is already confirmed", decodeMap(t, rec)["message"])

	f.err = common.ErrInvalidToken
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/auth/confirmed_email/tok1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Verification error", decodeMap(t, rec)["detail"])

	f.err = common.ErrTokenExpired
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/auth/confirmed_email/tok1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestEmail(t *testing.T) {
	f := &fakeService{request: services.RequestAccepted}
	h := newTestRouter(f, Options{})

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/api/auth/request_email", jsonBody(t, map[string]string{"email": "a@x.com"})))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Check your email for confirmation.", decodeMap(t, rec)["message"])
	assert.Equal(t, "a@x.com", f.gotEmail)

	f.request = services.RequestAlreadyConfirmed
	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/api/auth/request_email", jsonBody(t, map[string]string{"email": "a@x.com"})))
	assert.Equal(t, "Your email is already confirmed", decodeMap(t, rec)["message"])

	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/api/auth/request_email", jsonBody(t, map[string]string{"email": "nope"})))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequestResetPassword(t *testing.T) {
	f := &fakeService{reset: services.ResetUnknownUser}
	h := newTestRouter(f, Options{})

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/api/auth/request_reset_password", jsonBody(t, map[string]string{"email": "g@x.com"})))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No user with email g@x.com", decodeMap(t, rec)["message"])

	f.reset = services.ResetRequested
	rec = do(t, h, httptest.NewRequest(http.MethodPost, "/api/auth/request_reset_password", jsonBody(t, map[string]string{"email": "a@x.com"})))
	assert.Equal(t, "Check your email for reset password.", decodeMap(t, rec)["message"])
}

func TestResetPasswordForm(t *testing.T) {
	h := newTestRouter(&fakeService{}, Options{})

	rec := do(t, h, httptest.NewRequest(http.MethodGet, "/api/auth/reset_password_form/tok9", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `action="/api/auth/reset_password/tok9"`)
	assert.NotContains(t, rec.Body.String(), `class="error"`)
}

func TestResetPassword(t *testing.T) {
	f := &fakeService{}
	h := newTestRouter(f, Options{})

	rec := do(t, h, formRequest(http.MethodPost, "/api/auth/reset_password/tok9",
		url.Values{"new_password": {"n3w-pass"}, "confirm_password": {"n3w-pass"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Password updated.", decodeMap(t, rec)["message"])
	assert.Equal(t, "tok9", f.gotToken)

	rec = do(t, h, formRequest(http.MethodPost, "/api/auth/reset_password/tok9",
		url.Values{"new_password": {"aaaaaa"}, "confirm_password": {"bbbbbb"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Passwords do not match")

	f.err = common.ErrInvalidToken
	rec = do(t, h, formRequest(http.MethodPost, "/api/auth/reset_password/tok9",
		url.Values{"new_password": {"aaaaaa"}, "confirm_password": {"aaaaaa"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid token", decodeMap(t, rec)["detail"])

	f.err = common.ErrWrongPurpose
	rec = do(t, h, formRequest(http.MethodPost, "/api/auth/reset_password/tok9",
		url.Values{"new_password": {"aaaaaa"}, "confirm_password": {"aaaaaa"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAvatar(t *testing.T) {
	f := &fakeService{}
	h := newTestRouter(f, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "me.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("png-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer good-access")
	rec := do(t, h, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", f.gotImage)
	assert.Equal(t, "http://img/avatars/a@x.com", decodeMap(t, rec)["avatar"])

	req = httptest.NewRequest(http.MethodPatch, "/api/users/avatar", strings.NewReader(""))
	req.Header.Set("Authorization", "Bearer good-access")
	rec = do(t, h, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateAvatar_NotAnImage(t *testing.T) {
	f := &fakeService{err: images.ErrNotImage}
	h := newTestRouter(f, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "me.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("<html><script>alert(1)</script></html>"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer good-access")
	rec := do(t, h, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, images.ErrNotImage.Error(), decodeMap(t, rec)["detail"])
	assert.NotContains(t, rec.Body.String(), "avatar")
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(&fakeService{}, Options{AllowedOrigins: []string{"http://app.local"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://app.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := do(t, h, req)

	assert.Equal(t, "http://app.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_CredentialsOnlyForExplicitOrigins(t *testing.T) {
	preflight := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
		req.Header.Set("Origin", "http://evil.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		return do(t, h, req)
	}

	rec := preflight(newTestRouter(&fakeService{}, Options{AllowedOrigins: []string{"*"}}))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight(newTestRouter(&fakeService{}, Options{AllowedOrigins: []string{"http://app.local"}}))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://app.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = do(t, newTestRouter(&fakeService{}, Options{AllowedOrigins: []string{"http://app.local"}}), req)
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	rec = preflight(NewRouter(&fakeService{}, Options{AllowedOrigins: []string{}}, logging.Nop{}))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	assert.False(t, explicitOrigins(nil))
	assert.False(t, explicitOrigins([]string{"http://app.local", "*"}))
	assert.True(t, explicitOrigins([]string{"http://app.local"}))
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		host    string
		proto   string
		want    string
		wantErr bool
	}{
		{name: "configured", opts: Options{PublicBaseURL: "https://auth.example.com"}, host: "evil.example", want: "https://auth.example.com/"},
		{name: "allowed host", opts: Options{AllowedHosts: []string{"api.local"}}, host: "API.local", want: "http://api.local/"},
		{name: "proxy header ignored", opts: Options{AllowedHosts: []string{"api.local"}}, host: "api.local", proto: "https", want: "http://api.local/"},
		{name: "trusted proxy", opts: Options{AllowedHosts: []string{"api.local"}, TrustProxyHeaders: true}, host: "api.local", proto: "https", want: "https://api.local/"},
		{name: "bogus proto", opts: Options{AllowedHosts: []string{"api.local"}, TrustProxyHeaders: true}, host: "api.local", proto: "javascript", want: "http://api.local/"},
		{name: "unknown host", opts: Options{AllowedHosts: []string{"api.local"}}, host: "evil.example", wantErr: true},
		{name: "no hosts", host: "api.local", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &handlers{opts: tt.opts}
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Host = tt.host
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			got, err := h.baseURL(req)
			if tt.wantErr {
				require.ErrorIs(t, err, errUntrustedHost)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmailLinks_RejectSpoofedHost(t *testing.T) {
	requests := map[string]func() *http.Request{
		"signup": func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/auth/signup",
				jsonBody(t, map[string]string{"username": "alice", "email": "a@x.com", "password": "s3cret!"}))
		},
		"request_email": func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/auth/request_email", jsonBody(t, map[string]string{"email": "a@x.com"}))
		},
		"request_reset_password": func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/api/auth/request_reset_password", jsonBody(t, map[string]string{"email": "a@x.com"}))
		},
	}
	for name, build := range requests {
		t.Run(name, func(t *testing.T) {
			f := &fakeService{request: services.RequestAccepted, reset: services.ResetRequested}
			h := newTestRouter(f, Options{})

			req := build()
			req.Host = "evil.example"
			req.Header.Set("X-Forwarded-Proto", "https")
			rec := do(t, h, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Invalid host header", decodeMap(t, rec)["detail"])
			assert.Empty(t, f.gotBaseURL)
			assert.Empty(t, f.gotEmail)
			assert.Empty(t, f.gotSignup.Email)
		})
	}

	f := &fakeService{reset: services.ResetRequested}
	h := newTestRouter(f, Options{PublicBaseURL: "https://auth.example.com"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/request_reset_password", jsonBody(t, map[string]string{"email": "a@x.com"}))
	req.Host = "evil.example"
	rec := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://auth.example.com/", f.gotBaseURL)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", newTestRouter(&fakeService{}, Options{}), logging.Nop{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServer_BadAddress(t *testing.T) {
	srv := NewServer("127.0.0.1:99999", http.NotFoundHandler(), logging.Nop{})
	require.Error(t, srv.Run(context.Background()))
}

var _ authService = (*services.AuthService)(nil)
