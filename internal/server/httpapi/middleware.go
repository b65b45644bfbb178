package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/tokens"
)

type ctxKey int

const userKey ctxKey = iota

// bearerToken extracts the credentials of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	v := r.Header.Get(common.AuthorizationHeaderName)
	scheme, token, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, common.TokenTypeBearer) {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireAccess resolves the access token to a user and stores it in the
// request context.
func (h *handlers) requireAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSON(w, http.StatusUnauthorized, detail{Detail: "Not authenticated"})
			return
		}

		user, err := h.svc.Authenticate(r.Context(), tokens.Token[tokens.Access](raw))
		if err != nil {
			h.fail(w, r, err, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func currentUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}
