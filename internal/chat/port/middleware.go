package port

import (
	"net/http"
	"strings"

	"github.com/aelexs/musicroom/internal/domain"
)

// authenticator is the narrow token check the middleware needs. The
// *auth.Validator satisfies it.
type authenticator interface {
	Authenticate(token string) (domain.UserID, error)
}

// accessTokenParam carries the token on WebSocket upgrades, where
// browsers cannot set headers.
const accessTokenParam = "access_token"

// RequireUser rejects requests without a valid access token and stores
// the user in the request context.
func RequireUser(auth authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := auth.Authenticate(bearerToken(r))
			if err != nil {
				respondDomainError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// bearerToken extracts the token from the Authorization header, falling
// back to the access_token query parameter.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get(accessTokenParam)
}
