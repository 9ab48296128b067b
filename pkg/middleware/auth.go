package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/desurestar/RSOD-project/pkg/httputil"
	"github.com/desurestar/RSOD-project/pkg/logger"
)

type contextKeyType string

const principalKey contextKeyType = "principal"

// Principal is the authenticated caller.
type Principal struct {
	UserID   int64
	Username string
}

// TokenValidator checks a bearer token and returns its principal.
type TokenValidator func(token string) (Principal, error)

// Bearer authenticates "Authorization: Bearer <token>". Requests without the
// header continue anonymously. A malformed or rejected token is answered with
// 401 even on read-only routes.
func Bearer(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeAuthError(w, "Authorization header must contain two space-delimited values")
				return
			}

			p, err := validate(token)
			if err != nil {
				writeAuthError(w, "Given token not valid for any token type")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, p)
			ctx = logger.WithUsername(ctx, p.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			httputil.WriteDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFromContext returns the caller set by Bearer.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Detail{Detail: message, Code: "token_not_valid"})
}
