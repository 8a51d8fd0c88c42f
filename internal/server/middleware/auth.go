package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/servihub/chatd/internal/auth"
)

// TokenVerifier turns a bearer token into an identity. Implemented by
// *auth.Service.
type TokenVerifier func(token string) (auth.Identity, error)

// NewAuthMiddleware admits a connection attempt only with a valid token,
// supplied either as an Authorization bearer header or a `token` query
// parameter. It runs before the WebSocket upgrade: a rejected attempt never
// exchanges a single frame.
func NewAuthMiddleware(logger *slog.Logger, verify TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong
			// with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tokenString := bearerToken(r)
			if tokenString == "" {
				logger.Warn("Connection attempt without a token", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := verify(tokenString)
			if err != nil {
				logger.Warn("Invalid token presented", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = identity.ID
			reqMeta.UserName = identity.Name
			reqMeta.UserEmail = identity.Email
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
