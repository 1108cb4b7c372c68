package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

// Middleware returns HTTP middleware that validates access tokens. When
// devPrincipal is non-nil the literal token "dev" authenticates as it.
func Middleware(tokenSvc *TokenService, devPrincipal *Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r)
			if err != nil {
				writeAuthError(w, err.Error())
				return
			}

			if token == "dev" && devPrincipal != nil {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), devPrincipal)))
				return
			}

			if tokenSvc == nil {
				writeAuthError(w, "invalid token")
				return
			}

			principal, err := tokenSvc.ValidateToken(token)
			if err != nil {
				writeAuthError(w, "invalid token")
				return
			}

			if principal.TokenType != TokenTypeAccess {
				writeAuthError(w, "access token required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid authorization header format")
	}

	return strings.TrimSpace(parts[1]), nil
}

func writeAuthError(w http.ResponseWriter, message string) {
	apperr.Write(w, apperr.New(apperr.CodeUnauthenticated, "%s", message))
}
