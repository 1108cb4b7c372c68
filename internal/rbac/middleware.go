package rbac

import (
	"context"
	"net/http"

	"github.com/valinor-ai/kycgate/internal/audit"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/platform/apperr"
)

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit audit.Logger
}

// WithAuditLogger attaches an audit logger to log RBAC denials.
func WithAuditLogger(logger audit.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = logger
	}
}

// RequirePermission returns middleware that checks if the authenticated
// principal holds permission.
func RequirePermission(e *Evaluator, permission string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return gate(permission, func(ctx context.Context, p *auth.Principal) Decision {
		return e.Decide(ctx, p, permission)
	}, opts)
}

// RequireAny admits principals holding at least one of permissions.
func RequireAny(e *Evaluator, permissions []string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return gate(joinLabel("any", permissions), func(ctx context.Context, p *auth.Principal) Decision {
		return e.DecideAny(ctx, p, permissions...)
	}, opts)
}

// RequireHierarchy admits principals whose hierarchy is at least level.
func RequireHierarchy(e *Evaluator, level int, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return gate("hierarchy", func(ctx context.Context, p *auth.Principal) Decision {
		return e.DecideHierarchy(ctx, p, level)
	}, opts)
}

func gate(check string, decide func(context.Context, *auth.Principal) Decision, opts []MiddlewareOption) func(http.Handler) http.Handler {
	var mc middlewareConfig
	for _, opt := range opts {
		opt(&mc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.GetPrincipal(r.Context())
			if principal == nil {
				apperr.Write(w, apperr.New(apperr.CodeUnauthenticated, "authentication required"))
				return
			}

			decision := decide(r.Context(), principal)
			if !decision.Allowed {
				if mc.audit != nil {
					mc.audit.Log(r.Context(), audit.Event{
						ActorID: principal.UserID,
						Action:  audit.ActionAccessDenied,
						Metadata: map[string]any{
							audit.MetadataPermission: check,
							audit.MetadataReason:     decision.Reason,
							"path":                   r.URL.Path,
							"method":                 r.Method,
						},
						Source: audit.SourceAPI,
					})
				}
				apperr.Write(w, apperr.Denied("%s", decision.Reason))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
