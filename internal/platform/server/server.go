package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/valinor-ai/kycgate/internal/audit"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/kyc"
	"github.com/valinor-ai/kycgate/internal/platform/middleware"
	"github.com/valinor-ai/kycgate/internal/platform/telemetry"
	"github.com/valinor-ai/kycgate/internal/rbac"
	"github.com/valinor-ai/kycgate/internal/roles"
)

// Pinger reports database reachability for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	DB                 Pinger
	Auth               *auth.TokenService
	DevPrincipal       *auth.Principal
	RBAC               *rbac.Evaluator
	RoleHandler        *roles.Handler
	KYCHandler         *kyc.Handler
	AuditHandler       *audit.Handler
	AuditLogger        audit.Logger
	Metrics            *telemetry.Metrics
	Logger             *slog.Logger
	CORSAllowedOrigins []string
}

type Server struct {
	httpServer *http.Server
	db         Pinger
	handler    http.Handler
}

func New(addr string, deps Dependencies) *Server {
	// Protected routes mux, wrapped with auth middleware
	protectedMux := http.NewServeMux()
	protectedHandler := auth.Middleware(deps.Auth, deps.DevPrincipal)(protectedMux)

	// Top-level mux: public routes + protected catch-all
	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		db: deps.DB,
	}

	// Public routes (no auth required)
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.Metrics != nil {
		topMux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	var rbacOpts []rbac.MiddlewareOption
	if deps.AuditLogger != nil {
		rbacOpts = append(rbacOpts, rbac.WithAuditLogger(deps.AuditLogger))
	}

	if deps.RBAC != nil {
		protectedMux.HandleFunc("GET /api/v1/me/permissions", rbac.NewHandler(deps.RBAC).HandleMyPermissions)
	}

	// Role administration. The handlers re-check through the service; the
	// gates here refuse early and audit the denial.
	if deps.RoleHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("GET /api/v1/roles",
			rbac.RequirePermission(deps.RBAC, rbac.PermRolesView, rbacOpts...)(
				http.HandlerFunc(deps.RoleHandler.HandleList),
			),
		)
		protectedMux.Handle("GET /api/v1/roles/{name}",
			rbac.RequirePermission(deps.RBAC, rbac.PermRolesView, rbacOpts...)(
				http.HandlerFunc(deps.RoleHandler.HandleGet),
			),
		)
		protectedMux.Handle("POST /api/v1/roles",
			rbac.RequireAny(deps.RBAC, []string{rbac.PermSystemFullAccess, rbac.PermRolesCreate}, rbacOpts...)(
				http.HandlerFunc(deps.RoleHandler.HandleCreate),
			),
		)
		protectedMux.Handle("PATCH /api/v1/roles/{name}",
			rbac.RequirePermission(deps.RBAC, rbac.PermRolesEdit, rbacOpts...)(
				http.HandlerFunc(deps.RoleHandler.HandleUpdate),
			),
		)
		// Protected roles answer PROTECTED_ROLE before any permission
		// check, so delete is gated by the service alone.
		protectedMux.HandleFunc("DELETE /api/v1/roles/{name}", deps.RoleHandler.HandleDelete)
	}

	// KYC routes. Owner gates need the path's user id and live in the service.
	if deps.KYCHandler != nil {
		h := deps.KYCHandler
		protectedMux.HandleFunc("GET /api/v1/kyc/profiles/{userID}", h.HandleGet)
		protectedMux.HandleFunc("PUT /api/v1/kyc/profiles/{userID}", h.HandleUpsert)
		protectedMux.HandleFunc("POST /api/v1/kyc/profiles/{userID}/documents", h.HandleAddDocument)
		protectedMux.HandleFunc("POST /api/v1/kyc/profiles/{userID}/documents/{docID}/verification", h.HandleVerify)
		protectedMux.HandleFunc("POST /api/v1/kyc/profiles/{userID}/transitions", h.HandleTransition)
		protectedMux.HandleFunc("PUT /api/v1/kyc/profiles/{userID}/risk", h.HandleSetRisk)
		protectedMux.HandleFunc("POST /api/v1/kyc/profiles/{userID}/deactivation", h.HandleDeactivate)
		if deps.RBAC != nil {
			protectedMux.Handle("POST /api/v1/kyc/expirations",
				rbac.RequirePermission(deps.RBAC, rbac.PermKYCManage, rbacOpts...)(
					http.HandlerFunc(h.HandleExpire),
				),
			)
		}
	}

	if deps.AuditHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("GET /api/v1/audit/events",
			rbac.RequirePermission(deps.RBAC, rbac.PermAuditRead, rbacOpts...)(
				http.HandlerFunc(deps.AuditHandler.HandleListEvents),
			),
		)
	}

	// All other routes go through auth middleware
	topMux.Handle("/", protectedHandler)

	// Wrap top-level mux with observability middleware
	var handler http.Handler = topMux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness reports ready without a database: the in-memory stores
// serve dev mode.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "memory"})
		return
	}

	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "storage": "postgres"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
