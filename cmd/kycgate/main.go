package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valinor-ai/kycgate/internal/audit"
	"github.com/valinor-ai/kycgate/internal/auth"
	"github.com/valinor-ai/kycgate/internal/kyc"
	"github.com/valinor-ai/kycgate/internal/platform/cache"
	"github.com/valinor-ai/kycgate/internal/platform/config"
	"github.com/valinor-ai/kycgate/internal/platform/database"
	"github.com/valinor-ai/kycgate/internal/platform/server"
	"github.com/valinor-ai/kycgate/internal/platform/telemetry"
	"github.com/valinor-ai/kycgate/internal/rbac"
	"github.com/valinor-ai/kycgate/internal/roles"
)

func main() {
	var err error
	if len(os.Args) > 1 && os.Args[1] == "token" {
		err = runToken(os.Args[2:], os.Stdout)
	} else {
		err = run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logging
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("kycgate starting", "port", cfg.Server.Port)

	if cfg.Auth.JWT.SigningKey == "" && !cfg.Auth.DevMode {
		return errors.New("auth.jwt.signingkey is required outside dev mode")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Connect to database (optional; memory stores serve dev mode)
	var pool *database.Pool
	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		p, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		pool = p
		defer pool.Close()

		migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
		if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("migrations complete")
	} else {
		slog.Warn("no database configured, using in-memory stores")
	}

	var redisClient *redis.Client
	if cfg.Cache.RedisAddr != "" {
		c, err := cache.Connect(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			slog.Warn("redis unavailable, role cache stays process-local", "error", err)
		} else {
			redisClient = c
			defer redisClient.Close()
		}
	}

	metrics := telemetry.NewMetrics()
	auditLogger, auditReader, err := buildAudit(cfg, pool, logger, metrics)
	if err != nil {
		return err
	}
	defer auditLogger.Close()

	deps := buildDependencies(cfg, pool, redisClient, auditLogger, auditReader, logger, metrics)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, deps)

	slog.Info("server ready", "addr", addr, "dev_mode", cfg.Auth.DevMode, "postgres", pool != nil, "redis", redisClient != nil)
	return srv.Start(ctx)
}

// buildAudit selects the audit sinks: Postgres when a pool exists, an
// in-memory recorder otherwise, plus Kafka when brokers are configured.
func buildAudit(cfg *config.Config, pool *database.Pool, logger *slog.Logger, metrics *telemetry.Metrics) (audit.Logger, audit.Reader, error) {
	var (
		sinks  audit.MultiLogger
		reader audit.Reader
	)
	if pool != nil {
		store := audit.NewStore()
		sinks = append(sinks, audit.NewAsyncLogger(pool, store, audit.LoggerConfig{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: time.Duration(cfg.Audit.FlushInterval) * time.Millisecond,
			Logger:        logger,
			Metrics:       metrics,
		}))
		reader = audit.NewStoreReader(pool, store)
	} else {
		recorder := audit.NewRecorder(cfg.Audit.BufferSize)
		sinks = append(sinks, recorder)
		reader = recorder
	}

	if len(cfg.Events.Brokers) > 0 {
		k, err := audit.NewKafkaLogger(cfg.Events.Brokers, cfg.Events.Topic, logger, metrics)
		if err != nil {
			_ = sinks.Close()
			return nil, nil, fmt.Errorf("starting kafka event sink: %w", err)
		}
		sinks = append(sinks, k)
		slog.Info("domain events enabled", "topic", cfg.Events.Topic)
	}
	return sinks, reader, nil
}

func buildDependencies(cfg *config.Config, pool *database.Pool, redisClient *redis.Client, auditLogger audit.Logger, auditReader audit.Reader, logger *slog.Logger, metrics *telemetry.Metrics) server.Dependencies {
	var (
		roleStore roles.Store
		kycStore  kyc.Store
		db        server.Pinger
	)
	if pool != nil {
		roleStore = roles.NewPostgresStore(pool)
		kycStore = kyc.NewPostgresStore(pool)
		db = pool
	} else {
		roleStore = roles.NewMemoryStore(rbac.DefaultRoles()...)
		kycStore = kyc.NewMemoryStore()
	}

	var catalogOpts []rbac.CachedCatalogOption
	ttl := time.Duration(cfg.Cache.RoleTTLSeconds) * time.Second
	if redisClient != nil {
		catalogOpts = append(catalogOpts, rbac.WithRedisTier(redisClient, ttl))
	}
	catalog := rbac.NewCachedCatalog(roleStore, ttl, nil, catalogOpts...)
	evaluator := rbac.NewEvaluator(catalog, rbac.WithLogger(logger), rbac.WithMetrics(metrics))

	admin := roles.NewAdministration(roleStore, evaluator,
		roles.WithCache(catalog),
		roles.WithAudit(auditLogger),
		roles.WithMetrics(metrics),
		roles.WithLogger(logger),
	)
	svc := kyc.NewService(kycStore, evaluator,
		kyc.WithAudit(auditLogger),
		kyc.WithMetrics(metrics),
		kyc.WithLogger(logger),
		kyc.WithViewHierarchy(cfg.KYC.ViewHierarchy),
		kyc.WithApprovalValidity(time.Duration(cfg.KYC.ApprovalValidityDays)*24*time.Hour),
	)

	var tokenSvc *auth.TokenService
	if cfg.Auth.JWT.SigningKey != "" {
		tokenSvc = auth.NewTokenService(cfg.Auth.JWT.SigningKey, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.ExpiryHours)
	}

	// Dev mode identity
	var devPrincipal *auth.Principal
	if cfg.Auth.DevMode {
		slog.Warn("running in dev mode, authentication bypassed with 'Bearer dev'")
		devPrincipal = &auth.Principal{
			UserID:    "dev-user",
			Role:      rbac.RoleSuperadmin,
			Hierarchy: 7,
			TokenType: auth.TokenTypeAccess,
		}
	}

	return server.Dependencies{
		DB:                 db,
		Auth:               tokenSvc,
		DevPrincipal:       devPrincipal,
		RBAC:               evaluator,
		RoleHandler:        roles.NewHandler(admin),
		KYCHandler:         kyc.NewHandler(svc),
		AuditHandler:       audit.NewHandler(auditReader),
		AuditLogger:        auditLogger,
		Metrics:            metrics,
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}
}

// runToken mints an access token for local testing:
//
//	kycgate token -user sub-1 -role subscriber -hierarchy 2 -perms kyc:manage
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	userID := fs.String("user", "", "user id (required)")
	role := fs.String("role", rbac.RoleSubscriber, "role name")
	hierarchy := fs.Int("hierarchy", 0, "role hierarchy cached in the token; defaults to the seeded value")
	perms := fs.String("perms", "", "comma-separated explicit permissions")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing token flags: %w", err)
	}
	if *userID == "" {
		return errors.New("token: -user is required")
	}

	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWT.SigningKey == "" {
		return errors.New("token: auth.jwt.signingkey is not configured")
	}

	level := *hierarchy
	if level == 0 {
		level = seededHierarchy(*role)
	}
	var explicit []string
	if *perms != "" {
		explicit = rbac.NormalizePermissions(strings.Split(*perms, ","))
	}

	svc := auth.NewTokenService(cfg.Auth.JWT.SigningKey, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.ExpiryHours)
	token, err := svc.CreateAccessToken(&auth.Principal{
		UserID:              *userID,
		Role:                rbac.NormalizeRoleName(*role),
		Hierarchy:           level,
		ExplicitPermissions: explicit,
	})
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func seededHierarchy(role string) int {
	name := rbac.NormalizeRoleName(role)
	for _, r := range rbac.DefaultRoles() {
		if r.Name == name {
			return r.Hierarchy
		}
	}
	return rbac.MinHierarchy
}
