package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/background"
	"github.com/atriumhq/atrium/internal/config"
	"github.com/atriumhq/atrium/internal/database"
	"github.com/atriumhq/atrium/internal/handlers"
	middlewareCustom "github.com/atriumhq/atrium/internal/middleware"
	"github.com/atriumhq/atrium/internal/models"
	"github.com/atriumhq/atrium/internal/repositories"
	"github.com/atriumhq/atrium/internal/routes"
	"github.com/atriumhq/atrium/internal/services"
	pkgauth "github.com/atriumhq/atrium/pkg/auth"
	pkghttp "github.com/atriumhq/atrium/pkg/http"
	pkglogger "github.com/atriumhq/atrium/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if err := database.Migrate(cfg.Database.DSN()); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	inviteRepo := repositories.NewInviteRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	backupCodeRepo := repositories.NewBackupCodeRepository(db)
	externalRepo := repositories.NewExternalAccountRepository(db)
	revocationRepo := repositories.NewSessionRevocationRepository(db)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Token crypto and session authority
	tokenCrypto, err := auth.NewTokenCrypto(cfg.MFA.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize token crypto", slog.Any("error", err))
		os.Exit(1)
	}

	totpManager := auth.NewTOTPManager(tokenCrypto, cfg.MFA.Issuer)

	sessions := auth.NewSessionAuthority(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		revocationRepo,
	)

	// Per-email rate limiters for the credential surfaces
	resetLimiter := services.NewFixedWindowRateLimiter(services.RateLimitConfig{
		MaxAttempts: cfg.Reset.RequestsPerHour,
		Window:      time.Hour,
	}, logger)
	loginLimiter := services.NewFixedWindowRateLimiter(services.RateLimitConfig{
		MaxAttempts: 10,
		Window:      15 * time.Minute,
	}, logger)

	// Outbound email: SES in production, the logging sender everywhere else
	var emailService services.EmailService
	if cfg.Email.Provider == "ses" {
		sesService, err := services.NewAWSSESEmailService(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.BaseURL,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		emailService = sesService
	} else {
		emailService = services.NewLogEmailService(cfg.Email.BaseURL, logger)
	}

	// Services
	inviteService := services.NewInviteService(
		inviteRepo,
		userRepo,
		emailService,
		tokenCrypto,
		logger,
		auditLogger,
		services.InviteConfig{
			AdminTTL:       cfg.Invite.AdminTTL,
			SelfServiceTTL: cfg.Invite.SelfServiceTTL,
		},
	)

	resetService := services.NewPasswordResetService(
		resetRepo,
		userRepo,
		revocationRepo,
		db,
		resetLimiter,
		tokenCrypto,
		emailService,
		logger,
		auditLogger,
		services.ResetConfig{TokenTTL: cfg.Reset.TokenTTL},
	)

	mfaService := services.NewMFAService(
		userRepo,
		backupCodeRepo,
		totpManager,
		tokenCrypto,
		db,
		emailService,
		logger,
		auditLogger,
		services.MFAConfig{BackupCodeCount: cfg.MFA.BackupCodeCount},
	)

	authService := services.NewAuthService(
		userRepo,
		inviteService,
		externalRepo,
		sessions,
		revocationRepo,
		mfaService,
		db,
		loginLimiter,
		emailService,
		logger,
		auditLogger,
	)

	// Handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(authService, ipConfig)
	inviteHandler := handlers.NewInviteHandler(inviteService)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	resetHandler := handlers.NewPasswordResetHandler(resetService, ipConfig)

	// Bootstrap first admin user if configured
	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, db, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootstrapCancel()

	// Cleanup manager
	cleanupManager := background.NewCleanupManager(
		revocationRepo,
		resetRepo,
		inviteRepo,
		[]background.LimiterPruner{resetLimiter, loginLimiter},
		logger,
		cfg.Auth.CleanupInterval,
	)

	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.Env)
	corsConfig.AllowedOrigins = cfg.Server.AllowedOrigins

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, sessions, authHandler, inviteHandler, mfaHandler, resetHandler)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and
// ADMIN_PASSWORD are set. Admission is invite-gated everywhere else; this is
// the one account that exists before any invite can be issued.
func ensureAdminUser(ctx context.Context, db *database.DB, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         models.RoleAdmin,
		Status:       models.StatusActive,
	}

	if _, err := userRepo.Create(ctx, db.Pool, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
