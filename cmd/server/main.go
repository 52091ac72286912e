package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/growlog/internal/server/dispatch"
	"github.com/iudanet/growlog/internal/server/handlers"
	"github.com/iudanet/growlog/internal/server/idempotency"
	"github.com/iudanet/growlog/internal/server/middleware"
	"github.com/iudanet/growlog/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = 1 * time.Hour
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "growlog-server.db", "Path to SQLite database")
	jwtSecret := flag.String("jwt-secret", os.Getenv("GROWLOG_JWT_SECRET"), "JWT signing secret")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Access token TTL")
	pushURL := flag.String("push-url", "", "Push notification provider URL (empty disables delivery)")
	dispatchInterval := flag.Duration("dispatch-interval", 5*time.Second, "Task dispatch poll interval")
	verbose := flag.Bool("v", false, "Enable debug logging")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if *jwtSecret == "" {
		logger.Error("jwt secret is required (flag -jwt-secret or env GROWLOG_JWT_SECRET)")
		os.Exit(1)
	}

	if err := run(logger, *addr, *dbPath, *jwtSecret, *tokenTTL, *pushURL, *dispatchInterval); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, addr, dbPath, jwtSecret string, tokenTTL time.Duration, pushURL string, dispatchInterval time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	jwtConfig := handlers.JWTConfig{
		Secret:         []byte(jwtSecret),
		AccessTokenTTL: tokenTTL,
	}

	ledger := idempotency.New(store, logger)

	// Доставка уведомлений: внешний провайдер или локальный лог
	var sender dispatch.PushSender
	if pushURL != "" {
		sender = dispatch.NewHTTPPushSender(pushURL)
	} else {
		sender = &logSender{log: logger}
	}

	dispatcher := dispatch.New(store, logger,
		dispatch.NewPushNotificationHandler(sender, logger))

	authHandler := handlers.NewAuthHandler(logger, store, jwtConfig)
	syncHandler := handlers.NewSyncHandler(logger, store, ledger, dispatcher)
	healthHandler := handlers.NewHealthHandler(logger, Version)

	authMW := middleware.AuthMiddleware(logger, jwtConfig)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.Handle("GET /api/v1/sync/pull", authMW(http.HandlerFunc(syncHandler.Pull)))
	mux.Handle("POST /api/v1/sync/push", authMW(http.HandlerFunc(syncHandler.Push)))
	mux.HandleFunc("GET /api/v1/health", healthHandler.Health)

	handler := middleware.RecoveryMiddleware(logger)(
		middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(mux))

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Фоновый цикл обработки очереди задач
	go func() {
		if err := dispatcher.Run(ctx, dispatchInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatcher stopped", "error", err)
		}
	}()

	// Периодическая очистка истёкших idempotency ключей
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := ledger.Sweep(ctx); err != nil {
					logger.Error("idempotency sweep failed", "error", err)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// logSender пишет уведомления в лог вместо отправки провайдеру.
// Используется когда внешний провайдер не сконфигурирован.
type logSender struct {
	log *slog.Logger
}

func (s *logSender) Send(ctx context.Context, note *dispatch.PushNotification) error {
	s.log.Info("push notification (log only)",
		"user_id", note.UserID, "title", note.Title)
	return nil
}

func printVersion() {
	fmt.Printf("Growlog Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
