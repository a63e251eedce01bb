package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/videobox/videobox/internal/database"
	"github.com/videobox/videobox/internal/email"
	"github.com/videobox/videobox/internal/geoip"
	"github.com/videobox/videobox/internal/server"
	"github.com/videobox/videobox/internal/share"
	"github.com/videobox/videobox/internal/storage"
	"github.com/videobox/videobox/internal/video"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("LOG_LEVEL")),
	})))

	if err := run(); err != nil {
		slog.Error("videobox: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	port := getEnv("PORT", "8080")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(databaseURL); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	slog.Info("database migrations applied")

	maxUploadBytes := getEnvInt64("MAX_UPLOAD_BYTES", 500*1024*1024)
	store, err := storage.New(ctx, storage.Config{
		Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:3900"),
		PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
		Bucket:         getEnv("S3_BUCKET", "videobox"),
		AccessKey:      os.Getenv("S3_ACCESS_KEY"),
		SecretKey:      os.Getenv("S3_SECRET_KEY"),
		Region:         getEnv("S3_REGION", "eu-central-1"),
		MaxUploadBytes: maxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("storage bucket check failed: %w", err)
	}

	baseURL := getEnv("BASE_URL", "http://localhost:8080")
	if err := store.SetCORS(ctx, []string{baseURL}); err != nil {
		slog.Warn("storage: could not set bucket CORS", "error", err)
	}
	slog.Info("storage bucket ready")

	var geo share.CountryLookup
	if path := os.Getenv("GEOIP_DB_PATH"); path != "" {
		resolver, err := geoip.New(path)
		if err != nil {
			slog.Warn("geoip: database unavailable, view countries disabled", "error", err)
		} else {
			defer func() { _ = resolver.Close() }()
			geo = resolver
		}
	}

	var webFS fs.FS
	if dir := os.Getenv("WEB_DIR"); dir != "" {
		webFS = os.DirFS(dir)
		slog.Info("serving front end", "dir", dir)
	}

	emailClient := email.New(email.Config{
		BaseURL:              os.Getenv("LISTMONK_URL"),
		Username:             getEnv("LISTMONK_USER", "admin"),
		Password:             os.Getenv("LISTMONK_PASSWORD"),
		ActivationTemplateID: int(getEnvInt64("LISTMONK_ACTIVATION_TEMPLATE_ID", 0)),
		ResetTemplateID:      int(getEnvInt64("LISTMONK_RESET_TEMPLATE_ID", 0)),
		ShareTemplateID:      int(getEnvInt64("LISTMONK_SHARE_TEMPLATE_ID", 0)),
		Allowlist:            email.ParseAllowlist(os.Getenv("EMAIL_ALLOWLIST")),
	})

	srv, err := server.New(server.Config{
		DB:                    db.Pool,
		Pinger:                db,
		Storage:               store,
		WebFS:                 webFS,
		JWTSecret:             jwtSecret,
		BaseURL:               baseURL,
		MaxUploadBytes:        maxUploadBytes,
		PlaybackURLTTL:        getEnvDuration("PLAYBACK_URL_TTL", time.Hour),
		S3PublicEndpoint:      os.Getenv("S3_PUBLIC_ENDPOINT"),
		AllowedFrameAncestors: os.Getenv("FRAME_ANCESTORS"),
		Mailer:                emailClient,
		Geo:                   geo,
		Share: server.ShareConfig{
			AllowOpenShares:       getEnvBool("SHARE_ALLOW_OPEN", false),
			RequireRecipientMatch: getEnvBool("SHARE_REQUIRE_RECIPIENT", true),
			CallTimeout:           getEnvDuration("SHARE_CALL_TIMEOUT", 5*time.Second),
		},
	})
	if err != nil {
		return err
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	video.StartCleanupLoop(cleanupCtx, db.Pool, store, 10*time.Minute)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("videobox listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return err
	case <-shutdownCh:
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	cleanupCancel()
	srv.Wait()
	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
