package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/mbecker/n8nboard/internal/adapter/driven/authapi"
	sqliteadapter "github.com/mbecker/n8nboard/internal/adapter/driven/sqlite"
	httphandler "github.com/mbecker/n8nboard/internal/adapter/driving/http"
	"github.com/mbecker/n8nboard/internal/application"
	"github.com/mbecker/n8nboard/internal/config"
	"github.com/mbecker/n8nboard/internal/domain/port/driven"
	"github.com/mbecker/n8nboard/internal/secret"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on malformed env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"has_env_fallback", cfg.HasFallbackCredentials(),
		"has_auth_provider", cfg.HasAuthProvider(),
		"upstream_timeout", cfg.UpstreamTimeout,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on the writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Build the credential cipher. An absent key disables multi-user
	// credential storage but not the fallback proxy path.
	var masterKey []byte
	if cfg.EncryptionKey != "" {
		masterKey, err = secret.KeyFromBase64(cfg.EncryptionKey)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("CREDENTIALS_ENCRYPTION_KEY not set, per-user credential storage disabled")
	}
	cipher, err := secret.New(masterKey)
	if err != nil {
		return err
	}

	// 6. Wire adapters.
	credentialStore := sqliteadapter.NewCredentialRepo(db)

	var verifier driven.IdentityVerifier
	if cfg.HasAuthProvider() {
		verifier = authapi.NewVerifier(cfg.AuthURL, cfg.AuthServiceKey)
		slog.Info("identity verifier configured", "auth_url", cfg.AuthURL)
	} else {
		slog.Info("no auth provider configured, all requests resolve through the env fallback")
	}

	// 7. Create the resolution and forwarding services.
	resolver := application.NewResolver(
		verifier,
		credentialStore,
		cipher,
		application.FallbackCredentials{BaseURL: cfg.N8NURL, APIKey: cfg.N8NAPIKey},
		slog.Default(),
	)
	forwarder := application.NewForwarder(cfg.UpstreamTimeout, slog.Default())

	// 8. Create the HTTP handler and register routes.
	apiHandler := httphandler.NewHandler(resolver, forwarder, verifier, credentialStore, cipher, cfg.Debug, slog.Default())
	mux := http.NewServeMux()
	httphandler.RegisterRoutes(mux, apiHandler)

	handler := httphandler.ApplyMiddleware(mux, cfg.CORSOrigins(), slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("n8nboard started", "listen_addr", cfg.ListenAddr)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	// 10. Graceful shutdown with a bounded drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
