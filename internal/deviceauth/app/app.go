package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpapi "github.com/ikanisa/deviceauth/internal/deviceauth/http"
	"github.com/ikanisa/deviceauth/internal/deviceauth/service"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
	"github.com/ikanisa/deviceauth/internal/deviceauth/store/drivers/sqlite"
	"github.com/ikanisa/deviceauth/pkg/sigx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application encapsulates the device auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db store.Store

	protocolService *service.ProtocolService
	registryService *service.RegistryService
	housekeeper     *service.Housekeeper
	stopHousekeeper context.CancelFunc

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "deviceauth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	hkCtx, cancel := context.WithCancel(context.Background())
	app.stopHousekeeper = cancel
	go app.housekeeper.Run(hkCtx)

	app.logger.Info("device auth service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down device auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.stopHousekeeper != nil {
		app.stopHousekeeper()
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("device auth service stopped")
	return nil
}

// initDatabase opens the sqlite store and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initServices wires the protocol, registry and housekeeping services.
func (app *Application) initServices() error {
	secret := []byte(app.cfg.ChallengeTokenSecret)
	if len(secret) == 0 {
		// Ephemeral secret: challenge tokens stop validating across restarts,
		// which is acceptable since challenges outlive a restart by at most
		// their TTL.
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate challenge token secret: %w", err)
		}
		app.logger.Warn("DEVICEAUTH_CHALLENGE_TOKEN_SECRET not set, using ephemeral secret")
	}

	tokens, err := service.NewChallengeTokenSigner(secret)
	if err != nil {
		return fmt.Errorf("failed to initialize challenge token signer: %w", err)
	}

	var attestation service.AttestationClient
	if app.cfg.AttestationURL != "" {
		attestation = service.NewHTTPAttestationClient(app.cfg.AttestationURL, app.cfg.AttestationTimeout)
		app.logger.Info("attestation enabled",
			"url", app.cfg.AttestationURL,
			"hard_gate", app.cfg.AttestationHardGate,
		)
	} else if app.cfg.AttestationHardGate {
		return fmt.Errorf("DEVICEAUTH_ATTESTATION_HARD_GATE requires DEVICEAUTH_ATTESTATION_URL")
	}

	app.protocolService = service.NewProtocolService(app.db, sigx.StdVerifier{}, attestation, tokens, service.ProtocolConfig{
		ChallengeTTL:        app.cfg.ChallengeTTL,
		SkewTolerance:       app.cfg.SkewTolerance,
		AttestationHardGate: app.cfg.AttestationHardGate,
	})
	app.registryService = service.NewRegistryService(app.db, attestation)
	app.housekeeper = &service.Housekeeper{
		Store:    app.db,
		Interval: app.cfg.HousekeepingInterval,
		Logger:   app.logger,
	}

	return nil
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)
	router.ProtocolService = app.protocolService
	router.RegistryService = app.registryService
	router.ApplyRoutes()

	app.router = router
	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: router,
	}
}
