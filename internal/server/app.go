// Package server wires the credkeeper server together: configuration,
// logging, key material, storage, the credential services and the gRPC
// endpoint, and runs them until the process is asked to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/config"
	"github.com/dmitrijs2005/credkeeper/internal/server/keys"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"
	"github.com/dmitrijs2005/credkeeper/internal/server/validation"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/credkeeper/internal/server/grpc"
)

// Log file rotation limits used when log_file is set.
const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	logCloser   io.Closer
	db          *sql.DB
	tokens      *services.RefreshTokenManager
	userService *services.UserService
}

// NewApp validates c and builds every dependency. Any failure here is fatal:
// the server never starts with missing keys or an unreachable database.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Format:     c.LogFormat,
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSizeMB:  logMaxSizeMB,
		MaxBackups: logMaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}

	app := &App{config: c, logger: logger, logCloser: logCloser}
	if err := app.init(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) init(ctx context.Context) error {
	c := app.config

	material, err := keys.NewLoader(keys.S3Options{
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
		AccessKey:    c.S3AccessKey,
		SecretKey:    c.S3SecretKey,
	}).Load(ctx, keys.Locations{
		SigningKey: c.SigningKeyPath,
		PublicKey:  c.PublicKeyPath,
		HMACSecret: c.HMACSecretPath,
	})
	if err != nil {
		return fmt.Errorf("key material: %w", err)
	}

	passwords, err := auth.NewPasswordHasher(c.PasswordAlgorithm, c.BcryptCost)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}

	hasher, err := auth.NewTokenHasher(material.HMACSecret, c.HMACAlgorithm)
	if err != nil {
		return fmt.Errorf("token hasher: %w", err)
	}

	issuer, err := auth.NewAccessTokenIssuer(material.SigningKey, material.PublicKey,
		c.Issuer, c.Audience, c.AccessTokenValidityDuration, auth.WithLogger(app.logger))
	if err != nil {
		return fmt.Errorf("access token issuer: %w", err)
	}

	rm, err := repomanager.New(c.DatabaseDriver)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}

	app.db, err = repomanager.Open(ctx, c.DatabaseDriver, c.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db init error: %w", err)
	}

	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("db migrations error: %w", err)
	}

	app.tokens = services.NewRefreshTokenManager(app.db, rm, hasher, c.RefreshTokenValidityDuration,
		services.WithTokenLogger(app.logger),
		services.WithFamilyRevocationOnReplay(c.RevokeFamilyOnReplay),
	)
	app.userService = services.NewUserService(app.db, rm, passwords, issuer, app.tokens, validation.New(), app.logger)

	return nil
}

// Close releases the database and the log file.
func (app *App) Close() error {
	var errs []error
	if app.db != nil {
		errs = append(errs, app.db.Close())
	}
	if app.logCloser != nil {
		errs = append(errs, app.logCloser.Close())
	}
	return errors.Join(errs...)
}

func (app *App) initSignalHandler(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
}

// Run serves gRPC and sweeps expired refresh tokens until ctx is done or a
// termination signal arrives. The first component to fail stops the rest.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := app.initSignalHandler(ctx)
	defer stop()

	app.logger.Info(ctx, "Starting app...", "addr", app.config.EndpointAddrGRPC, "driver", app.config.DatabaseDriver)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.userService)
		return s.Run(ctx)
	})

	if app.config.SweepInterval > 0 {
		g.Go(func() error {
			return app.tokens.RunSweeper(ctx, app.config.SweepInterval)
		})
	}

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "app stopped with error", "error", err)
	} else {
		app.logger.Info(ctx, "app stopped")
	}
	return err
}
