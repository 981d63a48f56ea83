package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"shareit/internal/config"
	"shareit/internal/database"
	"shareit/internal/database/postgres"
	"shareit/internal/domain"
	"shareit/internal/logging"

	"github.com/rs/zerolog"
)

const defaultConfigPath = "configs/config.yaml"

// app holds what every command needs: config, root logger and storage.
type app struct {
	cfg    *config.Config
	logger *zerolog.Logger
	closer io.Closer

	repo   domain.Repository
	sqlite *database.DB
	pg     *postgres.Store
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flagDB != "" {
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.Path = flagDB
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

// bootstrap loads config and opens the configured backend. Both backends
// migrate on open.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, closer: closer}
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.Database.Postgres, logging.Component(logger, "postgres"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		a.pg, a.repo = store, store
	default:
		db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init database: %w", err)
		}
		a.sqlite, a.repo = db, db
	}
	return a, nil
}

func (a *app) Close() {
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close storage")
		}
	}
	if a.closer != nil {
		_ = a.closer.Close()
	}
}
