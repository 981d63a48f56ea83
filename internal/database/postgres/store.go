// Package postgres is the PostgreSQL storage backend. Booking creation runs
// in a SERIALIZABLE transaction; serialization failures surface as
// domain.ErrConflict.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shareit/internal/config"
	"shareit/internal/domain"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	dialectPostgres = "postgres"

	tableUsers     = "users"
	tableItems     = "items"
	tableBookings  = "bookings"
	tableComments  = "comments"
	tableSyncQueue = "sync_queue"

	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

type Store struct {
	pool    *pgxpool.Pool
	builder goqu.DialectWrapper
	logger  *zerolog.Logger
}

var _ domain.Repository = (*Store)(nil)

// PoolConfig builds a pgxpool config from the application config.
func PoolConfig(cfg config.PostgresConfig) (*pgxpool.Config, error) {
	const (
		defaultMaxConnIdleTime   = 5 * time.Minute
		defaultHealthCheckPeriod = time.Minute
		defaultConnectTimeout    = 5 * time.Second
	)

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	poolCfg.MaxConnIdleTime = defaultMaxConnIdleTime
	poolCfg.HealthCheckPeriod = defaultHealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = defaultConnectTimeout
	return poolCfg, nil
}

// Open connects, verifies the connection and applies migrations.
func Open(ctx context.Context, cfg config.PostgresConfig, logger *zerolog.Logger) (*Store, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := New(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run postgres migrations: %w", err)
	}
	s.logger.Info().Str("host", poolCfg.ConnConfig.Host).Str("database", poolCfg.ConnConfig.Database).Msg("postgres initialized")
	return s, nil
}

func New(pool *pgxpool.Pool, logger *zerolog.Logger) *Store {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Store{
		pool:    pool,
		builder: goqu.Dialect(dialectPostgres),
		logger:  logger,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type sqlBuilder interface {
	ToSQL() (string, []interface{}, error)
}

// render turns a goqu dataset into a parameterised statement.
func render(ds sqlBuilder) (string, []any, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, fmt.Errorf("build query: %w", err)
	}
	return query, args, nil
}

// mapError translates PostgreSQL errors into domain kinds.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrConflict, pgErr.Message)
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrAlreadyExists, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: referenced record missing", op, domain.ErrNotFound)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}
