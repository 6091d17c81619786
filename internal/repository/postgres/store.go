package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/kmulambia/qgen-engine/internal/config"
	"github.com/kmulambia/qgen-engine/internal/repository"
	"github.com/kmulambia/qgen-engine/internal/repository/postgres/migrations"
	"github.com/kmulambia/qgen-engine/internal/util"
)

// DBTX is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx, so
// every repository works inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed repository.Store. Connections come from a
// bounded pool sized by config.
type Store struct {
	pool *pgxpool.Pool
	url  string
}

func NewStore(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	util.Info("Postgres pool initialized",
		util.String("host", cfg.Host),
		util.String("database", cfg.Database),
		util.Int("max_conns", cfg.MaxConns))

	return &Store{pool: pool, url: cfg.URL()}, nil
}

// Migrate applies embedded goose migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db, err := sql.Open("pgx", s.url)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// WithinTx runs fn inside one transaction, committing only when fn returns
// nil.
func (s *Store) WithinTx(ctx context.Context, fn func(r repository.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(newRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Repositories returns a repository set bound to the pool, with each
// statement auto-committed.
func (s *Store) Repositories() repository.Repositories {
	return newRepositories(s.pool)
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
	util.Info("Postgres pool closed")
}

func newRepositories(db DBTX) repository.Repositories {
	return repository.Repositories{
		Users:       &UserRepository{db: db},
		Workspaces:  &WorkspaceRepository{db: db},
		Credentials: &CredentialRepository{db: db},
		Tokens:      &TokenRepository{db: db},
		OTPs:        &OTPRepository{db: db},
		Audits:      &AuditRepository{db: db},
	}
}
