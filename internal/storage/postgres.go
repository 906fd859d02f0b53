package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"filecrate/internal/models"
)

// PostgresConfig tunes the connection pool backing the Postgres repository.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ApplicationName string
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
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
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id),
			filename TEXT NOT NULL,
			local_path TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			size_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS files_owner_idx ON files (owner_id)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *postgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	email := strings.TrimSpace(params.Email)
	if email == "" {
		return models.User{}, errEmailRequired
	}
	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)
		 RETURNING id, email, password_hash, created_at`,
		id, email, params.PasswordHash,
	)
	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *postgresRepository) FindUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("find user by email: %w", err)
	}
	return user, true, nil
}

func (r *postgresRepository) GetUser(ctx context.Context, id string) (models.User, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`,
		id,
	)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, false, nil
	}
	if err != nil {
		return models.User{}, false, fmt.Errorf("get user: %w", err)
	}
	return user, true, nil
}

func (r *postgresRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (r *postgresRepository) CreateFile(ctx context.Context, params CreateFileParams) (models.FileRecord, error) {
	id, err := generateID()
	if err != nil {
		return models.FileRecord{}, err
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO files (id, owner_id, filename, local_path, content_type, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, owner_id, filename, local_path, content_type, size_bytes, created_at`,
		id, params.OwnerID, params.Filename, params.LocalPath, params.ContentType, params.Size,
	)
	record, err := scanFile(row)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("insert file: %w", err)
	}
	return record, nil
}

func (r *postgresRepository) FindFileByIDAndOwner(ctx context.Context, fileID, ownerID string) (models.FileRecord, bool, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, filename, local_path, content_type, size_bytes, created_at
		 FROM files WHERE id = $1 AND owner_id = $2`,
		fileID, ownerID,
	)
	record, err := scanFile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FileRecord{}, false, nil
	}
	if err != nil {
		return models.FileRecord{}, false, fmt.Errorf("find file: %w", err)
	}
	return record, true, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func scanFile(row pgx.Row) (models.FileRecord, error) {
	var record models.FileRecord
	err := row.Scan(
		&record.ID,
		&record.OwnerID,
		&record.Filename,
		&record.LocalPath,
		&record.ContentType,
		&record.Size,
		&record.CreatedAt,
	)
	if err != nil {
		return models.FileRecord{}, err
	}
	return record, nil
}
