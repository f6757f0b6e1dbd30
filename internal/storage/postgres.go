package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegate/internal/biometric"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	return newPostgresStore(ctx, poolCfg)
}

// NewPostgresStoreFromURL connects using a full connection string.
func NewPostgresStoreFromURL(ctx context.Context, url string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	return newPostgresStore(ctx, poolCfg)
}

func newPostgresStore(ctx context.Context, poolCfg *pgxpool.Config) (*PostgresStore, error) {
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist. embeddingDim fixes the vector column width.
func (s *PostgresStore) Migrate(ctx context.Context, embeddingDim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS identities (
			id            UUID PRIMARY KEY,
			name          TEXT NOT NULL,
			date_of_birth TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			salary        TEXT NOT NULL DEFAULT '',
			embedding     vector(%d),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, embeddingDim),
		`
		CREATE TABLE IF NOT EXISTS auth_events (
			id          UUID PRIMARY KEY,
			kind        TEXT NOT NULL,
			email       TEXT NOT NULL,
			identity_id UUID,
			outcome     TEXT NOT NULL,
			distance    DOUBLE PRECISION,
			timestamp   TIMESTAMPTZ NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS auth_events_timestamp_idx ON auth_events (timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS auth_events_email_idx ON auth_events (email)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// --- Identities ---

// CreateIdentity inserts id and returns biometric.ErrDuplicateIdentity when the
// email is already taken. The conflict check and the insert are one statement.
func (s *PostgresStore) CreateIdentity(ctx context.Context, id *models.Identity) error {
	id.ID = uuid.New()
	id.Email = models.NormalizeEmail(id.Email)

	var vec *pgvector.Vector
	if id.HasEmbedding() {
		v := pgvector.NewVector(id.Embedding)
		vec = &v
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (id, name, date_of_birth, email, salary, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (email) DO NOTHING
		 RETURNING created_at`,
		id.ID, id.Name, id.DateOfBirth, id.Email, id.Salary, vec,
	).Scan(&id.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.Is(err, pgx.ErrNoRows) || (errors.As(err, &pgErr) && pgErr.Code == uniqueViolation) {
			return biometric.ErrDuplicateIdentity
		}
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIdentityByEmail(ctx context.Context, email string) (*models.Identity, error) {
	return s.getIdentity(ctx, `WHERE email = $1`, models.NormalizeEmail(email))
}

func (s *PostgresStore) GetIdentity(ctx context.Context, id uuid.UUID) (*models.Identity, error) {
	return s.getIdentity(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) getIdentity(ctx context.Context, where string, arg any) (*models.Identity, error) {
	var (
		id  models.Identity
		raw *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, date_of_birth, email, salary, embedding::text, created_at
		 FROM identities `+where, arg,
	).Scan(&id.ID, &id.Name, &id.DateOfBirth, &id.Email, &id.Salary, &raw, &id.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}

	if raw != nil {
		var vec pgvector.Vector
		if err := vec.Scan(*raw); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		id.Embedding = vec.Slice()
	}
	return &id, nil
}

// --- Auth events ---

// CreateAuthEvent stores ev. Redelivered events with a known ID are ignored and
// reported with inserted false.
func (s *PostgresStore) CreateAuthEvent(ctx context.Context, ev *models.AuthEvent) (inserted bool, err error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO auth_events (id, kind, email, identity_id, outcome, distance, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Kind, ev.Email, ev.IdentityID, ev.Outcome, ev.Distance, ev.Timestamp)
	if err != nil {
		return false, fmt.Errorf("create auth event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListAuthEvents returns one page of events, newest first, plus the total matching count.
func (s *PostgresStore) ListAuthEvents(ctx context.Context, f EventFilter) ([]models.AuthEvent, int, error) {
	f = f.normalized()

	baseWhere := "WHERE TRUE"
	var args []any
	argIdx := 1

	if f.Email != "" {
		baseWhere += fmt.Sprintf(" AND email = $%d", argIdx)
		args = append(args, f.Email)
		argIdx++
	}
	if f.Kind != "" {
		baseWhere += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, f.Kind)
		argIdx++
	}
	if f.Outcome != "" {
		baseWhere += fmt.Sprintf(" AND outcome = $%d", argIdx)
		args = append(args, f.Outcome)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM auth_events "+baseWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count auth events: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT id, kind, email, identity_id, outcome, distance, timestamp, created_at
		 FROM auth_events %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query auth events: %w", err)
	}
	defer rows.Close()

	events := []models.AuthEvent{}
	for rows.Next() {
		var ev models.AuthEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Email, &ev.IdentityID, &ev.Outcome,
			&ev.Distance, &ev.Timestamp, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan auth event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate auth events: %w", err)
	}
	return events, total, nil
}
