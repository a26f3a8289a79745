package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig contains PostgreSQL connection settings. DSN takes
// precedence when set; otherwise the discrete fields are assembled.
type PostgresConfig struct {
	DSN          string        `yaml:"dsn"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	SSLMode      string        `yaml:"ssl_mode"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Database:     "memtier",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// Schema creates the two memory tables. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS individual_memories (
	id              UUID PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	scope_id        TEXT NOT NULL,
	payload         JSONB NOT NULL DEFAULT '{}',
	expires_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (conversation_id, scope_id)
);
CREATE INDEX IF NOT EXISTS idx_individual_memories_expiry
	ON individual_memories (expires_at) WHERE expires_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS shared_memories (
	id              UUID PRIMARY KEY,
	conversation_id TEXT NOT NULL UNIQUE,
	payload         JSONB NOT NULL DEFAULT '{}',
	version         BIGINT NOT NULL DEFAULT 1,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool, verifies connectivity and
// applies the schema.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing database handle. The caller owns
// schema management; used by tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// UpsertIndividual inserts or replaces the row for (conversation, scope).
func (s *PostgresStore) UpsertIndividual(ctx context.Context, row *IndividualRow) error {
	id := row.ID
	if id == "" {
		id = uuid.NewString()
	}

	var expiresAt sql.NullTime
	if !row.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: row.ExpiresAt, Valid: true}
	}

	query := `
		INSERT INTO individual_memories (id, conversation_id, scope_id, payload, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (conversation_id, scope_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, id, row.ConversationID, row.ScopeID, row.Payload, expiresAt); err != nil {
		return fmt.Errorf("upsert individual memory: %w", err)
	}
	return nil
}

// GetIndividual returns the most recently updated row for the key, or
// nil, nil when absent.
func (s *PostgresStore) GetIndividual(ctx context.Context, conversationID, scopeID string) (*IndividualRow, error) {
	query := `
		SELECT id, conversation_id, scope_id, payload, expires_at, created_at, updated_at
		FROM individual_memories
		WHERE conversation_id = $1 AND scope_id = $2
		ORDER BY updated_at DESC
		LIMIT 1`

	row, err := scanIndividual(s.db.QueryRowContext(ctx, query, conversationID, scopeID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query individual memory: %w", err)
	}
	return row, nil
}

// DeleteIndividual removes the row for the key.
func (s *PostgresStore) DeleteIndividual(ctx context.Context, conversationID, scopeID string) error {
	query := `DELETE FROM individual_memories WHERE conversation_id = $1 AND scope_id = $2`
	if _, err := s.db.ExecContext(ctx, query, conversationID, scopeID); err != nil {
		return fmt.Errorf("delete individual memory: %w", err)
	}
	return nil
}

// DeleteIndividualByID removes one row by identity.
func (s *PostgresStore) DeleteIndividualByID(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM individual_memories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete individual memory by id: %w", err)
	}
	return nil
}

// SearchIndividual returns rows in a conversation whose scope matches the
// glob pattern.
func (s *PostgresStore) SearchIndividual(ctx context.Context, conversationID, pattern string) ([]*IndividualRow, error) {
	query := `
		SELECT id, conversation_id, scope_id, payload, expires_at, created_at, updated_at
		FROM individual_memories
		WHERE conversation_id = $1 AND scope_id LIKE $2
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, conversationID, globToLike(pattern))
	if err != nil {
		return nil, fmt.Errorf("search individual memories: %w", err)
	}
	defer rows.Close()

	var out []*IndividualRow
	for rows.Next() {
		row, err := scanIndividual(rows)
		if err != nil {
			return nil, fmt.Errorf("scan individual memory: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListExpiredIndividual returns up to limit rows past their expiry.
func (s *PostgresStore) ListExpiredIndividual(ctx context.Context, now time.Time, limit int) ([]*IndividualRow, error) {
	query := `
		SELECT id, conversation_id, scope_id, payload, expires_at, created_at, updated_at
		FROM individual_memories
		WHERE expires_at IS NOT NULL AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired individual memories: %w", err)
	}
	defer rows.Close()

	var out []*IndividualRow
	for rows.Next() {
		row, err := scanIndividual(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired individual memory: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpsertShared inserts or replaces the conversation row, bumping version
// and reactivating. The version computation happens in SQL so racing
// writers each get a distinct, strictly increasing version.
func (s *PostgresStore) UpsertShared(ctx context.Context, conversationID string, payload []byte) (int64, error) {
	query := `
		INSERT INTO shared_memories (id, conversation_id, payload, version, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, 1, TRUE, NOW(), NOW())
		ON CONFLICT (conversation_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			version = shared_memories.version + 1,
			is_active = TRUE,
			updated_at = NOW()
		RETURNING version`

	var version int64
	if err := s.db.QueryRowContext(ctx, query, uuid.NewString(), conversationID, payload).Scan(&version); err != nil {
		return 0, fmt.Errorf("upsert shared memory: %w", err)
	}
	return version, nil
}

// GetShared returns the row for the conversation, or nil, nil when absent.
func (s *PostgresStore) GetShared(ctx context.Context, conversationID string, activeOnly bool) (*SharedRow, error) {
	query := `
		SELECT id, conversation_id, payload, version, is_active, created_at, updated_at
		FROM shared_memories
		WHERE conversation_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += `
		ORDER BY updated_at DESC
		LIMIT 1`

	var row SharedRow
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&row.ID, &row.ConversationID, &row.Payload, &row.Version,
		&row.IsActive, &row.CreatedAt, &row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query shared memory: %w", err)
	}
	return &row, nil
}

// GetSharedVersion returns the current version without touching payloads.
func (s *PostgresStore) GetSharedVersion(ctx context.Context, conversationID string) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM shared_memories WHERE conversation_id = $1`, conversationID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query shared memory version: %w", err)
	}
	return version, nil
}

// DeactivateShared flips is_active off, leaving version and payload intact.
func (s *PostgresStore) DeactivateShared(ctx context.Context, conversationID string) error {
	query := `UPDATE shared_memories SET is_active = FALSE, updated_at = NOW() WHERE conversation_id = $1`
	if _, err := s.db.ExecContext(ctx, query, conversationID); err != nil {
		return fmt.Errorf("deactivate shared memory: %w", err)
	}
	return nil
}

// SearchShared returns active rows whose conversation id matches the glob
// pattern.
func (s *PostgresStore) SearchShared(ctx context.Context, pattern string) ([]*SharedRow, error) {
	query := `
		SELECT id, conversation_id, payload, version, is_active, created_at, updated_at
		FROM shared_memories
		WHERE is_active = TRUE AND conversation_id LIKE $1
		ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, globToLike(pattern))
	if err != nil {
		return nil, fmt.Errorf("search shared memories: %w", err)
	}
	defer rows.Close()

	var out []*SharedRow
	for rows.Next() {
		var row SharedRow
		if err := rows.Scan(
			&row.ID, &row.ConversationID, &row.Payload, &row.Version,
			&row.IsActive, &row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan shared memory: %w", err)
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

// CountIndividual reports the row count and average payload size.
func (s *PostgresStore) CountIndividual(ctx context.Context) (int, float64, error) {
	var total int
	var avgSize float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(LENGTH(payload::text)), 0) FROM individual_memories`,
	).Scan(&total, &avgSize)
	if err != nil {
		return 0, 0, fmt.Errorf("count individual memories: %w", err)
	}
	return total, avgSize, nil
}

// CountShared reports total/active row counts and the average active
// payload size.
func (s *PostgresStore) CountShared(ctx context.Context) (int, int, float64, error) {
	var total, active int
	var avgSize float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_active),
		       COALESCE(AVG(LENGTH(payload::text)) FILTER (WHERE is_active), 0)
		FROM shared_memories`,
	).Scan(&total, &active, &avgSize)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count shared memories: %w", err)
	}
	return total, active, avgSize, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DBStats exposes connection pool statistics for metrics.
func (s *PostgresStore) DBStats() sql.DBStats {
	return s.db.Stats()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIndividual(r rowScanner) (*IndividualRow, error) {
	var row IndividualRow
	var expiresAt sql.NullTime
	if err := r.Scan(
		&row.ID, &row.ConversationID, &row.ScopeID, &row.Payload,
		&expiresAt, &row.CreatedAt, &row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		row.ExpiresAt = expiresAt.Time
	}
	return &row, nil
}
