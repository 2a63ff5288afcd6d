package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bdougie/visionstream/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`

	// URL takes precedence over the individual fields when set
	URL string `yaml:"url"`
}

// Enabled reports whether enough is configured to connect.
func (c PostgresConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// ConnString builds the pgx connection string
func (c PostgresConfig) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// PostgresStorage records log entries in PostgreSQL
type PostgresStorage struct {
	pool      *pgxpool.Pool
	sessionID int
	name      string
}

// NewPostgresStorage connects to PostgreSQL and opens a log session named name
func NewPostgresStorage(ctx context.Context, config PostgresConfig, name string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	storage := &PostgresStorage{
		pool: pool,
		name: name,
	}

	sessionID, err := storage.getOrCreateSession(ctx, name)
	if err != nil {
		pool.Close()
		return nil, err
	}
	storage.sessionID = sessionID

	return storage, nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStorage) getOrCreateSession(ctx context.Context, name string) (int, error) {
	var id int
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM log_sessions WHERE name = $1",
		name).Scan(&id)

	if err == nil {
		return id, nil
	} else if err != pgx.ErrNoRows {
		return 0, fmt.Errorf("error checking for existing log session: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		"INSERT INTO log_sessions (name, created_at) VALUES ($1, $2) RETURNING id",
		name, time.Now()).Scan(&id)

	if err != nil {
		return 0, fmt.Errorf("failed to create log session: %w", err)
	}

	return id, nil
}

// AddEntry stores a log entry immediately
func (s *PostgresStorage) AddEntry(ctx context.Context, entry models.LogEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_logs
        (session_id, clock, message, severity, created_at)
        VALUES ($1, $2, $3, $4, $5)`,
		s.sessionID, entry.Time, entry.Message, string(entry.Severity), time.Now())

	if err != nil {
		return fmt.Errorf("failed to store log entry: %w", err)
	}
	return nil
}

// Flush implements the Storage interface - no-op for Postgres as we save immediately
func (s *PostgresStorage) Flush() error {
	return nil
}

// InitSchema creates the database schema if it doesn't exist
func InitSchema(ctx context.Context, config PostgresConfig) error {
	conn, err := pgx.Connect(ctx, config.ConnString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS log_sessions (
            id SERIAL PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(name)
        );

        CREATE TABLE IF NOT EXISTS job_logs (
            id SERIAL PRIMARY KEY,
            session_id INTEGER REFERENCES log_sessions(id) ON DELETE CASCADE,
            clock VARCHAR(8) NOT NULL,
            message TEXT NOT NULL,
            severity VARCHAR(16) NOT NULL,
            created_at TIMESTAMPTZ NOT NULL
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	_, err = conn.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS idx_job_logs_session_id ON job_logs(session_id);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database indexes: %w", err)
	}

	return nil
}
