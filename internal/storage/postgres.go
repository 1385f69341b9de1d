package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/jonnyallum/safeguardian/internal/config"
)

// PostgresStore persists analyses, alerts, and the user age directory in
// PostgreSQL. It implements AgeDirectory, AnalysisStore, and AlertStore.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore connects to the database and applies pending migrations.
func NewPostgresStore(cfg config.DatabaseConfig, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &PostgresStore{db: db, logger: logger}
	if cfg.MigrationsPath != "" {
		if err := store.runMigrations(cfg.MigrationsPath); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	logger.Info("Database connection established", "host", cfg.Host, "database", cfg.Name)
	return store, nil
}

func (s *PostgresStore) runMigrations(path string) error {
	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// LoadUserAge looks up a user's age in the directory.
func (s *PostgresStore) LoadUserAge(ctx context.Context, userID string) (int, bool) {
	var age int
	err := s.db.GetContext(ctx, &age, "SELECT age FROM users WHERE id = $1", userID)
	if err != nil {
		return 0, false
	}
	return age, true
}

// PersistAnalysis stores a per-message analysis record.
func (s *PostgresStore) PersistAnalysis(ctx context.Context, record *AnalysisRecord) error {
	query := `
		INSERT INTO message_analyses (
			id, session_id, risk_level, confidence, patterns, risk_factors,
			explanation, recommendations, message_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.SessionID,
		record.RiskLevel,
		record.Confidence,
		joinList(record.Patterns),
		joinList(record.RiskFactors),
		record.Explanation,
		joinList(record.Recommendations),
		record.MessageHash,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to persist analysis %s: %w", record.ID, err)
	}
	return nil
}

// PersistAlert upserts an alert snapshot keyed by alert ID. Later snapshots
// of the same alert overwrite status and timestamps.
func (s *PostgresStore) PersistAlert(ctx context.Context, record *AlertRecord) error {
	query := `
		INSERT INTO alerts (
			id, session_id, child_id, severity, status, escalation_level,
			title, description, created_at, acknowledged_at, resolved_at, escalated_to
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			escalation_level = EXCLUDED.escalation_level,
			acknowledged_at = EXCLUDED.acknowledged_at,
			resolved_at = EXCLUDED.resolved_at,
			escalated_to = EXCLUDED.escalated_to`

	_, err := s.db.ExecContext(ctx, query,
		record.AlertID,
		record.SessionID,
		record.ChildID,
		record.Severity,
		record.Status,
		record.EscalationLevel,
		record.Title,
		record.Description,
		record.CreatedAt,
		record.AcknowledgedAt,
		record.ResolvedAt,
		record.EscalatedTo,
	)
	if err != nil {
		return fmt.Errorf("failed to persist alert %s: %w", record.AlertID, err)
	}
	return nil
}

// RecentAnalyses returns the most recent analysis records for a session.
func (s *PostgresStore) RecentAnalyses(ctx context.Context, sessionID string, limit int) ([]*AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows := []*AnalysisRecord{}
	query := `
		SELECT id, session_id, risk_level, confidence, explanation, message_hash, created_at
		FROM message_analyses
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, query, sessionID, limit); err != nil {
		return nil, fmt.Errorf("failed to load analyses for session %s: %w", sessionID, err)
	}
	return rows, nil
}

// Ping verifies database connectivity for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func joinList(items []string) string {
	return strings.Join(items, "|")
}
