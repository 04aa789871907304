// Package store provides storage backends for the configurator.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/spapperi/configurator/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv models.Conversation) error {
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.Status == "" {
		conv.Status = models.ConversationStatusActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, current_phase, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.CurrentPhase, conv.Status, conv.CreatedAt, now); err != nil {
		slog.Error("PostgresStore CreateConversation failed", "error", err, "conversationID", conv.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", conv.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO configurations (conversation_id, data, is_complete, updated_at) VALUES ($1, $2::jsonb, FALSE, $3)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		conv.ID, string(emptyDocument), now); err != nil {
		slog.Error("PostgresStore CreateConversation configuration insert failed", "error", err, "conversationID", conv.ID)
		return fmt.Errorf("failed to insert configuration for %s: %w", conv.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation %s: %w", conv.ID, err)
	}
	slog.Debug("PostgresStore CreateConversation succeeded", "conversationID", conv.ID, "phase", conv.CurrentPhase)
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, current_phase, status, created_at, updated_at FROM conversations WHERE id = $1`, id).
		Scan(&c.ID, &c.CurrentPhase, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "conversationID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "conversationID", id)
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error) {
	query := `SELECT id, current_phase, status, created_at, updated_at FROM conversations`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

func (s *PostgresStore) UpdateConversationPhase(ctx context.Context, id, phase string) error {
	return s.updateConversation(ctx, id, `UPDATE conversations SET current_phase = $1, updated_at = $2 WHERE id = $3`, phase, time.Now(), id)
}

func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	return s.updateConversation(ctx, id, `UPDATE conversations SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
}

func (s *PostgresStore) updateConversation(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore update conversation failed", "error", err, "conversationID", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	slog.Debug("PostgresStore update conversation succeeded", "conversationID", id)
	return nil
}

func (s *PostgresStore) MarkComplete(ctx context.Context, id string) error {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return s.ApplyTransition(ctx, Transition{ConversationID: id, From: conv.CurrentPhase, To: conv.CurrentPhase, Complete: true})
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, image_url, phase_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		msg.ConversationID, msg.Role, msg.Content, nilIfEmpty(msg.ImageURL), nilIfEmpty(msg.PhaseID), msg.CreatedAt).
		Scan(&msg.ID)
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "conversationID", msg.ConversationID)
		return msg, fmt.Errorf("failed to insert message for %s: %w", msg.ConversationID, err)
	}
	slog.Debug("PostgresStore AppendMessage succeeded", "conversationID", msg.ConversationID, "role", msg.Role, "phase", msg.PhaseID)
	return msg, nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, image_url, phase_id, created_at FROM messages WHERE conversation_id = $1 ORDER BY id`,
		conversationID)
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) GetConfigurationData(ctx context.Context, conversationID string) (*models.ConfigurationData, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM configurations WHERE conversation_id = $1`, conversationID).Scan(&doc)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConfigurationData not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConfigurationData failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	return decodeConfiguration(doc)
}

func (s *PostgresStore) SaveConfigurationData(ctx context.Context, conversationID string, update models.ConfigurationUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := postgresMergeConfiguration(ctx, tx, conversationID, update, false); err != nil {
		slog.Error("PostgresStore SaveConfigurationData failed", "error", err, "conversationID", conversationID)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit configuration for %s: %w", conversationID, err)
	}
	slog.Debug("PostgresStore SaveConfigurationData succeeded", "conversationID", conversationID)
	return nil
}

func (s *PostgresStore) ApplyTransition(ctx context.Context, t Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT current_phase FROM conversations WHERE id = $1 FOR UPDATE`, t.ConversationID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, t.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock conversation: %w", err)
	}
	if current != t.From {
		slog.Warn("PostgresStore ApplyTransition stale", "conversationID", t.ConversationID, "expected", t.From, "found", current)
		return fmt.Errorf("%w: expected %s, found %s", ErrStaleTransition, t.From, current)
	}

	if err := postgresMergeConfiguration(ctx, tx, t.ConversationID, t.Update, t.Complete); err != nil {
		slog.Error("PostgresStore ApplyTransition merge failed", "error", err, "conversationID", t.ConversationID)
		return err
	}

	query := `UPDATE conversations SET current_phase = $1, updated_at = $2 WHERE id = $3`
	args := []interface{}{t.To, time.Now(), t.ConversationID}
	if t.Complete {
		query = `UPDATE conversations SET current_phase = $1, updated_at = $2, status = $4 WHERE id = $3`
		args = append(args, models.ConversationStatusCompleted)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		slog.Error("PostgresStore ApplyTransition phase update failed", "error", err, "conversationID", t.ConversationID)
		return fmt.Errorf("failed to update conversation phase: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	slog.Debug("PostgresStore ApplyTransition succeeded", "conversationID", t.ConversationID, "from", t.From, "to", t.To, "complete", t.Complete)
	return nil
}

func postgresMergeConfiguration(ctx context.Context, tx *sql.Tx, conversationID string, update models.ConfigurationUpdate, complete bool) error {
	var doc []byte
	err := tx.QueryRowContext(ctx, `SELECT data FROM configurations WHERE conversation_id = $1 FOR UPDATE`, conversationID).Scan(&doc)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	merged, err := mergeConfiguration(doc, update, complete)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO configurations (conversation_id, data, is_complete, updated_at) VALUES ($1, $2::jsonb, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE SET
			data = EXCLUDED.data,
			is_complete = configurations.is_complete OR EXCLUDED.is_complete,
			updated_at = EXCLUDED.updated_at`,
		conversationID, string(merged), complete, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert configuration: %w", err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}
