// Package store provides storage backends for the configurator.
//
// This file implements an SQLite-backed store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spapperi/configurator/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers and keeps transactions from
	// failing with "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv models.Conversation) error {
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
		`INSERT INTO conversations (id, current_phase, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.CurrentPhase, conv.Status, conv.CreatedAt, now); err != nil {
		slog.Error("SQLiteStore CreateConversation failed", "error", err, "conversationID", conv.ID)
		return fmt.Errorf("failed to insert conversation %s: %w", conv.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO configurations (conversation_id, data, is_complete, updated_at) VALUES (?, ?, 0, ?)`,
		conv.ID, string(emptyDocument), now); err != nil {
		slog.Error("SQLiteStore CreateConversation configuration insert failed", "error", err, "conversationID", conv.ID)
		return fmt.Errorf("failed to insert configuration for %s: %w", conv.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation %s: %w", conv.ID, err)
	}
	slog.Debug("SQLiteStore CreateConversation succeeded", "conversationID", conv.ID, "phase", conv.CurrentPhase)
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, current_phase, status, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.CurrentPhase, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "conversationID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "conversationID", id)
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error) {
	query := `SELECT id, current_phase, status, created_at, updated_at FROM conversations`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

func (s *SQLiteStore) UpdateConversationPhase(ctx context.Context, id, phase string) error {
	return s.updateConversation(ctx, id, `UPDATE conversations SET current_phase = ?, updated_at = ? WHERE id = ?`, phase, time.Now(), id)
}

func (s *SQLiteStore) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	return s.updateConversation(ctx, id, `UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`, status, time.Now(), id)
}

func (s *SQLiteStore) updateConversation(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore update conversation failed", "error", err, "conversationID", id)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	slog.Debug("SQLiteStore update conversation succeeded", "conversationID", id)
	return nil
}

func (s *SQLiteStore) MarkComplete(ctx context.Context, id string) error {
	conv, err := s.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return s.ApplyTransition(ctx, Transition{ConversationID: id, From: conv.CurrentPhase, To: conv.CurrentPhase, Complete: true})
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, role, content, image_url, phase_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.Role, msg.Content, nilIfEmpty(msg.ImageURL), nilIfEmpty(msg.PhaseID), msg.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "conversationID", msg.ConversationID)
		return msg, fmt.Errorf("failed to insert message for %s: %w", msg.ConversationID, err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return msg, fmt.Errorf("failed to read message id: %w", err)
	}
	slog.Debug("SQLiteStore AppendMessage succeeded", "conversationID", msg.ConversationID, "role", msg.Role, "phase", msg.PhaseID)
	return msg, nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, image_url, phase_id, created_at FROM messages WHERE conversation_id = ? ORDER BY id`,
		conversationID)
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	messages, err := scanMessages(rows)
	if err != nil {
		slog.Error("SQLiteStore GetMessages scan failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	slog.Debug("SQLiteStore GetMessages succeeded", "conversationID", conversationID, "count", len(messages))
	return messages, nil
}

func (s *SQLiteStore) GetConfigurationData(ctx context.Context, conversationID string) (*models.ConfigurationData, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM configurations WHERE conversation_id = ?`, conversationID).Scan(&doc)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConfigurationData not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConfigurationData failed", "error", err, "conversationID", conversationID)
		return nil, err
	}
	return decodeConfiguration([]byte(doc))
}

func (s *SQLiteStore) SaveConfigurationData(ctx context.Context, conversationID string, update models.ConfigurationUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := sqliteMergeConfiguration(ctx, tx, conversationID, update, false); err != nil {
		slog.Error("SQLiteStore SaveConfigurationData failed", "error", err, "conversationID", conversationID)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit configuration for %s: %w", conversationID, err)
	}
	slog.Debug("SQLiteStore SaveConfigurationData succeeded", "conversationID", conversationID)
	return nil
}

func (s *SQLiteStore) ApplyTransition(ctx context.Context, t Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT current_phase FROM conversations WHERE id = ?`, t.ConversationID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, t.ConversationID)
	}
	if err != nil {
		return fmt.Errorf("failed to read conversation phase: %w", err)
	}
	if current != t.From {
		slog.Warn("SQLiteStore ApplyTransition stale", "conversationID", t.ConversationID, "expected", t.From, "found", current)
		return fmt.Errorf("%w: expected %s, found %s", ErrStaleTransition, t.From, current)
	}

	if err := sqliteMergeConfiguration(ctx, tx, t.ConversationID, t.Update, t.Complete); err != nil {
		slog.Error("SQLiteStore ApplyTransition merge failed", "error", err, "conversationID", t.ConversationID)
		return err
	}

	status := models.ConversationStatusActive
	if t.Complete {
		status = models.ConversationStatusCompleted
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET current_phase = ?, status = CASE WHEN ? THEN ? ELSE status END, updated_at = ? WHERE id = ?`,
		t.To, t.Complete, status, time.Now(), t.ConversationID); err != nil {
		slog.Error("SQLiteStore ApplyTransition phase update failed", "error", err, "conversationID", t.ConversationID)
		return fmt.Errorf("failed to update conversation phase: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	slog.Debug("SQLiteStore ApplyTransition succeeded", "conversationID", t.ConversationID, "from", t.From, "to", t.To, "complete", t.Complete)
	return nil
}

func sqliteMergeConfiguration(ctx context.Context, tx *sql.Tx, conversationID string, update models.ConfigurationUpdate, complete bool) error {
	var doc string
	err := tx.QueryRowContext(ctx, `SELECT data FROM configurations WHERE conversation_id = ?`, conversationID).Scan(&doc)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	merged, err := mergeConfiguration([]byte(doc), update, complete)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO configurations (conversation_id, data, is_complete, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET
			data = excluded.data,
			is_complete = MAX(configurations.is_complete, excluded.is_complete),
			updated_at = excluded.updated_at`,
		conversationID, string(merged), complete, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert configuration: %w", err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
