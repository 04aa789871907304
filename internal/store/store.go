// Package store provides storage backends for the configurator.
//
// It includes an in-memory store for tests and development and persistent
// SQLite and PostgreSQL stores. All backends share the same semantics:
// configuration data is one JSON document per conversation, updated through
// RFC 7396 merge patches, and phase transitions are guarded by the phase the
// caller expects to move away from.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/spapperi/configurator/internal/models"
)

// ErrStaleTransition is returned by ApplyTransition when the conversation is
// no longer in the phase the transition starts from.
var ErrStaleTransition = errors.New("conversation phase changed since it was read")

// ErrConversationNotFound is returned by write operations on unknown conversations.
var ErrConversationNotFound = errors.New("conversation not found")

// Transition is an atomic phase advance together with the configuration
// update that the completed phase produced.
type Transition struct {
	ConversationID string
	From           string
	To             string
	Update         models.ConfigurationUpdate
	// Complete marks the conversation completed and the configuration complete.
	Complete bool
}

// Store defines the persistence operations the configurator needs.
type Store interface {
	CreateConversation(ctx context.Context, conv models.Conversation) error
	// GetConversation returns nil, nil when the conversation does not exist.
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error)
	UpdateConversationPhase(ctx context.Context, id, phase string) error
	UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error
	MarkComplete(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]models.Message, error)

	// GetConfigurationData returns nil, nil when nothing was saved yet.
	GetConfigurationData(ctx context.Context, conversationID string) (*models.ConfigurationData, error)
	// SaveConfigurationData creates the record if absent and merges the update otherwise.
	SaveConfigurationData(ctx context.Context, conversationID string, update models.ConfigurationUpdate) error

	ApplyTransition(ctx context.Context, t Transition) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string or file path
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DSN kinds returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite"
	DSNTypeMemory   = "memory"
)

// DetectDSNType classifies a DSN as postgres, sqlite or memory.
func DetectDSNType(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	switch {
	case trimmed == ":memory:":
		return DSNTypeMemory
	case strings.HasPrefix(trimmed, "postgres://"),
		strings.HasPrefix(trimmed, "postgresql://"),
		strings.Contains(trimmed, "host="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Open builds the backend matching the DSN. An empty DSN or ":memory:"
// yields an in-memory store.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case DSNTypePostgres:
		return NewPostgresStore(WithPostgresDSN(dsn))
	case DSNTypeMemory:
		return NewInMemoryStore(), nil
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}
