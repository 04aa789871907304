package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/spapperi/configurator/internal/models"
)

// InMemoryStore keeps conversations, messages and configuration documents in
// process memory. It is safe for concurrent use.
type InMemoryStore struct {
	mu             sync.RWMutex
	conversations  map[string]models.Conversation
	messages       map[string][]models.Message
	configurations map[string][]byte
	inbound        map[string]time.Time
	nextMessageID  int64
	now            func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations:  make(map[string]models.Conversation),
		messages:       make(map[string][]models.Message),
		configurations: make(map[string][]byte),
		inbound:        make(map[string]time.Time),
		now:            time.Now,
	}
}

func (s *InMemoryStore) CreateConversation(ctx context.Context, conv models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conv.ID)
	}
	now := s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	if conv.Status == "" {
		conv.Status = models.ConversationStatusActive
	}
	s.conversations[conv.ID] = conv
	if _, ok := s.configurations[conv.ID]; !ok {
		s.configurations[conv.ID] = emptyDocument
	}
	slog.Debug("InMemoryStore CreateConversation succeeded", "conversationID", conv.ID, "phase", conv.CurrentPhase)
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

func (s *InMemoryStore) ListConversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if status == "" || c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) UpdateConversationPhase(ctx context.Context, id, phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	conv.CurrentPhase = phase
	conv.UpdatedAt = s.now()
	s.conversations[id] = conv
	return nil
}

func (s *InMemoryStore) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) error {
	if err := status.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	conv.Status = status
	conv.UpdatedAt = s.now()
	s.conversations[id] = conv
	return nil
}

func (s *InMemoryStore) MarkComplete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	merged, err := mergeConfiguration(s.configurations[id], models.ConfigurationUpdate{}, true)
	if err != nil {
		return err
	}
	conv.Status = models.ConversationStatusCompleted
	conv.UpdatedAt = s.now()
	s.conversations[id] = conv
	s.configurations[id] = merged
	return nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID++
	msg.ID = s.nextMessageID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

func (s *InMemoryStore) GetMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.messages[conversationID]
	out := make([]models.Message, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *InMemoryStore) GetConfigurationData(ctx context.Context, conversationID string) (*models.ConfigurationData, error) {
	s.mu.RLock()
	doc, ok := s.configurations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeConfiguration(doc)
}

func (s *InMemoryStore) SaveConfigurationData(ctx context.Context, conversationID string, update models.ConfigurationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged, err := mergeConfiguration(s.configurations[conversationID], update, false)
	if err != nil {
		slog.Error("InMemoryStore SaveConfigurationData failed", "error", err, "conversationID", conversationID)
		return err
	}
	s.configurations[conversationID] = merged
	return nil
}

func (s *InMemoryStore) ApplyTransition(ctx context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[t.ConversationID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, t.ConversationID)
	}
	if conv.CurrentPhase != t.From {
		return fmt.Errorf("%w: expected %s, found %s", ErrStaleTransition, t.From, conv.CurrentPhase)
	}
	merged, err := mergeConfiguration(s.configurations[t.ConversationID], t.Update, t.Complete)
	if err != nil {
		return err
	}
	conv.CurrentPhase = t.To
	if t.Complete {
		conv.Status = models.ConversationStatusCompleted
	}
	conv.UpdatedAt = s.now()
	s.conversations[t.ConversationID] = conv
	s.configurations[t.ConversationID] = merged
	slog.Debug("InMemoryStore ApplyTransition succeeded", "conversationID", t.ConversationID, "from", t.From, "to", t.To)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
