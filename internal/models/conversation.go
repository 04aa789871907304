package models

import (
	"fmt"
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	// ConversationStatusActive marks a conversation still collecting answers.
	ConversationStatusActive ConversationStatus = "active"
	// ConversationStatusCompleted marks a conversation that reached the terminal phase.
	ConversationStatusCompleted ConversationStatus = "completed"
	// ConversationStatusAbandoned marks a conversation closed before completion.
	ConversationStatusAbandoned ConversationStatus = "abandoned"
)

// Validate checks that the status is one of the known values.
func (s ConversationStatus) Validate() error {
	switch s {
	case ConversationStatusActive, ConversationStatusCompleted, ConversationStatusAbandoned:
		return nil
	}
	return fmt.Errorf("invalid conversation status %q", s)
}

// Conversation holds the phase pointer of one configurator session.
type Conversation struct {
	ID           string             `json:"id" yaml:"id"`
	CurrentPhase string             `json:"current_phase" yaml:"current_phase"`
	Status       ConversationStatus `json:"status" yaml:"status"`
	CreatedAt    time.Time          `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" yaml:"updated_at"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is an append-only conversation history entry. PhaseID records the
// phase that was active when the message was written, which is how the
// answers given inside one phase are grouped.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ImageURL       string    `json:"image_url,omitempty"`
	PhaseID        string    `json:"phase_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
