package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/spapperi/configurator/internal/models"
)

// emptyDocument is the configuration document of a fresh conversation.
var emptyDocument = []byte(`{}`)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// mergeConfiguration applies the update to the stored document. When
// complete is true the document is also flagged complete.
func mergeConfiguration(existing []byte, update models.ConfigurationUpdate, complete bool) ([]byte, error) {
	if complete {
		done := true
		update.Complete = &done
	}
	if len(existing) == 0 {
		existing = emptyDocument
	}
	patch, err := update.MergePatch()
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(existing, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to merge configuration update: %w", err)
	}
	return merged, nil
}

// decodeConfiguration turns a stored document into ConfigurationData.
func decodeConfiguration(doc []byte) (*models.ConfigurationData, error) {
	var data models.ConfigurationData
	if len(doc) == 0 {
		return &data, nil
	}
	if err := json.Unmarshal(doc, &data); err != nil {
		return nil, fmt.Errorf("failed to decode configuration document: %w", err)
	}
	return &data, nil
}

// scanMessages reads message rows in the column order used by both SQL backends.
func scanMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var imageURL, phaseID sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &imageURL, &phaseID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message failed: %w", err)
		}
		m.ImageURL = imageURL.String
		m.PhaseID = phaseID.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows failed: %w", err)
	}
	return messages, nil
}

// scanConversations reads conversation rows in the column order used by both SQL backends.
func scanConversations(rows *sql.Rows) ([]models.Conversation, error) {
	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.CurrentPhase, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation failed: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows failed: %w", err)
	}
	return conversations, nil
}
