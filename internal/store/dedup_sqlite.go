package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_messages (message_id, sender, received_at) VALUES (?, ?, ?)`,
		messageID, sender, time.Now(),
	)
	if err != nil {
		slog.Error("SQLiteStore RecordInbound failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore RecordInbound duplicate", "messageID", messageID, "sender", sender)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ForgetInbound(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbound_messages WHERE message_id = ?`, messageID); err != nil {
		slog.Error("SQLiteStore ForgetInbound failed", "error", err, "messageID", messageID)
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}
