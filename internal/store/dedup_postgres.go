package store

import (
	"context"
	"fmt"
	"log/slog"
)

func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_messages (message_id, sender) VALUES ($1, $2) ON CONFLICT (message_id) DO NOTHING`,
		messageID, sender,
	)
	if err != nil {
		slog.Error("PostgresStore RecordInbound failed", "error", err, "messageID", messageID)
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected: %w", err)
	}
	if n == 0 {
		slog.Debug("PostgresStore RecordInbound duplicate", "messageID", messageID, "sender", sender)
	}
	return n == 1, nil
}

func (s *PostgresStore) ForgetInbound(ctx context.Context, messageID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inbound_messages WHERE message_id = $1`, messageID); err != nil {
		slog.Error("PostgresStore ForgetInbound failed", "error", err, "messageID", messageID)
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}
