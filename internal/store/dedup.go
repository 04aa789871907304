package store

import (
	"context"
	"log/slog"
)

// InboundLog records the ids of messages received over a messaging channel
// so that a redelivered message is answered only once. WhatsApp redelivers
// unacknowledged messages after a reconnect and Twilio retries webhooks
// that time out.
type InboundLog interface {
	// RecordInbound stores messageID and reports whether it was new.
	RecordInbound(ctx context.Context, messageID, sender string) (bool, error)
	// ForgetInbound releases messageID after it failed processing, so a
	// redelivery is handled again.
	ForgetInbound(ctx context.Context, messageID string) error
}

var (
	_ InboundLog = (*InMemoryStore)(nil)
	_ InboundLog = (*SQLiteStore)(nil)
	_ InboundLog = (*PostgresStore)(nil)
)

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[messageID]; seen {
		slog.Debug("InMemoryStore RecordInbound duplicate", "messageID", messageID, "sender", sender)
		return false, nil
	}
	s.inbound[messageID] = s.now()
	return true, nil
}

func (s *InMemoryStore) ForgetInbound(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inbound, messageID)
	return nil
}
