package flow

import "errors"

var (
	// ErrUnknownPhase means a phase id is not in the catalog. For a persisted
	// conversation this indicates corrupted state.
	ErrUnknownPhase = errors.New("unknown phase")
	// ErrConversationNotFound is returned for operations on unknown conversations.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrStalePhase is returned when the caller's phase no longer matches the
	// persisted one, typically because a concurrent answer advanced it.
	ErrStalePhase = errors.New("phase already advanced")
	// ErrFlowComplete is returned when answering a conversation that already
	// reached the terminal phase.
	ErrFlowComplete = errors.New("flow already complete")
	// ErrConversationClosed is returned when answering an abandoned conversation.
	ErrConversationClosed = errors.New("conversation closed")
)
