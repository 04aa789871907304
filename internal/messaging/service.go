// Package messaging connects WhatsApp channels to the configurator flow.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/spapperi/configurator/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer size of receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked channel send before the event is dropped.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by SendMessage after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient returns the digits-only phone number.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of inbound texts.
	Responses() <-chan models.Response
}

// canonicalizePhone strips everything but digits and requires at least six.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// emitter owns the receipt and response channels shared by both services.
// Stop closes done first so blocked senders return before the channels close.
type emitter struct {
	name      string
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
	once      sync.Once
}

func newEmitter(name string) *emitter {
	return &emitter{
		name:      name,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

func (e *emitter) isStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}

func (e *emitter) emitReceipt(receipt models.Receipt) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return
	}
	select {
	case e.receipts <- receipt:
	case <-e.done:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(e.name+" receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

func (e *emitter) emitResponse(response models.Response) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		slog.Warn(e.name+" dropping inbound response (service stopped)", "from", response.From)
		return
	}
	select {
	case e.responses <- response:
		slog.Debug(e.name+" emitted inbound response", "from", response.From)
	case <-e.done:
		slog.Warn(e.name+" dropping inbound response (service stopped)", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(e.name+" responses channel blocked, dropping message", "from", response.From)
	}
}

func (e *emitter) stop() {
	e.once.Do(func() {
		close(e.done)
		e.mu.Lock()
		defer e.mu.Unlock()
		e.stopped = true
		close(e.receipts)
		close(e.responses)
		slog.Info(e.name + " stopped and channels closed")
	})
}
