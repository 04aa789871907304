package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/spapperi/configurator/internal/flow"
	"github.com/spapperi/configurator/internal/models"
	"github.com/spapperi/configurator/internal/store"
)

// Reply hints appended to option lists on text-only channels.
const (
	radioHint    = "\n\nRispondi con il numero o il nome dell'opzione."
	checkboxHint = "\n\nPuoi indicare più opzioni separate da virgola (es: 1, 3)."
	imageLabel   = "\n\nImmagine di riferimento: "
	// DefaultErrorMessage is sent when an inbound message cannot be processed.
	DefaultErrorMessage = "⚠️ Si è verificato un problema nell'elaborazione del messaggio. Riprova tra qualche istante."
)

// ConversationNamespace scopes the deterministic per-sender conversation ids.
var ConversationNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://www.spapperi.com/configurator"))

// Conversations is the part of flow.Machine the handler drives.
type Conversations interface {
	Start(ctx context.Context, conversationID string) (flow.Reply, error)
	SubmitAnswer(ctx context.Context, conversationID, text string) (flow.Reply, error)
}

// ResponseHandler routes inbound channel texts into conversations and sends
// the replies back. Each sender maps to one conversation.
type ResponseHandler struct {
	msgService    Service
	conversations Conversations
	inbound       store.InboundLog
	publicURL     string
	errorMessage  string
}

// HandlerOption configures a ResponseHandler.
type HandlerOption func(*ResponseHandler)

// WithPublicURL sets the base URL prepended to image references.
func WithPublicURL(base string) HandlerOption {
	return func(rh *ResponseHandler) { rh.publicURL = strings.TrimRight(base, "/") }
}

// WithInboundLog drops messages whose channel id was already recorded. A
// message that fails processing is released so its redelivery is handled.
func WithInboundLog(log store.InboundLog) HandlerOption {
	return func(rh *ResponseHandler) { rh.inbound = log }
}

// NewResponseHandler creates a handler for msgService.
func NewResponseHandler(msgService Service, conversations Conversations, opts ...HandlerOption) *ResponseHandler {
	rh := &ResponseHandler{
		msgService:    msgService,
		conversations: conversations,
		errorMessage:  DefaultErrorMessage,
	}
	for _, opt := range opts {
		opt(rh)
	}
	return rh
}

// ConversationID derives the conversation id of a canonical phone number.
func ConversationID(phone string) string {
	return uuid.NewSHA1(ConversationNamespace, []byte("whatsapp:"+phone)).String()
}

// ProcessResponse handles one inbound text. The first message from a sender
// starts the conversation; later ones answer the pending question, where a
// reply made of option numbers is mapped to the option labels.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) (err error) {
	from, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	body := strings.TrimSpace(response.Body)
	if body == "" {
		return nil
	}
	if rh.inbound != nil && response.ID != "" {
		fresh, recordErr := rh.inbound.RecordInbound(ctx, response.ID, from)
		if recordErr != nil {
			return fmt.Errorf("failed to record inbound message: %w", recordErr)
		}
		if !fresh {
			slog.Info("ResponseHandler dropping redelivered message", "messageID", response.ID, "from", from)
			return nil
		}
		defer func() {
			if err != nil && !errors.Is(err, errReplyNotSent) {
				rh.forgetInbound(ctx, response.ID)
			}
		}()
	}
	id := ConversationID(from)

	current, err := rh.conversations.Start(ctx, id)
	if err != nil {
		rh.sendError(ctx, from)
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if current.Created || current.Kind == flow.ReplyClosed || current.Kind == flow.ReplyComplete {
		slog.Debug("ResponseHandler replying with current state", "conversationID", id, "kind", current.Kind, "created", current.Created)
		return rh.send(ctx, from, current)
	}

	answer := flow.ResolveOptionNumbers(body, current.Options)
	reply, err := rh.conversations.SubmitAnswer(ctx, id, answer)
	if err != nil {
		rh.sendError(ctx, from)
		return fmt.Errorf("failed to submit answer: %w", err)
	}
	slog.Info("ResponseHandler answer processed", "conversationID", id, "kind", reply.Kind, "phase", reply.Phase)
	return rh.send(ctx, from, reply)
}

// RenderReply renders a reply as plain text with numbered options.
func (rh *ResponseHandler) RenderReply(reply flow.Reply) string {
	text := reply.Text
	if len(reply.Options) > 0 {
		text = flow.FormatOptions(text+"\n", reply.Options)
		if reply.UIHint == flow.UIHintCheckbox {
			text += checkboxHint
		} else {
			text += radioHint
		}
	}
	if reply.ImageRef != "" {
		text += imageLabel + rh.publicURL + reply.ImageRef
	}
	return text
}

// errReplyNotSent marks a failure after the answer was already committed.
// Handling a redelivery of such a message would answer the next question.
var errReplyNotSent = errors.New("reply not sent")

func (rh *ResponseHandler) forgetInbound(ctx context.Context, messageID string) {
	if err := rh.inbound.ForgetInbound(context.WithoutCancel(ctx), messageID); err != nil {
		slog.Error("ResponseHandler failed to release inbound message", "error", err, "messageID", messageID)
	}
}

func (rh *ResponseHandler) send(ctx context.Context, to string, reply flow.Reply) error {
	if err := rh.msgService.SendMessage(ctx, to, rh.RenderReply(reply)); err != nil {
		return fmt.Errorf("failed to send reply: %w: %w", errReplyNotSent, err)
	}
	return nil
}

func (rh *ResponseHandler) sendError(ctx context.Context, to string) {
	if err := rh.msgService.SendMessage(ctx, to, rh.errorMessage); err != nil {
		slog.Error("ResponseHandler failed to send error message", "error", err, "to", to)
	}
}

// Run processes inbound texts and receipts until ctx is done or the service
// closes its channels.
func (rh *ResponseHandler) Run(ctx context.Context) error {
	slog.Info("ResponseHandler starting response processing")
	defer slog.Info("ResponseHandler stopped response processing")

	responses := rh.msgService.Responses()
	receipts := rh.msgService.Receipts()
	for responses != nil || receipts != nil {
		select {
		case response, ok := <-responses:
			if !ok {
				responses = nil
				continue
			}
			if err := rh.ProcessResponse(ctx, response); err != nil {
				slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
			}
		case receipt, ok := <-receipts:
			if !ok {
				receipts = nil
				continue
			}
			slog.Debug("ResponseHandler receipt", "to", receipt.To, "status", receipt.Status)
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}
