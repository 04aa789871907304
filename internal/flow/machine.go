package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/spapperi/configurator/internal/metrics"
	"github.com/spapperi/configurator/internal/models"
	"github.com/spapperi/configurator/internal/oracle"
	"github.com/spapperi/configurator/internal/store"
)

// User-facing texts. They never mention phase ids or field names.
const (
	FaultClarification    = "Si è verificato un problema tecnico. Potresti ripetere la tua risposta?"
	FallbackClarification = "Non ho capito completamente la risposta. Potresti fornire maggiori dettagli?"
	CompletionText        = "Grazie! La configurazione è completa. Il report è pronto e sarai ricontattato al più presto dal nostro team commerciale."
	CompletionTextNoQuote = "Grazie per aver utilizzato il configuratore Spapperi. La configurazione è completa."
	ClosedText            = "Questa conversazione è stata chiusa. Avvia una nuova configurazione per ricominciare."
)

// Defaults for machine options.
const (
	DefaultOracleTimeout = 30 * time.Second
	DefaultHistoryWindow = 10
)

// Answer outcomes as recorded in metrics.
const (
	outcomeAdvanced      = "advanced"
	outcomeClarification = "clarification"
	outcomeFault         = "fault"
)

// Outcome is the result of processing one answer.
type Outcome struct {
	// Valid is true when the phase advanced.
	Valid     bool
	NextPhase string
	// Clarification is set when Valid is false.
	Clarification string
	ExtractedData map[string]any
	Update        models.ConfigurationUpdate
	// Gaps lists values the extraction did not provide.
	Gaps []string
	// Fault is true when the oracle failed and the answer must be repeated.
	Fault bool
}

// Prompt is a resolved question ready to show to the user.
type Prompt struct {
	PhaseID  string
	Text     string
	ImageRef string
	UIHint   UIHint
	Options  []string
}

// ReplyKind tells the caller what kind of reply SubmitAnswer produced.
type ReplyKind string

const (
	ReplyClarification ReplyKind = "clarification"
	ReplyNextQuestion  ReplyKind = "next_question"
	ReplyComplete      ReplyKind = "complete"
	ReplyClosed        ReplyKind = "closed"
)

// Reply is what the user is shown after Start or SubmitAnswer.
type Reply struct {
	ConversationID string
	Kind           ReplyKind
	Text           string
	// Phase is the conversation's current phase after the reply.
	Phase    string
	ImageRef string
	UIHint   UIHint
	Options  []string
	// Artifacts are the files produced by completion hooks.
	Artifacts []string
	// Created is set when Start created the conversation.
	Created bool
}

// CompletionHook runs once a conversation reaches the terminal phase. It
// returns the artifacts it produced.
type CompletionHook interface {
	OnConversationComplete(ctx context.Context, conversationID string) ([]string, error)
}

// CompletionHookFunc adapts a function to CompletionHook.
type CompletionHookFunc func(ctx context.Context, conversationID string) ([]string, error)

func (f CompletionHookFunc) OnConversationComplete(ctx context.Context, conversationID string) ([]string, error) {
	return f(ctx, conversationID)
}

// Machine drives conversations through the phase catalog.
type Machine struct {
	store         store.Store
	oracle        oracle.Validator
	recorder      metrics.Recorder
	hooks         []CompletionHook
	locks         *conversationLocks
	oracleTimeout time.Duration
	historyWindow int
}

// Option configures a Machine.
type Option func(*Machine)

// WithOracleTimeout bounds every oracle call.
func WithOracleTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.oracleTimeout = d
		}
	}
}

// WithHistoryWindow sets how many same-phase messages are sent to the oracle.
func WithHistoryWindow(n int) Option {
	return func(m *Machine) {
		if n >= 0 {
			m.historyWindow = n
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithCompletionHook registers a hook run after a conversation completes.
func WithCompletionHook(h CompletionHook) Option {
	return func(m *Machine) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

// NewMachine creates a Machine over the given store and oracle.
func NewMachine(st store.Store, validator oracle.Validator, opts ...Option) *Machine {
	m := &Machine{
		store:         st,
		oracle:        validator,
		recorder:      metrics.NopRecorder{},
		locks:         newConversationLocks(),
		oracleTimeout: DefaultOracleTimeout,
		historyWindow: DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetNextPrompt resolves the question for phaseID against the conversation's
// current configuration. It has no side effects.
func (m *Machine) GetNextPrompt(ctx context.Context, conversationID, phaseID string) (Prompt, error) {
	if phaseID == PhaseComplete {
		return Prompt{}, ErrFlowComplete
	}
	p, err := Lookup(phaseID)
	if err != nil {
		return Prompt{}, err
	}
	data, err := m.store.GetConfigurationData(ctx, conversationID)
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	return Prompt{
		PhaseID:  p.ID,
		Text:     ResolvePrompt(p, data),
		ImageRef: p.ImageRef,
		UIHint:   p.UIHint,
		Options:  p.Options,
	}, nil
}

// ProcessAnswer validates message as the answer to phaseID and, when the
// oracle accepts it, persists the mapped update and advances the phase in one
// transition. It fails with ErrStalePhase if the conversation is no longer in
// phaseID.
func (m *Machine) ProcessAnswer(ctx context.Context, conversationID, phaseID, message string) (Outcome, error) {
	unlock := m.locks.lock(conversationID)
	defer unlock()
	return m.processAnswer(ctx, conversationID, phaseID, message, 0)
}

// processAnswer evaluates message against phaseID. A non-zero pendingID names
// the already recorded copy of message so it stays out of the oracle history.
func (m *Machine) processAnswer(ctx context.Context, conversationID, phaseID, message string, pendingID int64) (Outcome, error) {
	conv, err := m.loadConversation(ctx, conversationID)
	if err != nil {
		return Outcome{}, err
	}
	if conv.CurrentPhase != phaseID {
		return Outcome{}, fmt.Errorf("%w: conversation is in %s", ErrStalePhase, conv.CurrentPhase)
	}
	if err := checkOpen(conv); err != nil {
		return Outcome{}, err
	}
	p, err := Lookup(phaseID)
	if err != nil {
		slog.Error("Machine ProcessAnswer unknown phase", "conversationID", conversationID, "phase", phaseID)
		return Outcome{}, err
	}

	data, err := m.store.GetConfigurationData(ctx, conversationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load configuration: %w", err)
	}
	history, err := m.phaseHistory(ctx, conversationID, phaseID, pendingID)
	if err != nil {
		return Outcome{}, err
	}

	req := oracle.Request{
		Phase:          phaseID,
		Message:        message,
		ExpectedFormat: ResolveFormat(p, data),
		PromptContext:  ResolvePrompt(p, data),
		History:        history,
		KeyHints:       KeyHints(p.Field),
	}
	verdict, err := m.validate(ctx, req)
	if err != nil {
		slog.Warn("Machine ProcessAnswer oracle fault", "conversationID", conversationID, "phase", phaseID, "error", err)
		m.recorder.ObserveAnswer(phaseID, outcomeFault)
		return Outcome{NextPhase: phaseID, Clarification: FaultClarification, Fault: true}, nil
	}
	if !verdict.Complete {
		clarification := verdict.Clarification
		if clarification == "" {
			clarification = FallbackClarification
		}
		slog.Debug("Machine ProcessAnswer incomplete answer", "conversationID", conversationID, "phase", phaseID)
		m.recorder.ObserveAnswer(phaseID, outcomeClarification)
		return Outcome{NextPhase: phaseID, Clarification: clarification}, nil
	}

	update, gaps := Apply(p.Field, verdict.ExtractedData, data)
	if len(gaps) > 0 {
		slog.Warn("Machine ProcessAnswer mapping gaps", "conversationID", conversationID, "phase", phaseID, "missing", gaps)
		m.recorder.ObserveMappingGaps(phaseID, len(gaps))
	}
	next, err := ResolveNextPhase(phaseID, verdict.ExtractedData, data)
	if err != nil {
		return Outcome{}, err
	}

	err = m.store.ApplyTransition(ctx, store.Transition{
		ConversationID: conversationID,
		From:           phaseID,
		To:             next,
		Update:         update,
		Complete:       next == PhaseComplete,
	})
	if errors.Is(err, store.ErrStaleTransition) {
		return Outcome{}, fmt.Errorf("%w: %v", ErrStalePhase, err)
	}
	if err != nil {
		slog.Error("Machine ProcessAnswer transition failed", "error", err, "conversationID", conversationID, "phase", phaseID)
		return Outcome{}, fmt.Errorf("failed to apply transition: %w", err)
	}

	slog.Info("Machine phase advanced", "conversationID", conversationID, "from", phaseID, "to", next)
	m.recorder.ObserveAnswer(phaseID, outcomeAdvanced)
	if next == PhaseComplete {
		interested := update.IsInterested != nil && *update.IsInterested
		if update.IsInterested == nil && data != nil && data.IsInterested != nil {
			interested = *data.IsInterested
		}
		m.recorder.ObserveCompletion(interested)
	}
	return Outcome{
		Valid:         true,
		NextPhase:     next,
		ExtractedData: verdict.ExtractedData,
		Update:        update,
		Gaps:          gaps,
	}, nil
}

// validate calls the oracle under the configured timeout.
func (m *Machine) validate(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, m.oracleTimeout)
	defer cancel()

	start := time.Now()
	verdict, err := m.oracle.Validate(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	m.recorder.ObserveOracle(m.oracle.Provider(), status, time.Since(start))
	return verdict, err
}

// phaseHistory returns the newest messages recorded while the conversation
// was in phaseID, oldest first, skipping the message with id exclude.
func (m *Machine) phaseHistory(ctx context.Context, conversationID, phaseID string, exclude int64) ([]models.Message, error) {
	if m.historyWindow == 0 {
		return nil, nil
	}
	messages, err := m.store.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	var window []models.Message
	for _, msg := range messages {
		if msg.PhaseID == phaseID && (exclude == 0 || msg.ID != exclude) {
			window = append(window, msg)
		}
	}
	if len(window) > m.historyWindow {
		window = window[len(window)-m.historyWindow:]
	}
	return window, nil
}

// Start creates a conversation and asks its first question. An empty id gets
// a fresh one. Starting an existing conversation repeats its current question
// without recording anything.
func (m *Machine) Start(ctx context.Context, conversationID string) (Reply, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	unlock := m.locks.lock(conversationID)
	defer unlock()

	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv != nil {
		return m.currentReply(ctx, conv)
	}

	if err := m.store.CreateConversation(ctx, models.Conversation{
		ID:           conversationID,
		CurrentPhase: PhaseFirst,
		Status:       models.ConversationStatusActive,
	}); err != nil {
		return Reply{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Info("Machine conversation started", "conversationID", conversationID)

	prompt, err := m.GetNextPrompt(ctx, conversationID, PhaseFirst)
	if err != nil {
		return Reply{}, err
	}
	if err := m.appendMessage(ctx, conversationID, models.RoleAssistant, prompt.Text, prompt.ImageRef, PhaseFirst); err != nil {
		return Reply{}, err
	}
	reply := promptReply(conversationID, ReplyNextQuestion, prompt.Text, prompt)
	reply.Created = true
	return reply, nil
}

// SubmitAnswer records a user message for the conversation's current phase
// and returns a clarification, the next question or the completion signal.
func (m *Machine) SubmitAnswer(ctx context.Context, conversationID, text string) (Reply, error) {
	reply, completed, err := m.submitAnswer(ctx, conversationID, text)
	if err != nil || !completed {
		return reply, err
	}
	reply.Artifacts = m.runCompletionHooks(ctx, conversationID)
	return reply, nil
}

func (m *Machine) submitAnswer(ctx context.Context, conversationID, text string) (Reply, bool, error) {
	unlock := m.locks.lock(conversationID)
	defer unlock()

	conv, err := m.loadConversation(ctx, conversationID)
	if err != nil {
		return Reply{}, false, err
	}
	switch conv.Status {
	case models.ConversationStatusAbandoned:
		return Reply{ConversationID: conversationID, Kind: ReplyClosed, Text: ClosedText, Phase: conv.CurrentPhase}, false, nil
	case models.ConversationStatusCompleted:
		return Reply{ConversationID: conversationID, Kind: ReplyComplete, Text: CompletionText, Phase: PhaseComplete}, false, nil
	}

	// The answer is logged before any transition is committed.
	phaseID := conv.CurrentPhase
	recorded, err := m.store.AppendMessage(ctx, models.Message{
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        text,
		PhaseID:        phaseID,
	})
	if err != nil {
		return Reply{}, false, fmt.Errorf("failed to record %s message: %w", models.RoleUser, err)
	}
	outcome, err := m.processAnswer(ctx, conversationID, phaseID, text, recorded.ID)
	if err != nil {
		return Reply{}, false, err
	}

	if !outcome.Valid {
		current, err := m.GetNextPrompt(ctx, conversationID, phaseID)
		if err != nil {
			return Reply{}, false, err
		}
		if err := m.appendMessage(ctx, conversationID, models.RoleAssistant, outcome.Clarification, "", phaseID); err != nil {
			return Reply{}, false, err
		}
		reply := promptReply(conversationID, ReplyClarification, outcome.Clarification, current)
		reply.ImageRef = ""
		return reply, false, nil
	}

	if outcome.NextPhase == PhaseComplete {
		closing := CompletionText
		if outcome.Update.IsInterested != nil && !*outcome.Update.IsInterested {
			closing = CompletionTextNoQuote
		}
		if err := m.appendMessage(ctx, conversationID, models.RoleAssistant, closing, "", PhaseComplete); err != nil {
			return Reply{}, false, err
		}
		slog.Info("Machine conversation completed", "conversationID", conversationID)
		return Reply{ConversationID: conversationID, Kind: ReplyComplete, Text: closing, Phase: PhaseComplete}, true, nil
	}

	next, err := m.GetNextPrompt(ctx, conversationID, outcome.NextPhase)
	if err != nil {
		return Reply{}, false, err
	}
	if err := m.appendMessage(ctx, conversationID, models.RoleAssistant, next.Text, next.ImageRef, next.PhaseID); err != nil {
		return Reply{}, false, err
	}
	return promptReply(conversationID, ReplyNextQuestion, next.Text, next), false, nil
}

// Abandon closes an active conversation. Closed conversations never advance.
func (m *Machine) Abandon(ctx context.Context, conversationID string) error {
	unlock := m.locks.lock(conversationID)
	defer unlock()

	conv, err := m.loadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Status == models.ConversationStatusCompleted {
		return ErrFlowComplete
	}
	if err := m.store.UpdateConversationStatus(ctx, conversationID, models.ConversationStatusAbandoned); err != nil {
		return fmt.Errorf("failed to abandon conversation: %w", err)
	}
	slog.Info("Machine conversation abandoned", "conversationID", conversationID, "phase", conv.CurrentPhase)
	return nil
}

func (m *Machine) currentReply(ctx context.Context, conv *models.Conversation) (Reply, error) {
	switch {
	case conv.Status == models.ConversationStatusAbandoned:
		return Reply{ConversationID: conv.ID, Kind: ReplyClosed, Text: ClosedText, Phase: conv.CurrentPhase}, nil
	case conv.Status == models.ConversationStatusCompleted || conv.CurrentPhase == PhaseComplete:
		return Reply{ConversationID: conv.ID, Kind: ReplyComplete, Text: CompletionText, Phase: PhaseComplete}, nil
	}
	prompt, err := m.GetNextPrompt(ctx, conv.ID, conv.CurrentPhase)
	if err != nil {
		return Reply{}, err
	}
	return promptReply(conv.ID, ReplyNextQuestion, prompt.Text, prompt), nil
}

func (m *Machine) loadConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	return conv, nil
}

func (m *Machine) appendMessage(ctx context.Context, conversationID string, role models.Role, content, imageRef, phaseID string) error {
	_, err := m.store.AppendMessage(ctx, models.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		ImageURL:       imageRef,
		PhaseID:        phaseID,
	})
	if err != nil {
		return fmt.Errorf("failed to record %s message: %w", role, err)
	}
	return nil
}

func (m *Machine) runCompletionHooks(ctx context.Context, conversationID string) []string {
	var artifacts []string
	for _, h := range m.hooks {
		out, err := h.OnConversationComplete(ctx, conversationID)
		if err != nil {
			slog.Error("Machine completion hook failed", "error", err, "conversationID", conversationID)
			continue
		}
		artifacts = append(artifacts, out...)
	}
	return artifacts
}

func checkOpen(conv *models.Conversation) error {
	switch {
	case conv.Status == models.ConversationStatusAbandoned:
		return ErrConversationClosed
	case conv.Status == models.ConversationStatusCompleted || conv.CurrentPhase == PhaseComplete:
		return ErrFlowComplete
	}
	return nil
}

func promptReply(conversationID string, kind ReplyKind, text string, p Prompt) Reply {
	return Reply{
		ConversationID: conversationID,
		Kind:           kind,
		Text:           text,
		Phase:          p.PhaseID,
		ImageRef:       p.ImageRef,
		UIHint:         p.UIHint,
		Options:        p.Options,
	}
}
