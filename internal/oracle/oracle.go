// Package oracle validates user answers with a language model and extracts
// structured values from them.
//
// Validators never accept an answer they could not evaluate: transport
// failures, timeouts and unreadable replies are returned as errors wrapping
// ErrFault so the caller can ask the user to repeat.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/spapperi/configurator/internal/models"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Defaults applied when an option is not set.
const (
	DefaultOpenAIModel    = "gpt-4o"
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultTemperature    = 0.1
	DefaultMaxTokens      = 1024
)

// ErrFault marks every failure to obtain a usable verdict.
var ErrFault = errors.New("oracle fault")

// ErrNoReply is returned when the provider answers with no content.
var ErrNoReply = errors.New("no reply returned")

// FaultError describes an oracle failure. errors.Is(err, ErrFault) holds for
// every FaultError, as it does for the wrapped cause.
type FaultError struct {
	Provider string
	Err      error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s oracle fault: %v", e.Provider, e.Err)
}

func (e *FaultError) Unwrap() []error {
	return []error{ErrFault, e.Err}
}

func fault(provider string, err error) error {
	return &FaultError{Provider: provider, Err: err}
}

// Request is everything the oracle needs to judge one answer.
type Request struct {
	Phase          string
	Message        string
	ExpectedFormat string
	PromptContext  string
	// History holds earlier messages of the same phase, oldest first.
	History []models.Message
	// KeyHints are the extraction keys the caller reads first.
	KeyHints []string
}

// Verdict is the oracle's judgement of one answer.
type Verdict struct {
	Complete      bool
	ExtractedData map[string]any
	Clarification string
}

// Validator judges answers.
type Validator interface {
	Validate(ctx context.Context, req Request) (Verdict, error)
	// Provider names the backing service for logs and metrics.
	Provider() string
}

// Config selects and configures a Validator.
type Config struct {
	Provider        string
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	Temperature     float64
	MaxTokens       int
}

// New builds the validator for cfg.Provider.
func New(cfg Config) (Validator, error) {
	opts := []Option{WithModel(cfg.Model), WithTemperature(cfg.Temperature), WithMaxTokens(cfg.MaxTokens)}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAIValidator(append(opts, WithAPIKey(cfg.OpenAIAPIKey))...)
	case ProviderAnthropic:
		return NewAnthropicValidator(append(opts, WithAPIKey(cfg.AnthropicAPIKey))...)
	}
	return nil, fmt.Errorf("unsupported oracle provider %q", cfg.Provider)
}

// Opts holds settings shared by all providers.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Option configures a validator.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Opts) {
		if model != "" {
			o.Model = model
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		if t > 0 {
			o.Temperature = t
		}
	}
}

// WithMaxTokens bounds the reply length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

func applyOptions(defaultModel string, opts []Option) Opts {
	o := Opts{Model: defaultModel, Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// systemPrompt instructs the model to act as a strict validator that replies in JSON.
const systemPrompt = `Sei un assistente esperto nella configurazione di trapiantatrici agricole.
Il tuo compito è validare le risposte degli utenti durante un processo di configurazione guidato.

Per ogni risposta dell'utente, devi determinare:
1. Se la risposta è COMPLETA e VALIDA per la domanda posta
2. Estrarre i dati dalla risposta in formato strutturato
3. Se la risposta è incompleta/ambigua, indicare quale chiarimento serve

Considera anche le risposte precedenti date per la stessa domanda: l'utente può fornire i dati in più messaggi.
Usa le chiavi suggerite per i dati estratti quando possibile. I valori numerici vanno riportati come numeri.
Il chiarimento deve essere una frase in italiano rivolta all'utente, senza nomi di campi o codici.

Rispondi SEMPRE in formato JSON con questa struttura:
{
    "is_complete": true/false,
    "extracted_data": {...} o null,
    "clarification_needed": "..." o null
}`

// buildUserPrompt renders the request as the user turn sent to the model.
func buildUserPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**FASE**: %s\n", req.Phase)
	fmt.Fprintf(&sb, "**DOMANDA**: %s\n", req.PromptContext)
	fmt.Fprintf(&sb, "**FORMATO ATTESO**: %s\n", req.ExpectedFormat)
	if len(req.KeyHints) > 0 {
		fmt.Fprintf(&sb, "**CHIAVI SUGGERITE**: %s\n", strings.Join(req.KeyHints, ", "))
	}
	if len(req.History) > 0 {
		sb.WriteString("**MESSAGGI PRECEDENTI IN QUESTA FASE**:\n")
		for _, m := range req.History {
			fmt.Fprintf(&sb, "- %s: %s\n", roleLabel(m.Role), m.Content)
		}
	}
	fmt.Fprintf(&sb, "**RISPOSTA UTENTE**: %q\n\n", req.Message)
	sb.WriteString("Valida se la risposta è completa ed estrai i dati.")
	return sb.String()
}

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleUser:
		return "Utente"
	case models.RoleAssistant:
		return "Assistente"
	}
	return string(r)
}

type verdictWire struct {
	Complete      *bool          `json:"is_complete"`
	ExtractedData map[string]any `json:"extracted_data"`
	Clarification *string        `json:"clarification_needed"`
}

// decodeVerdict parses the model reply. Surrounding prose or code fences are
// ignored; a reply without is_complete is rejected.
func decodeVerdict(reply string) (Verdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("reply contains no JSON object")
	}
	var w verdictWire
	if err := sonic.UnmarshalString(reply[start:end+1], &w); err != nil {
		return Verdict{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	if w.Complete == nil {
		return Verdict{}, fmt.Errorf("reply has no is_complete field")
	}
	v := Verdict{Complete: *w.Complete, ExtractedData: w.ExtractedData}
	if w.Clarification != nil {
		v.Clarification = strings.TrimSpace(*w.Clarification)
	}
	return v, nil
}
