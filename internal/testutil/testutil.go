// Package testutil provides fixtures shared by the api and messaging tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/spapperi/configurator/internal/flow"
	"github.com/spapperi/configurator/internal/models"
	"github.com/spapperi/configurator/internal/oracle"
	"github.com/spapperi/configurator/internal/store"
)

// UnclearAnswer is the message EchoOracle refuses.
const UnclearAnswer = "boh"

// Clarification is the text EchoOracle asks for when it refuses an answer.
const Clarification = "Puoi essere più preciso?"

// EchoOracle accepts every answer except UnclearAnswer and returns it under
// the "raw" key, which every field mapper reads as a fallback.
type EchoOracle struct {
	mu       sync.Mutex
	messages []string
}

// Validate implements oracle.Validator.
func (o *EchoOracle) Validate(_ context.Context, req oracle.Request) (oracle.Verdict, error) {
	o.mu.Lock()
	o.messages = append(o.messages, req.Message)
	o.mu.Unlock()
	if req.Message == UnclearAnswer {
		return oracle.Verdict{Clarification: Clarification}, nil
	}
	return oracle.Verdict{Complete: true, ExtractedData: map[string]any{"raw": req.Message}}, nil
}

// Provider implements oracle.Validator.
func (o *EchoOracle) Provider() string { return "echo" }

// Messages returns the answers the oracle has seen, in order.
func (o *EchoOracle) Messages() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.messages...)
}

// NewMachine builds a machine over a fresh in-memory store.
func NewMachine(t *testing.T, v oracle.Validator, opts ...flow.Option) (*flow.Machine, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { _ = st.Close() })
	return flow.NewMachine(st, v, opts...), st
}

// CreateJSONRequest creates a request whose body is v encoded as JSON.
func CreateJSONRequest(t *testing.T, method, url string, v interface{}) *http.Request {
	t.Helper()
	var body bytes.Buffer
	if v != nil {
		if err := json.NewEncoder(&body).Encode(v); err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Envelope is an APIResponse whose result is decoded as T.
type Envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

// OK reports whether the envelope carries the ok status.
func (e Envelope[T]) OK() bool {
	return e.Status == string(models.APIStatusOK)
}

// DecodeEnvelope decodes the recorded response body.
func DecodeEnvelope[T any](t *testing.T, rec *httptest.ResponseRecorder) Envelope[T] {
	t.Helper()
	var env Envelope[T]
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rec.Body.String(), err)
	}
	return env
}

// AssertHTTPStatus fails the test when the recorded status differs.
func AssertHTTPStatus(t *testing.T, expected int, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != expected {
		t.Errorf("expected status %d, got %d: %s", expected, rec.Code, rec.Body.String())
	}
}
