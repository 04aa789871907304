package flow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spapperi/configurator/internal/models"
	"github.com/spapperi/configurator/internal/oracle"
	"github.com/spapperi/configurator/internal/store"
)

// scriptedOracle returns verdicts from fn and records every request.
type scriptedOracle struct {
	mu       sync.Mutex
	fn       func(ctx context.Context, req oracle.Request) (oracle.Verdict, error)
	requests []oracle.Request
	calls    atomic.Int32
}

func (o *scriptedOracle) Validate(ctx context.Context, req oracle.Request) (oracle.Verdict, error) {
	o.calls.Add(1)
	o.mu.Lock()
	o.requests = append(o.requests, req)
	o.mu.Unlock()
	return o.fn(ctx, req)
}

func (o *scriptedOracle) Provider() string { return "scripted" }

func (o *scriptedOracle) lastRequest() oracle.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests[len(o.requests)-1]
}

func accept(data map[string]any) *scriptedOracle {
	return &scriptedOracle{fn: func(context.Context, oracle.Request) (oracle.Verdict, error) {
		return oracle.Verdict{Complete: true, ExtractedData: data}, nil
	}}
}

func newTestMachine(t *testing.T, o oracle.Validator, opts ...Option) (*Machine, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	return NewMachine(st, o, opts...), st
}

func createAt(t *testing.T, st store.Store, id, phase string) {
	t.Helper()
	require.NoError(t, st.CreateConversation(context.Background(), models.Conversation{ID: id, CurrentPhase: phase}))
}

func currentPhase(t *testing.T, st store.Store, id string) string {
	t.Helper()
	conv, err := st.GetConversation(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, conv)
	return conv.CurrentPhase
}

func configuration(t *testing.T, st store.Store, id string) *models.ConfigurationData {
	t.Helper()
	data, err := st.GetConfigurationData(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, data)
	return data
}

func TestRowTypeDrivesLayoutPrompt(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		rowType string
		want    []string
		notWant []string
	}{
		{"Singole", []string{"file", "IF", "IP"}, []string{"IB"}},
		{"Binate", []string{"bine", "IB"}, nil},
		{"File singole", []string{"file", "IF", "IP"}, []string{"IB"}},
	}
	for _, tt := range tests {
		t.Run(tt.rowType, func(t *testing.T) {
			m, st := newTestMachine(t, accept(map[string]any{"row_type": tt.rowType}))
			createAt(t, st, "c1", "phase_2_1")

			out, err := m.ProcessAnswer(ctx, "c1", "phase_2_1", tt.rowType)
			require.NoError(t, err)
			require.True(t, out.Valid)
			assert.Equal(t, "phase_2_2", out.NextPhase)

			prompt, err := m.GetNextPrompt(ctx, "c1", out.NextPhase)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, prompt.Text, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, prompt.Text, w)
			}
		})
	}
}

func TestNotInterestedEndsFlow(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, accept(map[string]any{"interested_in_commercial_info_or_quote": "No grazie"}))
	createAt(t, st, "c1", "phase_6_2")

	out, err := m.ProcessAnswer(ctx, "c1", "phase_6_2", "No grazie")
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, out.NextPhase)

	data := configuration(t, st, "c1")
	require.NotNil(t, data.IsInterested)
	assert.False(t, *data.IsInterested)
	assert.True(t, data.Complete)

	conv, err := st.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusCompleted, conv.Status)
}

func TestRootDimensionsSaved(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, accept(map[string]any{"A": 3.0, "B": 3.0, "C": 4.0, "D": 5.0}))
	createAt(t, st, "c1", "phase_1_3")

	out, err := m.ProcessAnswer(ctx, "c1", "phase_1_3", "3, 3, 4, 5")
	require.NoError(t, err)
	assert.Equal(t, "phase_2_1", out.NextPhase)

	want := &models.RootDimensions{A: ptr(3.0), B: ptr(3.0), C: ptr(4.0), D: ptr(5.0)}
	if diff := cmp.Diff(want, configuration(t, st, "c1").RootDimensions); diff != "" {
		t.Errorf("root dimensions mismatch (-want +got):\n%s", diff)
	}
}

func TestIncompleteAnswerSavesNothing(t *testing.T) {
	ctx := context.Background()
	o := &scriptedOracle{fn: func(context.Context, oracle.Request) (oracle.Verdict, error) {
		return oracle.Verdict{
			Complete:      false,
			ExtractedData: map[string]any{"A": 3.0, "B": 3.0},
			Clarification: "Mi servono anche le misure C e D.",
		}, nil
	}}
	m, st := newTestMachine(t, o)
	createAt(t, st, "c1", "phase_1_3")
	before := configuration(t, st, "c1")

	out, err := m.ProcessAnswer(ctx, "c1", "phase_1_3", "A 3, B 3")
	require.NoError(t, err)
	assert.False(t, out.Valid)
	assert.Equal(t, "phase_1_3", out.NextPhase)
	assert.Equal(t, "Mi servono anche le misure C e D.", out.Clarification)
	assert.Equal(t, "phase_1_3", currentPhase(t, st, "c1"))
	if diff := cmp.Diff(before, configuration(t, st, "c1")); diff != "" {
		t.Errorf("configuration changed (-before +after):\n%s", diff)
	}
}

func TestIncompleteAnswerFallbackClarification(t *testing.T) {
	o := &scriptedOracle{fn: func(context.Context, oracle.Request) (oracle.Verdict, error) {
		return oracle.Verdict{Complete: false}, nil
	}}
	m, st := newTestMachine(t, o)
	createAt(t, st, "c1", "phase_1_1")

	out, err := m.ProcessAnswer(context.Background(), "c1", "phase_1_1", "boh")
	require.NoError(t, err)
	assert.Equal(t, FallbackClarification, out.Clarification)
}

func TestOracleFaultNeverAdvances(t *testing.T) {
	ctx := context.Background()
	o := &scriptedOracle{fn: func(context.Context, oracle.Request) (oracle.Verdict, error) {
		return oracle.Verdict{Complete: true, ExtractedData: map[string]any{"crop_type": "Pomodoro"}},
			&oracle.FaultError{Provider: "scripted", Err: errors.New("connection reset")}
	}}
	m, st := newTestMachine(t, o)
	createAt(t, st, "c1", "phase_1_1")
	before := configuration(t, st, "c1")

	out, err := m.ProcessAnswer(ctx, "c1", "phase_1_1", "pomodori")
	require.NoError(t, err)
	assert.True(t, out.Fault)
	assert.False(t, out.Valid)
	assert.Equal(t, FaultClarification, out.Clarification)
	assert.Equal(t, "phase_1_1", currentPhase(t, st, "c1"))
	if diff := cmp.Diff(before, configuration(t, st, "c1")); diff != "" {
		t.Errorf("configuration changed after fault (-before +after):\n%s", diff)
	}
}

func TestOracleTimeoutIsFault(t *testing.T) {
	o := &scriptedOracle{fn: func(ctx context.Context, _ oracle.Request) (oracle.Verdict, error) {
		<-ctx.Done()
		return oracle.Verdict{}, ctx.Err()
	}}
	m, st := newTestMachine(t, o, WithOracleTimeout(20*time.Millisecond))
	createAt(t, st, "c1", "phase_1_1")

	start := time.Now()
	out, err := m.ProcessAnswer(context.Background(), "c1", "phase_1_1", "pomodori")
	require.NoError(t, err)
	assert.True(t, out.Fault)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, "phase_1_1", currentPhase(t, st, "c1"))
}

func TestConcurrentAnswersAdvanceOnce(t *testing.T) {
	o := &scriptedOracle{fn: func(context.Context, oracle.Request) (oracle.Verdict, error) {
		time.Sleep(20 * time.Millisecond)
		return oracle.Verdict{Complete: true, ExtractedData: map[string]any{"crop_type": "Pomodoro"}}, nil
	}}
	m, st := newTestMachine(t, o)
	createAt(t, st, "c1", "phase_1_1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	outs := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i], errs[i] = m.ProcessAnswer(context.Background(), "c1", "phase_1_1", "pomodori")
		}(i)
	}
	wg.Wait()

	advanced, stale := 0, 0
	for i := range errs {
		switch {
		case errs[i] == nil && outs[i].Valid:
			advanced++
		case errors.Is(errs[i], ErrStalePhase):
			stale++
		}
	}
	assert.Equal(t, 1, advanced)
	assert.Equal(t, 1, stale)
	assert.Equal(t, int32(1), o.calls.Load())
	assert.Equal(t, "phase_1_2", currentPhase(t, st, "c1"))
	assert.Equal(t, 0, m.locks.size())
}

func TestStalePhaseRejectedBeforeOracle(t *testing.T) {
	o := accept(map[string]any{"crop_type": "Pomodoro"})
	m, st := newTestMachine(t, o)
	createAt(t, st, "c1", "phase_1_2")

	_, err := m.ProcessAnswer(context.Background(), "c1", "phase_1_1", "pomodori")
	assert.True(t, errors.Is(err, ErrStalePhase))
	assert.Equal(t, int32(0), o.calls.Load())
}

func TestGatedRecordExistsOnlyWithGate(t *testing.T) {
	ctx := context.Background()
	for _, gate := range []bool{true, false} {
		m, st := newTestMachine(t, accept(map[string]any{"is_raised_bed": gate, "AT": 20.0, "LT": 100.0, "IT": 150.0, "ST": 40.0}))
		createAt(t, st, "c1", "phase_3_2")
		// A stale record from an earlier answer must not survive a negative gate.
		require.NoError(t, st.SaveConfigurationData(ctx, "c1", models.ConfigurationUpdate{
			RaisedBedDetails: &models.RaisedBedDetails{AT: ptr(10.0)},
		}))

		_, err := m.ProcessAnswer(ctx, "c1", "phase_3_2", "risposta")
		require.NoError(t, err)
		data := configuration(t, st, "c1")
		require.NotNil(t, data.IsRaisedBed)
		assert.Equal(t, gate, *data.IsRaisedBed)
		assert.Equal(t, gate, data.RaisedBedDetails != nil, "gate=%v", gate)
	}
}

func TestEmptyAccessoriesAdvance(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, accept(map[string]any{"accessories": []any{}}))
	createAt(t, st, "c1", "phase_5_1")

	out, err := m.ProcessAnswer(ctx, "c1", "phase_5_1", "nessuna selezione")
	require.NoError(t, err)
	assert.Equal(t, "phase_5_2", out.NextPhase)

	data := configuration(t, st, "c1")
	assert.NotNil(t, data.AccessoriesPrimary)
	assert.Empty(t, data.AccessoriesPrimary)
	assert.Nil(t, data.AccessoriesSecondary, "unanswered accessories stay absent")
}

func TestGetNextPromptIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, st := newTestMachine(t, accept(nil))
	createAt(t, st, "c1", "phase_2_2")
	require.NoError(t, st.SaveConfigurationData(ctx, "c1", models.ConfigurationUpdate{RowType: ptr("Singole")}))

	first, err := m.GetNextPrompt(ctx, "c1", "phase_2_2")
	require.NoError(t, err)
	second, err := m.GetNextPrompt(ctx, "c1", "phase_2_2")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	msgs, err := st.GetMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = m.GetNextPrompt(ctx, "c1", PhaseComplete)
	assert.True(t, errors.Is(err, ErrFlowComplete))
	_, err = m.GetNextPrompt(ctx, "c1", "phase_x")
	assert.True(t, errors.Is(err, ErrUnknownPhase))
}

func TestUnknownPersistedPhase(t *testing.T) {
	m, st := newTestMachine(t, accept(nil))
	createAt(t, st, "c1", "phase_9_9")

	_, err := m.ProcessAnswer(context.Background(), "c1", "phase_9_9", "x")
	assert.True(t, errors.Is(err, ErrUnknownPhase))

	_, err = m.ProcessAnswer(context.Background(), "missing", "phase_1_1", "x")
	assert.True(t, errors.Is(err, ErrConversationNotFound))
}

func TestStartAndSubmitAnswer(t *testing.T) {
	ctx := context.Background()
	answers := map[string]oracle.Verdict{
		"boh":      {Complete: false, Clarification: "Quale coltura?"},
		"pomodori": {Complete: true, ExtractedData: map[string]any{"crop_type": "Pomodoro"}},
	}
	o := &scriptedOracle{fn: func(_ context.Context, req oracle.Request) (oracle.Verdict, error) {
		return answers[req.Message], nil
	}}
	m, st := newTestMachine(t, o)

	reply, err := m.Start(ctx, "")
	require.NoError(t, err)
	require.NotEmpty(t, reply.ConversationID)
	assert.Equal(t, ReplyNextQuestion, reply.Kind)
	assert.Equal(t, PhaseFirst, reply.Phase)
	assert.True(t, reply.Created)
	id := reply.ConversationID

	again, err := m.Start(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, reply.Text, again.Text)
	assert.False(t, again.Created)

	reply, err = m.SubmitAnswer(ctx, id, "boh")
	require.NoError(t, err)
	assert.Equal(t, ReplyClarification, reply.Kind)
	assert.Equal(t, "Quale coltura?", reply.Text)
	assert.Equal(t, PhaseFirst, reply.Phase)

	reply, err = m.SubmitAnswer(ctx, id, "pomodori")
	require.NoError(t, err)
	assert.Equal(t, ReplyNextQuestion, reply.Kind)
	assert.Equal(t, "phase_1_2", reply.Phase)
	assert.Equal(t, UIHintRadio, reply.UIHint)
	assert.Contains(t, reply.Options, "Zolla Cubica")

	// The second answer saw the earlier exchange of the same phase.
	history := o.lastRequest().History
	require.Len(t, history, 3)
	assert.Equal(t, "boh", history[1].Content)
	assert.Equal(t, "Quale coltura?", history[2].Content)

	msgs, err := st.GetMessages(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	assert.Equal(t, models.RoleAssistant, msgs[4].Role)
	assert.Equal(t, "phase_1_2", msgs[4].PhaseID)
	assert.Equal(t, models.RoleUser, msgs[3].Role)
	assert.Equal(t, PhaseFirst, msgs[3].PhaseID)
}

// userAppendFailStore rejects user messages and passes everything else through.
type userAppendFailStore struct {
	store.Store
}

func (s userAppendFailStore) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if msg.Role == models.RoleUser {
		return models.Message{}, errors.New("disk full")
	}
	return s.Store.AppendMessage(ctx, msg)
}

func TestFailedAnswerLogLeavesPhaseUntouched(t *testing.T) {
	ctx := context.Background()
	o := accept(map[string]any{"crop_type": "Pomodoro"})
	mem := store.NewInMemoryStore()
	m := NewMachine(userAppendFailStore{Store: mem}, o)

	reply, err := m.Start(ctx, "c1")
	require.NoError(t, err)

	_, err = m.SubmitAnswer(ctx, reply.ConversationID, "pomodori")
	require.Error(t, err)
	assert.Zero(t, o.calls.Load())

	conv, err := mem.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, PhaseFirst, conv.CurrentPhase)
	data, err := mem.GetConfigurationData(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestAnswerRecordedBeforeTransition(t *testing.T) {
	ctx := context.Background()
	o := accept(map[string]any{"crop_type": "Pomodoro"})
	m, st := newTestMachine(t, o)

	reply, err := m.Start(ctx, "c1")
	require.NoError(t, err)
	_, err = m.SubmitAnswer(ctx, reply.ConversationID, "pomodori")
	require.NoError(t, err)

	// The pending answer is not echoed back as history.
	for _, h := range o.lastRequest().History {
		assert.NotEqual(t, "pomodori", h.Content)
	}
	msgs, err := st.GetMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, models.RoleUser, msgs[1].Role)
	assert.Equal(t, PhaseFirst, msgs[1].PhaseID)
}

func TestHistoryWindowIsBounded(t *testing.T) {
	ctx := context.Background()
	o := &scriptedOracle{fn: func(context.Context, oracle.Request) (oracle.Verdict, error) {
		return oracle.Verdict{Complete: false}, nil
	}}
	m, _ := newTestMachine(t, o, WithHistoryWindow(2))
	reply, err := m.Start(ctx, "c1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = m.SubmitAnswer(ctx, reply.ConversationID, "boh")
		require.NoError(t, err)
	}
	assert.Len(t, o.lastRequest().History, 2)
}

func TestCompletionRunsHooks(t *testing.T) {
	ctx := context.Background()
	var hooked []string
	hook := CompletionHookFunc(func(_ context.Context, id string) ([]string, error) {
		hooked = append(hooked, id)
		return []string{id + ".txt"}, nil
	})
	failing := CompletionHookFunc(func(context.Context, string) ([]string, error) {
		return nil, errors.New("disk full")
	})
	m, st := newTestMachine(t, accept(map[string]any{"email": "a@b.it", "vat_number": "IT123"}),
		WithCompletionHook(failing), WithCompletionHook(hook))
	createAt(t, st, "c1", "phase_6_3")

	reply, err := m.SubmitAnswer(ctx, "c1", "a@b.it IT123")
	require.NoError(t, err)
	assert.Equal(t, ReplyComplete, reply.Kind)
	assert.Equal(t, PhaseComplete, reply.Phase)
	assert.Equal(t, []string{"c1.txt"}, reply.Artifacts)
	assert.Equal(t, []string{"c1"}, hooked)

	reply, err = m.SubmitAnswer(ctx, "c1", "ancora?")
	require.NoError(t, err)
	assert.Equal(t, ReplyComplete, reply.Kind)
	assert.Len(t, hooked, 1, "hooks run once")

	_, err = m.ProcessAnswer(ctx, "c1", PhaseComplete, "x")
	assert.True(t, errors.Is(err, ErrFlowComplete))
}

func TestAbandonedConversationNeverAdvances(t *testing.T) {
	ctx := context.Background()
	o := accept(map[string]any{"crop_type": "Pomodoro"})
	m, st := newTestMachine(t, o)
	createAt(t, st, "c1", "phase_1_1")

	require.NoError(t, m.Abandon(ctx, "c1"))
	reply, err := m.SubmitAnswer(ctx, "c1", "pomodori")
	require.NoError(t, err)
	assert.Equal(t, ReplyClosed, reply.Kind)
	assert.Equal(t, ClosedText, reply.Text)

	_, err = m.ProcessAnswer(ctx, "c1", "phase_1_1", "pomodori")
	assert.True(t, errors.Is(err, ErrConversationClosed))
	assert.Equal(t, int32(0), o.calls.Load())
	assert.Equal(t, "phase_1_1", currentPhase(t, st, "c1"))
}
