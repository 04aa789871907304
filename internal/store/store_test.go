package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spapperi/configurator/internal/models"
)

func strPtr(s string) *string       { return &s }
func boolPtr(b bool) *bool          { return &b }
func floatPtr(f float64) *float64   { return &f }
func slicePtr(s []string) *[]string { return &s }

// backends returns every store the tests can exercise in this environment.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{"memory": NewInMemoryStore()}

	sqlite, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "sub", "test.db")))
	require.NoError(t, err)
	out["sqlite"] = sqlite

	if dsn := os.Getenv("CONFIGURATOR_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := NewPostgresStore(WithPostgresDSN(dsn))
		require.NoError(t, err)
		_, err = pg.db.Exec(`TRUNCATE conversations, inbound_messages CASCADE`)
		require.NoError(t, err)
		out["postgres"] = pg
	}
	for _, s := range out {
		s := s
		t.Cleanup(func() { s.Close() })
	}
	return out
}

func newConversation(t *testing.T, s Store, id, phase string) {
	t.Helper()
	require.NoError(t, s.CreateConversation(context.Background(), models.Conversation{ID: id, CurrentPhase: phase}))
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			newConversation(t, s, "c1", "phase_1_1")

			conv, err := s.GetConversation(ctx, "c1")
			require.NoError(t, err)
			require.NotNil(t, conv)
			assert.Equal(t, "phase_1_1", conv.CurrentPhase)
			assert.Equal(t, models.ConversationStatusActive, conv.Status)

			missing, err := s.GetConversation(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, s.UpdateConversationPhase(ctx, "c1", "phase_1_2"))
			require.NoError(t, s.UpdateConversationStatus(ctx, "c1", models.ConversationStatusAbandoned))
			conv, err = s.GetConversation(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "phase_1_2", conv.CurrentPhase)
			assert.Equal(t, models.ConversationStatusAbandoned, conv.Status)

			err = s.UpdateConversationPhase(ctx, "nope", "phase_1_2")
			assert.True(t, errors.Is(err, ErrConversationNotFound))

			abandoned, err := s.ListConversations(ctx, models.ConversationStatusAbandoned)
			require.NoError(t, err)
			require.Len(t, abandoned, 1)
			active, err := s.ListConversations(ctx, models.ConversationStatusActive)
			require.NoError(t, err)
			assert.Empty(t, active)

			// A fresh conversation has an empty, incomplete configuration.
			data, err := s.GetConfigurationData(ctx, "c1")
			require.NoError(t, err)
			require.NotNil(t, data)
			assert.Nil(t, data.CropType)
			assert.False(t, data.Complete)
		})
	}
}

func TestMessagesKeepOrderAndPhase(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			newConversation(t, s, "c1", "phase_1_1")
			first, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Role: models.RoleAssistant, Content: "Che coltura?", PhaseID: "phase_1_1"})
			require.NoError(t, err)
			second, err := s.AppendMessage(ctx, models.Message{ConversationID: "c1", Role: models.RoleUser, Content: "Pomodoro", PhaseID: "phase_1_1"})
			require.NoError(t, err)
			assert.Greater(t, second.ID, first.ID)

			msgs, err := s.GetMessages(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, "Che coltura?", msgs[0].Content)
			assert.Equal(t, models.RoleUser, msgs[1].Role)
			assert.Equal(t, "phase_1_1", msgs[1].PhaseID)
			assert.Empty(t, msgs[1].ImageURL)
		})
	}
}

func TestSaveConfigurationMerges(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			newConversation(t, s, "c1", "phase_1_1")
			require.NoError(t, s.SaveConfigurationData(ctx, "c1", models.ConfigurationUpdate{CropType: strPtr("Pomodoro")}))
			require.NoError(t, s.SaveConfigurationData(ctx, "c1", models.ConfigurationUpdate{RootType: strPtr("Cubetto")}))

			data, err := s.GetConfigurationData(ctx, "c1")
			require.NoError(t, err)
			require.NotNil(t, data.CropType)
			require.NotNil(t, data.RootType)
			assert.Equal(t, "Pomodoro", *data.CropType)
			assert.Equal(t, "Cubetto", *data.RootType)
		})
	}
}

func TestGateClearsDetails(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			newConversation(t, s, "c1", "phase_3_2")
			require.NoError(t, s.SaveConfigurationData(ctx, "c1", models.ConfigurationUpdate{
				IsRaisedBed:      boolPtr(true),
				RaisedBedDetails: &models.RaisedBedDetails{AT: floatPtr(20), LT: floatPtr(100)},
			}))
			require.NoError(t, s.SaveConfigurationData(ctx, "c1", models.ConfigurationUpdate{IsRaisedBed: boolPtr(false)}))

			data, err := s.GetConfigurationData(ctx, "c1")
			require.NoError(t, err)
			require.NotNil(t, data.IsRaisedBed)
			assert.False(t, *data.IsRaisedBed)
			assert.Nil(t, data.RaisedBedDetails)
		})
	}
}

func TestEmptyAccessoriesDistinctFromMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			newConversation(t, s, "c1", "phase_5_1")
			require.NoError(t, s.SaveConfigurationData(ctx, "c1", models.ConfigurationUpdate{AccessoriesPrimary: slicePtr([]string{})}))

			data, err := s.GetConfigurationData(ctx, "c1")
			require.NoError(t, err)
			assert.NotNil(t, data.AccessoriesPrimary)
			assert.Empty(t, data.AccessoriesPrimary)
			assert.Nil(t, data.AccessoriesSecondary)
		})
	}
}

func TestApplyTransition(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			newConversation(t, s, "c1", "phase_1_1")

			err := s.ApplyTransition(ctx, Transition{
				ConversationID: "c1",
				From:           "phase_1_1",
				To:             "phase_1_2",
				Update:         models.ConfigurationUpdate{CropType: strPtr("Lattuga")},
			})
			require.NoError(t, err)

			// Replaying the same transition is stale and writes nothing.
			err = s.ApplyTransition(ctx, Transition{
				ConversationID: "c1",
				From:           "phase_1_1",
				To:             "phase_1_2",
				Update:         models.ConfigurationUpdate{CropType: strPtr("Cavolo")},
			})
			assert.True(t, errors.Is(err, ErrStaleTransition), "got %v", err)

			data, err := s.GetConfigurationData(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "Lattuga", *data.CropType)

			err = s.ApplyTransition(ctx, Transition{ConversationID: "missing", From: "phase_1_1", To: "phase_1_2"})
			assert.True(t, errors.Is(err, ErrConversationNotFound))

			require.NoError(t, s.ApplyTransition(ctx, Transition{
				ConversationID: "c1",
				From:           "phase_1_2",
				To:             "complete",
				Complete:       true,
			}))
			conv, err := s.GetConversation(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "complete", conv.CurrentPhase)
			assert.Equal(t, models.ConversationStatusCompleted, conv.Status)
			data, err = s.GetConfigurationData(ctx, "c1")
			require.NoError(t, err)
			assert.True(t, data.Complete)
		})
	}
}

func TestMarkComplete(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			newConversation(t, s, "c1", "phase_6_3")
			require.NoError(t, s.MarkComplete(ctx, "c1"))
			data, err := s.GetConfigurationData(ctx, "c1")
			require.NoError(t, err)
			assert.True(t, data.Complete)
			assert.True(t, errors.Is(s.MarkComplete(ctx, "missing"), ErrConversationNotFound))
		})
	}
}

func TestDetectDSNType(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/db":    DSNTypePostgres,
		"postgresql://localhost/db":      DSNTypePostgres,
		"host=localhost dbname=x":        DSNTypePostgres,
		":memory:":                       DSNTypeMemory,
		"/var/lib/configurator/state.db": DSNTypeSQLite,
		"file:state.db?cache=shared":     DSNTypeSQLite,
	}
	for dsn, want := range cases {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenEmptyDSNIsMemory(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("expected in-memory store, got %T", s)
	}
}

func TestRecordInbound(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			log, ok := s.(InboundLog)
			require.True(t, ok)

			fresh, err := log.RecordInbound(ctx, "wamid-1", "393331234567")
			require.NoError(t, err)
			assert.True(t, fresh)

			fresh, err = log.RecordInbound(ctx, "wamid-1", "393331234567")
			require.NoError(t, err)
			assert.False(t, fresh)

			fresh, err = log.RecordInbound(ctx, "wamid-2", "393331234567")
			require.NoError(t, err)
			assert.True(t, fresh)

			require.NoError(t, log.ForgetInbound(ctx, "wamid-1"))
			fresh, err = log.RecordInbound(ctx, "wamid-1", "393331234567")
			require.NoError(t, err)
			assert.True(t, fresh, "a released id is accepted again")
			require.NoError(t, log.ForgetInbound(ctx, "wamid-unknown"))
		})
	}
}
