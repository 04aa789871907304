package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spapperi/configurator/internal/config"
	"github.com/spapperi/configurator/internal/models"
	"github.com/spapperi/configurator/internal/store"
)

// clearEnv unsets the unprefixed variables the config layer reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "DATABASE_URL", "API_ADDR",
		"TWILIO_ACCOUNT_SID", "TWILIO_AUTH_TOKEN", "TWILIO_FROM_NUMBER", "PUBLIC_URL",
	} {
		t.Setenv(name, "")
	}
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedCompleted creates a completed conversation in a SQLite store.
func seedCompleted(t *testing.T, dsn, id string) {
	t.Helper()
	st, err := store.Open(dsn)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.CreateConversation(ctx, models.Conversation{ID: id, CurrentPhase: "phase_1_1"}))
	crop := "pomodori"
	require.NoError(t, st.SaveConfigurationData(ctx, id, models.ConfigurationUpdate{CropType: &crop}))
	require.NoError(t, st.MarkComplete(ctx, id))
}

func TestPhasesCommand(t *testing.T) {
	clearEnv(t)
	out, err := runCommand(t, "phases")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, out, "phase_1_1")
	assert.Contains(t, out, "crop_type")
	assert.Contains(t, out, "prompt depends on earlier answers")
}

func TestExportWritesReports(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dsn := filepath.Join(dir, "configurator.db")
	seedCompleted(t, dsn, "conv-1")

	out, err := runCommand(t, "export", "--state-dir", dir, "--db-dsn", dsn, "conv-1")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "exports", "conv-1.txt"))
	assert.Contains(t, out, filepath.Join(dir, "exports", "conv-1.yaml"))
}

func TestExportAll(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dsn := filepath.Join(dir, "configurator.db")
	seedCompleted(t, dsn, "conv-1")
	seedCompleted(t, dsn, "conv-2")

	out, err := runCommand(t, "export", "--state-dir", dir, "--db-dsn", dsn, "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "conv-1.yaml")
	assert.Contains(t, out, "conv-2.yaml")
}

func TestExportFormatPrintsReport(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	dsn := filepath.Join(dir, "configurator.db")
	seedCompleted(t, dsn, "conv-1")

	out, err := runCommand(t, "export", "--state-dir", dir, "--db-dsn", dsn, "--format", "yaml", "conv-1")
	require.NoError(t, err)
	assert.Contains(t, out, "crop_type: pomodori")

	_, err = runCommand(t, "export", "--state-dir", dir, "--db-dsn", dsn, "--format", "pdf", "conv-1")
	assert.Error(t, err)
}

func TestExportArguments(t *testing.T) {
	clearEnv(t)
	_, err := runCommand(t, "export")
	assert.Error(t, err)

	_, err = runCommand(t, "export", "--all", "conv-1")
	assert.Error(t, err)

	_, err = runCommand(t, "export", "--db-dsn", ":memory:", "--all", "--format", "txt")
	assert.Error(t, err)
}

func TestExportUnknownConversation(t *testing.T) {
	clearEnv(t)
	_, err := runCommand(t, "export", "--db-dsn", ":memory:", "missing")
	assert.True(t, errors.Is(err, store.ErrConversationNotFound))
}

func TestServeRequiresOracleKey(t *testing.T) {
	clearEnv(t)
	_, err := runCommand(t, "serve", "--db-dsn", ":memory:", "--api-addr", "127.0.0.1:0")
	assert.True(t, errors.Is(err, config.ErrMissingAPIKey))
}

func TestLoadConfigAppliesChangedFlagsOnly(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	root := &rootFlags{}
	cmd := &cobra.Command{Use: "flags"}
	cmd.Flags().StringVar(&root.stateDir, "state-dir", "", "")
	cmd.Flags().StringVar(&root.dbDSN, "db-dsn", "ignored", "")
	cmd.Flags().StringVar(&root.logLevel, "log-level", "", "")
	require.NoError(t, cmd.ParseFlags([]string{"--state-dir", dir, "--log-level", "WARN"}))

	cfg, err := loadConfig(cmd, root, map[string]interface{}{"api_addr": ":9999"})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, ":9999", cfg.APIAddr)
	assert.Empty(t, cfg.DatabaseDSN)
	assert.Equal(t, filepath.Join(dir, config.DefaultDBFileName), cfg.StoreDSN())
}

func TestUsesStateDir(t *testing.T) {
	cfg := &config.Config{StateDir: "/srv/cfg", DatabaseDSN: "postgres://u:p@db/cfg"}
	cfg.Messaging.Channel = config.ChannelNone
	assert.False(t, usesStateDir(cfg))

	cfg.Messaging.Channel = config.ChannelWhatsApp
	assert.True(t, usesStateDir(cfg))

	cfg.Messaging.WhatsAppDBDSN = "postgres://u:p@db/wa"
	assert.False(t, usesStateDir(cfg))

	cfg.DatabaseDSN = ""
	assert.True(t, usesStateDir(cfg))
}

func TestBuildMessagingService(t *testing.T) {
	ctx := context.Background()

	svc, webhook, cleanup, err := buildMessagingService(ctx, &config.Config{})
	require.NoError(t, err)
	cleanup()
	assert.Nil(t, svc)
	assert.Nil(t, webhook)

	cfg := &config.Config{}
	cfg.Messaging = config.MessagingConfig{
		Channel:          config.ChannelTwilio,
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "token",
		TwilioFromNumber: "+15550001111",
		PublicURL:        "https://cfg.example.com",
	}
	svc, webhook, cleanup, err = buildMessagingService(ctx, cfg)
	require.NoError(t, err)
	cleanup()
	assert.NotNil(t, svc)
	assert.NotNil(t, webhook)

	opts := buildAPIOptions(&config.Config{APIAddr: ":8081"}, nil, webhook)
	assert.Len(t, opts, 3)
}
