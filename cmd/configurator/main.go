// Command configurator runs the Spapperi transplanter configurator: a guided
// conversation that collects a machine configuration over HTTP or WhatsApp.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spapperi/configurator/internal/config"
	"github.com/spapperi/configurator/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootFlags holds the persistent flag values shared by every subcommand.
type rootFlags struct {
	configPath string
	stateDir   string
	dbDSN      string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "configurator",
		Short: "Spapperi transplanter configurator",
		Long: `Spapperi transplanter configurator

Guides a customer through the questions needed to configure a transplanter,
validates every answer and writes a report once the configuration is complete.`,
		Example: `  # Serve the HTTP API with the OpenAI validator
  OPENAI_API_KEY=sk-... configurator serve

  # Serve the API and answer on WhatsApp through Twilio
  configurator serve --config configurator.json

  # Write the reports of a finished conversation
  configurator export 6f1c2a5e-...

  # Show the question catalog
  configurator phases`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to a JSON config file")
	pf.StringVar(&flags.stateDir, "state-dir", "", "state directory for configurator data (overrides $CONFIGURATOR_STATE_DIR)")
	pf.StringVar(&flags.dbDSN, "db-dsn", "", "database DSN: SQLite path, postgres:// URL or :memory: (overrides $DATABASE_URL)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	cmd.AddCommand(newServeCmd(flags), newExportCmd(flags), newPhasesCmd())
	return cmd
}

// loadConfig loads the layered configuration. Only flags the user set
// explicitly override lower layers.
func loadConfig(cmd *cobra.Command, flags *rootFlags, overrides map[string]interface{}) (*config.Config, error) {
	if overrides == nil {
		overrides = map[string]interface{}{}
	}
	changed := cmd.Flags().Changed
	if changed("state-dir") {
		overrides["state_dir"] = flags.stateDir
	}
	if changed("db-dsn") {
		overrides["database_dsn"] = flags.dbDSN
	}
	if changed("log-level") {
		overrides["log_level"] = strings.ToLower(flags.logLevel)
	}

	cfg, err := config.Load(config.Options{ConfigPath: flags.configPath, Overrides: overrides})
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return nil, err
	}
	initializeLogger(cfg.SlogLevel())
	slog.Debug("Final configuration",
		"state_dir", cfg.StateDir,
		"dsn_set", cfg.DatabaseDSN != "",
		"api_addr", cfg.APIAddr,
		"oracle_provider", cfg.Oracle.Provider,
		"channel", cfg.Messaging.Channel)
	return cfg, nil
}

// initializeLogger sets up structured logging at the configured level.
func initializeLogger(level slog.Level) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// usesStateDir reports whether anything is written below the state directory:
// the SQLite store or the default whatsmeow session database.
func usesStateDir(cfg *config.Config) bool {
	if cfg.UsesFileStore() {
		return true
	}
	return cfg.Messaging.Channel == config.ChannelWhatsApp && cfg.Messaging.WhatsAppDBDSN == ""
}

// ensureDirectoriesExist creates the state directory when it is used.
func ensureDirectoriesExist(cfg *config.Config) error {
	if !usesStateDir(cfg) {
		return nil
	}
	slog.Debug("Creating state directory for file-based database", "state_dir", cfg.StateDir)
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", cfg.StateDir)
		return err
	}
	return nil
}

// openStore opens the backend selected by the configured DSN.
func openStore(cfg *config.Config) (store.Store, error) {
	dsn := cfg.StoreDSN()
	switch store.DetectDSNType(dsn) {
	case store.DSNTypePostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
	case store.DSNTypeMemory:
		slog.Debug("Using in-memory store")
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	}
	return store.Open(dsn)
}
