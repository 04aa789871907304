package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spapperi/configurator/internal/api"
	"github.com/spapperi/configurator/internal/config"
	"github.com/spapperi/configurator/internal/export"
	"github.com/spapperi/configurator/internal/flow"
	"github.com/spapperi/configurator/internal/lockfile"
	"github.com/spapperi/configurator/internal/messaging"
	"github.com/spapperi/configurator/internal/metrics"
	"github.com/spapperi/configurator/internal/oracle"
	"github.com/spapperi/configurator/internal/store"
	"github.com/spapperi/configurator/internal/twiliowhatsapp"
	"github.com/spapperi/configurator/internal/whatsapp"
)

// serveFlags holds the flag values of the serve command.
type serveFlags struct {
	apiAddr  string
	qrOutput string
	numeric  bool
}

func newServeCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured messaging channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]interface{}{}
			if cmd.Flags().Changed("api-addr") {
				overrides["api_addr"] = flags.apiAddr
			}
			if cmd.Flags().Changed("qr-output") {
				overrides["messaging.qr_output"] = flags.qrOutput
			}
			if cmd.Flags().Changed("numeric-code") {
				overrides["messaging.numeric_code"] = flags.numeric
			}
			cfg, err := loadConfig(cmd, root, overrides)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			slog.Info("Bootstrapping configurator with configured modules")
			if err := runServe(ctx, cfg); err != nil {
				slog.Error("configurator failed to run", "error", err)
				return err
			}
			slog.Info("configurator exited successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.apiAddr, "api-addr", "", "API server address (overrides $API_ADDR)")
	cmd.Flags().StringVar(&flags.qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	cmd.Flags().BoolVar(&flags.numeric, "numeric-code", false, "use a numeric WhatsApp login code instead of a QR code")
	return cmd
}

// runServe wires every component and blocks until ctx is cancelled or one
// of the long-running parts fails.
func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.RequireOracleKey(); err != nil {
		return err
	}
	if err := ensureDirectoriesExist(cfg); err != nil {
		return err
	}
	if usesStateDir(cfg) {
		lock, err := lockfile.Acquire(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("failed to lock state directory: %w", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				slog.Warn("Failed to release state directory lock", "error", err, "path", lock.Path())
			}
		}()
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	validator, err := oracle.New(cfg.OracleSettings())
	if err != nil {
		return fmt.Errorf("failed to create oracle: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheusRecorder(registry)
	exporter := export.NewWriter(st, cfg.ReportDir())

	machine := flow.NewMachine(st, validator,
		flow.WithOracleTimeout(cfg.Oracle.Timeout),
		flow.WithHistoryWindow(cfg.Flow.HistoryWindow),
		flow.WithRecorder(recorder),
		flow.WithCompletionHook(exporter),
	)

	svc, webhook, cleanup, err := buildMessagingService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	apiOpts := buildAPIOptions(cfg, registry, webhook)
	server := api.NewServer(machine, st, exporter, apiOpts...)
	slog.Debug("Module options counts", "api", len(apiOpts), "messaging", svc != nil)

	if svc != nil {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if svc != nil {
		handlerOpts := []messaging.HandlerOption{messaging.WithPublicURL(cfg.Messaging.PublicURL)}
		if inbound, ok := st.(store.InboundLog); ok {
			handlerOpts = append(handlerOpts, messaging.WithInboundLog(inbound))
		}
		handler := messaging.NewResponseHandler(svc, machine, handlerOpts...)
		g.Go(func() error {
			return handler.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			return svc.Stop()
		})
	}
	return g.Wait()
}

// buildAPIOptions constructs API server configuration options.
func buildAPIOptions(cfg *config.Config, gatherer prometheus.Gatherer, webhook http.Handler) []api.Option {
	apiOpts := []api.Option{api.WithMetrics(gatherer)}
	if cfg.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(cfg.APIAddr))
	}
	if webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(webhook))
	}
	return apiOpts
}

// buildMessagingService creates the configured chat channel. It returns a
// nil service when no channel is configured and a webhook handler when the
// channel receives messages over HTTP.
func buildMessagingService(ctx context.Context, cfg *config.Config) (messaging.Service, http.Handler, func(), error) {
	noop := func() {}
	switch cfg.Messaging.Channel {
	case config.ChannelTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(cfg)...)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if url := cfg.Messaging.TwilioWebhookURL(); url != "" {
			validator := twiliowhatsapp.NewSignatureValidator(cfg.Messaging.TwilioAuthToken)
			opts = append(opts, messaging.WithSignatureValidation(validator, url))
		} else {
			slog.Warn("No public URL configured, Twilio webhook signatures are not checked")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return svc, http.HandlerFunc(svc.WebhookHandler), noop, nil

	case config.ChannelWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, client.Disconnect, nil

	default:
		slog.Info("No messaging channel configured, serving the HTTP API only")
		return nil, nil, noop, nil
	}
}

// buildTwilioOptions constructs Twilio client options.
func buildTwilioOptions(cfg *config.Config) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(cfg.Messaging.TwilioAccountSID),
		twiliowhatsapp.WithAuthToken(cfg.Messaging.TwilioAuthToken),
		twiliowhatsapp.WithFromWhats(cfg.Messaging.TwilioFromNumber),
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options.
func buildWhatsAppOptions(cfg *config.Config) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.WhatsAppDSN())}
	if cfg.Messaging.QROutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.Messaging.QROutput))
	}
	if cfg.Messaging.NumericCode {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}
