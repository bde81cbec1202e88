// Package main is the entry point for the SMTP to Slack relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/smtp-slack-relay/internal/config"
	"github.com/shineum/smtp-slack-relay/internal/health"
	"github.com/shineum/smtp-slack-relay/internal/provider"
	"github.com/shineum/smtp-slack-relay/internal/provider/ses"
	"github.com/shineum/smtp-slack-relay/internal/provider/slack"
	"github.com/shineum/smtp-slack-relay/internal/provider/stdout"
	"github.com/shineum/smtp-slack-relay/internal/relay"
	"github.com/shineum/smtp-slack-relay/internal/route"
	"github.com/shineum/smtp-slack-relay/internal/smtp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "smtp-slack-relay",
		Short:         "Relay inbound SMTP mail to a Slack channel",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				slog.Error("failed to load configuration", "error", err)
				return err
			}

			setupLogger(cfg.Logging.Level)

			if err := cfg.Validate(); err != nil {
				slog.Error("invalid configuration", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			if err := run(ctx, cfg); err != nil {
				slog.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")
	return cmd
}

// run wires the relay from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	routes, err := route.New(cfg.Slack.DefaultChannel, cfg.RouteRules())
	if err != nil {
		return err
	}

	rl, err := relay.New(relay.Config{
		Provider:        prov,
		Routes:          routes,
		DeliveryTimeout: cfg.Delivery.Timeout,
	})
	if err != nil {
		return err
	}

	allow, err := smtp.ParseAllowlist(cfg.SMTP.AllowedNetworks)
	if err != nil {
		return err
	}
	if allow.Open() {
		slog.Warn("no allowed networks configured, accepting mail from any client")
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:      cfg.SMTP.Listen,
		Domain:          cfg.SMTP.Domain,
		Handler:         rl,
		MaxMessageBytes: int64(cfg.SMTP.MaxMessageSize),
		MaxRecipients:   cfg.SMTP.MaxRecipients,
		ReadTimeout:     cfg.SMTP.ReadTimeout,
		WriteTimeout:    cfg.SMTP.WriteTimeout,
		Allowlist:       allow,
	})

	slog.Info("starting smtp-slack-relay",
		"listen", cfg.SMTP.Listen,
		"provider", prov.Name(),
		"default_channel", routes.Fallback(),
		"routes", routes.Len(),
		"max_message_size", cfg.SMTP.MaxMessageSize.String(),
		"delivery_timeout", cfg.Delivery.Timeout,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	healthDone := make(chan struct{})
	if cfg.Health.Listen != "" {
		hs := health.New(cfg.Health.Listen, server.Ready)
		go func() {
			defer close(healthDone)
			if err := hs.ListenAndServe(ctx); err != nil {
				slog.Error("health server error", "error", err)
			}
		}()
	} else {
		close(healthDone)
	}

	// Blocks until the context is cancelled
	server.Run(ctx)
	cancel()
	<-healthDone

	slog.Info("smtp-slack-relay stopped")
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// selectProvider builds the delivery backend named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "slack":
		if cfg.Slack.Token == "" {
			slog.Warn("SLACK_BOT_TOKEN is empty, deliveries will be rejected by Slack")
		}
		slog.Info("using Slack provider",
			"api_url", cfg.Slack.APIURL,
			"max_retries", cfg.Delivery.MaxRetries,
		)
		return slack.New(slack.SlackProviderConfig{
			Token:      cfg.Slack.Token,
			APIURL:     cfg.Slack.APIURL,
			MaxRetries: cfg.Delivery.MaxRetries,
		}), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION and SES_SENDER are required")
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
			"recipient", cfg.SES.Recipient,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
			Recipient:       cfg.SES.Recipient,
			MaxRetries:      cfg.Delivery.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
