package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/mixelka/mailtriage/internal/calendar"
	"github.com/mixelka/mailtriage/internal/classifier"
	"github.com/mixelka/mailtriage/internal/config"
	"github.com/mixelka/mailtriage/internal/credential"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/mailbox"
	"github.com/mixelka/mailtriage/internal/pipeline"
)

// mailboxAdapter is a pipeline mailbox that also knows its own address
type mailboxAdapter interface {
	pipeline.Mailbox
	Address(ctx context.Context) (string, error)
}

func newRunCmd() *cobra.Command {
	var (
		pollInterval time.Duration
		once         bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the triage pipeline",
		Long:  "Continuously polls the inbox and processes every new unread message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("poll-interval") {
				cfg.PollInterval = pollInterval
			}
			if err := cfg.ValidatePipeline(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runPipeline(cfg, logger, once)
		},
	}

	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 20*time.Second, "Sleep between idle polling cycles")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single polling cycle and exit")

	return cmd
}

func runPipeline(cfg *config.Config, logger *slog.Logger, once bool) error {
	logger.Info("starting triage pipeline", "provider", cfg.MailboxProvider)

	ctx, cancel := signalContext(logger)
	defer cancel()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Google token is needed for Gmail and for Calendar
	var ts oauth2.TokenSource
	if cfg.MailboxProvider == config.ProviderGmail || cfg.CalendarEnabled {
		store, err := credential.NewTokenStore(cfg.GoogleTokenFile, cfg.UseKeyring, logger)
		if err != nil {
			return err
		}
		ts, err = credential.GoogleTokenSource(ctx, cfg.GoogleCredentialsFile, store)
		if err != nil {
			return err
		}
	}

	box, closeBox, err := buildMailbox(ctx, cfg, ts, logger)
	if err != nil {
		return err
	}
	defer closeBox()

	from := cfg.FromAddress
	if from == "" {
		from, err = box.Address(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve sender address: %w", err)
		}
	}

	deps := pipeline.DispatcherDeps{
		Mailbox:     box,
		Records:     db,
		Ledger:      db,
		FromAddress: from,
		CallTimeout: cfg.CallTimeout,
		Logger:      logger,
	}
	if cfg.CalendarEnabled {
		cal, err := calendar.NewGoogle(ctx, ts, cfg.CalendarTimezone, logger)
		if err != nil {
			return err
		}
		deps.Calendar = cal
		logger.Info("calendar integration enabled", "timezone", cfg.CalendarTimezone)
	}

	gemini := classifier.NewGemini(classifier.Config{
		BaseURL: cfg.GeminiBaseURL,
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.GeminiModel,
		Prompt: classifier.PromptOptions{
			Timezone:      cfg.CalendarTimezone,
			SignatureName: cfg.SignatureName,
		},
		Timeout: cfg.CallTimeout,
	}, logger)

	poller := pipeline.NewPoller(pipeline.PollerDeps{
		Mailbox:      box,
		Classifier:   gemini,
		Ledger:       db,
		Dispatcher:   pipeline.NewDispatcher(deps),
		Query:        cfg.GmailQuery,
		BatchSize:    cfg.BatchSize,
		PollInterval: cfg.PollInterval,
		ErrorBackoff: cfg.ErrorBackoff,
		Pacing:       cfg.PacingDelay,
		CallTimeout:  cfg.CallTimeout,
		Logger:       logger,
	})

	if once {
		n, err := poller.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("single cycle finished", "processed", n)
		return nil
	}

	logger.Info("pipeline is running, press Ctrl+C to stop", "from", from)
	if err := poller.Run(ctx); err != nil {
		return err
	}
	logger.Info("pipeline stopped")
	return nil
}

// buildMailbox creates the configured mailbox adapter
func buildMailbox(ctx context.Context, cfg *config.Config, ts oauth2.TokenSource, logger *slog.Logger) (mailboxAdapter, func(), error) {
	if cfg.MailboxProvider == config.ProviderGmail {
		gm, err := mailbox.NewGmail(ctx, ts, logger)
		if err != nil {
			return nil, nil, err
		}
		return gm, func() {}, nil
	}

	server := cfg.IMAPServer
	if server == "" {
		resolved, err := mailbox.NewServerResolver().Resolve(cfg.IMAPUsername)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve imap server: %w", err)
		}
		server = resolved
		logger.Info("resolved imap server", "server", server)
	}

	box := mailbox.NewIMAP(mailbox.IMAPConfig{
		Username:       cfg.IMAPUsername,
		Password:       cfg.IMAPPassword,
		Server:         server,
		DialTimeout:    cfg.IMAPDialTimeout,
		ArchiveMailbox: cfg.ArchiveMailbox,
		SMTPServer:     cfg.SMTPServer,
		SMTPUsername:   cfg.SMTPUsername,
		SMTPPassword:   cfg.SMTPPassword,
	}, logger)

	return box, func() {
		if err := box.Close(); err != nil {
			logger.Warn("failed to close imap connection", "error", err)
		}
	}, nil
}
