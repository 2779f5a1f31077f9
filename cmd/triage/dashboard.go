package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mixelka/mailtriage/internal/dashboard"
	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/formatter"
	"github.com/mixelka/mailtriage/internal/notifier"
	"github.com/mixelka/mailtriage/internal/telegram"
)

func newDashboardCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the live dashboard",
		Long:  "Serves the audit log over HTTP with live updates, plus optional Telegram alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.DashboardAddr = addr
			}

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

			n := notifier.New(db, cfg.NotifyInterval, cfg.NotifyBackoff, logger)
			server := dashboard.New(dashboard.Deps{
				Store:   db,
				Signals: n,
				Logger:  logger,
			})

			var bot *telegram.Bot
			if cfg.TelegramEnabled() {
				bot, err = telegram.NewBot(telegram.BotDeps{
					Token:     cfg.TelegramToken,
					ChatID:    cfg.TelegramChatID,
					Store:     db,
					Signals:   n,
					Formatter: formatter.NewTelegramFormatter(),
					Logger:    logger,
				})
				if err != nil {
					return fmt.Errorf("failed to create telegram bot: %w", err)
				}
				logger.Info("telegram alerts enabled", "chat_id", cfg.TelegramChatID)
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return n.Run(gctx) })
			g.Go(func() error { return server.Run(gctx, cfg.DashboardAddr) })
			if bot != nil {
				g.Go(func() error { return bot.Run(gctx) })
			}

			logger.Info("dashboard is running", "addr", cfg.DashboardAddr)
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5000", "Dashboard listen address")

	return cmd
}
