package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/mailtriage/internal/formatter"
	"github.com/mixelka/mailtriage/internal/notifier"
	appmodels "github.com/mixelka/mailtriage/pkg/models"
)

// Store is the part of the audit log the bot reads and prunes
type Store interface {
	RecordsSince(ctx context.Context, since time.Time, afterID string, limit int) ([]*appmodels.ProcessedRecord, error)
	GetRecord(ctx context.Context, id string) (*appmodels.ProcessedRecord, error)
	DeleteRecord(ctx context.Context, id string) (bool, error)
	CountRecords(ctx context.Context) (int, error)
	CountByCategory(ctx context.Context) (map[appmodels.Category]int, error)
}

// Signals is the part of the notifier the bot uses
type Signals interface {
	Subscribe() (<-chan notifier.Signal, func())
	Refresh()
}

// api is the subset of the Telegram Bot API in use
type api interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Bot posts new records to one chat and lets the chat delete them
type Bot struct {
	bot       *bot.Bot
	api       api
	store     Store
	signals   Signals
	formatter *formatter.TelegramFormatter
	chatID    int64
	logger    *slog.Logger

	mu     sync.Mutex
	last   time.Time // processed_at of the newest record posted
	lastID string    // its id, breaks processed_at ties
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Token     string
	ChatID    int64
	Store     Store
	Signals   Signals
	Formatter *formatter.TelegramFormatter
	Logger    *slog.Logger
}

// NewBot creates a new Telegram bot. Only records processed after
// startup are posted.
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		store:     deps.Store,
		signals:   deps.Signals,
		formatter: deps.Formatter,
		chatID:    deps.ChatID,
		logger:    deps.Logger.With("component", "telegram_bot"),
		last:      time.Now().UTC(),
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}

	tgBot, err := bot.New(deps.Token, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.api = tgBot
	b.registerHandlers()

	return b, nil
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.handleStart)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, b.handleStart)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypePrefix, b.handleStats)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Run receives updates and posts new records until ctx is cancelled
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting telegram bot", "chat_id", b.chatID)

	signals, unsubscribe := b.signals.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		b.bot.Start(ctx)
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			b.logger.Info("telegram bot stopped")
			return nil
		case sig, ok := <-signals:
			if !ok {
				<-done
				return nil
			}
			if sig == notifier.SignalNewItem {
				b.postNewRecords(ctx)
			}
		}
	}
}

// defaultHandler handles unknown messages
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	if update.Message.Text != "" && update.Message.Text[0] == '/' {
		b.logger.Debug("unknown command", "text", update.Message.Text)
	}
}
