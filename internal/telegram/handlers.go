package telegram

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/formatter"
	appmodels "github.com/mixelka/mailtriage/pkg/models"
)

// handleStart handles /start and /help
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.Chat.ID != b.chatID {
		return
	}

	text := `<b>Mail triage alerts</b>

Every processed email is posted here with the action taken.
Press <b>Delete</b> to remove an entry from the log.

<b>Commands:</b>
/stats - processed emails per category`

	b.sendMessage(ctx, msg.Chat.ID, text)
}

// handleStats handles /stats
func (b *Bot) handleStats(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.Chat.ID != b.chatID {
		return
	}

	total, err := b.store.CountRecords(ctx)
	if err != nil {
		b.logger.Error("failed to count records", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "Failed to load stats")
		return
	}
	counts, err := b.store.CountByCategory(ctx)
	if err != nil {
		b.logger.Error("failed to count categories", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, "Failed to load stats")
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, b.formatter.FormatStats(total, counts))
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	chatID, msgID := callbackOrigin(callback)
	if chatID != b.chatID {
		b.logger.Warn("callback from unknown chat ignored", "chat_id", chatID, "user_id", callback.From.ID)
		b.answerCallback(ctx, callback.ID, "Not allowed", false)
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Error", false)
		return
	}

	switch data.Action {
	case appmodels.CallbackDelete:
		b.handleDelete(ctx, callback, data, msgID)
	default:
		b.answerCallback(ctx, callback.ID, "Unknown action", false)
	}
}

// handleDelete removes the record and the alert
func (b *Bot) handleDelete(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData, msgID int) {
	rec, err := b.store.GetRecord(ctx, data.RecordID)
	if errors.Is(err, database.ErrNotFound) {
		b.removeAlert(ctx, msgID)
		b.answerCallback(ctx, callback.ID, "Already deleted", false)
		return
	}
	if err != nil {
		b.logger.Error("failed to get record", "record_id", data.RecordID, "error", err)
		b.answerCallback(ctx, callback.ID, "Error: "+err.Error(), false)
		return
	}

	deleted, err := b.store.DeleteRecord(ctx, rec.ID)
	if err != nil {
		b.logger.Error("failed to delete record", "record_id", rec.ID, "error", err)
		b.answerCallback(ctx, callback.ID, "Error: "+err.Error(), false)
		return
	}

	b.removeAlert(ctx, msgID)

	if !deleted {
		b.answerCallback(ctx, callback.ID, "Already deleted", false)
		return
	}

	b.signals.Refresh()
	b.logger.Info("record deleted from telegram", "record_id", rec.ID, "subject", rec.Subject)
	b.answerCallback(ctx, callback.ID, "Deleted: "+truncateAnswer(rec.Subject), false)
}

// removeAlert deletes the alert message the button belongs to
func (b *Bot) removeAlert(ctx context.Context, msgID int) {
	if msgID == 0 {
		return
	}
	if err := b.deleteMessage(ctx, b.chatID, msgID); err != nil {
		b.logger.Warn("failed to delete telegram message", "error", err)
	}
}

// truncateAnswer keeps callback answers within Telegram's 200 character limit
func truncateAnswer(s string) string {
	const max = 150
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// callbackOrigin returns the chat and message the pressed button belongs to
func callbackOrigin(callback *models.CallbackQuery) (int64, int) {
	switch {
	case callback.Message.Message != nil:
		return callback.Message.Message.Chat.ID, callback.Message.Message.ID
	case callback.Message.InaccessibleMessage != nil:
		return callback.Message.InaccessibleMessage.Chat.ID, callback.Message.InaccessibleMessage.MessageID
	}
	return 0, 0
}
