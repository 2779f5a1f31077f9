package telegram

import (
	"context"

	"github.com/mixelka/mailtriage/internal/formatter"
)

const alertBatch = 20

// postNewRecords posts every record processed since the last one posted
func (b *Bot) postNewRecords(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		records, err := b.store.RecordsSince(ctx, b.last, b.lastID, alertBatch)
		if err != nil {
			b.logger.Error("failed to load new records", "error", err)
			return
		}

		for _, rec := range records {
			text := b.formatter.FormatRecord(rec)
			keyboard := formatter.BuildRecordKeyboard(rec.ID)

			if _, err := b.sendMessageWithKeyboard(ctx, b.chatID, text, keyboard); err != nil {
				// Retried with the next signal
				b.logger.Error("failed to send to telegram", "record_id", rec.ID, "error", err)
				return
			}
			b.last, b.lastID = rec.ProcessedAt, rec.ID
			b.logger.Info("record sent to telegram", "record_id", rec.ID)
		}

		if len(records) < alertBatch {
			return
		}
	}
}
