package database

import (
	"context"
	"fmt"
	"time"
)

// IsProcessed reports whether a message ID is in the ledger
func (db *DB) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var count int
	query := db.Rebind(`SELECT COUNT(*) FROM processed_messages WHERE message_id = ?`)
	if err := db.GetContext(ctx, &count, query, messageID); err != nil {
		return false, fmt.Errorf("failed to check processed message: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed adds a message ID to the ledger.
// Returns ErrDuplicateKey if the ID is already there: callers must check
// IsProcessed first, so a duplicate means a logic error upstream.
func (db *DB) MarkProcessed(ctx context.Context, messageID string, at time.Time) error {
	query := db.Rebind(`
		INSERT INTO processed_messages (message_id, processed_at)
		VALUES (?, ?)
		ON CONFLICT (message_id) DO NOTHING
	`)
	result, err := db.ExecContext(ctx, query, messageID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrDuplicateKey)
	}

	return nil
}
