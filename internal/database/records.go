package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mixelka/mailtriage/pkg/models"
)

const recordColumns = `id, message_id, from_addr, to_addr, sent_date, subject, body,
	reply_subject, reply_body, action_status, category, summary, confidence, processed_at`

type recordRow struct {
	ID           string          `db:"id"`
	MessageID    string          `db:"message_id"`
	FromAddr     string          `db:"from_addr"`
	ToAddr       string          `db:"to_addr"`
	SentDate     string          `db:"sent_date"`
	Subject      string          `db:"subject"`
	Body         string          `db:"body"`
	ReplySubject sql.NullString  `db:"reply_subject"`
	ReplyBody    sql.NullString  `db:"reply_body"`
	ActionStatus string          `db:"action_status"`
	Category     sql.NullString  `db:"category"`
	Summary      string          `db:"summary"`
	Confidence   sql.NullFloat64 `db:"confidence"`
	ProcessedAt  time.Time       `db:"processed_at"`
}

func (r *recordRow) toModel() *models.ProcessedRecord {
	rec := &models.ProcessedRecord{
		ID:           r.ID,
		MessageID:    r.MessageID,
		From:         r.FromAddr,
		To:           r.ToAddr,
		Date:         r.SentDate,
		Subject:      r.Subject,
		Body:         r.Body,
		ActionStatus: r.ActionStatus,
		Category:     models.CategoryOther,
		Summary:      r.Summary,
		Confidence:   r.Confidence.Float64,
		ProcessedAt:  r.ProcessedAt,
	}
	if r.Category.Valid && r.Category.String != "" {
		rec.Category = models.Category(r.Category.String)
	}
	if r.ReplySubject.Valid || r.ReplyBody.Valid {
		rec.Reply = &models.ReplyLog{
			Subject: r.ReplySubject.String,
			Body:    r.ReplyBody.String,
		}
	}
	return rec
}

// AppendRecord stores a processed record. ID and ProcessedAt are filled in if empty.
func (db *DB) AppendRecord(ctx context.Context, rec *models.ProcessedRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}
	rec.ProcessedAt = rec.ProcessedAt.UTC()

	var replySubject, replyBody sql.NullString
	if rec.Reply != nil {
		replySubject = sql.NullString{String: rec.Reply.Subject, Valid: true}
		replyBody = sql.NullString{String: rec.Reply.Body, Valid: true}
	}

	query := db.Rebind(`
		INSERT INTO email_logs (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := db.ExecContext(ctx, query,
		rec.ID,
		rec.MessageID,
		rec.From,
		rec.To,
		rec.Date,
		rec.Subject,
		rec.Body,
		replySubject,
		replyBody,
		rec.ActionStatus,
		string(rec.Category),
		rec.Summary,
		rec.Confidence,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return nil
}

// ListRecords returns all records, newest first
func (db *DB) ListRecords(ctx context.Context) ([]*models.ProcessedRecord, error) {
	var rows []recordRow
	query := `SELECT ` + recordColumns + ` FROM email_logs ORDER BY processed_at DESC`
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return toModels(rows), nil
}

// RecordsSince returns records after the (since, afterID) cursor in
// (processed_at, id) order, oldest first. Records sharing a timestamp are never
// split across pages.
func (db *DB) RecordsSince(ctx context.Context, since time.Time, afterID string, limit int) ([]*models.ProcessedRecord, error) {
	var rows []recordRow
	query := db.Rebind(`SELECT ` + recordColumns + ` FROM email_logs
		WHERE processed_at > ? OR (processed_at = ? AND id > ?)
		ORDER BY processed_at ASC, id ASC LIMIT ?`)
	if err := db.SelectContext(ctx, &rows, query, since.UTC(), since.UTC(), afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent records: %w", err)
	}
	return toModels(rows), nil
}

// GetRecord returns a record by ID
func (db *DB) GetRecord(ctx context.Context, id string) (*models.ProcessedRecord, error) {
	var row recordRow
	query := db.Rebind(`SELECT ` + recordColumns + ` FROM email_logs WHERE id = ?`)
	err := db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.toModel(), nil
}

// CountRecords returns the total number of records
func (db *DB) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM email_logs`); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// CountByCategory returns the number of records per category.
// Every known category is present; a missing category counts as other.
func (db *DB) CountByCategory(ctx context.Context) (map[models.Category]int, error) {
	var rows []struct {
		Category string `db:"category"`
		Count    int    `db:"n"`
	}
	query := `
		SELECT COALESCE(NULLIF(category, ''), 'other') AS category, COUNT(*) AS n
		FROM email_logs
		GROUP BY COALESCE(NULLIF(category, ''), 'other')
	`
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}

	counts := make(map[models.Category]int, len(models.Categories))
	for _, c := range models.Categories {
		counts[c] = 0
	}
	for _, r := range rows {
		counts[models.Category(r.Category)] += r.Count
	}
	return counts, nil
}

// DeleteRecord deletes a record by ID and reports whether it existed.
// The ledger entry of the message is kept, so it is not processed again.
func (db *DB) DeleteRecord(ctx context.Context, id string) (bool, error) {
	query := db.Rebind(`DELETE FROM email_logs WHERE id = ?`)
	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func toModels(rows []recordRow) []*models.ProcessedRecord {
	records := make([]*models.ProcessedRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toModel())
	}
	return records
}
