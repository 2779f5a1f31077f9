package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailtriage/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing test db: %v", err)
		}
	})

	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	processed, err := db.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, db.MarkProcessed(ctx, "msg-1", time.Now()))

	processed, err = db.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, processed)

	err = db.MarkProcessed(ctx, "msg-1", time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateKey))
}

func TestLedgerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "triage.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.MarkProcessed(ctx, "msg-1", time.Now()))
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(ctx))

	processed, err := db.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestAppendAndListRecords(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	base := time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)
	older := &models.ProcessedRecord{
		MessageID:    "msg-old",
		From:         "Jane <jane@example.com>",
		Subject:      "Interview",
		ActionStatus: "Sent automated reply. Email processed, marked as read.",
		Reply:        &models.ReplyLog{Subject: "Re: Interview", Body: "See you"},
		Category:     models.CategoryInterview,
		Confidence:   0.9,
		ProcessedAt:  base,
	}
	newer := &models.ProcessedRecord{
		MessageID:    "msg-new",
		From:         "news@example.com",
		Subject:      "Weekly digest",
		ActionStatus: "Email processed and archived.",
		ProcessedAt:  base.Add(time.Minute),
	}
	require.NoError(t, db.AppendRecord(ctx, older))
	require.NoError(t, db.AppendRecord(ctx, newer))
	assert.NotEmpty(t, older.ID)
	assert.NotEqual(t, older.ID, newer.ID)

	records, err := db.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "msg-new", records[0].MessageID)
	assert.Nil(t, records[0].Reply)
	assert.Equal(t, models.CategoryOther, records[0].Category, "missing category defaults to other")

	assert.Equal(t, "msg-old", records[1].MessageID)
	require.NotNil(t, records[1].Reply)
	assert.Equal(t, "Re: Interview", records[1].Reply.Subject)
	assert.Equal(t, models.CategoryInterview, records[1].Category)
	assert.InDelta(t, 0.9, records[1].Confidence, 1e-9)
	assert.True(t, base.Equal(records[1].ProcessedAt))

	since, err := db.RecordsSince(ctx, base, older.ID, 10)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "msg-new", since[0].MessageID)

	got, err := db.GetRecord(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "msg-old", got.MessageID)

	_, err = db.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordsSincePagesThroughSharedTimestamps(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	at := time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, db.AppendRecord(ctx, &models.ProcessedRecord{ID: id, MessageID: "msg-" + id, ProcessedAt: at}))
	}

	var seen []string
	cursorAt, cursorID := at.Add(-time.Second), ""
	for {
		page, err := db.RecordsSince(ctx, cursorAt, cursorID, 2)
		require.NoError(t, err)
		for _, rec := range page {
			seen = append(seen, rec.ID)
			cursorAt, cursorID = rec.ProcessedAt, rec.ID
		}
		if len(page) < 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestCountByCategory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for _, c := range []models.Category{models.CategoryMeeting, models.CategoryMeeting, models.CategoryNotImportant, ""} {
		require.NoError(t, db.AppendRecord(ctx, &models.ProcessedRecord{MessageID: "m", Category: c}))
	}

	counts, err := db.CountByCategory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.CategoryMeeting])
	assert.Equal(t, 1, counts[models.CategoryNotImportant])
	assert.Equal(t, 1, counts[models.CategoryOther])
	assert.Equal(t, 0, counts[models.CategoryInterview])
	assert.Len(t, counts, len(models.Categories))

	total, err := db.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestDeleteRecord(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	rec := &models.ProcessedRecord{MessageID: "msg-1"}
	require.NoError(t, db.AppendRecord(ctx, rec))
	require.NoError(t, db.MarkProcessed(ctx, "msg-1", time.Now()))

	deleted, err := db.DeleteRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = db.DeleteRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	// Deleting the record keeps the ledger entry
	processed, err := db.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, processed)
}
