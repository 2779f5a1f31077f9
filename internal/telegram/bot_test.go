package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/mailtriage/internal/database"
	"github.com/mixelka/mailtriage/internal/formatter"
	"github.com/mixelka/mailtriage/internal/notifier"
	appmodels "github.com/mixelka/mailtriage/pkg/models"
)

const testChatID int64 = 42

type fakeAPI struct {
	mu       sync.Mutex
	sent     []*bot.SendMessageParams
	deleted  []int
	answers  []string
	sendErrs int
}

func (f *fakeAPI) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErrs > 0 {
		f.sendErrs--
		return nil, errors.New("telegram down")
	}
	f.sent = append(f.sent, p)
	return &models.Message{ID: len(f.sent)}, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, p *bot.DeleteMessageParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, p.MessageID)
	return true, nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, p *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, p.Text)
	return true, nil
}

type fakeStore struct {
	records []*appmodels.ProcessedRecord
}

// RecordsSince expects records ordered by (ProcessedAt, ID)
func (s *fakeStore) RecordsSince(_ context.Context, since time.Time, afterID string, limit int) ([]*appmodels.ProcessedRecord, error) {
	var out []*appmodels.ProcessedRecord
	for _, r := range s.records {
		after := r.ProcessedAt.After(since) || (r.ProcessedAt.Equal(since) && r.ID > afterID)
		if after && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) GetRecord(_ context.Context, id string) (*appmodels.ProcessedRecord, error) {
	for _, r := range s.records {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *fakeStore) DeleteRecord(_ context.Context, id string) (bool, error) {
	for i, r := range s.records {
		if r.ID == id {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) CountRecords(context.Context) (int, error) {
	return len(s.records), nil
}

func (s *fakeStore) CountByCategory(context.Context) (map[appmodels.Category]int, error) {
	counts := make(map[appmodels.Category]int)
	for _, r := range s.records {
		counts[r.Category]++
	}
	return counts, nil
}

type fakeSignals struct {
	refreshes int
}

func (s *fakeSignals) Subscribe() (<-chan notifier.Signal, func()) {
	return make(chan notifier.Signal), func() {}
}

func (s *fakeSignals) Refresh() { s.refreshes++ }

func newTestBot(store *fakeStore, since time.Time) (*Bot, *fakeAPI, *fakeSignals) {
	api := &fakeAPI{}
	signals := &fakeSignals{}
	b := &Bot{
		api:       api,
		store:     store,
		signals:   signals,
		formatter: formatter.NewTelegramFormatter(),
		chatID:    testChatID,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		last:      since,
	}
	return b, api, signals
}

func callbackUpdate(chatID int64, msgID int, data string) *models.Update {
	return &models.Update{
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb-1",
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{ID: msgID, Chat: models.Chat{ID: chatID}},
			},
		},
	}
}

func TestPostNewRecords(t *testing.T) {
	start := time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []*appmodels.ProcessedRecord{
		{ID: "old", Subject: "Before start", ProcessedAt: start.Add(-time.Minute)},
		{ID: "r1", Subject: "First", ProcessedAt: start.Add(time.Second)},
		{ID: "r2", Subject: "Second", ProcessedAt: start.Add(2 * time.Second)},
	}}
	b, api, _ := newTestBot(store, start)

	b.postNewRecords(context.Background())

	require.Len(t, api.sent, 2)
	assert.Contains(t, api.sent[0].Text, "First")
	assert.Contains(t, api.sent[1].Text, "Second")
	assert.Equal(t, testChatID, api.sent[0].ChatID)
	assert.Equal(t, models.ParseModeHTML, api.sent[0].ParseMode)
	assert.NotNil(t, api.sent[0].ReplyMarkup)

	// Nothing new: nothing posted again
	b.postNewRecords(context.Background())
	assert.Len(t, api.sent, 2)
}

func TestPostNewRecordsRetriesAfterSendFailure(t *testing.T) {
	start := time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)
	store := &fakeStore{records: []*appmodels.ProcessedRecord{
		{ID: "r1", Subject: "First", ProcessedAt: start.Add(time.Second)},
	}}
	b, api, _ := newTestBot(store, start)
	api.sendErrs = 1

	b.postNewRecords(context.Background())
	assert.Empty(t, api.sent)

	b.postNewRecords(context.Background())
	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0].Text, "First")
}

func TestHandleDeleteCallback(t *testing.T) {
	store := &fakeStore{records: []*appmodels.ProcessedRecord{{ID: "r1", Subject: "Weekly digest"}}}
	b, api, signals := newTestBot(store, time.Now())

	data := formatter.EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackDelete, RecordID: "r1"})
	b.handleCallback(context.Background(), nil, callbackUpdate(testChatID, 7, data))

	assert.Empty(t, store.records)
	assert.Equal(t, 1, signals.refreshes)
	assert.Equal(t, []int{7}, api.deleted)
	assert.Equal(t, []string{"Deleted: Weekly digest"}, api.answers)

	// Second press on a stale alert
	b.handleCallback(context.Background(), nil, callbackUpdate(testChatID, 8, data))
	assert.Equal(t, 1, signals.refreshes)
	assert.Equal(t, []int{7, 8}, api.deleted)
	assert.Equal(t, "Already deleted", api.answers[1])
}

func TestPostNewRecordsPagesThroughSharedTimestamps(t *testing.T) {
	start := time.Date(2025, 9, 18, 10, 0, 0, 0, time.UTC)
	at := start.Add(time.Second)

	var records []*appmodels.ProcessedRecord
	for i := 0; i < alertBatch+1; i++ {
		records = append(records, &appmodels.ProcessedRecord{
			ID:          fmt.Sprintf("r%02d", i),
			Subject:     fmt.Sprintf("Subject %02d", i),
			ProcessedAt: at,
		})
	}
	b, api, _ := newTestBot(&fakeStore{records: records}, start)

	b.postNewRecords(context.Background())

	require.Len(t, api.sent, alertBatch+1)
	assert.Contains(t, api.sent[alertBatch].Text, fmt.Sprintf("Subject %02d", alertBatch))
}

func TestHandleCallbackIgnoresOtherChats(t *testing.T) {
	store := &fakeStore{records: []*appmodels.ProcessedRecord{{ID: "r1"}}}
	b, api, signals := newTestBot(store, time.Now())

	data := formatter.EncodeCallback(appmodels.CallbackData{Action: appmodels.CallbackDelete, RecordID: "r1"})
	b.handleCallback(context.Background(), nil, callbackUpdate(999, 7, data))

	assert.Len(t, store.records, 1)
	assert.Zero(t, signals.refreshes)
	assert.Empty(t, api.deleted)
	assert.Equal(t, []string{"Not allowed"}, api.answers)
}

func TestHandleCallbackBadData(t *testing.T) {
	b, api, _ := newTestBot(&fakeStore{}, time.Now())

	b.handleCallback(context.Background(), nil, callbackUpdate(testChatID, 7, "not-json"))

	assert.Equal(t, []string{"Error"}, api.answers)
}

func TestHandleStats(t *testing.T) {
	store := &fakeStore{records: []*appmodels.ProcessedRecord{
		{ID: "r1", Category: appmodels.CategoryMeeting},
		{ID: "r2", Category: appmodels.CategoryMeeting},
	}}
	b, api, _ := newTestBot(store, time.Now())

	update := &models.Update{Message: &models.Message{Chat: models.Chat{ID: testChatID}, Text: "/stats"}}
	b.handleStats(context.Background(), nil, update)

	require.Len(t, api.sent, 1)
	assert.Contains(t, api.sent[0].Text, "2")

	// Other chats get nothing
	update.Message.Chat.ID = 1
	b.handleStats(context.Background(), nil, update)
	assert.Len(t, api.sent, 1)
}
