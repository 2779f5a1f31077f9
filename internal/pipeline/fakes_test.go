package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type labelCall struct {
	ID     string
	Add    []string
	Remove []string
}

type fakeMailbox struct {
	mu         sync.Mutex
	ids        []string
	messages   map[string]*models.InboundMessage
	threadIDs  map[string]string
	listErr    []error // consumed one per call
	fetchErr   map[string]error
	threadErr  error
	sendErr    error
	labelErr   error
	sent       []models.OutgoingReply
	labels     []labelCall
	listCalls  int
	fetchCalls int
}

func newFakeMailbox(msgs ...*models.InboundMessage) *fakeMailbox {
	m := &fakeMailbox{
		messages:  make(map[string]*models.InboundMessage),
		threadIDs: make(map[string]string),
		fetchErr:  make(map[string]error),
	}
	for _, msg := range msgs {
		m.ids = append(m.ids, msg.ID)
		m.messages[msg.ID] = msg
	}
	return m
}

func (m *fakeMailbox) ListCandidates(ctx context.Context, query string, max int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if len(m.listErr) > 0 {
		err := m.listErr[0]
		m.listErr = m.listErr[1:]
		if err != nil {
			return nil, err
		}
	}
	ids := m.ids
	if int64(len(ids)) > max {
		ids = ids[:max]
	}
	return append([]string(nil), ids...), nil
}

func (m *fakeMailbox) FetchFull(ctx context.Context, id string) (*models.InboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if err := m.fetchErr[id]; err != nil {
		return nil, err
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s not found", id)
	}
	return msg, nil
}

func (m *fakeMailbox) FetchThreadID(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.threadErr != nil {
		return "", m.threadErr
	}
	return m.threadIDs[id], nil
}

func (m *fakeMailbox) SendReply(ctx context.Context, reply models.OutgoingReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, reply)
	return nil
}

func (m *fakeMailbox) UpdateLabels(ctx context.Context, id string, add, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.labelErr != nil {
		return m.labelErr
	}
	m.labels = append(m.labels, labelCall{ID: id, Add: add, Remove: remove})
	return nil
}

type fakeCalendar struct {
	mu        sync.Mutex
	err       error
	events    []*models.CalendarEventDraft
	attendees []string
}

func (c *fakeCalendar) CreateEvent(ctx context.Context, draft *models.CalendarEventDraft, attendee string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, draft)
	c.attendees = append(c.attendees, attendee)
	return nil
}

type fakeClassifier struct {
	mu      sync.Mutex
	results map[string]models.ClassificationResult // by subject
	calls   int
}

func (c *fakeClassifier) Classify(ctx context.Context, subject, from, body string) models.ClassificationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if r, ok := c.results[subject]; ok {
		return r
	}
	return models.FallbackClassification()
}

// fakeStore is both the ledger and the record store and logs the order of writes
type fakeStore struct {
	mu        sync.Mutex
	processed map[string]time.Time
	records   []*models.ProcessedRecord
	ops       []string
	appendErr error
	markErr   error
	lookupErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{processed: make(map[string]time.Time)}
}

var errDuplicate = errors.New("duplicate key")

func (s *fakeStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	_, ok := s.processed[id]
	return ok, nil
}

func (s *fakeStore) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	if _, ok := s.processed[id]; ok {
		return errDuplicate
	}
	s.processed[id] = at
	s.ops = append(s.ops, "mark:"+id)
	return nil
}

func (s *fakeStore) AppendRecord(ctx context.Context, rec *models.ProcessedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records = append(s.records, rec)
	s.ops = append(s.ops, "append:"+rec.MessageID)
	return nil
}

func (s *fakeStore) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
