// Package pipeline turns unread messages into logged, acted-upon records.
package pipeline

import (
	"context"
	"time"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Mailbox is the message source
type Mailbox interface {
	ListCandidates(ctx context.Context, query string, max int64) ([]string, error)
	FetchFull(ctx context.Context, id string) (*models.InboundMessage, error)
	FetchThreadID(ctx context.Context, id string) (string, error)
	SendReply(ctx context.Context, reply models.OutgoingReply) error
	UpdateLabels(ctx context.Context, id string, add, remove []string) error
}

// Calendar creates events for scheduled messages
type Calendar interface {
	CreateEvent(ctx context.Context, draft *models.CalendarEventDraft, attendee string) error
}

// Classifier never fails, it returns a fallback result instead
type Classifier interface {
	Classify(ctx context.Context, subject, from, body string) models.ClassificationResult
}

// Ledger remembers processed message IDs
type Ledger interface {
	IsProcessed(ctx context.Context, id string) (bool, error)
	MarkProcessed(ctx context.Context, id string, at time.Time) error
}

// RecordStore appends audit records
type RecordStore interface {
	AppendRecord(ctx context.Context, rec *models.ProcessedRecord) error
}
