package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mixelka/mailtriage/internal/mailbox"
	"github.com/mixelka/mailtriage/pkg/models"
)

// DefaultReplyBody is sent when the classifier proposes a reply without a body
const DefaultReplyBody = "Thank you for your email. I have received it and will get back to you shortly."

// Status fragments recorded in the action trail
const (
	StatusReplySent       = "Sent automated reply."
	StatusArchived        = "Email processed and archived."
	StatusMarkedRead      = "Email processed, marked as read."
	StatusCalendarCreated = "Calendar event created."
)

// DispatcherDeps dependencies of the dispatcher
type DispatcherDeps struct {
	Mailbox     Mailbox
	Calendar    Calendar // nil disables event creation
	Records     RecordStore
	Ledger      Ledger
	FromAddress string
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Dispatcher applies the side effects for one classified message
type Dispatcher struct {
	mailbox     Mailbox
	calendar    Calendar
	records     RecordStore
	ledger      Ledger
	fromAddress string
	callTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	timeout := deps.CallTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		mailbox:     deps.Mailbox,
		calendar:    deps.Calendar,
		records:     deps.Records,
		ledger:      deps.Ledger,
		fromAddress: deps.FromAddress,
		callTimeout: timeout,
		logger:      deps.Logger.With("component", "dispatcher"),
		now:         time.Now,
	}
}

// Dispatch runs the calendar, reply and label branches, then commits the record
// and the ledger entry. Branch failures end up in the trail; only commit
// failures are returned. Cancelling ctx does not interrupt a message in flight.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.InboundMessage, result models.ClassificationResult) (*models.ActionOutcome, error) {
	ctx = context.WithoutCancel(ctx)
	logger := d.logger.With("message_id", msg.ID)
	outcome := &models.ActionOutcome{}

	// Calendar failures stay out of the trail
	if d.calendar != nil && result.CalendarEvent.Schedulable() {
		err := d.call(ctx, func(ctx context.Context) error {
			return d.calendar.CreateEvent(ctx, result.CalendarEvent, msg.FromEmail)
		})
		if err != nil {
			logger.Warn("failed to create calendar event", "error", err)
		} else {
			outcome.CalendarCreated = true
		}
	}

	var reply *models.ReplyLog
	if result.ReplyTemplate.ShouldReply {
		reply = d.reply(ctx, logger, msg, result.ReplyTemplate, outcome)
	}

	d.updateLabels(ctx, logger, msg, result, outcome)

	if outcome.CalendarCreated {
		outcome.Add(StatusCalendarCreated)
	}

	record := &models.ProcessedRecord{
		MessageID:    msg.ID,
		From:         msg.From,
		To:           msg.To,
		Date:         msg.Date,
		Subject:      msg.Subject,
		Body:         msg.Body,
		Reply:        reply,
		ActionStatus: outcome.Status(),
		Category:     result.Category,
		Summary:      result.Summary,
		Confidence:   result.Confidence,
		ProcessedAt:  d.now(),
	}

	err := d.call(ctx, func(ctx context.Context) error {
		return d.records.AppendRecord(ctx, record)
	})
	if err != nil {
		return outcome, fmt.Errorf("failed to append record: %w", err)
	}
	err = d.call(ctx, func(ctx context.Context) error {
		return d.ledger.MarkProcessed(ctx, msg.ID, record.ProcessedAt)
	})
	if err != nil {
		return outcome, fmt.Errorf("failed to mark processed: %w", err)
	}

	logger.Info("message processed",
		"category", result.Category,
		"status", record.ActionStatus,
	)
	return outcome, nil
}

// reply sends at most one reply and returns what was sent
func (d *Dispatcher) reply(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage, tmpl models.ReplyTemplate, outcome *models.ActionOutcome) *models.ReplyLog {
	subject := tmpl.Subject
	if subject == "" {
		subject = "Re: " + msg.Subject
	}
	body := tmpl.Body
	if body == "" {
		body = DefaultReplyBody
	}

	threadID := msg.ThreadID
	err := d.call(ctx, func(ctx context.Context) error {
		id, err := d.mailbox.FetchThreadID(ctx, msg.ID)
		if err == nil && id != "" {
			threadID = id
		}
		return err
	})
	if err != nil {
		logger.Warn("failed to look up thread, using fetched thread id", "error", err)
	}

	out := models.OutgoingReply{
		To:        msg.FromEmail,
		From:      d.fromAddress,
		Subject:   subject,
		Body:      body,
		ThreadID:  threadID,
		InReplyTo: msg.MessageIDHeader,
	}
	err = d.call(ctx, func(ctx context.Context) error {
		return d.mailbox.SendReply(ctx, out)
	})
	if err != nil {
		logger.Warn("failed to send reply", "error", err)
		outcome.Add(fmt.Sprintf("Failed to send reply: %v", err))
		return nil
	}

	outcome.ReplySent = true
	outcome.Add(StatusReplySent)
	return &models.ReplyLog{Subject: subject, Body: body}
}

// updateLabels either archives or marks read, never both
func (d *Dispatcher) updateLabels(ctx context.Context, logger *slog.Logger, msg *models.InboundMessage, result models.ClassificationResult, outcome *models.ActionOutcome) {
	if result.Action == models.ActionArchive || result.Category == models.CategoryNotImportant {
		err := d.call(ctx, func(ctx context.Context) error {
			return d.mailbox.UpdateLabels(ctx, msg.ID, nil, []string{mailbox.LabelUnread, mailbox.LabelInbox})
		})
		if err != nil {
			logger.Warn("failed to archive", "error", err)
			outcome.Add(fmt.Sprintf("Failed to archive email: %v", err))
			return
		}
		outcome.Add(StatusArchived)
		return
	}

	err := d.call(ctx, func(ctx context.Context) error {
		return d.mailbox.UpdateLabels(ctx, msg.ID, nil, []string{mailbox.LabelUnread})
	})
	if err != nil {
		logger.Warn("failed to mark as read", "error", err)
		outcome.Add(fmt.Sprintf("Failed to mark email as read: %v", err))
		return
	}
	outcome.Add(StatusMarkedRead)
}

// call runs fn with the per-call timeout
func (d *Dispatcher) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return fn(ctx)
}
