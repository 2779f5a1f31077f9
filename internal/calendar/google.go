// Package calendar creates events in Google Calendar.
package calendar

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/mixelka/mailtriage/internal/gapi"
	"github.com/mixelka/mailtriage/pkg/models"
)

// Defaults for fields the classifier left empty
const (
	DefaultSummary  = "New Event"
	DefaultLocation = "Online"
	DefaultTimezone = "Asia/Kolkata"
	primaryCalendar = "primary"
)

// Google inserts events into the primary calendar
type Google struct {
	svc      *calendar.Service
	breaker  *gapi.Breaker
	timezone string
	logger   *slog.Logger
}

// NewGoogle creates a calendar adapter authorised by ts
func NewGoogle(ctx context.Context, ts oauth2.TokenSource, timezone string, logger *slog.Logger, opts ...option.ClientOption) (*Google, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	return newGoogle(ctx, timezone, logger, opts...)
}

func newGoogle(ctx context.Context, timezone string, logger *slog.Logger, opts ...option.ClientOption) (*Google, error) {
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	if timezone == "" {
		timezone = DefaultTimezone
	}

	logger = logger.With("component", "calendar")
	return &Google{
		svc:      svc,
		breaker:  gapi.NewBreaker("calendar-api", logger),
		timezone: timezone,
		logger:   logger,
	}, nil
}

// CreateEvent inserts the draft with the sender as attendee
func (g *Google) CreateEvent(ctx context.Context, draft *models.CalendarEventDraft, attendee string) error {
	if !draft.Schedulable() {
		return fmt.Errorf("event draft needs start and end times")
	}

	event := buildEvent(draft, attendee, g.timezone)
	var created *calendar.Event
	err := g.breaker.Do("insert event", func() error {
		var err error
		created, err = g.svc.Events.Insert(primaryCalendar, event).Context(ctx).Do()
		return err
	})
	if err != nil {
		return err
	}

	g.logger.Info("calendar event created", "event_id", created.Id, "start", draft.Start)
	return nil
}

func buildEvent(draft *models.CalendarEventDraft, attendee, timezone string) *calendar.Event {
	summary := draft.Summary
	if summary == "" {
		summary = DefaultSummary
	}
	location := draft.Location
	if location == "" {
		location = DefaultLocation
	}

	event := &calendar.Event{
		Summary:     summary,
		Location:    location,
		Description: draft.Description,
		Start:       &calendar.EventDateTime{DateTime: draft.Start, TimeZone: timezone},
		End:         &calendar.EventDateTime{DateTime: draft.End, TimeZone: timezone},
	}
	if attendee != "" {
		event.Attendees = []*calendar.EventAttendee{{Email: attendee}}
	}
	return event
}
