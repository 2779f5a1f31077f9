package models

// Category of an inbound message as decided by the classifier
type Category string

const (
	CategoryInterview      Category = "interview"
	CategoryMeeting        Category = "meeting"
	CategoryImportantEmail Category = "important_email"
	CategoryNotImportant   Category = "not_important"
	CategoryOther          Category = "other"
)

// Categories lists every category in display order
var Categories = []Category{
	CategoryInterview,
	CategoryMeeting,
	CategoryImportantEmail,
	CategoryNotImportant,
	CategoryOther,
}

// IsValid checks if the category is known
func (c Category) IsValid() bool {
	switch c {
	case CategoryInterview, CategoryMeeting, CategoryImportantEmail, CategoryNotImportant, CategoryOther:
		return true
	}
	return false
}

// Action proposed by the classifier
type Action string

const (
	ActionReply     Action = "reply"
	ActionArchive   Action = "archive"
	ActionLabelOnly Action = "label_only"
	ActionNoAction  Action = "no_action"
)

// IsValid checks if the action is known
func (a Action) IsValid() bool {
	switch a {
	case ActionReply, ActionArchive, ActionLabelOnly, ActionNoAction:
		return true
	}
	return false
}

// ReplyTemplate is the reply proposed by the classifier
type ReplyTemplate struct {
	ShouldReply bool
	Subject     string // Empty means "Re: <original subject>"
	Body        string // Empty means the default acknowledgement
}

// CalendarEventDraft is an event extracted from the message.
// Start and End are ISO-8601 timestamps with a zone offset.
type CalendarEventDraft struct {
	Summary     string
	Start       string
	End         string
	Location    string
	Description string
}

// Schedulable reports whether the draft carries both start and end
func (d *CalendarEventDraft) Schedulable() bool {
	return d != nil && d.Start != "" && d.End != ""
}

// ClassificationResult is produced once per message and never mutated
type ClassificationResult struct {
	Category      Category
	Confidence    float64
	Summary       string
	Action        Action
	ReplyTemplate ReplyTemplate
	CalendarEvent *CalendarEventDraft
}

// FallbackSummary is the summary of the fallback classification
const FallbackSummary = "Could not parse model output"

// FallbackClassification returns the safe result used whenever
// classification fails: nothing visible happens but the message is logged.
func FallbackClassification() ClassificationResult {
	return ClassificationResult{
		Category:   CategoryOther,
		Confidence: 0,
		Summary:    FallbackSummary,
		Action:     ActionNoAction,
	}
}
