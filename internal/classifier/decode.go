package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mixelka/mailtriage/pkg/models"
)

// ErrInvalidOutput is returned when the model output does not fit the schema
var ErrInvalidOutput = errors.New("invalid model output")

// Wire shapes of the model output. Pointers tell missing and null apart from zero.
type wireResult struct {
	Category      *string       `json:"category"`
	Confidence    *float64      `json:"confidence"`
	Summary       *string       `json:"summary"`
	Action        *string       `json:"action"`
	ReplyTemplate *wireReply    `json:"reply_template"`
	Metadata      *wireMetadata `json:"metadata"`
}

type wireReply struct {
	ShouldReply *bool   `json:"should_reply"`
	Subject     *string `json:"subject"`
	Body        *string `json:"body"`
}

type wireMetadata struct {
	CalendarEvent *wireEvent `json:"calendar_event"`
}

type wireEvent struct {
	Summary     *string `json:"summary"`
	Start       *string `json:"start"`
	End         *string `json:"end"`
	Location    *string `json:"location"`
	Description *string `json:"description"`
}

// parseResult strictly decodes model text into a classification result
func parseResult(text string) (models.ClassificationResult, error) {
	var w wireResult

	dec := json.NewDecoder(bytes.NewReader([]byte(stripFences(text))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return models.ClassificationResult{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	// Exactly one JSON value, nothing after it. The decoder skips a stray
	// separator before EOF, so More catches those.
	if dec.More() {
		return models.ClassificationResult{}, fmt.Errorf("%w: trailing data after result", ErrInvalidOutput)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return models.ClassificationResult{}, fmt.Errorf("%w: trailing data after result", ErrInvalidOutput)
	}

	if w.Category == nil {
		return models.ClassificationResult{}, fmt.Errorf("%w: missing category", ErrInvalidOutput)
	}
	category := models.Category(*w.Category)
	if !category.IsValid() {
		return models.ClassificationResult{}, fmt.Errorf("%w: unknown category %q", ErrInvalidOutput, *w.Category)
	}

	if w.Action == nil {
		return models.ClassificationResult{}, fmt.Errorf("%w: missing action", ErrInvalidOutput)
	}
	action := models.Action(*w.Action)
	if !action.IsValid() {
		return models.ClassificationResult{}, fmt.Errorf("%w: unknown action %q", ErrInvalidOutput, *w.Action)
	}

	result := models.ClassificationResult{
		Category: category,
		Action:   action,
		Summary:  deref(w.Summary),
	}

	if w.Confidence != nil {
		if *w.Confidence < 0 || *w.Confidence > 1 {
			return models.ClassificationResult{}, fmt.Errorf("%w: confidence %v out of range", ErrInvalidOutput, *w.Confidence)
		}
		result.Confidence = *w.Confidence
	}

	if rt := w.ReplyTemplate; rt != nil {
		result.ReplyTemplate = models.ReplyTemplate{
			ShouldReply: rt.ShouldReply != nil && *rt.ShouldReply,
			Subject:     deref(rt.Subject),
			Body:        deref(rt.Body),
		}
	}

	if w.Metadata != nil && w.Metadata.CalendarEvent != nil {
		ev := w.Metadata.CalendarEvent
		result.CalendarEvent = &models.CalendarEventDraft{
			Summary:     deref(ev.Summary),
			Start:       deref(ev.Start),
			End:         deref(ev.End),
			Location:    deref(ev.Location),
			Description: deref(ev.Description),
		}
	}

	return result, nil
}

// stripFences removes a surrounding markdown code fence
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// Drop the language tag, e.g. ```json
		if i := strings.IndexByte(text, '\n'); i >= 0 && !strings.ContainsAny(text[:i], "{[") {
			text = text[i+1:]
		} else {
			text = strings.TrimPrefix(text, "json")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
