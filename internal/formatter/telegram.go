package formatter

import (
	"fmt"
	"strings"

	"github.com/mixelka/mailtriage/pkg/models"
)

// TelegramFormatter formats processed records for Telegram
type TelegramFormatter struct {
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter() *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
	}
}

// FormatRecord formats a processed record as Telegram HTML
func (f *TelegramFormatter) FormatRecord(rec *models.ProcessedRecord) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>%s</b> %s\n", categoryLabel(rec.Category), f.escapeHTML(rec.Subject)))
	sb.WriteString(fmt.Sprintf("<b>From:</b> %s\n", f.escapeHTML(rec.From)))
	if rec.Date != "" {
		sb.WriteString(fmt.Sprintf("<b>Date:</b> %s\n", f.escapeHTML(rec.Date)))
	}
	if rec.Summary != "" {
		sb.WriteString(fmt.Sprintf("<b>Summary:</b> %s\n", f.escapeHTML(rec.Summary)))
	}
	sb.WriteString(fmt.Sprintf("<b>Status:</b> %s\n", f.escapeHTML(rec.ActionStatus)))

	if rec.Reply != nil {
		sb.WriteString("\n<b>Reply sent:</b>\n")
		reply := f.truncate(rec.Reply.Body, f.maxLength-sb.Len()-50)
		sb.WriteString(fmt.Sprintf("<blockquote>%s</blockquote>", f.escapeHTML(reply)))
	}

	return sb.String()
}

// FormatStats formats category counts
func (f *TelegramFormatter) FormatStats(total int, counts map[models.Category]int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("<b>Processed:</b> %d\n", total))
	for _, c := range models.Categories {
		sb.WriteString(fmt.Sprintf("%s: %d\n", categoryLabel(c), counts[c]))
	}
	return sb.String()
}

func categoryLabel(c models.Category) string {
	switch c {
	case models.CategoryInterview:
		return "[interview]"
	case models.CategoryMeeting:
		return "[meeting]"
	case models.CategoryImportantEmail:
		return "[important]"
	case models.CategoryNotImportant:
		return "[not important]"
	default:
		return "[other]"
	}
}

// escapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
