package classifier

import (
	"fmt"
	"strings"
)

const schemaInstructions = `You are an assistant that reads a plain-text email and returns EXACTLY one JSON object (no extra text).
The JSON must match the schema below (keys must exist; set values to null if not applicable).

Schema:
{
  "category": "interview" | "meeting" | "important_email" | "not_important" | "other",
  "confidence": 0.0-1.0,
  "summary": "<one-line summary>",
  "action": "reply" | "archive" | "label_only" | "no_action",
  "reply_template": {
     "should_reply": true|false,
     "subject": "<subject for reply>",
     "body": "<body text for reply (plain text)>"
  },
  "metadata": {
     "calendar_event": {
         "summary": "<event summary|null>",
         "start": "<ISO8601 datetime|null>",
         "end": "<ISO8601 datetime|null>",
         "location": "<text|null>",
         "description": "<event description|null>"
     }
  }
}
Return only the JSON (no markdown, no explanation).`

// maxBodyRunes bounds the body sent to the model
const maxBodyRunes = 20000

// PromptOptions carries the account specific parts of the prompt
type PromptOptions struct {
	Timezone      string // IANA zone assumed for dates without an offset
	SignatureName string // Name used to sign replies, optional
}

func buildPrompt(subject, from, body string, opts PromptOptions) string {
	var b strings.Builder

	b.WriteString(schemaInstructions)
	b.WriteString("\n\nEmail Subject:\n")
	b.WriteString(subject)
	b.WriteString("\n\nFrom:\n")
	b.WriteString(from)
	b.WriteString("\n\nBody:\n")
	b.WriteString(truncateRunes(body, maxBodyRunes))

	b.WriteString("\n\nInstructions:\n")
	b.WriteString("1) Classify the email and extract structured fields per the JSON schema.\n")
	fmt.Fprintf(&b, "2) If the email is a confirmed interview or meeting, extract the event details (summary, start, end, location) from the body. "+
		"Parse dates and times to ISO8601 with an offset. Assume the timezone is %s if not specified. "+
		"Set category to \"interview\" or \"meeting\" and reply_template.should_reply to true. Provide a concise, polite confirmation reply.\n", opts.Timezone)
	b.WriteString("3) If the email is important but not a meeting (e.g. a formal notice), set category to \"important_email\" and action to \"no_action\".\n")
	b.WriteString("4) If the email is not important (e.g. a newsletter or promotion), set category to \"not_important\", action to \"archive\", " +
		"and reply_template.should_reply to true. Provide a concise, polite automatic reply.\n")
	b.WriteString("5) If you are not confident, set confidence appropriately and prefer safe actions.\n")
	b.WriteString("6) Do not include any extra keys beyond the schema. Output JSON only.\n")
	if opts.SignatureName != "" {
		fmt.Fprintf(&b, "7) Sign replies with the name %s.\n", opts.SignatureName)
	}
	b.WriteString("Now analyze the email.\n")

	return b.String()
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
