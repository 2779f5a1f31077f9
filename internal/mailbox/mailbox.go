// Package mailbox adapts mail sources to the operations the triage pipeline needs.
package mailbox

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailtriage/pkg/models"
)

// Labels understood by every adapter
const (
	LabelUnread = "UNREAD"
	LabelInbox  = "INBOX"
)

// composeReply renders an outgoing reply as an RFC 5322 message
func composeReply(reply models.OutgoingReply, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetSubject(reply.Subject)

	if reply.From != "" {
		h.SetAddressList("From", parseAddressList(reply.From))
	}
	h.SetAddressList("To", parseAddressList(reply.To))

	if reply.InReplyTo != "" {
		h.Set("In-Reply-To", reply.InReplyTo)
		h.Set("References", reply.InReplyTo)
	}
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if _, err := io.WriteString(w, reply.Body); err != nil {
		return nil, fmt.Errorf("failed to write reply body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish reply: %w", err)
	}

	return buf.Bytes(), nil
}

// parseAddressList accepts either a formatted header or a bare address
func parseAddressList(s string) []*mail.Address {
	if addrs, err := mail.ParseAddressList(s); err == nil && len(addrs) > 0 {
		return addrs
	}
	return []*mail.Address{{Address: models.ExtractEmailAddress(s)}}
}

// threadKey picks the root of a conversation from its threading headers
func threadKey(references, inReplyTo, messageID string) string {
	if fields := strings.Fields(references); len(fields) > 0 {
		return fields[0]
	}
	if id := strings.TrimSpace(inReplyTo); id != "" {
		return id
	}
	return strings.TrimSpace(messageID)
}
