package models

import (
	"regexp"
	"strings"
)

// InboundMessage is a fully fetched and decoded message from the mailbox
type InboundMessage struct {
	ID              string // Source-assigned message ID
	From            string // Raw From header, e.g. "Jane <jane@example.com>"
	FromEmail       string // Address derived from From
	To              string
	Date            string // Raw Date header as sent by the source
	Subject         string
	Body            string // Plain text body
	ThreadID        string // Source-assigned thread ID
	MessageIDHeader string // Message-ID header, used for In-Reply-To
}

// OutgoingReply is an automated reply to an inbound message
type OutgoingReply struct {
	To        string
	From      string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
}

var (
	bracketAddrRegex = regexp.MustCompile(`<([^>]+)>`)
	bareAddrRegex    = regexp.MustCompile(`[\w.\-+]+@[\w.\-]+`)
)

// ExtractEmailAddress returns the address part of a From header.
// Falls back to the header itself when no address can be found.
func ExtractEmailAddress(header string) string {
	if m := bracketAddrRegex.FindStringSubmatch(header); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := bareAddrRegex.FindString(header); m != "" {
		return m
	}
	return header
}
