package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mixelka/mailtriage/internal/gapi"
	"github.com/mixelka/mailtriage/internal/parser"
	"github.com/mixelka/mailtriage/pkg/models"
)

const gmailUser = "me"

// Gmail reads and mutates a Gmail mailbox through the Gmail API
type Gmail struct {
	svc       *gmail.Service
	breaker   *gapi.Breaker
	extractor *parser.BodyExtractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewGmail creates a Gmail adapter authorised by ts.
// Extra client options are appended after the token source.
func NewGmail(ctx context.Context, ts oauth2.TokenSource, logger *slog.Logger, opts ...option.ClientOption) (*Gmail, error) {
	opts = append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	return newGmail(ctx, logger, opts...)
}

func newGmail(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*Gmail, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	logger = logger.With("component", "gmail")
	return &Gmail{
		svc:       svc,
		breaker:   gapi.NewBreaker("gmail-api", logger),
		extractor: parser.NewBodyExtractor(),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Address returns the authenticated account's address
func (g *Gmail) Address(ctx context.Context) (string, error) {
	var profile *gmail.Profile
	err := g.breaker.Do("get profile", func() error {
		var err error
		profile, err = g.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return profile.EmailAddress, nil
}

// ListCandidates returns up to max message IDs matching query
func (g *Gmail) ListCandidates(ctx context.Context, query string, max int64) ([]string, error) {
	var resp *gmail.ListMessagesResponse
	err := g.breaker.Do("list messages", func() error {
		var err error
		resp, err = g.svc.Users.Messages.List(gmailUser).Q(query).MaxResults(max).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// FetchFull fetches and decodes one message
func (g *Gmail) FetchFull(ctx context.Context, id string) (*models.InboundMessage, error) {
	var msg *gmail.Message
	err := g.breaker.Do("get message", func() error {
		var err error
		msg, err = g.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	return g.convertMessage(msg), nil
}

func (g *Gmail) convertMessage(msg *gmail.Message) *models.InboundMessage {
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	from := getHeader(headers, "From")
	inbound := &models.InboundMessage{
		ID:              msg.Id,
		From:            from,
		FromEmail:       models.ExtractEmailAddress(from),
		To:              getHeader(headers, "To"),
		Date:            getHeader(headers, "Date"),
		Subject:         getHeader(headers, "Subject"),
		ThreadID:        msg.ThreadId,
		MessageIDHeader: getHeader(headers, "Message-ID"),
	}

	var text, html string
	g.extractBody(msg.Payload, &text, &html)
	inbound.Body = g.extractor.PlainText(text, html)

	return inbound
}

// extractBody keeps the first text/plain and text/html parts found
func (g *Gmail) extractBody(part *gmail.MessagePart, text, html *string) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		switch {
		case strings.HasPrefix(part.MimeType, "text/plain") && *text == "":
			if data, err := decodePartData(part.Body.Data); err == nil {
				*text = string(data)
			} else {
				g.logger.Debug("failed to decode text part", "error", err)
			}
		case strings.HasPrefix(part.MimeType, "text/html") && *html == "":
			if data, err := decodePartData(part.Body.Data); err == nil {
				*html = string(data)
			} else {
				g.logger.Debug("failed to decode html part", "error", err)
			}
		}
	}

	for _, p := range part.Parts {
		g.extractBody(p, text, html)
	}
}

// FetchThreadID looks up the thread a message belongs to
func (g *Gmail) FetchThreadID(ctx context.Context, id string) (string, error) {
	var msg *gmail.Message
	err := g.breaker.Do("get message metadata", func() error {
		var err error
		msg, err = g.svc.Users.Messages.Get(gmailUser, id).Format("metadata").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return msg.ThreadId, nil
}

// SendReply sends reply in its thread
func (g *Gmail) SendReply(ctx context.Context, reply models.OutgoingReply) error {
	raw, err := composeReply(reply, g.now())
	if err != nil {
		return err
	}

	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: reply.ThreadID,
	}
	return g.breaker.Do("send reply", func() error {
		_, err := g.svc.Users.Messages.Send(gmailUser, msg).Context(ctx).Do()
		return err
	})
}

// UpdateLabels adds and removes label IDs on a message
func (g *Gmail) UpdateLabels(ctx context.Context, id string, add, remove []string) error {
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    add,
		RemoveLabelIds: remove,
	}
	return g.breaker.Do("modify labels", func() error {
		_, err := g.svc.Users.Messages.Modify(gmailUser, id, req).Context(ctx).Do()
		return err
	})
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// decodePartData decodes base64url body data, padded or not
func decodePartData(data string) ([]byte, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(data)
}
