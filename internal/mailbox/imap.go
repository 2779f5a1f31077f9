package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailtriage/internal/parser"
	"github.com/mixelka/mailtriage/pkg/models"
)

// ErrMessageNotFound is returned when a UID no longer exists in INBOX
var ErrMessageNotFound = errors.New("message not found")

// IMAPConfig configuration for the IMAP/SMTP adapter
type IMAPConfig struct {
	Username       string
	Password       string
	Server         string // host:port
	DialTimeout    time.Duration
	ArchiveMailbox string
	SMTPServer     string // host:port
	SMTPUsername   string
	SMTPPassword   string
}

type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// IMAP reads INBOX over IMAP and sends replies over SMTP.
// Message IDs are INBOX UIDs in decimal.
type IMAP struct {
	config    IMAPConfig
	client    *client.Client
	conn      net.Conn
	extractor *parser.BodyExtractor
	logger    *slog.Logger
	mu        sync.Mutex
	connected bool
	sendMail  sendMailFunc
	now       func() time.Time
}

// NewIMAP creates the adapter. The connection is opened on first use.
func NewIMAP(cfg IMAPConfig, logger *slog.Logger) *IMAP {
	if cfg.SMTPUsername == "" {
		cfg.SMTPUsername = cfg.Username
		cfg.SMTPPassword = cfg.Password
	}
	return &IMAP{
		config:    cfg,
		extractor: parser.NewBodyExtractor(),
		logger:    logger.With("component", "imap", "email", cfg.Username),
		sendMail:  sendMail,
		now:       time.Now,
	}
}

// Address returns the account address used as the reply sender
func (m *IMAP) Address(ctx context.Context) (string, error) {
	return m.config.Username, nil
}

// connect opens the connection and selects INBOX. Caller holds mu.
func (m *IMAP) connect(ctx context.Context) error {
	if m.connected {
		return nil
	}

	m.logger.Info("connecting to IMAP server", "server", m.config.Server)

	timeout := m.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: timeout}}
	conn, err := dialer.DialContext(ctx, "tcp", m.config.Server)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	// Greeting, login and select share the caller's deadline
	release := bindContext(ctx, conn)

	imapClient, err := client.New(conn)
	if err != nil {
		release()
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}
	imapClient.Timeout = commandTimeout(ctx)

	if err := imapClient.Login(m.config.Username, m.config.Password); err != nil {
		release()
		imapClient.Terminate()
		return fmt.Errorf("failed to login: %w", err)
	}

	if _, err := imapClient.Select("INBOX", false); err != nil {
		release()
		imapClient.Terminate()
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	release()
	if ctx.Err() != nil {
		// The cancel hook may have closed the connection after the last command
		imapClient.Terminate()
		return ctx.Err()
	}
	imapClient.Timeout = 0

	m.client = imapClient
	m.conn = conn
	m.connected = true
	m.logger.Info("connected to IMAP server")

	return nil
}

// disconnect drops a broken connection so the next call reconnects. Caller holds mu.
func (m *IMAP) disconnect() {
	m.connected = false
	m.conn = nil
	if m.client != nil {
		m.client.Terminate()
		m.client = nil
	}
}

// withClient runs fn on a live connection, reconnecting when needed.
// The connection carries ctx's deadline while fn runs.
func (m *IMAP) withClient(ctx context.Context, fn func(c *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connect(ctx); err != nil {
		return err
	}

	release := bindContext(ctx, m.conn)
	m.client.Timeout = commandTimeout(ctx)
	err := fn(m.client)
	m.client.Timeout = 0
	release()

	switch {
	case ctx.Err() != nil:
		// The cancel hook may have closed the connection
		m.disconnect()
		if err != nil {
			m.logger.Warn("IMAP call aborted", "error", err)
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	case err != nil && m.client.State() == imap.LogoutState:
		m.logger.Warn("IMAP connection lost", "error", err)
		m.disconnect()
	}
	return err
}

// bindContext applies ctx's deadline to conn and closes conn once ctx is done,
// which unblocks any read or write in flight. The returned func detaches ctx.
func bindContext(ctx context.Context, conn net.Conn) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	return func() {
		stop()
		_ = conn.SetDeadline(time.Time{})
	}
}

// commandTimeout converts ctx's deadline into the IMAP client's per-command
// timeout. The client resets the connection deadline before every command.
func commandTimeout(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if left := time.Until(deadline); left > time.Millisecond {
		return left
	}
	return time.Millisecond
}

// ListCandidates returns up to max unseen INBOX UIDs, newest first.
// The query is Gmail search syntax and has no IMAP equivalent, so it is not used.
func (m *IMAP) ListCandidates(ctx context.Context, query string, max int64) ([]string, error) {
	var uids []uint32
	err := m.withClient(ctx, func(c *client.Client) error {
		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.SeenFlag}

		var err error
		uids, err = c.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if max > 0 && int64(len(uids)) > max {
		uids = uids[:max]
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	return ids, nil
}

// FetchFull fetches and decodes one message without setting \Seen
func (m *IMAP) FetchFull(ctx context.Context, id string) (*models.InboundMessage, error) {
	section := &imap.BodySectionName{Peek: true}
	msg, err := m.fetchSection(ctx, id, section)
	if err != nil {
		return nil, err
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("server returned no body for %s", id)
	}

	inbound, err := m.parseMessage(body)
	if err != nil {
		return nil, err
	}
	inbound.ID = id
	return inbound, nil
}

// FetchThreadID derives the thread from the threading headers
func (m *IMAP) FetchThreadID(ctx context.Context, id string) (string, error) {
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	msg, err := m.fetchSection(ctx, id, section)
	if err != nil {
		return "", err
	}

	body := msg.GetBody(section)
	if body == nil {
		return "", fmt.Errorf("server returned no header for %s", id)
	}

	r, err := mail.CreateReader(body)
	if err != nil {
		return "", fmt.Errorf("failed to read header: %w", err)
	}
	return threadKey(r.Header.Get("References"), r.Header.Get("In-Reply-To"), r.Header.Get("Message-Id")), nil
}

func (m *IMAP) fetchSection(ctx context.Context, id string, section *imap.BodySectionName) (*imap.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	var found *imap.Message
	err = m.withClient(ctx, func(c *client.Client) error {
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)
		items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

		messages := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqSet, items, messages)
		}()

		for msg := range messages {
			found = msg
		}
		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}
	return found, nil
}

// parseMessage decodes a full RFC 5322 message
func (m *IMAP) parseMessage(r io.Reader) (*models.InboundMessage, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}

	h := mr.Header
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	from := h.Get("From")

	inbound := &models.InboundMessage{
		From:            from,
		FromEmail:       models.ExtractEmailAddress(from),
		To:              h.Get("To"),
		Date:            h.Get("Date"),
		Subject:         subject,
		MessageIDHeader: h.Get("Message-Id"),
		ThreadID:        threadKey(h.Get("References"), h.Get("In-Reply-To"), h.Get("Message-Id")),
	}

	var text, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			m.logger.Warn("failed to read part", "error", err)
			break
		}

		ph, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := ph.ContentType()
		data, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/plain") && text == "":
			text = string(data)
		case strings.HasPrefix(ct, "text/html") && html == "":
			html = string(data)
		}
	}

	inbound.Body = m.extractor.PlainText(text, html)
	return inbound, nil
}

// UpdateLabels maps label changes onto IMAP:
// UNREAD toggles \Seen and removing INBOX moves the message to the archive mailbox.
func (m *IMAP) UpdateLabels(ctx context.Context, id string, add, remove []string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	return m.withClient(ctx, func(c *client.Client) error {
		seqSet := new(imap.SeqSet)
		seqSet.AddNum(uid)
		flags := []interface{}{imap.SeenFlag}

		if contains(remove, LabelUnread) {
			item := imap.FormatFlagsOp(imap.AddFlags, true)
			if err := c.UidStore(seqSet, item, flags, nil); err != nil {
				return fmt.Errorf("failed to mark as read: %w", err)
			}
		}
		if contains(add, LabelUnread) {
			item := imap.FormatFlagsOp(imap.RemoveFlags, true)
			if err := c.UidStore(seqSet, item, flags, nil); err != nil {
				return fmt.Errorf("failed to mark as unread: %w", err)
			}
		}

		// Move last, the UID is gone from INBOX afterwards
		if contains(remove, LabelInbox) {
			if err := c.UidMove(seqSet, m.config.ArchiveMailbox); err != nil {
				return fmt.Errorf("failed to move to %s: %w", m.config.ArchiveMailbox, err)
			}
		}
		return nil
	})
}

// SendReply sends the reply over SMTP
func (m *IMAP) SendReply(ctx context.Context, reply models.OutgoingReply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if reply.From == "" {
		reply.From = m.config.Username
	}

	raw, err := composeReply(reply, m.now())
	if err != nil {
		return err
	}

	host, _, err := net.SplitHostPort(m.config.SMTPServer)
	if err != nil {
		return fmt.Errorf("invalid SMTP server %q: %w", m.config.SMTPServer, err)
	}
	auth := smtp.PlainAuth("", m.config.SMTPUsername, m.config.SMTPPassword, host)

	from := models.ExtractEmailAddress(reply.From)
	to := models.ExtractEmailAddress(reply.To)
	if err := m.sendMail(ctx, m.config.SMTPServer, auth, from, []string{to}, raw); err != nil {
		return fmt.Errorf("failed to send via SMTP: %w", err)
	}
	return nil
}

// sendMail is smtp.SendMail bounded by ctx
func sendMail(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	release := bindContext(ctx, conn)
	defer release()

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// Close logs out of the IMAP server
func (m *IMAP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}

	imapClient := m.client
	m.client = nil
	m.conn = nil
	m.connected = false

	done := make(chan error, 1)
	go func() {
		done <- imapClient.Logout()
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		// Force close if logout takes too long
		return imapClient.Terminate()
	}
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid UID %q: %w", id, err)
	}
	return uint32(uid), nil
}

func contains(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
